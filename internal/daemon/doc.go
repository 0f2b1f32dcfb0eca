// Package daemon coordinates the long-running tipline process.
//
// It owns the flock-based single-instance lock, starts and stops the jobs
// scheduler built by the runtime, and serves the JSON API used by the
// whistleblower front end and by operators.
//
// Keep orchestration here: tip semantics live in submission, delivery,
// notifications and cleaning while the daemon focuses on startup, shutdown
// and request plumbing.
package daemon

// Package runtime assembles the process-wide Runtime: configuration, store,
// encryptor, transports and every scheduler, with the periodic jobs
// registered on a shared jobs.Scheduler.
//
// Open builds the graph and Close tears it down. Nothing in tipline keeps
// package-level state, so callers pass the Runtime (or the pieces they need)
// explicitly.
package runtime

// Package services defines shared utilities consumed by the tip lifecycle
// components, the scheduler jobs, and the HTTP API.
//
// Key responsibilities:
//   - Context helpers that stamp tip IDs, job names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so callers can classify
//     failures (not found, validation, state conflict, key, transient) without
//     string matching.
//
// Use these helpers when wiring new components so error handling and
// observability stay uniform across submission, delivery, notification, and
// cleaning.
package services

// Package jobs runs periodic maintenance jobs and delayed one-shot tasks.
//
// Every registered Job gets its own goroutine and ticker, so a slow job never
// delays the others and never overlaps with itself. Trigger forces an
// immediate run. Schedule queues a one-shot task after a delay and returns a
// Handle that Cancel can revoke. Panics and errors are logged and recorded in
// Status; the next tick always runs.
package jobs

// Package logging assembles structured slog loggers and formatting helpers used
// across tipline components.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so lifecycle code can tag log
// lines with tip IDs, job names, and correlation IDs. The package also
// provides a no-op logger for tests and wiring code that cannot fail.
//
// Log lines never carry receipts, field values, or file contents; only
// identifiers and counts.
package logging

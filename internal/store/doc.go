// Package store persists tips and their owned records in SQLite.
//
// A Store hands out transactions through Transact; every read and write the
// lifecycle components perform runs on the supplied *Tx so callers own the
// commit boundary. Writes that fan out per receiver are insert-if-absent and
// state transitions are conditional updates, so concurrent schedulers can
// repeat work without duplicating rows.
//
// CascadeDelete removes an internal tip together with every dependent row
// and reports the on-disk artifacts the caller must unlink after commit.
package store

// Package submission builds, updates, finalizes, and deletes whistleblower
// submissions.
//
// A Manager owns an internal tip while it is in the submission mark. Create
// and Update validate the context, the receiver selection, the pre-uploaded
// files and the field payload inside one store transaction. Finalizing
// advances the mark, creates the whistleblower access record with a freshly
// generated receipt, and after commit notifies the configured Trigger so the
// delivery and notification jobs can run ahead of their next tick.
//
// Once a tip leaves the submission mark it can no longer be mutated or
// deleted here; the delivery, notification, and cleaning jobs take over.
package submission

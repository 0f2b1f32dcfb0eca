// Package cleaning deletes expired tips.
//
// A sweep walks every mark, projects the tips in that mark onto their
// creation date and the time-to-live read from the owning context, and
// cascade-deletes each expired tip in its own transaction. Artifacts are
// removed from disk after the commit. A failure on one tip is logged and
// counted and the sweep moves on. Uploads never claimed by a submission are
// removed once they are older than the orphan window.
package cleaning

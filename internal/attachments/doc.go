// Package attachments registers whistleblower uploads and owns their on-disk
// artifacts.
//
// Uploads are streamed into the attachments directory through a temporary
// file, hashed with SHA-256, and renamed into place before an unattached
// internal file row is recorded. Submissions later claim uploads by id.
// RemoveArtifacts is the post-commit counterpart used by tip deletion.
package attachments

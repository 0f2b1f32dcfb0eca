// Package preflight provides readiness checks for the filesystem paths and
// external services tipline depends on.
//
// These checks run in two contexts:
//   - tiplined calls RunAll before starting and refuses to run when a
//     required check fails.
//   - The CLI "tipline check" command prints every result, including the
//     receiver key audit from CheckReceiverKeys.
//
// Optional services (SMTP, ntfy) are only checked when configured.
package preflight

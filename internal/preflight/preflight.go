package preflight

import (
	"context"

	"tipline/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Detail   string
	Optional bool
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Attachments directory", cfg.Paths.AttachmentsDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckReceiptSalt(cfg.Node.ReceiptSalt),
	}

	if cfg.SMTP.Host != "" {
		results = append(results, CheckSMTP(ctx, cfg.SMTP.Host, cfg.SMTP.Port))
	}
	if cfg.Notifications.NtfyTopic != "" {
		results = append(results, CheckNtfy(ctx, cfg.Notifications.NtfyTopic))
	}

	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, r)
		}
	}
	return failed
}

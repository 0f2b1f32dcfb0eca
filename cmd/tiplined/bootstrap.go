package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"tipline/internal/config"
	"tipline/internal/logging"
	"tipline/internal/preflight"
)

// checkReady runs the preflight checks, logging each result. Only required
// checks block startup.
func checkReady(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	results := preflight.RunAll(ctx, cfg)
	for _, r := range results {
		switch {
		case r.Passed:
			logger.Info("preflight ok", logging.String("check", r.Name), logging.String("detail", r.Detail))
		case r.Optional:
			logging.WarnWithContext(logger, "preflight warning", "preflight_warning",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
			)
		default:
			logging.ErrorWithContext(logger, "preflight failed", "preflight_failed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
			)
		}
	}
	failed := preflight.Failed(results)
	if len(failed) == 0 {
		return nil
	}
	names := make([]string, 0, len(failed))
	for _, r := range failed {
		names = append(names, r.Name)
	}
	return fmt.Errorf("required checks failed: %s", strings.Join(names, ", "))
}

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"tipline/internal/preflight"
	"tipline/internal/store"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run readiness checks against the configuration and catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.ensureRuntime()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			results := preflight.RunAll(cmd.Context(), rt.Config)
			results = append(results, preflight.CheckReceiverKeys(cmd.Context(), rt.Store))

			for _, line := range renderSectionHeader("Preflight", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, r := range results {
				fmt.Fprintln(out, renderStatusLine(r.Name, checkKind(r), r.Detail, colorize))
			}

			var counts store.Counts
			err = rt.Store.Transact(cmd.Context(), func(tx *store.Tx) error {
				var err error
				counts, err = tx.Counts(cmd.Context())
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			for _, line := range renderSectionHeader("Delivery", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, line := range deliveryLines(counts, colorize) {
				fmt.Fprintln(out, line)
			}

			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d required check(s) failed", len(failed))
			}
			return nil
		},
	}
}

// deliveryLines reports receiver file outcomes and the mail backlog.
func deliveryLines(counts store.Counts, colorize bool) []string {
	statuses := []store.FileStatus{store.FileReady, store.FileNoKey, store.FileUnreadable, store.FileProcessing}
	lines := make([]string, 0, len(statuses)+1)
	for _, status := range statuses {
		n := counts.ReceiverFiles[status]
		kind := fileStatusKind(status)
		if n == 0 {
			kind = statusInfo
		}
		lines = append(lines, renderStatusLine("files "+string(status), kind, strconv.Itoa(n), colorize))
	}
	mailKind := statusOK
	if counts.PendingMail > 0 {
		mailKind = statusInfo
	}
	lines = append(lines, renderStatusLine("pending notifications", mailKind, strconv.Itoa(counts.PendingMail), colorize))
	return lines
}

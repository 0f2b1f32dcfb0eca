package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"tipline/internal/jobs"
	"tipline/internal/store"
)

func newDeliverCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deliver [tip-id]",
		Short: "Run a delivery pass, or deliver a single finalized tip",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.ensureRuntime()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				if err := rt.Delivery.Deliver(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(out, "Delivered %s\n", args[0])
				return nil
			}
			result, err := rt.Delivery.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Tips: %d  Receiver tips: %d  File fan-outs: %d  Failures: %d\n",
				result.Tips, result.ReceiverTips, result.FileTips, result.Failures)
			fmt.Fprintf(out, "Files: %d created (%d ready, %d nokey, %d unreadable)\n",
				result.Files.Created, result.Files.Ready, result.Files.NoKey, result.Files.Unreadable)
			for _, id := range result.FailedTipIDs {
				fmt.Fprintf(out, "  failed: %s\n", id)
			}
			return nil
		},
	}
}

func newNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "notify",
		Short: "Send pending receiver notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.ensureRuntime()
			if err != nil {
				return err
			}
			result, err := rt.Notifications.Run(cmd.Context())
			if err != nil {
				return err
			}
			rows := [][]string{
				{"Tips", strconv.Itoa(result.Tips.Sent), strconv.Itoa(result.Tips.Failed)},
				{"Comments", strconv.Itoa(result.Comments.Sent), strconv.Itoa(result.Comments.Failed)},
				{"Files", strconv.Itoa(result.Files.Sent), strconv.Itoa(result.Files.Failed)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]column{leftColumn("Kind"), rightColumn("Sent"), rightColumn("Failed")}, rows))
			return nil
		},
	}
}

func newSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired tips and orphaned uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.ensureRuntime()
			if err != nil {
				return err
			}
			result, err := rt.Sweeper.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Scanned %d, expired %d, deleted %d, failed %d in %s\n",
				result.Scanned, result.Expired, result.Deleted, result.Failed, result.Elapsed)
			fmt.Fprintf(out, "Artifacts removed %d (%d failures), orphan uploads removed %d\n",
				result.Artifacts, result.ArtifactFailures, result.Orphans)
			for _, id := range result.FailedIDs {
				fmt.Fprintf(out, "  failed: %s\n", id)
			}
			if result.Failed > 0 {
				return fmt.Errorf("%d tip(s) could not be deleted", result.Failed)
			}
			return nil
		},
	}
}

func newPurgeCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "purge <tip-id>",
		Short: "Delete a tip and all of its rows and files immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("purge is irreversible; rerun with --force to delete %s", args[0])
			}
			rt, err := ctx.ensureRuntime()
			if err != nil {
				return err
			}
			removed, err := rt.Sweeper.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %s (%d artifact(s) removed)\n", args[0], removed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Confirm the deletion")
	return cmd
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var record bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show table counts, optionally recording a statistics snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.ensureRuntime()
			if err != nil {
				return err
			}
			if record {
				if err := rt.Jobs.RunNow(cmd.Context(), jobs.StatisticsName); err != nil {
					return err
				}
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
			if asJSON {
				return writeJSON(cmd, counts)
			}
			rows := make([][]string, 0, 12)
			for _, m := range store.Marks {
				rows = append(rows, []string{"Tips: " + markLabel(m.String()), strconv.Itoa(counts.TipsByMark[m])})
			}
			rows = append(rows,
				[]string{"Receiver tips", strconv.Itoa(counts.ReceiverTips)},
				[]string{"Whistleblower tips", strconv.Itoa(counts.WhistleblowerTips)},
				[]string{"Internal files", strconv.Itoa(counts.InternalFiles)},
			)
			for _, status := range []store.FileStatus{store.FileReady, store.FileNoKey, store.FileUnreadable, store.FileProcessing} {
				rows = append(rows, []string{"Receiver files: " + string(status), strconv.Itoa(counts.ReceiverFiles[status])})
			}
			rows = append(rows,
				[]string{"Comments", strconv.Itoa(counts.Comments)},
				[]string{"Pending notifications", strconv.Itoa(counts.PendingMail)},
			)
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]column{leftColumn("Metric"), rightColumn("Count")}, rows))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	cmd.Flags().BoolVar(&record, "record", false, "Store a statistics snapshot before printing")
	return cmd
}

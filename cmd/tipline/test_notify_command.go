package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tipline/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	var mailTo string

	cmd := &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test operator alert, and optionally a test mail",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.ensureRuntime()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if strings.TrimSpace(rt.Config.Notifications.NtfyTopic) == "" {
				fmt.Fprintln(out, "ntfy topic not configured")
			} else if err := rt.Alerter.TestNotification(cmd.Context()); err != nil {
				return fmt.Errorf("send test notification: %w", err)
			} else {
				fmt.Fprintln(out, "Test notification sent")
			}

			if mailTo = strings.TrimSpace(mailTo); mailTo == "" {
				return nil
			}
			if rt.Config.SMTP.Host == "" {
				return fmt.Errorf("smtp host not configured")
			}
			msg := notifications.Message{
				To:      mailTo,
				Subject: "Tipline test mail",
				Body:    fmt.Sprintf("This is a test message from tipline node %s.\n", rt.Config.Node.Name),
			}
			if err := rt.Mailer.Send(cmd.Context(), msg); err != nil {
				return fmt.Errorf("send test mail: %w", err)
			}
			fmt.Fprintf(out, "Test mail sent to %s\n", mailTo)
			return nil
		},
	}
	cmd.Flags().StringVar(&mailTo, "mail", "", "Also send a test mail to this address")
	return cmd
}

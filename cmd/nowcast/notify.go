package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/nowcast-alert-service/internal/domain"
	"github.com/spf13/cobra"
)

func testNotifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification to the admin recipients",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			to, _ := cmd.Flags().GetStringSlice("to")
			if len(to) == 0 {
				to = cfg.AdminRecipients
			}
			if len(to) == 0 {
				return errors.New("no recipients: set NOTIFY_ADMIN_RECIPIENTS or pass --to")
			}

			n, err := newNotifier(cfg, logger)
			if err != nil {
				return err
			}
			if n == nil {
				return fmt.Errorf("notification transport %q sends nothing", cfg.Transport)
			}

			now := time.Now().In(domain.JST)
			subject := "[Rain monitor] Test notification"
			body := fmt.Sprintf("This is a test notification from the rainfall monitor.\n\nSent at: %s\nTransport: %s\n",
				domain.FormatStoreTime(now), cfg.Transport)
			if err := n.Send(cmd.Context(), to, subject, body, false); err != nil {
				return fmt.Errorf("send test notification: %w", err)
			}
			cmd.Printf("test notification sent to %d recipient(s)\n", len(to))
			return nil
		},
	}

	cmd.Flags().StringSlice("to", nil, "Recipients (defaults to the admin recipients)")

	return cmd
}

package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/roasbeef/zamail/internal/mailbox"
	"github.com/spf13/cobra"
)

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "List sent and received messages",
	Long: `Refresh the mailbox of the configured wallet and list the ids of its
sent and received messages. Use decrypt to read them.`,
	RunE: runInbox,
}

func runInbox(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app,
		snap mailbox.Snapshot) error {

		if err := requireReady(snap); err != nil {
			return err
		}

		// Connecting already refreshed unless that was turned off.
		if !cfg.Coordinator.RefreshOnConnect {
			var err error
			snap, err = refresh(ctx, a)
			if err != nil {
				return err
			}
		}

		if outputFormat == "json" {
			return outputJSON(newMailboxView(snap))
		}

		fmt.Print(formatMailbox(snap))

		return nil
	})
}

// refresh runs one refresh and waits for its outcome.
func refresh(ctx context.Context, a *app) (mailbox.Snapshot, error) {
	sub, err := a.coordinator.Subscribe(ctx, 1)
	if err != nil {
		return mailbox.Snapshot{}, err
	}
	defer sub.Close(context.Background())

	start := time.Now()
	if _, err := a.coordinator.RefreshMessages(ctx); err != nil {
		return mailbox.Snapshot{}, err
	}

	return a.awaitOp(ctx, sub, mailbox.OpRefresh, start,
		func(s mailbox.Snapshot) bool { return s.Refreshing },
	)
}

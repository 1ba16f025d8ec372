package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/roasbeef/zamail/internal/mailbox"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <recipient> <message>",
	Short: "Send an encrypted message",
	Long: `Encrypt a message of at most 8 bytes and mail it to recipient. The
command waits for the transaction receipt and the refresh that follows it.`,
	Args: cobra.ExactArgs(2),
	RunE: runSend,
}

func runSend(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app,
		snap mailbox.Snapshot) error {

		if err := requireReady(snap); err != nil {
			return err
		}

		sub, err := a.coordinator.Subscribe(ctx, 1)
		if err != nil {
			return err
		}
		defer sub.Close(context.Background())

		start := time.Now()
		if _, err := a.coordinator.SendMessage(
			ctx, args[0], args[1],
		); err != nil {
			return err
		}

		snap, err = a.awaitOp(
			ctx, sub, mailbox.OpSend, start,
			func(s mailbox.Snapshot) bool { return s.Sending },
		)
		if err != nil {
			return err
		}
		fmt.Println(snap.LastAction.Message)

		// The send triggers a refresh.
		snap, err = sub.WaitFor(ctx, func(s mailbox.Snapshot) bool {
			return !s.Refreshing
		})
		if err != nil {
			return err
		}

		if outputFormat == "json" {
			return outputJSON(newMailboxView(snap))
		}

		fmt.Print(formatMailbox(snap))

		return nil
	})
}

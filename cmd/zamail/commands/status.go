package commands

import (
	"context"
	"fmt"

	"github.com/roasbeef/zamail/internal/mailbox"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connection and mailbox status",
	Long: `Connect the configured wallet, check the ZaMail deployment on the
node's chain and display the connection details, mailbox counters and the
outcome of the last action.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(_ context.Context, _ *app,
		snap mailbox.Snapshot) error {

		if outputFormat == "json" {
			return outputJSON(newMailboxView(snap))
		}

		fmt.Print(formatStatus(snap))

		return nil
	})
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/roasbeef/zamail/internal/chain"
	"github.com/roasbeef/zamail/internal/mailbox"
	"github.com/spf13/cobra"
)

var watchRefresh time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the mailbox and chain switches",
	Long: `Stay connected, print every status change and reload the mailbox
periodically. Switching the node to another chain restarts the session.
With --metrics set, Prometheus metrics are served while watching.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(
		&watchRefresh, "refresh", 30*time.Second,
		"Mailbox refresh interval (0 disables)",
	)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(
		cmd.Context(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Metrics.Listen != "" {
		srv := serveMetrics(a)
		defer srv.Shutdown(context.Background())
	}

	sub, err := a.coordinator.Subscribe(ctx, 1)
	if err != nil {
		return err
	}
	defer sub.Close(context.Background())

	a.events <- mailbox.Connected{Session: a.session()}

	watcher := chain.NewWatcher(a.chain, a.signer, cfg.RPC.WatchInterval)
	go watcher.Run(ctx, a.chainID, a.events)

	var tick <-chan time.Time
	if watchRefresh > 0 {
		ticker := time.NewTicker(watchRefresh)
		defer ticker.Stop()
		tick = ticker.C
	}

	var last mailbox.LastAction
	for {
		select {
		case snap, ok := <-sub.Updates:
			if !ok {
				return nil
			}

			if snap.LastAction == last {
				continue
			}
			last = snap.LastAction

			if outputFormat == "json" {
				if err := outputJSON(newMailboxView(snap)); err != nil {
					return err
				}
				continue
			}
			fmt.Print(formatWatchLine(snap))

		case <-tick:
			_, err := a.coordinator.RefreshMessages(ctx)
			switch {
			case err == nil:
			case errors.Is(err, mailbox.ErrBusy),
				errors.Is(err, mailbox.ErrContractNotDeployed),
				errors.Is(err, mailbox.ErrDeploymentUnknown):

				log.DebugS(ctx, "Periodic refresh skipped",
					"reason", err.Error())

			case ctx.Err() != nil:
				return nil

			default:
				log.WarnS(ctx, "Periodic refresh failed", err)
			}

		case <-ctx.Done():
			return nil
		}
	}
}

// formatWatchLine renders one status change.
func formatWatchLine(s mailbox.Snapshot) string {
	stamp := s.LastAction.At.Format(time.TimeOnly)

	msg := okStyle.Render(s.LastAction.Message)
	if s.LastAction.Failed() {
		msg = errStyle.Render(s.LastAction.Message)
	}

	line := fmt.Sprintf("%s %s\n", labelStyle.Render(stamp), msg)
	if s.Connected && s.Deployment == mailbox.DeploymentNotDeployed {
		line += warnStyle.Render(deployInstructions(s.ChainID)) + "\n"
	}

	return line
}

// serveMetrics exposes the app registry on cfg.Metrics.Listen.
func serveMetrics(a *app) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		a.registry, promhttp.HandlerOpts{},
	))

	srv := &http.Server{
		Addr:              cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infof("Serving metrics on %s", cfg.Metrics.Listen)

		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics server failed: %v", err)
		}
	}()

	return srv
}

package chain

import (
	"context"
	"time"

	"github.com/roasbeef/zamail/internal/mailbox"
)

// DefaultWatchInterval is how often the watcher polls the chain id.
const DefaultWatchInterval = 5 * time.Second

// ChainIDSource reports the chain id of the connected node.
type ChainIDSource interface {
	ChainID(ctx context.Context) (uint64, error)
}

// Watcher turns chain switches of the node into ChainChanged events for the
// session of signer.
type Watcher struct {
	source   ChainIDSource
	signer   mailbox.Signer
	interval time.Duration
}

// NewWatcher creates a watcher. A zero interval uses DefaultWatchInterval.
func NewWatcher(source ChainIDSource, signer mailbox.Signer,
	interval time.Duration) *Watcher {

	if interval <= 0 {
		interval = DefaultWatchInterval
	}

	return &Watcher{
		source:   source,
		signer:   signer,
		interval: interval,
	}
}

// Session builds the session for chainID.
func (w *Watcher) Session(chainID uint64) mailbox.Session {
	return mailbox.Session{
		Address: w.signer.Address(),
		ChainID: chainID,
		Signer:  w.signer,
	}
}

// Run polls until ctx ends, sending a ChainChanged event whenever the chain
// id differs from the last one seen, starting from current. Poll failures
// are logged and retried on the next tick.
func (w *Watcher) Run(ctx context.Context, current uint64,
	events chan<- mailbox.WalletEvent) {

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}

		chainID, err := w.source.ChainID(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.WarnS(ctx, "Chain id poll failed", err)
			}
			continue
		}

		if chainID == current {
			continue
		}

		log.InfoS(ctx, "Chain switched", "from", current,
			"to", chainID)
		current = chainID

		select {
		case events <- mailbox.ChainChanged{
			Session: w.Session(chainID),
		}:
		case <-ctx.Done():
			return
		}
	}
}

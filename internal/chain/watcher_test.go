package chain

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roasbeef/zamail/internal/mailbox"
	"github.com/stretchr/testify/require"
)

type switchableChain struct {
	id atomic.Uint64
}

func (s *switchableChain) ChainID(context.Context) (uint64, error) {
	return s.id.Load(), nil
}

// TestWatcherEmitsChainChanged checks only actual switches are reported.
func TestWatcherEmitsChainChanged(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &switchableChain{}
	source.id.Store(31337)
	signer := newKeySigner(t)

	events := make(chan mailbox.WalletEvent, 4)
	watcher := NewWatcher(source, signer, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		watcher.Run(ctx, 31337, events)
	}()

	// Several polls on the same chain emit nothing.
	time.Sleep(30 * time.Millisecond)
	require.Empty(t, events)

	source.id.Store(11155111)

	select {
	case e := <-events:
		changed, ok := e.(mailbox.ChainChanged)
		require.True(t, ok)
		require.EqualValues(t, 11155111, changed.Session.ChainID)
		require.Equal(t, signer.Address(), changed.Session.Address)

	case <-time.After(time.Second):
		t.Fatal("no ChainChanged event")
	}

	cancel()
	<-done
	require.Empty(t, events)
}

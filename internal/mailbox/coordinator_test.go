package mailbox

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestSendTriggersRefresh checks that a successful send is followed by a
// refresh that lists the new message.
func TestSendTriggersRefresh(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	snap := h.connect(alice)
	require.True(t, snap.CanSendMessage())
	require.True(t, snap.CanGetMessages())

	resp, err := h.ca.SendMessage(h.ctx(), bob.Hex(), "hi")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, resp.OpID)

	snap = h.waitFor(func(s Snapshot) bool {
		return idle(s) && len(s.Sent) == 1
	})
	require.Equal(t, []MessageID{1}, snap.Sent)
	require.Empty(t, snap.Received)
	require.Equal(t, int32(1), h.enc.encryptCalls.Load())
	require.Equal(t, int32(1), h.chain.sendCalls.Load())
	require.False(t, snap.LastAction.Failed())
}

// TestSendRejectedWhileInFlight checks that a second send is refused, not
// queued, while the first is still running.
func TestSendRejectedWhileInFlight(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.enc.encryptGate = make(gate)
	h.connect(alice)

	_, err := h.ca.SendMessage(h.ctx(), bob.Hex(), "one")
	require.NoError(t, err)

	_, err = h.ca.SendMessage(h.ctx(), bob.Hex(), "two")
	require.ErrorIs(t, err, ErrBusy)

	snap := h.snapshot()
	require.True(t, snap.Sending)
	require.False(t, snap.CanSendMessage())
	require.Contains(t, snap.LastAction.Message, "Sending")

	close(h.enc.encryptGate)

	snap = h.waitFor(idle)
	require.False(t, snap.Sending)
	require.Len(t, snap.Sent, 1)
	require.Equal(t, int32(1), h.enc.encryptCalls.Load())
}

// TestSendValidation checks that bad input never reaches a collaborator.
func TestSendValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.connect(alice)

	cases := []struct {
		name      string
		recipient string
		text      string
	}{
		{"bad recipient", "0xnot-an-address", "hi"},
		{"zero recipient", "0x0000000000000000000000000000000000000000",
			"hi"},
		{"empty text", bob.Hex(), ""},
		{"too long", bob.Hex(), "ninechars"},
	}
	for _, tc := range cases {
		_, err := h.ca.SendMessage(h.ctx(), tc.recipient, tc.text)
		require.ErrorIs(t, err, ErrValidation, tc.name)
	}

	snap := h.snapshot()
	require.Equal(t, KindValidation, snap.LastAction.Kind)
	require.False(t, snap.Sending)
	require.Zero(t, h.enc.encryptCalls.Load())
	require.Zero(t, h.chain.sendCalls.Load())
}

// TestIntentsBeforeConnect checks the readiness test without a session.
func TestIntentsBeforeConnect(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	_, err := h.ca.SendMessage(h.ctx(), bob.Hex(), "hi")
	require.ErrorIs(t, err, ErrNotConnected)

	_, err = h.ca.RefreshMessages(h.ctx())
	require.ErrorIs(t, err, ErrNotConnected)

	_, err = h.ca.DecryptMessage(h.ctx(), 1)
	require.ErrorIs(t, err, ErrNotConnected)

	snap := h.snapshot()
	require.False(t, snap.CanSendMessage())
	require.False(t, snap.CanGetMessages())
	require.False(t, snap.CanDecrypt(1))
}

// TestContractNotDeployed checks that a missing contract blocks every
// intent without touching the relayer.
func TestContractNotDeployed(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.chain.deployed = false

	snap := h.connect(alice)
	require.Equal(t, DeploymentNotDeployed, snap.Deployment)
	require.Equal(t, KindContractNotDeployed, snap.LastAction.Kind)
	require.False(t, snap.CanSendMessage())

	_, err := h.ca.SendMessage(h.ctx(), bob.Hex(), "hi")
	require.ErrorIs(t, err, ErrContractNotDeployed)

	_, err = h.ca.RefreshMessages(h.ctx())
	require.ErrorIs(t, err, ErrContractNotDeployed)

	require.Zero(t, h.enc.encryptCalls.Load())
	require.Zero(t, h.chain.queryCalls.Load())
}

// TestUnconfiguredChain checks chains without a known deployment.
func TestUnconfiguredChain(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	sess := session(alice)
	sess.ChainID = 1
	h.ca.WalletEvents().Tell(h.ctx(), ChainChanged{Session: sess})

	snap := h.waitFor(func(s Snapshot) bool {
		return s.Deployment == DeploymentNotDeployed
	})
	require.Equal(t, uint64(1), snap.ChainID)
	require.Contains(t, snap.LastAction.Message, "not deployed")
}

// TestDeploymentCheckError checks that a failed lookup leaves the
// deployment unknown and intents refused.
func TestDeploymentCheckError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.chain.deployErr = fmt.Errorf("%w: connection refused", ErrRPC)

	h.ca.WalletEvents().Tell(h.ctx(), Connected{Session: session(alice)})
	snap := h.waitFor(func(s Snapshot) bool {
		return s.LastAction.Kind == KindRPC
	})
	require.Equal(t, DeploymentUnknown, snap.Deployment)

	_, err := h.ca.RefreshMessages(h.ctx())
	require.ErrorIs(t, err, ErrDeploymentUnknown)
}

// TestRefreshOnConnect checks the initial mailbox load.
func TestRefreshOnConnect(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(cfg *CoordinatorConfig) {
		cfg.RefreshOnConnect = true
	})
	h.chain.deliver(bob, alice, h.enc.seal(42))

	h.connect(alice)
	snap := h.waitFor(func(s Snapshot) bool {
		return idle(s) && len(s.Received) == 1
	})
	require.Equal(t, []MessageID{1}, snap.Received)
	require.Equal(t, Stats{Sent: 0, Received: 1, Total: 1}, snap.Stats())
}

// TestRefreshRejectedWhileInFlight checks single flight for refreshes.
func TestRefreshRejectedWhileInFlight(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.chain.queryGate = make(gate)
	h.connect(alice)

	_, err := h.ca.RefreshMessages(h.ctx())
	require.NoError(t, err)

	_, err = h.ca.RefreshMessages(h.ctx())
	require.ErrorIs(t, err, ErrBusy)
	require.False(t, h.snapshot().CanGetMessages())

	close(h.chain.queryGate)
	h.waitFor(idle)
	require.Equal(t, int32(1), h.chain.queryCalls.Load())
}

// receiveOne delivers one message to alice and decrypts nothing yet.
func receiveOne(t *testing.T, h *harness, text string) MessageID {
	t.Helper()

	value, err := EncodeText(text)
	require.NoError(t, err)
	id := h.chain.deliver(bob, alice, h.enc.seal(value))

	_, err = h.ca.RefreshMessages(h.ctx())
	require.NoError(t, err)
	h.waitFor(func(s Snapshot) bool {
		return idle(s) && len(s.Received) > 0
	})

	return id
}

// TestDecryptSameIDOnce checks that a second decrypt of a running id is
// refused and only one request reaches the relayer.
func TestDecryptSameIDOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.enc.decryptGate = make(gate)
	h.connect(alice)
	id := receiveOne(t, h, "hello")

	_, err := h.ca.DecryptMessage(h.ctx(), id)
	require.NoError(t, err)

	_, err = h.ca.DecryptMessage(h.ctx(), id)
	require.ErrorIs(t, err, ErrBusy)

	snap := h.snapshot()
	require.True(t, snap.IsDecrypting(id))
	require.False(t, snap.CanDecrypt(id))

	close(h.enc.decryptGate)

	snap = h.waitFor(func(s Snapshot) bool {
		_, ok := s.Content(id)
		return ok && idle(s)
	})
	content, _ := snap.Content(id)
	require.Equal(t, "hello", content.ClearText)
	require.Equal(t, int32(1), h.enc.decryptCalls.Load())
	require.Equal(t, int32(1), h.enc.signatureCalls.Load())
}

// TestDecryptCached checks that decrypting a cached id returns the value
// without a new request.
func TestDecryptCached(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.connect(alice)
	id := receiveOne(t, h, "cached")

	_, err := h.ca.DecryptMessage(h.ctx(), id)
	require.NoError(t, err)
	snap := h.waitFor(func(s Snapshot) bool {
		_, ok := s.Content(id)
		return ok
	})
	require.False(t, snap.CanDecrypt(id))

	resp, err := h.ca.DecryptMessage(h.ctx(), id)
	require.NoError(t, err)
	require.True(t, resp.Cached.IsSome())
	resp.Cached.WhenSome(func(c DecryptedContent) {
		require.Equal(t, "cached", c.ClearText)
	})

	require.Equal(t, int32(1), h.enc.decryptCalls.Load())
	require.Equal(t, int32(1), h.chain.contentCalls.Load())
}

// TestDecryptRejectedSignature checks that a declined signature clears the
// decrypting flag and leaves no cache entry.
func TestDecryptRejectedSignature(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.enc.sigErr = fmt.Errorf("%w: user denied", ErrUserRejectedSignature)
	h.connect(alice)

	// Ids 1..6 go to bob so that alice receives id 7.
	for i := 0; i < 6; i++ {
		h.chain.deliver(alice, bob, h.enc.seal(uint64(i)))
	}
	id := receiveOne(t, h, "secret")
	require.Equal(t, MessageID(7), id)

	_, err := h.ca.DecryptMessage(h.ctx(), id)
	require.NoError(t, err)

	snap := h.waitFor(func(s Snapshot) bool {
		return !s.IsDecrypting(id) && s.LastAction.Failed()
	})
	_, cached := snap.Content(id)
	require.False(t, cached)
	require.Equal(t, KindUserRejectedSignature, snap.LastAction.Kind)
	require.Contains(t, snap.LastAction.Message,
		"decryption signature request was rejected")
	require.True(t, snap.CanDecrypt(id))
	require.Zero(t, h.enc.decryptCalls.Load())
}

// TestAccountChangeResets checks that a wallet event drops every flag, the
// lists and the decrypted cache, and that late completions are ignored.
func TestAccountChangeResets(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.connect(alice)
	id := receiveOne(t, h, "old")

	_, err := h.ca.DecryptMessage(h.ctx(), id)
	require.NoError(t, err)
	h.waitFor(func(s Snapshot) bool {
		_, ok := s.Content(id)
		return ok
	})

	h.enc.encryptGate = make(gate)
	_, err = h.ca.SendMessage(h.ctx(), bob.Hex(), "late")
	require.NoError(t, err)
	require.True(t, h.snapshot().Sending)

	before := h.snapshot().Generation
	h.ca.WalletEvents().Tell(h.ctx(), AccountChanged{
		Session: session(bob),
	})

	snap := h.waitFor(func(s Snapshot) bool {
		return s.Address == bob && s.Deployment == DeploymentDeployed
	})
	require.Greater(t, snap.Generation, before)
	require.False(t, snap.Sending)
	require.False(t, snap.Refreshing)
	require.Empty(t, snap.Decrypting)
	require.Empty(t, snap.Contents)
	require.Empty(t, snap.Sent)
	require.Empty(t, snap.Received)

	// The abandoned send finishes under the new session and must not
	// change its state.
	close(h.enc.encryptGate)
	require.Eventually(t, func() bool {
		return h.chain.sendCalls.Load() == 1
	}, waitTimeout, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	snap = h.snapshot()
	require.False(t, snap.Sending)
	require.NotContains(t, snap.LastAction.Message, "Message #")
	require.True(t, snap.CanSendMessage())
}

// TestDisconnect checks that disconnecting clears the session.
func TestDisconnect(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.connect(alice)

	h.ca.WalletEvents().Tell(h.ctx(), Disconnected{})
	snap := h.waitFor(func(s Snapshot) bool { return !s.Connected })
	require.False(t, snap.CanGetMessages())
	require.Equal(t, "Wallet disconnected", snap.LastAction.Message)
}

// TestUnsupportedChainNotReady checks a chain without an encryption engine is
// reported in the snapshot while the session stays usable for reads.
func TestUnsupportedChainNotReady(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.enc.unsupported = map[uint64]bool{testChainID: true}

	snap := h.connect(alice)
	require.Equal(t, DeploymentDeployed, snap.Deployment)
	require.False(t, snap.EncryptionReady)
	require.Contains(t, snap.EncryptionError, "chain 31337")
	require.True(t, snap.CanGetMessages())

	h.ca.WalletEvents().Tell(h.ctx(), Disconnected{})
	snap = h.waitFor(func(s Snapshot) bool { return !s.Connected })
	require.False(t, snap.EncryptionReady)
	require.Empty(t, snap.EncryptionError)
}

// TestEncryptionFailureClearsOnSuccess checks an unavailable relayer marks
// encryption not ready until an operation goes through.
func TestEncryptionFailureClearsOnSuccess(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	snap := h.connect(alice)
	require.True(t, snap.EncryptionReady)
	require.Empty(t, snap.EncryptionError)

	h.enc.encryptErr = fmt.Errorf("%w: relayer down",
		ErrEncryptionUnavailable)
	_, err := h.ca.SendMessage(h.ctx(), bob.Hex(), "hi")
	require.NoError(t, err)

	snap = h.waitFor(func(s Snapshot) bool {
		return !s.Sending && s.LastAction.Failed()
	})
	require.Equal(t, KindEncryptionUnavailable, snap.LastAction.Kind)
	require.False(t, snap.EncryptionReady)
	require.Contains(t, snap.EncryptionError, "relayer down")

	h.enc.encryptErr = nil
	_, err = h.ca.SendMessage(h.ctx(), bob.Hex(), "hi")
	require.NoError(t, err)

	snap = h.waitFor(func(s Snapshot) bool {
		return len(s.Sent) == 1 && idle(s)
	})
	require.True(t, snap.EncryptionReady)
	require.Empty(t, snap.EncryptionError)
}

// TestOperationTimeout checks that a hung collaborator cannot leave the send
// slot in flight.
func TestOperationTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(cfg *CoordinatorConfig) {
		cfg.OpTimeout = 50 * time.Millisecond
	})
	h.connect(alice)
	h.enc.encryptGate = make(gate)
	defer close(h.enc.encryptGate)

	_, err := h.ca.SendMessage(h.ctx(), bob.Hex(), "stuck")
	require.NoError(t, err)

	snap := h.waitFor(func(s Snapshot) bool {
		return !s.Sending && s.LastAction.Failed()
	})
	require.Equal(t, KindTimeout, snap.LastAction.Kind)
	require.True(t, snap.CanSendMessage())
}

// TestBoundedDecryptPool checks decrypts through the worker pool.
func TestBoundedDecryptPool(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(cfg *CoordinatorConfig) {
		cfg.MaxConcurrentDecrypts = 1
	})
	h.connect(alice)

	var ids []MessageID
	for _, text := range []string{"a", "bb", "ccc"} {
		value, err := EncodeText(text)
		require.NoError(t, err)
		ids = append(ids, h.chain.deliver(bob, alice, h.enc.seal(value)))
	}
	_, err := h.ca.RefreshMessages(h.ctx())
	require.NoError(t, err)
	h.waitFor(func(s Snapshot) bool { return len(s.Received) == 3 })

	for _, id := range ids {
		_, err := h.ca.DecryptMessage(h.ctx(), id)
		require.NoError(t, err)
	}

	snap := h.waitFor(func(s Snapshot) bool {
		return len(s.Contents) == 3 && idle(s)
	})
	require.Equal(t, "ccc", snap.Contents[ids[2]].ClearText)
}

// TestDecryptPoolDoesNotBlockCoordinator checks a backlog larger than both
// the pool and coordinator mailboxes still drains while the coordinator
// keeps answering.
func TestDecryptPoolDoesNotBlockCoordinator(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(cfg *CoordinatorConfig) {
		cfg.MaxConcurrentDecrypts = 1
		cfg.MailboxSize = 2
	})
	h.enc.decryptGate = make(gate)
	h.connect(alice)

	const backlog = 10

	ids := make([]MessageID, 0, backlog)
	for i := range backlog {
		value, err := EncodeText(fmt.Sprintf("m%d", i))
		require.NoError(t, err)
		ids = append(ids, h.chain.deliver(bob, alice, h.enc.seal(value)))
	}
	_, err := h.ca.RefreshMessages(h.ctx())
	require.NoError(t, err)
	h.waitFor(func(s Snapshot) bool { return len(s.Received) == backlog })

	for i, res := range h.ca.DecryptMessages(h.ctx(), ids) {
		_, err := res.Unpack()
		require.NoError(t, err, "message %d", ids[i])
	}

	snap := h.snapshot()
	for _, id := range ids {
		require.True(t, snap.IsDecrypting(id), "message %d", id)
	}

	close(h.enc.decryptGate)

	snap = h.waitFor(func(s Snapshot) bool {
		return len(s.Contents) == backlog && idle(s)
	})
	require.Equal(t, "m9", snap.Contents[ids[backlog-1]].ClearText)
}

// TestSubscriptionReceivesSnapshots checks the hub feed.
func TestSubscriptionReceivesSnapshots(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	sub, err := h.ca.Subscribe(ctx, 4)
	require.NoError(t, err)

	h.ca.WalletEvents().Tell(ctx, Connected{Session: session(alice)})

	snap, err := sub.WaitFor(ctx, func(s Snapshot) bool {
		return s.Deployment == DeploymentDeployed
	})
	require.NoError(t, err)
	require.Equal(t, alice, snap.Address)

	require.NoError(t, sub.Close(ctx))
	_, err = sub.WaitFor(ctx, func(Snapshot) bool { return false })
	require.True(t, errors.Is(err, ErrSubscriptionClosed))
}

package mailbox

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

type harness struct {
	t     *testing.T
	chain *fakeChain
	enc   *fakeEncryption
	ca    *CoordinatorActor
}

func newHarness(t *testing.T, opts ...func(*CoordinatorConfig)) *harness {
	t.Helper()

	h := &harness{
		t:     t,
		chain: newFakeChain(),
		enc:   newFakeEncryption(),
	}

	cfg := CoordinatorConfig{
		Chain:      h.chain,
		Encryption: h.enc,
		Deployments: map[uint64]common.Address{
			testChainID: testContract,
		},
		OpTimeout: waitTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	h.ca = StartCoordinator(cfg)
	t.Cleanup(h.ca.Stop)

	return h
}

func (h *harness) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	h.t.Cleanup(cancel)

	return ctx
}

func (h *harness) snapshot() Snapshot {
	h.t.Helper()

	snap, err := h.ca.Snapshot(h.ctx())
	require.NoError(h.t, err)

	return snap
}

// waitFor polls snapshots until cond holds.
func (h *harness) waitFor(cond func(Snapshot) bool) Snapshot {
	h.t.Helper()

	var snap Snapshot
	require.Eventually(h.t, func() bool {
		snap = h.snapshot()
		return cond(snap)
	}, waitTimeout, 5*time.Millisecond)

	return snap
}

// connect starts a session for addr and waits for the deployment check.
func (h *harness) connect(addr common.Address) Snapshot {
	h.t.Helper()

	h.ca.WalletEvents().Tell(h.ctx(), Connected{Session: session(addr)})

	return h.waitFor(func(s Snapshot) bool {
		return s.Connected && s.Address == addr &&
			s.Deployment != DeploymentChecking &&
			s.Deployment != DeploymentUnknown
	})
}

func idle(s Snapshot) bool {
	return !s.Busy()
}

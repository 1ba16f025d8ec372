package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/roasbeef/zamail/internal/chain"
	"github.com/roasbeef/zamail/internal/config"
	"github.com/roasbeef/zamail/internal/db"
	"github.com/roasbeef/zamail/internal/fhevm"
	"github.com/roasbeef/zamail/internal/mailbox"
)

// app is one connected wallet session driving a coordinator.
type app struct {
	backend     *ethclient.Client
	chain       *chain.Client
	signer      mailbox.Signer
	enc         *fhevm.Client
	store       *db.Store
	registry    *prometheus.Registry
	coordinator *mailbox.CoordinatorActor
	events      chan mailbox.WalletEvent
	chainID     uint64

	cancel context.CancelFunc
}

func newSigner(cfg *config.Config) (mailbox.Signer, error) {
	key, err := cfg.WalletKey()
	if err != nil {
		return nil, err
	}

	signer, err := chain.ParseKeySigner(key)
	if err != nil {
		return nil, err
	}

	if !cfg.Wallet.Confirm {
		return signer, nil
	}

	return chain.NewPromptSigner(
		signer, chain.NewTerminalConfirmer(os.Stdin, os.Stderr),
	), nil
}

func newSignatureStore(cfg *config.Config) (fhevm.SignatureStore, *db.Store,
	error) {

	if cfg.Store.Backend == config.StoreMemory {
		return fhevm.NewMemoryStore(), nil, nil
	}

	store, err := db.Open(
		cfg.Store.Path, slog.New(logging.Handlers.SubSystem("SQLD")),
	)
	if err != nil {
		return nil, nil, err
	}

	return store, store, nil
}

// newApp dials the node and starts the coordinator. The wallet is not
// connected yet; see connect.
func newApp(ctx context.Context) (*app, error) {
	signer, err := newSigner(cfg)
	if err != nil {
		return nil, err
	}

	deployments, err := cfg.DeploymentMap()
	if err != nil {
		return nil, err
	}
	engines, err := cfg.ChainEngines()
	if err != nil {
		return nil, err
	}

	backend, err := chain.Dial(ctx, cfg.RPC.URL)
	if err != nil {
		return nil, err
	}

	client := chain.NewClient(backend, chain.ClientConfig{
		ReceiptTimeout: cfg.RPC.ReceiptTimeout,
		PollInterval:   cfg.RPC.PollInterval,
	})

	chainID, err := client.ChainID(ctx)
	if err != nil {
		backend.Close()
		return nil, err
	}

	sigStore, store, err := newSignatureStore(cfg)
	if err != nil {
		backend.Close()
		return nil, err
	}

	enc := fhevm.NewClient(fhevm.ClientConfig{
		Chains:        engines,
		Store:         sigStore,
		DurationDays:  cfg.FHEVM.SignatureDurationDays,
		PromptTimeout: cfg.FHEVM.PromptTimeout,
	})

	pruned, err := enc.PruneSignatures(ctx)
	if err != nil {
		log.WarnS(ctx, "Unable to prune decryption signatures", err)
	} else if pruned > 0 {
		log.InfoS(ctx, "Pruned expired decryption signatures",
			"count", pruned)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		),
	)

	coordinator := mailbox.StartCoordinator(mailbox.CoordinatorConfig{
		Chain:                 client,
		Encryption:            enc,
		Deployments:           deployments,
		OpTimeout:             cfg.Coordinator.OpTimeout,
		MaxConcurrentDecrypts: cfg.Coordinator.MaxConcurrentDecrypts,
		RefreshOnConnect:      cfg.Coordinator.RefreshOnConnect,
		Metrics:               mailbox.NewMetrics(registry),
	})

	runCtx, cancel := context.WithCancel(context.Background())
	events := make(chan mailbox.WalletEvent, 8)
	go mailbox.ForwardWalletEvents(
		runCtx, events, coordinator.WalletEvents(),
	)

	return &app{
		backend:     backend,
		chain:       client,
		signer:      signer,
		enc:         enc,
		store:       store,
		registry:    registry,
		coordinator: coordinator,
		events:      events,
		chainID:     chainID,
		cancel:      cancel,
	}, nil
}

// session is the wallet session on the node's current chain.
func (a *app) session() mailbox.Session {
	return mailbox.Session{
		Address: a.signer.Address(),
		ChainID: a.chainID,
		Signer:  a.signer,
	}
}

// settled reports whether the session finished its connect work: the
// deployment check and, when deployed, the initial refresh.
func settled(s mailbox.Snapshot) bool {
	if !s.Connected || s.Deployment == mailbox.DeploymentChecking {
		return false
	}

	return !s.Refreshing
}

// connect reports the wallet to the coordinator and waits until the session
// settles.
func (a *app) connect(ctx context.Context) (mailbox.Snapshot, error) {
	sub, err := a.coordinator.Subscribe(ctx, 1)
	if err != nil {
		return mailbox.Snapshot{}, err
	}
	defer sub.Close(context.Background())

	select {
	case a.events <- mailbox.Connected{Session: a.session()}:
	case <-ctx.Done():
		return mailbox.Snapshot{}, ctx.Err()
	}

	return sub.WaitFor(ctx, settled)
}

// requireReady turns a settled snapshot into the error that keeps intents
// from running.
func requireReady(s mailbox.Snapshot) error {
	switch s.Deployment {
	case mailbox.DeploymentDeployed:
		return nil

	case mailbox.DeploymentNotDeployed:
		return fmt.Errorf("%w on chain %d\n%s",
			mailbox.ErrContractNotDeployed, s.ChainID,
			deployInstructions(s.ChainID))

	default:
		return errors.New(s.LastAction.Message)
	}
}

// awaitOp blocks until the operation op accepted at or after start has
// finished and returns the snapshot that shows it.
func (a *app) awaitOp(ctx context.Context, sub *mailbox.Subscription,
	op mailbox.Operation, start time.Time,
	inFlight func(mailbox.Snapshot) bool) (mailbox.Snapshot, error) {

	snap, err := sub.WaitFor(ctx, func(s mailbox.Snapshot) bool {
		return !inFlight(s) && s.LastAction.Op == op &&
			!s.LastAction.At.Before(start)
	})
	if err != nil {
		return snap, err
	}

	if snap.LastAction.Failed() {
		return snap, errors.New(snap.LastAction.Message)
	}

	return snap, nil
}

// Close stops the coordinator and releases every connection.
func (a *app) Close() {
	a.cancel()
	a.coordinator.Stop()
	a.backend.Close()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Errorf("Unable to close signature store: %v", err)
		}
	}
}

// withApp runs f against a connected app.
func withApp(ctx context.Context,
	f func(context.Context, *app, mailbox.Snapshot) error) error {

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	connectCtx := ctx
	if cfg.Coordinator.OpTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(
			ctx, cfg.Coordinator.OpTimeout,
		)
		defer cancel()
	}

	snap, err := a.connect(connectCtx)
	if err != nil {
		return fmt.Errorf("unable to connect wallet: %w", err)
	}

	return f(ctx, a, snap)
}

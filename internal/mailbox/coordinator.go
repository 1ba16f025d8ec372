package mailbox

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/zamail/internal/actorutil"
	"github.com/roasbeef/zamail/internal/baselib/actor"
)

// DefaultOpTimeout bounds each operation's collaborator calls.
const DefaultOpTimeout = 2 * time.Minute

// CoordinatorConfig wires the coordinator to its collaborators.
type CoordinatorConfig struct {
	Chain      ChainClient
	Encryption EncryptionClient

	// Deployments maps chain ids to the mailbox contract address.
	Deployments map[uint64]common.Address

	// OpTimeout bounds every operation. Zero disables the bound.
	OpTimeout time.Duration

	// MaxConcurrentDecrypts bounds decrypts of distinct messages. Zero
	// runs every decrypt in its own goroutine.
	MaxConcurrentDecrypts int

	// RefreshOnConnect loads the mailbox once the contract deployment is
	// confirmed for a new session.
	RefreshOnConnect bool

	// MailboxSize is the coordinator actor's mailbox buffer.
	MailboxSize int

	// Metrics defaults to an unregistered set.
	Metrics *Metrics

	// Now defaults to time.Now.
	Now func() time.Time
}

// Coordinator is the single-flight state machine behind the mailbox view.
// All of its state is owned by the actor goroutine running Receive. The
// entry test of every intent and the state change that follows happen within
// one Receive call, so repeated intents can never both pass the test.
type Coordinator struct {
	cfg    CoordinatorConfig
	runner *operationRunner

	// ctx bounds background operations. It ends in OnStop.
	ctx    context.Context
	cancel context.CancelFunc

	self actor.TellOnlyRef[CoordinatorRequest]
	hub  fn.Option[actor.TellOnlyRef[HubRequest]]
	pool *actorutil.Pool[decryptJob, struct{}]

	generation uint64
	session    fn.Option[Session]
	contract   common.Address
	deployment DeploymentStatus

	// encryptionErr is why the encryption client cannot serve the
	// session, if anything.
	encryptionErr error

	send       *ResourceFSM
	refresh    *ResourceFSM
	decrypting map[MessageID]*ResourceFSM

	sent     []MessageID
	received []MessageID
	contents map[MessageID]DecryptedContent

	last LastAction
}

// NewCoordinator creates a disconnected coordinator. It must be run by an
// actor; see StartCoordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		cfg: cfg,
		runner: &operationRunner{
			chain:   cfg.Chain,
			enc:     cfg.Encryption,
			timeout: cfg.OpTimeout,
			now:     cfg.Now,
		},
		ctx:        ctx,
		cancel:     cancel,
		send:       NewResourceFSM(Resource{Op: OpSend}),
		refresh:    NewResourceFSM(Resource{Op: OpRefresh}),
		decrypting: make(map[MessageID]*ResourceFSM),
		contents:   make(map[MessageID]DecryptedContent),
	}
}

// Receive implements actor.ActorBehavior.
func (c *Coordinator) Receive(ctx context.Context,
	msg CoordinatorRequest) fn.Result[CoordinatorResponse] {

	var result fn.Result[CoordinatorResponse]
	switch m := msg.(type) {
	case SendMessageRequest:
		result = c.handleSend(ctx, m)

	case RefreshMessagesRequest:
		result = c.handleRefresh(ctx)

	case DecryptMessageRequest:
		result = c.handleDecrypt(ctx, m)

	case SnapshotRequest:
		return fn.Ok[CoordinatorResponse](SnapshotResponse{
			Snapshot: c.snapshot(),
		})

	case walletEventMsg:
		c.handleWalletEvent(ctx, m.event)
		result = fn.Ok[CoordinatorResponse](ackResponse{})

	case deploymentChecked:
		c.handleDeploymentChecked(ctx, m)
		result = fn.Ok[CoordinatorResponse](ackResponse{})

	case sendCompleted:
		c.handleSendCompleted(ctx, m)
		result = fn.Ok[CoordinatorResponse](ackResponse{})

	case refreshCompleted:
		c.handleRefreshCompleted(ctx, m)
		result = fn.Ok[CoordinatorResponse](ackResponse{})

	case decryptCompleted:
		c.handleDecryptCompleted(ctx, m)
		result = fn.Ok[CoordinatorResponse](ackResponse{})

	default:
		return fn.Err[CoordinatorResponse](ErrUnknownRequestType)
	}

	c.publish()

	return result
}

// OnStop cancels background operations and the decrypt pool.
func (c *Coordinator) OnStop(context.Context) error {
	c.cancel()
	if c.pool != nil {
		c.pool.Stop()
	}

	return nil
}

func (c *Coordinator) handleSend(ctx context.Context,
	req SendMessageRequest) fn.Result[CoordinatorResponse] {

	to, value, err := parseSend(req)
	if err != nil {
		return c.reject(ctx, OpSend, err)
	}

	sess, err := c.ready()
	if err != nil {
		return c.reject(ctx, OpSend, err)
	}

	opID, outbox, err := c.send.Begin(ctx, c.cfg.Now())
	if err != nil {
		return c.reject(ctx, OpSend, err)
	}
	c.dispatch(ctx, outbox)

	c.progress(OpSend, fmt.Sprintf("Sending encrypted message to %s...",
		ShortAddress(to)))

	job := sendJob{
		generation: c.generation,
		opID:       opID,
		session:    sess,
		contract:   c.contract,
		to:         to,
		value:      value,
	}
	c.launch(func(ctx context.Context) CoordinatorRequest {
		return c.runner.send(ctx, job)
	})

	return fn.Ok[CoordinatorResponse](SendMessageResponse{OpID: opID})
}

func (c *Coordinator) handleSendCompleted(ctx context.Context,
	m sendCompleted) {

	if !c.current(ctx, OpSend, m.generation) {
		return
	}

	outbox, err := c.send.Complete(ctx, m.opID, c.cfg.Now(), m.err)
	if err != nil {
		log.WarnS(ctx, "Dropping send completion", err)
		return
	}
	c.dispatch(ctx, outbox)

	if m.err != nil {
		c.fail(OpSend, m.err)
		return
	}

	text := fmt.Sprintf("Message sent in tx %s", m.receipt.TxHash.Hex())
	m.receipt.MessageID.WhenSome(func(id MessageID) {
		text = fmt.Sprintf("Message #%d sent in tx %s", id,
			m.receipt.TxHash.Hex())
	})
	c.succeed(OpSend, text)

	// A busy refresh slot just means the lists are already on their way.
	if _, err := c.startRefresh(ctx, false); err != nil {
		log.DebugS(ctx, "Skipping refresh after send",
			"reason", err.Error())
	}
}

func (c *Coordinator) handleRefresh(
	ctx context.Context) fn.Result[CoordinatorResponse] {

	opID, err := c.startRefresh(ctx, true)
	if err != nil {
		return c.reject(ctx, OpRefresh, err)
	}

	return fn.Ok[CoordinatorResponse](RefreshMessagesResponse{OpID: opID})
}

// startRefresh runs the refresh entry test and launches the query.
func (c *Coordinator) startRefresh(ctx context.Context,
	announce bool) (uuid.UUID, error) {

	sess, err := c.ready()
	if err != nil {
		return uuid.Nil, err
	}

	opID, outbox, err := c.refresh.Begin(ctx, c.cfg.Now())
	if err != nil {
		return uuid.Nil, err
	}
	c.dispatch(ctx, outbox)

	if announce {
		c.progress(OpRefresh, "Refreshing mailbox...")
	}

	job := refreshJob{
		generation: c.generation,
		opID:       opID,
		owner:      sess.Address,
		contract:   c.contract,
	}
	c.launch(func(ctx context.Context) CoordinatorRequest {
		return c.runner.refresh(ctx, job)
	})

	return opID, nil
}

func (c *Coordinator) handleRefreshCompleted(ctx context.Context,
	m refreshCompleted) {

	if !c.current(ctx, OpRefresh, m.generation) {
		return
	}

	outbox, err := c.refresh.Complete(ctx, m.opID, c.cfg.Now(), m.err)
	if err != nil {
		log.WarnS(ctx, "Dropping refresh completion", err)
		return
	}
	c.dispatch(ctx, outbox)

	if m.err != nil {
		c.fail(OpRefresh, m.err)
		return
	}

	c.sent = slices.Clone(m.mailbox.Sent)
	c.received = slices.Clone(m.mailbox.Received)

	// Cached clear text survives for every id still listed.
	maps.DeleteFunc(c.contents, func(id MessageID, _ DecryptedContent) bool {
		return !slices.Contains(c.sent, id) &&
			!slices.Contains(c.received, id)
	})

	c.succeed(OpRefresh, fmt.Sprintf("Mailbox refreshed: %d sent, "+
		"%d received", len(c.sent), len(c.received)))
}

func (c *Coordinator) handleDecrypt(ctx context.Context,
	req DecryptMessageRequest) fn.Result[CoordinatorResponse] {

	sess, err := c.ready()
	if err != nil {
		return c.reject(ctx, OpDecrypt, err)
	}

	if content, ok := c.contents[req.ID]; ok {
		return fn.Ok[CoordinatorResponse](DecryptMessageResponse{
			Cached: fn.Some(content),
		})
	}

	fsm, ok := c.decrypting[req.ID]
	if !ok {
		fsm = NewResourceFSM(Resource{Op: OpDecrypt, ID: req.ID})
	}

	opID, outbox, err := fsm.Begin(ctx, c.cfg.Now())
	if err != nil {
		return c.reject(ctx, OpDecrypt, err)
	}
	c.decrypting[req.ID] = fsm
	c.dispatch(ctx, outbox)

	c.progress(OpDecrypt, fmt.Sprintf("Decrypting message #%d...", req.ID))

	job := decryptJob{
		generation: c.generation,
		opID:       opID,
		id:         req.ID,
		session:    sess,
		contract:   c.contract,
	}
	if c.pool != nil {
		// Workers reply into our mailbox, so a full pool must never
		// block Receive.
		go c.pool.Tell(c.ctx, job)
	} else {
		c.launch(func(ctx context.Context) CoordinatorRequest {
			return c.runner.decrypt(ctx, job)
		})
	}

	return fn.Ok[CoordinatorResponse](DecryptMessageResponse{OpID: opID})
}

func (c *Coordinator) handleDecryptCompleted(ctx context.Context,
	m decryptCompleted) {

	if !c.current(ctx, OpDecrypt, m.generation) {
		return
	}

	fsm, ok := c.decrypting[m.id]
	if !ok {
		log.WarnS(ctx, "Dropping decrypt completion", ErrStaleCompletion,
			"message_id", m.id)
		return
	}

	outbox, err := fsm.Complete(ctx, m.opID, c.cfg.Now(), m.err)
	if err != nil {
		log.WarnS(ctx, "Dropping decrypt completion", err,
			"message_id", m.id)
		return
	}
	delete(c.decrypting, m.id)
	c.dispatch(ctx, outbox)

	if m.err != nil {
		c.fail(OpDecrypt, m.err)
		return
	}

	c.contents[m.id] = DecryptedContent{
		MessageID:   m.id,
		ClearText:   m.clearText,
		DecryptedAt: c.cfg.Now(),
	}
	c.succeed(OpDecrypt, fmt.Sprintf("Message #%d decrypted", m.id))
}

// handleWalletEvent is the single place session state is reset.
func (c *Coordinator) handleWalletEvent(ctx context.Context, ev WalletEvent) {
	c.reset(ctx)

	switch e := ev.(type) {
	case Connected:
		c.startSession(ctx, e.Session, "Wallet connected")

	case AccountChanged:
		c.startSession(ctx, e.Session, "Account changed")

	case ChainChanged:
		c.startSession(ctx, e.Session, "Network changed")

	case Disconnected:
		c.progress(OpDeploymentCheck, "Wallet disconnected")
	}

	log.InfoS(ctx, "Session reset", "event", ev.MessageType(),
		"generation", c.generation)
}

func (c *Coordinator) startSession(ctx context.Context, sess Session,
	reason string) {

	c.session = fn.Some(sess)

	if !c.cfg.Encryption.Supports(sess.ChainID) {
		c.encryptionErr = fmt.Errorf("%w: no engine configured for "+
			"chain %d", ErrEncryptionUnavailable, sess.ChainID)
		log.WarnS(ctx, "Encryption not available", c.encryptionErr,
			"chain_id", sess.ChainID)
	}

	contract, ok := c.cfg.Deployments[sess.ChainID]
	if !ok {
		c.deployment = DeploymentNotDeployed
		c.fail(OpDeploymentCheck, fmt.Errorf("%w: no address "+
			"configured for chain %d", ErrContractNotDeployed,
			sess.ChainID))

		return
	}

	c.contract = contract
	c.deployment = DeploymentChecking
	c.progress(OpDeploymentCheck, fmt.Sprintf("%s: checking ZaMail "+
		"deployment on chain %d...", reason, sess.ChainID))

	generation := c.generation
	c.launch(func(ctx context.Context) CoordinatorRequest {
		return c.runner.checkDeployment(ctx, generation, contract)
	})

	log.DebugS(ctx, "Session started", "session", sess.String(),
		"contract", contract.Hex())
}

func (c *Coordinator) handleDeploymentChecked(ctx context.Context,
	m deploymentChecked) {

	if !c.current(ctx, OpDeploymentCheck, m.generation) {
		return
	}

	switch {
	case m.err != nil:
		c.deployment = DeploymentUnknown
		c.fail(OpDeploymentCheck, m.err)

	case !m.deployed:
		c.deployment = DeploymentNotDeployed
		c.fail(OpDeploymentCheck, fmt.Errorf("%w: no code at %s",
			ErrContractNotDeployed, m.contract.Hex()))

	default:
		c.deployment = DeploymentDeployed
		c.succeed(OpDeploymentCheck, fmt.Sprintf("ZaMail contract "+
			"found at %s", ShortAddress(m.contract)))

		if c.cfg.RefreshOnConnect {
			if _, err := c.startRefresh(ctx, true); err != nil {
				log.DebugS(ctx, "Skipping initial refresh",
					"reason", err.Error())
			}
		}
	}
}

// reset abandons every operation and forgets everything learned for the
// previous session.
func (c *Coordinator) reset(ctx context.Context) {
	c.generation++

	c.dispatch(ctx, c.send.Reset(ctx))
	c.dispatch(ctx, c.refresh.Reset(ctx))
	for _, fsm := range c.decrypting {
		c.dispatch(ctx, fsm.Reset(ctx))
	}

	c.decrypting = make(map[MessageID]*ResourceFSM)
	c.contents = make(map[MessageID]DecryptedContent)
	c.sent = nil
	c.received = nil
	c.session = fn.None[Session]()
	c.contract = common.Address{}
	c.deployment = DeploymentUnknown
	c.encryptionErr = nil
	c.last = LastAction{}
}

// ready is the readiness test shared by every intent.
func (c *Coordinator) ready() (Session, error) {
	if c.session.IsNone() {
		return Session{}, ErrNotConnected
	}

	switch c.deployment {
	case DeploymentDeployed:
		return c.session.UnwrapOr(Session{}), nil

	case DeploymentNotDeployed:
		return Session{}, ErrContractNotDeployed

	default:
		return Session{}, ErrDeploymentUnknown
	}
}

// current reports whether a completion belongs to the live session.
func (c *Coordinator) current(ctx context.Context, op Operation,
	generation uint64) bool {

	if generation == c.generation {
		return true
	}

	log.DebugS(ctx, "Ignoring completion from previous session",
		"op", op.String(), "generation", generation,
		"current", c.generation)

	return false
}

// reject refuses an intent. Busy rejections leave the status line alone so
// a repeated click does not hide the running operation's progress.
func (c *Coordinator) reject(ctx context.Context, op Operation,
	err error) fn.Result[CoordinatorResponse] {

	c.cfg.Metrics.reject(op, err)
	if Classify(err) != KindBusy {
		c.fail(op, err)
	}

	log.DebugS(ctx, "Intent rejected", "op", op.String(),
		"reason", err.Error())

	return fn.Err[CoordinatorResponse](err)
}

// launch runs f off the actor goroutine and feeds its result back.
func (c *Coordinator) launch(f func(context.Context) CoordinatorRequest) {
	go func() {
		c.self.Tell(c.ctx, f(c.ctx))
	}()
}

func (c *Coordinator) dispatch(ctx context.Context,
	outbox []ResourceOutboxEvent) {

	for _, event := range outbox {
		c.cfg.Metrics.observe(event)

		switch e := event.(type) {
		case OperationStarted:
			log.DebugS(ctx, "Operation started",
				"resource", e.Resource.String(), "op_id", e.OpID)

		case OperationSucceeded:
			log.DebugS(ctx, "Operation succeeded",
				"resource", e.Resource.String(), "op_id", e.OpID,
				"elapsed", e.Elapsed)

		case OperationFailed:
			log.WarnS(ctx, "Operation failed", e.Err,
				"resource", e.Resource.String(), "op_id", e.OpID,
				"elapsed", e.Elapsed)

		case OperationAbandoned:
			log.InfoS(ctx, "Operation abandoned",
				"resource", e.Resource.String(), "op_id", e.OpID)
		}
	}
}

func (c *Coordinator) progress(op Operation, text string) {
	c.last = LastAction{Op: op, Message: text, At: c.cfg.Now()}
}

func (c *Coordinator) succeed(op Operation, text string) {
	if op == OpSend || op == OpDecrypt {
		c.encryptionErr = nil
	}
	c.progress(op, text)
}

func (c *Coordinator) fail(op Operation, err error) {
	if errors.Is(err, ErrEncryptionUnavailable) && c.session.IsSome() {
		c.encryptionErr = err
	}

	c.last = LastAction{
		Op:      op,
		Kind:    Classify(err),
		Message: FailureMessage(op, err),
		At:      c.cfg.Now(),
	}
}

func (c *Coordinator) publish() {
	c.hub.WhenSome(func(hub actor.TellOnlyRef[HubRequest]) {
		hub.Tell(c.ctx, PublishMsg{Snapshot: c.snapshot()})
	})
}

func (c *Coordinator) snapshot() Snapshot {
	s := Snapshot{
		Contract:   c.contract,
		Deployment: c.deployment,
		Sending:    c.send.InFlight(),
		Refreshing: c.refresh.InFlight(),
		Sent:       slices.Clone(c.sent),
		Received:   slices.Clone(c.received),
		Contents:   maps.Clone(c.contents),
		LastAction: c.last,
		Generation: c.generation,
	}

	c.session.WhenSome(func(sess Session) {
		s.Connected = true
		s.Address = sess.Address
		s.ChainID = sess.ChainID
		s.EncryptionReady = c.encryptionErr == nil
		if c.encryptionErr != nil {
			s.EncryptionError = c.encryptionErr.Error()
		}
	})

	s.Decrypting = slices.Sorted(maps.Keys(c.decrypting))

	return s
}

// parseSend validates a send intent.
func parseSend(req SendMessageRequest) (common.Address, uint64, error) {
	recipient := strings.TrimSpace(req.Recipient)
	if !common.IsHexAddress(recipient) {
		return common.Address{}, 0, validationError("recipient %q is "+
			"not an address", req.Recipient)
	}

	to := common.HexToAddress(recipient)
	if to == (common.Address{}) {
		return common.Address{}, 0, validationError("recipient is " +
			"the zero address")
	}

	value, err := EncodeText(req.Text)
	if err != nil {
		return common.Address{}, 0, err
	}

	return to, value, nil
}

// ShortAddress renders addr as 0x1234...abcd.
func ShortAddress(addr common.Address) string {
	hex := addr.Hex()
	return hex[:6] + "..." + hex[len(hex)-4:]
}

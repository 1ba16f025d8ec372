package actor

import (
	"context"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// defaultCleanupTimeout bounds Stoppable.OnStop when the config leaves it
// unset.
const defaultCleanupTimeout = 5 * time.Second

// Config describes an actor to be created with New.
type Config[M Message, R any] struct {
	// ID names the actor in logs.
	ID string

	// Behavior handles every message.
	Behavior ActorBehavior[M, R]

	// MailboxSize is the mailbox buffer. Values below one become one.
	MailboxSize int

	// OnUndelivered, if set, sees every message that was queued but never
	// processed because the actor stopped.
	OnUndelivered func(M)

	// Wg, if set, tracks the lifetime of the processing goroutine.
	Wg *sync.WaitGroup

	// CleanupTimeout bounds the Stoppable hook.
	CleanupTimeout fn.Option[time.Duration]
}

// envelope carries a message plus, for asks, the promise to complete and the
// caller's context.
type envelope[M Message, R any] struct {
	message   M
	promise   Promise[R]
	callerCtx context.Context
}

// Actor runs a behavior on a dedicated goroutine, feeding it one mailbox
// message at a time.
type Actor[M Message, R any] struct {
	id             string
	behavior       ActorBehavior[M, R]
	mailbox        *ChannelMailbox[M, R]
	onUndelivered  func(M)
	wg             *sync.WaitGroup
	cleanupTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}

	ref *ref[M, R]
}

// New creates an actor. Call Start to begin processing.
func New[M Message, R any](cfg Config[M, R]) *Actor[M, R] {
	ctx, cancel := context.WithCancel(context.Background())

	a := &Actor[M, R]{
		id:            cfg.ID,
		behavior:      cfg.Behavior,
		mailbox:       NewChannelMailbox[M, R](ctx, cfg.MailboxSize),
		onUndelivered: cfg.OnUndelivered,
		wg:            cfg.Wg,
		cleanupTimeout: cfg.CleanupTimeout.UnwrapOr(
			defaultCleanupTimeout,
		),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	a.ref = &ref[M, R]{actor: a}

	return a
}

// Spawn creates and starts an actor in one step.
func Spawn[M Message, R any](cfg Config[M, R]) *Actor[M, R] {
	a := New(cfg)
	a.Start()

	return a
}

// Start launches the processing goroutine. Later calls are no-ops.
func (a *Actor[M, R]) Start() {
	a.startOnce.Do(func() {
		log.DebugS(a.ctx, "Starting actor", "actor_id", a.id)

		if a.wg != nil {
			a.wg.Add(1)
		}
		go a.run()
	})
}

// Stop cancels the actor. Queued messages are handed to OnUndelivered and
// pending asks fail with ErrActorTerminated.
func (a *Actor[M, R]) Stop() {
	a.stopOnce.Do(a.cancel)
}

// Done is closed once the processing goroutine has exited.
func (a *Actor[M, R]) Done() <-chan struct{} {
	return a.done
}

// Ref returns the actor's Tell/Ask handle.
func (a *Actor[M, R]) Ref() ActorRef[M, R] {
	return a.ref
}

// TellRef returns a handle restricted to Tell.
func (a *Actor[M, R]) TellRef() TellOnlyRef[M] {
	return a.ref
}

func (a *Actor[M, R]) run() {
	defer close(a.done)
	if a.wg != nil {
		defer a.wg.Done()
	}

	for env := range a.mailbox.Receive(a.ctx) {
		a.handle(env)
	}

	a.mailbox.Close()

	var dropped int
	for env := range a.mailbox.Drain() {
		dropped++

		if a.onUndelivered != nil {
			a.onUndelivered(env.message)
		}
		if env.promise != nil {
			env.promise.Complete(fn.Err[R](ErrActorTerminated))
		}
	}

	if stoppable, ok := a.behavior.(Stoppable); ok {
		ctx, cancel := context.WithTimeout(
			context.Background(), a.cleanupTimeout,
		)
		if err := stoppable.OnStop(ctx); err != nil {
			log.WarnS(ctx, "Actor cleanup failed", err,
				"actor_id", a.id)
		}
		cancel()
	}

	log.DebugS(a.ctx, "Actor terminated", "actor_id", a.id,
		"dropped_messages", dropped)
}

// handle runs the behavior for a single envelope. Asks see a context that
// ends with either the actor or the caller; tells only follow the actor.
func (a *Actor[M, R]) handle(env envelope[M, R]) {
	ctx := a.ctx
	if env.promise != nil && env.callerCtx != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(a.ctx)
		stop := context.AfterFunc(env.callerCtx, cancel)
		defer func() {
			stop()
			cancel()
		}()
	}

	log.TraceS(ctx, "Actor processing message", "actor_id", a.id,
		"msg_type", env.message.MessageType(),
		"is_ask", env.promise != nil)

	result := a.behavior.Receive(ctx, env.message)
	if env.promise != nil {
		env.promise.Complete(result)
	}
}

// ref is the ActorRef handed out by Actor.Ref.
type ref[M Message, R any] struct {
	actor *Actor[M, R]
}

// ID returns the actor's id.
func (r *ref[M, R]) ID() string {
	return r.actor.id
}

// Tell enqueues msg without waiting for a reply.
func (r *ref[M, R]) Tell(ctx context.Context, msg M) {
	ok := r.actor.mailbox.Send(ctx, envelope[M, R]{
		message:   msg,
		callerCtx: ctx,
	})
	if !ok {
		log.DebugS(ctx, "Tell dropped", "actor_id", r.actor.id,
			"msg_type", msg.MessageType())
	}
}

// Ask enqueues msg and returns a Future for the reply.
func (r *ref[M, R]) Ask(ctx context.Context, msg M) Future[R] {
	p := NewPromise[R]()
	if r.actor.ctx.Err() != nil {
		p.Complete(fn.Err[R](ErrActorTerminated))
		return p.Future()
	}

	ok := r.actor.mailbox.Send(ctx, envelope[M, R]{
		message:   msg,
		promise:   p,
		callerCtx: ctx,
	})
	if !ok {
		err := ErrActorTerminated
		if r.actor.ctx.Err() == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		p.Complete(fn.Err[R](err))
	}

	return p.Future()
}

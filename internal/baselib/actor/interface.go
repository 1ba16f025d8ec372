package actor

import (
	"context"
	"errors"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// ErrActorTerminated is returned for asks that reach an actor after (or
// while) it shuts down.
var ErrActorTerminated = errors.New("actor terminated")

// BaseMessage is embedded by message types declared outside this package so
// they satisfy the sealed Message interface.
type BaseMessage struct{}

func (BaseMessage) messageMarker() {}

// Message is the sealed interface for everything an actor can receive.
type Message interface {
	messageMarker()

	// MessageType names the message for logging.
	MessageType() string
}

// Future is the read side of an asynchronous result.
type Future[T any] interface {
	// Await blocks until the result is ready or ctx is done.
	Await(ctx context.Context) fn.Result[T]

	// OnComplete runs cb once the result is ready, or with ctx's error
	// if ctx finishes first.
	OnComplete(ctx context.Context, cb func(fn.Result[T]))
}

// Promise is the write side of a Future.
type Promise[T any] interface {
	// Future returns the associated Future.
	Future() Future[T]

	// Complete sets the result. Only the first call has any effect, and
	// it reports true.
	Complete(result fn.Result[T]) bool
}

// TellOnlyRef sends fire-and-forget messages to an actor.
type TellOnlyRef[M Message] interface {
	// ID identifies the actor.
	ID() string

	// Tell enqueues msg. The message is dropped if ctx ends before the
	// mailbox accepts it or if the actor has stopped.
	Tell(ctx context.Context, msg M)
}

// ActorRef adds request/response to TellOnlyRef.
type ActorRef[M Message, R any] interface {
	TellOnlyRef[M]

	// Ask enqueues msg and returns a Future for the reply.
	Ask(ctx context.Context, msg M) Future[R]
}

// ActorBehavior is the message handler run on the actor goroutine. Calls
// never overlap, so implementations may keep unsynchronized state.
type ActorBehavior[M Message, R any] interface {
	// Receive handles one message. For asks, ctx is also cancelled when
	// the caller gives up.
	Receive(ctx context.Context, msg M) fn.Result[R]
}

// Stoppable behaviors get a chance to release resources once the actor's
// loop exits.
type Stoppable interface {
	OnStop(ctx context.Context) error
}

// FunctionBehavior adapts a plain function to ActorBehavior.
type FunctionBehavior[M Message, R any] func(ctx context.Context,
	msg M) fn.Result[R]

// NewFunctionBehavior wraps f as an ActorBehavior.
func NewFunctionBehavior[M Message, R any](
	f func(ctx context.Context, msg M) fn.Result[R]) FunctionBehavior[M, R] {

	return FunctionBehavior[M, R](f)
}

// Receive calls the wrapped function.
func (f FunctionBehavior[M, R]) Receive(ctx context.Context,
	msg M) fn.Result[R] {

	return f(ctx, msg)
}

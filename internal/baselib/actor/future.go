package actor

import (
	"context"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// promise is the channel backed Promise and Future implementation.
type promise[T any] struct {
	once   sync.Once
	done   chan struct{}
	result fn.Result[T]
}

// NewPromise returns an uncompleted promise.
func NewPromise[T any]() Promise[T] {
	return &promise[T]{done: make(chan struct{})}
}

// Future returns the promise itself viewed as a Future.
func (p *promise[T]) Future() Future[T] {
	return p
}

// Complete stores result and wakes every waiter.
func (p *promise[T]) Complete(result fn.Result[T]) bool {
	completed := false
	p.once.Do(func() {
		p.result = result
		close(p.done)
		completed = true
	})

	return completed
}

// Await blocks for the result or ctx.
func (p *promise[T]) Await(ctx context.Context) fn.Result[T] {
	select {
	case <-p.done:
		return p.result

	case <-ctx.Done():
		return fn.Err[T](ctx.Err())
	}
}

// OnComplete runs cb in its own goroutine once the result is known.
func (p *promise[T]) OnComplete(ctx context.Context,
	cb func(fn.Result[T])) {

	go func() {
		cb(p.Await(ctx))
	}()
}

// CompletedFuture returns a Future that already holds result.
func CompletedFuture[T any](result fn.Result[T]) Future[T] {
	p := NewPromise[T]()
	p.Complete(result)

	return p.Future()
}

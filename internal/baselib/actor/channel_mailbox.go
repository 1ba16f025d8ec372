package actor

import (
	"context"
	"iter"
	"sync"
)

// ChannelMailbox is a bounded FIFO mailbox backed by a channel.
type ChannelMailbox[M Message, R any] struct {
	ch       chan envelope[M, R]
	actorCtx context.Context

	// mu guards closed and keeps senders off the channel while Close
	// runs.
	mu     sync.RWMutex
	closed bool
}

// NewChannelMailbox creates a mailbox bound to the actor's lifetime.
func NewChannelMailbox[M Message, R any](actorCtx context.Context,
	capacity int) *ChannelMailbox[M, R] {

	if capacity <= 0 {
		capacity = 1
	}

	return &ChannelMailbox[M, R]{
		ch:       make(chan envelope[M, R], capacity),
		actorCtx: actorCtx,
	}
}

// Send blocks until env is queued, ctx ends, or the actor stops.
func (m *ChannelMailbox[M, R]) Send(ctx context.Context,
	env envelope[M, R]) bool {

	if ctx.Err() != nil || m.actorCtx.Err() != nil {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false
	}

	select {
	case m.ch <- env:
		return true

	case <-ctx.Done():
		return false

	case <-m.actorCtx.Done():
		return false
	}
}

// TrySend queues env only if there is room right now.
func (m *ChannelMailbox[M, R]) TrySend(env envelope[M, R]) bool {
	if m.actorCtx.Err() != nil {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false
	}

	select {
	case m.ch <- env:
		return true
	default:
		return false
	}
}

// Receive yields envelopes until ctx ends or the mailbox is closed.
func (m *ChannelMailbox[M, R]) Receive(
	ctx context.Context) iter.Seq[envelope[M, R]] {

	return func(yield func(envelope[M, R]) bool) {
		for ctx.Err() == nil {
			select {
			case env, ok := <-m.ch:
				if !ok || !yield(env) {
					return
				}

			case <-ctx.Done():
				return
			}
		}
	}
}

// Close rejects further sends. It is idempotent.
func (m *ChannelMailbox[M, R]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	close(m.ch)
}

// IsClosed reports whether Close has run.
func (m *ChannelMailbox[M, R]) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.closed
}

// Drain yields whatever is still queued after Close.
func (m *ChannelMailbox[M, R]) Drain() iter.Seq[envelope[M, R]] {
	return func(yield func(envelope[M, R]) bool) {
		if !m.IsClosed() {
			return
		}

		for env := range m.ch {
			if !yield(env) {
				return
			}
		}
	}
}

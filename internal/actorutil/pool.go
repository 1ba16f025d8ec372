package actorutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/zamail/internal/baselib/actor"
)

// PoolConfig describes a fixed set of identical worker actors.
type PoolConfig[M actor.Message, R any] struct {
	// ID prefixes the worker ids.
	ID string

	// Size is the number of workers. Values below one become one.
	Size int

	// Factory builds the behavior of worker idx.
	Factory func(idx int) actor.ActorBehavior[M, R]

	// MailboxSize is the per-worker mailbox buffer.
	MailboxSize int
}

// Pool spreads messages over its workers, picking the one with the fewest
// messages queued or running. Each worker handles one message at a time, so
// Size bounds how many messages are processed concurrently.
type Pool[M actor.Message, R any] struct {
	id      string
	workers []*poolWorker[M, R]
	wg      sync.WaitGroup
}

type poolWorker[M actor.Message, R any] struct {
	actor *actor.Actor[M, R]
	load  atomic.Int64
}

// NewPool creates and starts the workers.
func NewPool[M actor.Message, R any](cfg PoolConfig[M, R]) *Pool[M, R] {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 64
	}

	p := &Pool[M, R]{
		id:      cfg.ID,
		workers: make([]*poolWorker[M, R], cfg.Size),
	}

	for i := range p.workers {
		w := &poolWorker[M, R]{}
		inner := cfg.Factory(i)

		w.actor = actor.New(actor.Config[M, R]{
			ID: fmt.Sprintf("%s-%d", cfg.ID, i),
			Behavior: actor.NewFunctionBehavior(
				func(ctx context.Context, msg M) fn.Result[R] {
					defer w.load.Add(-1)
					return inner.Receive(ctx, msg)
				},
			),
			MailboxSize: cfg.MailboxSize,
			OnUndelivered: func(M) {
				w.load.Add(-1)
			},
			Wg: &p.wg,
		})
		w.actor.Start()

		p.workers[i] = w
	}

	return p
}

// ID returns the pool id.
func (p *Pool[M, R]) ID() string {
	return p.id
}

// Size returns the number of workers.
func (p *Pool[M, R]) Size() int {
	return len(p.workers)
}

// pick reserves a slot on the least loaded worker.
func (p *Pool[M, R]) pick() *poolWorker[M, R] {
	best := p.workers[0]
	for _, w := range p.workers[1:] {
		if w.load.Load() < best.load.Load() {
			best = w
		}
	}
	best.load.Add(1)

	return best
}

// Tell hands msg to the least loaded worker.
func (p *Pool[M, R]) Tell(ctx context.Context, msg M) {
	p.pick().actor.Ref().Tell(ctx, msg)
}

// Ask hands msg to the least loaded worker and returns its reply.
func (p *Pool[M, R]) Ask(ctx context.Context, msg M) actor.Future[R] {
	return p.pick().actor.Ref().Ask(ctx, msg)
}

// Stop stops every worker and waits for them to exit.
func (p *Pool[M, R]) Stop() {
	for _, w := range p.workers {
		w.actor.Stop()
	}
	p.wg.Wait()
}

var _ actor.ActorRef[actor.Message, any] = (*Pool[actor.Message, any])(nil)

package actorutil

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/zamail/internal/baselib/actor"
	"github.com/stretchr/testify/require"
)

type jobMsg struct {
	actor.BaseMessage
	n int
}

func (jobMsg) MessageType() string { return "jobMsg" }

// TestPoolBoundsConcurrency checks that no more than Size messages are ever
// processed at once.
func TestPoolBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var running, peak atomic.Int64
	pool := NewPool(PoolConfig[jobMsg, int]{
		ID:   "workers",
		Size: 2,
		Factory: func(int) actor.ActorBehavior[jobMsg, int] {
			return actor.NewFunctionBehavior(
				func(_ context.Context, m jobMsg) fn.Result[int] {
					cur := running.Add(1)
					for {
						old := peak.Load()
						if cur <= old ||
							peak.CompareAndSwap(old, cur) {

							break
						}
					}
					time.Sleep(10 * time.Millisecond)
					running.Add(-1)

					return fn.Ok(m.n * 2)
				},
			)
		},
	})
	defer pool.Stop()

	ctx := context.Background()
	futures := make([]actor.Future[int], 8)
	for i := range futures {
		futures[i] = pool.Ask(ctx, jobMsg{n: i})
	}
	for i, f := range futures {
		v, err := f.Await(ctx).Unpack()
		require.NoError(t, err)
		require.Equal(t, i*2, v)
	}

	require.LessOrEqual(t, peak.Load(), int64(2))
	require.Equal(t, 2, pool.Size())
}

// TestAskHelpers checks AskAwait, AskAwaitTyped and AskAll.
func TestAskHelpers(t *testing.T) {
	t.Parallel()

	a := actor.Spawn(actor.Config[jobMsg, any]{
		ID: "echo",
		Behavior: actor.NewFunctionBehavior(
			func(_ context.Context, m jobMsg) fn.Result[any] {
				if m.n < 0 {
					return fn.Err[any](context.Canceled)
				}
				return fn.Ok[any](m.n)
			},
		),
	})
	defer a.Stop()

	ctx := context.Background()

	v, err := AskAwaitTyped[jobMsg, any, int](ctx, a.Ref(), jobMsg{n: 4})
	require.NoError(t, err)
	require.Equal(t, 4, v)

	_, err = AskAwaitTyped[jobMsg, any, string](ctx, a.Ref(), jobMsg{n: 4})
	require.ErrorContains(t, err, "unexpected response type")

	results := AskAll(ctx, a.Ref(), []jobMsg{{n: 1}, {n: -1}})
	require.Len(t, results, 2)
	require.ErrorIs(t, FirstError(results), context.Canceled)

	_, err = AskAwait(ctx, a.Ref(), jobMsg{n: 2})
	require.NoError(t, err)
}

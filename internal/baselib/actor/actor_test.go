package actor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

type counterMsg struct {
	BaseMessage
	delta int
}

func (counterMsg) MessageType() string { return "counterMsg" }

// counterBehavior keeps unsynchronized state, relying on the actor to
// serialize Receive calls.
type counterBehavior struct {
	total   int
	stopped atomic.Bool
}

func (c *counterBehavior) Receive(_ context.Context,
	msg counterMsg) fn.Result[int] {

	if msg.delta < 0 {
		return fn.Err[int](errors.New("negative delta"))
	}
	c.total += msg.delta

	return fn.Ok(c.total)
}

func (c *counterBehavior) OnStop(context.Context) error {
	c.stopped.Store(true)
	return nil
}

// TestActorSerializesMessages checks that concurrent tells are applied one
// at a time and that a following ask observes all of them.
func TestActorSerializesMessages(t *testing.T) {
	t.Parallel()

	behavior := &counterBehavior{}
	a := Spawn(Config[counterMsg, int]{
		ID:          "counter",
		Behavior:    behavior,
		MailboxSize: 16,
	})
	defer a.Stop()

	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Ref().Tell(ctx, counterMsg{delta: 1})
		}()
	}
	wg.Wait()

	total, err := a.Ref().Ask(ctx, counterMsg{delta: 0}).Await(ctx).Unpack()
	require.NoError(t, err)
	require.Equal(t, 50, total)

	_, err = a.Ref().Ask(ctx, counterMsg{delta: -1}).Await(ctx).Unpack()
	require.ErrorContains(t, err, "negative delta")
}

// TestActorStop checks that asks after Stop fail and that the Stoppable hook
// runs.
func TestActorStop(t *testing.T) {
	t.Parallel()

	behavior := &counterBehavior{}
	a := Spawn(Config[counterMsg, int]{
		ID:       "counter",
		Behavior: behavior,
	})

	a.Stop()

	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("actor did not stop")
	}
	require.True(t, behavior.stopped.Load())

	ctx := context.Background()
	_, err := a.Ref().Ask(ctx, counterMsg{delta: 1}).Await(ctx).Unpack()
	require.ErrorIs(t, err, ErrActorTerminated)
}

// TestActorAskCallerCancel checks that a blocked ask honours the caller's
// context.
func TestActorAskCallerCancel(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	a := Spawn(Config[counterMsg, int]{
		ID: "blocking",
		Behavior: NewFunctionBehavior(
			func(ctx context.Context, _ counterMsg) fn.Result[int] {
				select {
				case <-release:
					return fn.Ok(1)
				case <-ctx.Done():
					return fn.Err[int](ctx.Err())
				}
			},
		),
	})
	defer a.Stop()
	defer close(release)

	ctx, cancel := context.WithTimeout(
		context.Background(), 50*time.Millisecond,
	)
	defer cancel()

	_, err := a.Ref().Ask(ctx, counterMsg{}).Await(ctx).Unpack()
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestMapInputRef checks message conversion on the way to the target.
func TestMapInputRef(t *testing.T) {
	t.Parallel()

	behavior := &counterBehavior{}
	a := Spawn(Config[counterMsg, int]{
		ID:       "counter",
		Behavior: behavior,
	})
	defer a.Stop()

	mapped := NewMapInputRef[counterMsg, counterMsg](
		a.TellRef(), func(m counterMsg) counterMsg {
			return counterMsg{delta: m.delta * 2}
		},
	)

	ctx := context.Background()
	mapped.Tell(ctx, counterMsg{delta: 3})

	total, err := a.Ref().Ask(ctx, counterMsg{}).Await(ctx).Unpack()
	require.NoError(t, err)
	require.Equal(t, 6, total)
	require.Equal(t, "map->counter", mapped.ID())
}

// TestPromiseCompletesOnce checks first-writer-wins completion.
func TestPromiseCompletesOnce(t *testing.T) {
	t.Parallel()

	p := NewPromise[string]()
	require.True(t, p.Complete(fn.Ok("first")))
	require.False(t, p.Complete(fn.Ok("second")))

	got, err := p.Future().Await(context.Background()).Unpack()
	require.NoError(t, err)
	require.Equal(t, "first", got)

	done := make(chan string, 1)
	p.Future().OnComplete(context.Background(), func(r fn.Result[string]) {
		v, _ := r.Unpack()
		done <- v
	})
	require.Equal(t, "first", <-done)
}

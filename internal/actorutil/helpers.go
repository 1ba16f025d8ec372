package actorutil

import (
	"context"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/zamail/internal/baselib/actor"
)

// AskAwait sends msg to ref and blocks for the reply.
func AskAwait[M actor.Message, R any](ctx context.Context,
	ref actor.ActorRef[M, R], msg M) (R, error) {

	return ref.Ask(ctx, msg).Await(ctx).Unpack()
}

// AskAwaitTyped is AskAwait for actors whose replies are a union type. It
// narrows the reply to T.
func AskAwaitTyped[M actor.Message, R any, T any](ctx context.Context,
	ref actor.ActorRef[M, R], msg M) (T, error) {

	var zero T

	resp, err := AskAwait(ctx, ref, msg)
	if err != nil {
		return zero, err
	}

	typed, ok := any(resp).(T)
	if !ok {
		return zero, fmt.Errorf("unexpected response type: got %T, "+
			"want %T", resp, zero)
	}

	return typed, nil
}

// AskAll sends every message to ref before awaiting any reply, so the actor
// sees them back to back. Results line up with msgs.
func AskAll[M actor.Message, R any](ctx context.Context,
	ref actor.ActorRef[M, R], msgs []M) []fn.Result[R] {

	futures := make([]actor.Future[R], len(msgs))
	for i, msg := range msgs {
		futures[i] = ref.Ask(ctx, msg)
	}

	results := make([]fn.Result[R], len(futures))
	for i, f := range futures {
		results[i] = f.Await(ctx)
	}

	return results
}

// FirstError returns the first failed result's error.
func FirstError[R any](results []fn.Result[R]) error {
	for _, r := range results {
		if _, err := r.Unpack(); err != nil {
			return err
		}
	}

	return nil
}

package mailbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestNotificationHubLatestWins checks that a full subscriber keeps the most
// recent snapshot and that late subscribers get the last one published.
func TestNotificationHubLatestWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	hub := NewNotificationHub()

	res := hub.Receive(ctx, SubscribeMsg{Buffer: 1})
	resp, err := res.Unpack()
	require.NoError(t, err)
	sub := resp.(SubscribeResponse)

	for gen := uint64(1); gen <= 3; gen++ {
		hub.Receive(ctx, PublishMsg{Snapshot: Snapshot{Generation: gen}})
	}

	got := <-sub.Updates
	require.Equal(t, uint64(3), got.Generation)

	resp, err = hub.Receive(ctx, SubscribeMsg{}).Unpack()
	require.NoError(t, err)
	late := resp.(SubscribeResponse)
	require.Equal(t, uint64(3), (<-late.Updates).Generation)
	require.Equal(t, 2, hub.SubscriberCount())

	resp, err = hub.Receive(ctx, UnsubscribeMsg{ID: sub.ID}).Unpack()
	require.NoError(t, err)
	require.True(t, resp.(UnsubscribeResponse).Found)

	_, open := <-sub.Updates
	require.False(t, open)

	require.NoError(t, hub.OnStop(ctx))
	require.Zero(t, hub.SubscriberCount())
}

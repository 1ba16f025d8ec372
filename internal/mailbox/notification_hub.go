package mailbox

import (
	"context"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/zamail/internal/baselib/actor"
)

// NotificationHub is the actor fanning coordinator snapshots out to views.
// New subscribers immediately receive the last published snapshot.
type NotificationHub struct {
	subscribers map[uuid.UUID]chan Snapshot
	last        fn.Option[Snapshot]
}

// NewNotificationHub creates an empty hub.
func NewNotificationHub() *NotificationHub {
	return &NotificationHub{
		subscribers: make(map[uuid.UUID]chan Snapshot),
	}
}

// Receive implements actor.ActorBehavior.
func (n *NotificationHub) Receive(_ context.Context,
	msg HubRequest) fn.Result[HubResponse] {

	switch m := msg.(type) {
	case SubscribeMsg:
		return fn.Ok[HubResponse](n.handleSubscribe(m))

	case UnsubscribeMsg:
		return fn.Ok[HubResponse](n.handleUnsubscribe(m))

	case PublishMsg:
		return fn.Ok[HubResponse](n.handlePublish(m))

	default:
		return fn.Err[HubResponse](ErrUnknownRequestType)
	}
}

// OnStop closes every subscription.
func (n *NotificationHub) OnStop(context.Context) error {
	for id, ch := range n.subscribers {
		close(ch)
		delete(n.subscribers, id)
	}

	return nil
}

func (n *NotificationHub) handleSubscribe(msg SubscribeMsg) SubscribeResponse {
	buffer := max(msg.Buffer, 1)

	id := uuid.New()
	ch := make(chan Snapshot, buffer)
	n.subscribers[id] = ch

	n.last.WhenSome(func(s Snapshot) {
		deliverLatest(ch, s)
	})

	log.DebugS(context.Background(), "View subscribed",
		"subscriber", id, "total", len(n.subscribers))

	return SubscribeResponse{ID: id, Updates: ch}
}

func (n *NotificationHub) handleUnsubscribe(
	msg UnsubscribeMsg) UnsubscribeResponse {

	ch, ok := n.subscribers[msg.ID]
	if !ok {
		return UnsubscribeResponse{}
	}

	close(ch)
	delete(n.subscribers, msg.ID)

	return UnsubscribeResponse{Found: true}
}

func (n *NotificationHub) handlePublish(msg PublishMsg) PublishResponse {
	n.last = fn.Some(msg.Snapshot)

	for _, ch := range n.subscribers {
		deliverLatest(ch, msg.Snapshot)
	}

	return PublishResponse{Delivered: len(n.subscribers)}
}

// SubscriberCount is exposed for tests.
func (n *NotificationHub) SubscriberCount() int {
	return len(n.subscribers)
}

// deliverLatest never blocks. When ch is full the oldest queued snapshot is
// discarded to make room for s.
func deliverLatest(ch chan Snapshot, s Snapshot) {
	for {
		select {
		case ch <- s:
			return
		default:
		}

		select {
		case <-ch:
		default:
		}
	}
}

// StartNotificationHub spawns the hub actor.
func StartNotificationHub() *actor.Actor[HubRequest, HubResponse] {
	return actor.Spawn(actor.Config[HubRequest, HubResponse]{
		ID:          "notification-hub",
		Behavior:    NewNotificationHub(),
		MailboxSize: 64,
	})
}

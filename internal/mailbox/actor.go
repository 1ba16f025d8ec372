package mailbox

import (
	"context"
	"errors"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/zamail/internal/actorutil"
	"github.com/roasbeef/zamail/internal/baselib/actor"
)

// CoordinatorActor runs a Coordinator together with its notification hub and
// optional decrypt worker pool.
type CoordinatorActor struct {
	coordinator *actor.Actor[CoordinatorRequest, CoordinatorResponse]
	hub         *actor.Actor[HubRequest, HubResponse]
}

// StartCoordinator builds and starts the coordinator actor.
func StartCoordinator(cfg CoordinatorConfig) *CoordinatorActor {
	mailboxSize := cfg.MailboxSize
	if mailboxSize <= 0 {
		mailboxSize = 128
	}

	hub := StartNotificationHub()

	c := NewCoordinator(cfg)
	c.hub = fn.Some[actor.TellOnlyRef[HubRequest]](hub.TellRef())

	a := actor.New(actor.Config[CoordinatorRequest, CoordinatorResponse]{
		ID:          "mailbox-coordinator",
		Behavior:    c,
		MailboxSize: mailboxSize,
	})
	c.self = a.TellRef()

	if cfg.MaxConcurrentDecrypts > 0 {
		c.pool = actorutil.NewPool(actorutil.PoolConfig[decryptJob, struct{}]{
			ID:          "decrypt-worker",
			Size:        cfg.MaxConcurrentDecrypts,
			MailboxSize: mailboxSize,
			Factory: func(int) actor.ActorBehavior[decryptJob, struct{}] {
				return &decryptWorker{
					runner: c.runner,
					reply:  a.TellRef(),
				}
			},
		})
	}

	a.Start()

	return &CoordinatorActor{coordinator: a, hub: hub}
}

// Ref returns the coordinator's actor reference.
func (ca *CoordinatorActor) Ref() actor.ActorRef[CoordinatorRequest,
	CoordinatorResponse] {

	return ca.coordinator.Ref()
}

// WalletEvents returns the reference wallet sources report events to.
func (ca *CoordinatorActor) WalletEvents() actor.TellOnlyRef[WalletEvent] {
	return walletEventRef(ca.coordinator.TellRef())
}

// Stop stops the coordinator, then the hub, which closes every
// subscription.
func (ca *CoordinatorActor) Stop() {
	ca.coordinator.Stop()
	<-ca.coordinator.Done()

	ca.hub.Stop()
	<-ca.hub.Done()
}

// SendMessage submits a send intent. The returned error is the rejection, if
// any; the outcome of an accepted send arrives via snapshots.
func (ca *CoordinatorActor) SendMessage(ctx context.Context, recipient,
	text string) (SendMessageResponse, error) {

	return actorutil.AskAwaitTyped[CoordinatorRequest, CoordinatorResponse,
		SendMessageResponse](
		ctx, ca.Ref(), SendMessageRequest{
			Recipient: recipient,
			Text:      text,
		},
	)
}

// RefreshMessages submits a refresh intent.
func (ca *CoordinatorActor) RefreshMessages(
	ctx context.Context) (RefreshMessagesResponse, error) {

	return actorutil.AskAwaitTyped[CoordinatorRequest, CoordinatorResponse,
		RefreshMessagesResponse](ctx, ca.Ref(), RefreshMessagesRequest{})
}

// DecryptMessage submits a decrypt intent for id.
func (ca *CoordinatorActor) DecryptMessage(ctx context.Context,
	id MessageID) (DecryptMessageResponse, error) {

	return actorutil.AskAwaitTyped[CoordinatorRequest, CoordinatorResponse,
		DecryptMessageResponse](
		ctx, ca.Ref(), DecryptMessageRequest{ID: id},
	)
}

// DecryptMessages submits a decrypt intent per id, back to back, and returns
// the replies in order.
func (ca *CoordinatorActor) DecryptMessages(ctx context.Context,
	ids []MessageID) []fn.Result[DecryptMessageResponse] {

	msgs := make([]CoordinatorRequest, len(ids))
	for i, id := range ids {
		msgs[i] = DecryptMessageRequest{ID: id}
	}

	replies := actorutil.AskAll(ctx, ca.Ref(), msgs)

	results := make([]fn.Result[DecryptMessageResponse], len(replies))
	for i, reply := range replies {
		resp, err := reply.Unpack()
		if err != nil {
			results[i] = fn.Err[DecryptMessageResponse](err)
			continue
		}

		typed, ok := resp.(DecryptMessageResponse)
		if !ok {
			results[i] = fn.Err[DecryptMessageResponse](
				ErrUnknownRequestType,
			)
			continue
		}
		results[i] = fn.Ok(typed)
	}

	return results
}

// Snapshot returns the current state.
func (ca *CoordinatorActor) Snapshot(ctx context.Context) (Snapshot, error) {
	resp, err := actorutil.AskAwaitTyped[CoordinatorRequest,
		CoordinatorResponse, SnapshotResponse](
		ctx, ca.Ref(), SnapshotRequest{},
	)
	if err != nil {
		return Snapshot{}, err
	}

	return resp.Snapshot, nil
}

// Subscription is a view's feed of snapshots.
type Subscription struct {
	SubscribeResponse

	hub actor.ActorRef[HubRequest, HubResponse]
}

// Close ends the subscription.
func (s *Subscription) Close(ctx context.Context) error {
	_, err := actorutil.AskAwait(ctx, s.hub, UnsubscribeMsg{ID: s.ID})
	return err
}

// Subscribe registers a snapshot feed.
func (ca *CoordinatorActor) Subscribe(ctx context.Context,
	buffer int) (*Subscription, error) {

	resp, err := actorutil.AskAwaitTyped[HubRequest, HubResponse,
		SubscribeResponse](
		ctx, ca.hub.Ref(), SubscribeMsg{Buffer: buffer},
	)
	if err != nil {
		return nil, err
	}

	return &Subscription{SubscribeResponse: resp, hub: ca.hub.Ref()}, nil
}

// ErrSubscriptionClosed is returned by WaitFor when the feed ends first.
var ErrSubscriptionClosed = errors.New("subscription closed")

// WaitFor blocks until a snapshot satisfying cond arrives.
func (s *Subscription) WaitFor(ctx context.Context,
	cond func(Snapshot) bool) (Snapshot, error) {

	for {
		select {
		case snap, ok := <-s.Updates:
			if !ok {
				return Snapshot{}, ErrSubscriptionClosed
			}
			if cond(snap) {
				return snap, nil
			}

		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		}
	}
}

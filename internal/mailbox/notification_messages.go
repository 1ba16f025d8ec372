package mailbox

import (
	"github.com/google/uuid"
	"github.com/roasbeef/zamail/internal/baselib/actor"
)

// HubRequest is the union of notification hub requests.
type HubRequest interface {
	actor.Message
	isHubRequest()
}

// HubResponse is the union of notification hub replies.
type HubResponse interface {
	isHubResponse()
}

func (SubscribeMsg) isHubRequest()   {}
func (UnsubscribeMsg) isHubRequest() {}
func (PublishMsg) isHubRequest()     {}

func (SubscribeResponse) isHubResponse()   {}
func (UnsubscribeResponse) isHubResponse() {}
func (PublishResponse) isHubResponse()     {}

// SubscribeMsg registers a view for snapshot updates.
type SubscribeMsg struct {
	actor.BaseMessage

	// Buffer sizes the delivery channel. Values below one become one.
	Buffer int
}

// MessageType implements actor.Message.
func (SubscribeMsg) MessageType() string { return "SubscribeMsg" }

// SubscribeResponse hands back the subscription.
type SubscribeResponse struct {
	ID uuid.UUID

	// Updates receives snapshots. A slow reader misses intermediate
	// snapshots but always gets the latest one. The channel is closed on
	// unsubscribe.
	Updates <-chan Snapshot
}

// UnsubscribeMsg removes a subscription.
type UnsubscribeMsg struct {
	actor.BaseMessage

	ID uuid.UUID
}

// MessageType implements actor.Message.
func (UnsubscribeMsg) MessageType() string { return "UnsubscribeMsg" }

// UnsubscribeResponse reports whether the subscription existed.
type UnsubscribeResponse struct {
	Found bool
}

// PublishMsg fans a snapshot out to every subscriber.
type PublishMsg struct {
	actor.BaseMessage

	Snapshot Snapshot
}

// MessageType implements actor.Message.
func (PublishMsg) MessageType() string { return "PublishMsg" }

// PublishResponse reports how many subscribers were reached.
type PublishResponse struct {
	Delivered int
}

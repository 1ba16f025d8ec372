package mailbox

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/zamail/internal/baselib/actor"
)

// CoordinatorRequest is the union of messages handled by the coordinator.
type CoordinatorRequest interface {
	actor.Message
	isCoordinatorRequest()
}

// CoordinatorResponse is the union of coordinator replies.
type CoordinatorResponse interface {
	isCoordinatorResponse()
}

func (SendMessageRequest) isCoordinatorRequest()     {}
func (RefreshMessagesRequest) isCoordinatorRequest() {}
func (DecryptMessageRequest) isCoordinatorRequest()  {}
func (SnapshotRequest) isCoordinatorRequest()        {}
func (walletEventMsg) isCoordinatorRequest()         {}
func (deploymentChecked) isCoordinatorRequest()      {}
func (sendCompleted) isCoordinatorRequest()          {}
func (refreshCompleted) isCoordinatorRequest()       {}
func (decryptCompleted) isCoordinatorRequest()       {}

func (SendMessageResponse) isCoordinatorResponse()     {}
func (RefreshMessagesResponse) isCoordinatorResponse() {}
func (DecryptMessageResponse) isCoordinatorResponse()  {}
func (SnapshotResponse) isCoordinatorResponse()        {}
func (ackResponse) isCoordinatorResponse()             {}

// SendMessageRequest asks for Text to be encrypted and mailed to Recipient.
type SendMessageRequest struct {
	actor.BaseMessage

	// Recipient is a hex encoded address.
	Recipient string

	// Text is at most MaxTextLen bytes.
	Text string
}

// MessageType implements actor.Message.
func (SendMessageRequest) MessageType() string { return "SendMessageRequest" }

// SendMessageResponse acknowledges an accepted send. The outcome arrives
// later through snapshots.
type SendMessageResponse struct {
	OpID uuid.UUID
}

// RefreshMessagesRequest asks for the mailbox lists to be reloaded.
type RefreshMessagesRequest struct {
	actor.BaseMessage
}

// MessageType implements actor.Message.
func (RefreshMessagesRequest) MessageType() string {
	return "RefreshMessagesRequest"
}

// RefreshMessagesResponse acknowledges an accepted refresh.
type RefreshMessagesResponse struct {
	OpID uuid.UUID
}

// DecryptMessageRequest asks for message ID to be decrypted.
type DecryptMessageRequest struct {
	actor.BaseMessage

	ID MessageID
}

// MessageType implements actor.Message.
func (DecryptMessageRequest) MessageType() string {
	return "DecryptMessageRequest"
}

// DecryptMessageResponse either acknowledges a started decrypt (OpID set) or
// returns the cached clear text without contacting anyone.
type DecryptMessageResponse struct {
	OpID   uuid.UUID
	Cached fn.Option[DecryptedContent]
}

// SnapshotRequest asks for the current state.
type SnapshotRequest struct {
	actor.BaseMessage
}

// MessageType implements actor.Message.
func (SnapshotRequest) MessageType() string { return "SnapshotRequest" }

// SnapshotResponse carries the current state.
type SnapshotResponse struct {
	Snapshot Snapshot
}

type ackResponse struct{}

// walletEventMsg delivers a wallet event to the coordinator.
type walletEventMsg struct {
	actor.BaseMessage

	event WalletEvent
}

func (walletEventMsg) MessageType() string { return "walletEventMsg" }

// deploymentChecked reports the contract code lookup.
type deploymentChecked struct {
	actor.BaseMessage

	generation uint64
	contract   common.Address
	deployed   bool
	err        error
}

func (deploymentChecked) MessageType() string { return "deploymentChecked" }

// sendCompleted reports the end of a send operation.
type sendCompleted struct {
	actor.BaseMessage

	generation uint64
	opID       uuid.UUID
	receipt    *Receipt
	err        error
}

func (sendCompleted) MessageType() string { return "sendCompleted" }

// refreshCompleted reports the end of a refresh operation.
type refreshCompleted struct {
	actor.BaseMessage

	generation uint64
	opID       uuid.UUID
	mailbox    *Mailbox
	err        error
}

func (refreshCompleted) MessageType() string { return "refreshCompleted" }

// decryptCompleted reports the end of a decrypt operation.
type decryptCompleted struct {
	actor.BaseMessage

	generation uint64
	opID       uuid.UUID
	id         MessageID
	clearText  string
	err        error
}

func (decryptCompleted) MessageType() string { return "decryptCompleted" }

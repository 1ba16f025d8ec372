package mailbox

import (
	"slices"

	"github.com/ethereum/go-ethereum/common"
)

// Snapshot is an immutable copy of the coordinator state handed to views.
type Snapshot struct {
	Connected  bool
	Address    common.Address
	ChainID    uint64
	Contract   common.Address
	Deployment DeploymentStatus

	// EncryptionReady is false when the encryption client cannot serve
	// the session's chain. EncryptionError then holds the reason.
	EncryptionReady bool
	EncryptionError string

	Sending    bool
	Refreshing bool
	Decrypting []MessageID

	Sent     []MessageID
	Received []MessageID
	Contents map[MessageID]DecryptedContent

	LastAction LastAction

	// Generation increases on every wallet event.
	Generation uint64
}

// ready is the readiness shared by every predicate.
func (s Snapshot) ready() bool {
	return s.Connected && s.Deployment == DeploymentDeployed
}

// CanSendMessage reports whether a send would be accepted.
func (s Snapshot) CanSendMessage() bool {
	return s.ready() && !s.Sending
}

// CanGetMessages reports whether a refresh would be accepted.
func (s Snapshot) CanGetMessages() bool {
	return s.ready() && !s.Refreshing
}

// CanDecrypt reports whether decrypting id would start a new request.
func (s Snapshot) CanDecrypt(id MessageID) bool {
	_, cached := s.Contents[id]
	return s.ready() && !s.IsDecrypting(id) && !cached
}

// IsDecrypting reports whether id has a decrypt in flight.
func (s Snapshot) IsDecrypting(id MessageID) bool {
	return slices.Contains(s.Decrypting, id)
}

// Busy reports whether any operation is in flight.
func (s Snapshot) Busy() bool {
	return s.Sending || s.Refreshing || len(s.Decrypting) > 0 ||
		s.Deployment == DeploymentChecking
}

// Content returns the clear text of id, if decrypted this session.
func (s Snapshot) Content(id MessageID) (DecryptedContent, bool) {
	c, ok := s.Contents[id]
	return c, ok
}

// Stats are the mailbox counters shown in the view.
type Stats struct {
	Sent     int
	Received int
	Total    int
}

// Stats returns the mailbox counters.
func (s Snapshot) Stats() Stats {
	return Stats{
		Sent:     len(s.Sent),
		Received: len(s.Received),
		Total:    len(s.Sent) + len(s.Received),
	}
}

// Refs lists every known message, sent first.
func (s Snapshot) Refs() []MessageRef {
	refs := make([]MessageRef, 0, len(s.Sent)+len(s.Received))
	for _, id := range s.Sent {
		refs = append(refs, MessageRef{ID: id, Direction: DirectionSent})
	}
	for _, id := range s.Received {
		refs = append(refs, MessageRef{
			ID: id, Direction: DirectionReceived,
		})
	}

	return refs
}

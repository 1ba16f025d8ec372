package mailbox

import (
	"context"

	"github.com/roasbeef/zamail/internal/baselib/actor"
)

// WalletEvent is the sealed set of wallet notifications. Each of them resets
// the coordinator's session state.
type WalletEvent interface {
	actor.Message
	isWalletEvent()
}

func (Connected) isWalletEvent()      {}
func (Disconnected) isWalletEvent()   {}
func (AccountChanged) isWalletEvent() {}
func (ChainChanged) isWalletEvent()   {}

// Connected starts a session.
type Connected struct {
	actor.BaseMessage

	Session Session
}

// MessageType implements actor.Message.
func (Connected) MessageType() string { return "Connected" }

// Disconnected ends the session.
type Disconnected struct {
	actor.BaseMessage
}

// MessageType implements actor.Message.
func (Disconnected) MessageType() string { return "Disconnected" }

// AccountChanged replaces the session's account (and signer).
type AccountChanged struct {
	actor.BaseMessage

	Session Session
}

// MessageType implements actor.Message.
func (AccountChanged) MessageType() string { return "AccountChanged" }

// ChainChanged replaces the session's chain.
type ChainChanged struct {
	actor.BaseMessage

	Session Session
}

// MessageType implements actor.Message.
func (ChainChanged) MessageType() string { return "ChainChanged" }

// walletEventRef adapts a coordinator ref so wallet sources can Tell plain
// WalletEvents.
func walletEventRef(
	target actor.TellOnlyRef[CoordinatorRequest]) actor.TellOnlyRef[WalletEvent] {

	return actor.NewMapInputRef(
		target, func(e WalletEvent) CoordinatorRequest {
			return walletEventMsg{event: e}
		},
	)
}

// ForwardWalletEvents relays events to ref until ctx ends or events is
// closed.
func ForwardWalletEvents(ctx context.Context, events <-chan WalletEvent,
	ref actor.TellOnlyRef[WalletEvent]) {

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}

			log.DebugS(ctx, "Wallet event", "type", e.MessageType())
			ref.Tell(ctx, e)

		case <-ctx.Done():
			return
		}
	}
}

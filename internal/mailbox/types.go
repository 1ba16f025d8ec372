package mailbox

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// MessageID identifies a mailbox entry. Ids are assigned by the contract.
type MessageID uint64

// String formats the id in decimal.
func (id MessageID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseMessageID parses a decimal message id.
func ParseMessageID(s string) (MessageID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, validationError("bad message id %q", s)
	}

	return MessageID(v), nil
}

// Direction tells whether the connected address sent or received a message.
type Direction uint8

const (
	DirectionSent Direction = iota
	DirectionReceived
)

// String returns "sent" or "received".
func (d Direction) String() string {
	if d == DirectionSent {
		return "sent"
	}

	return "received"
}

// MessageRef points at one mailbox entry of the connected address.
type MessageRef struct {
	ID        MessageID
	Direction Direction
}

// DecryptedContent is the clear text of one message, cached for the session.
type DecryptedContent struct {
	MessageID   MessageID
	ClearText   string
	DecryptedAt time.Time
}

// Ciphertext is an encrypted input ready to be submitted to the contract.
type Ciphertext struct {
	// Handle references the ciphertext inside the coprocessor.
	Handle common.Hash

	// InputProof attests that the submitter knows the plaintext.
	InputProof []byte
}

// Receipt describes a mined send transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64

	// MessageID is the id assigned by the contract, if the receipt logs
	// carried it.
	MessageID fn.Option[MessageID]
}

// Mailbox is the result of a mailbox query for one owner.
type Mailbox struct {
	Sent     []MessageID
	Received []MessageID
}

// Session is the connected wallet context.
type Session struct {
	Address common.Address
	ChainID uint64
	Signer  Signer
}

// String summarizes the session for logs.
func (s Session) String() string {
	return fmt.Sprintf("%s@%d", s.Address.Hex(), s.ChainID)
}

// DeploymentStatus tracks whether the contract exists on the current chain.
type DeploymentStatus uint8

const (
	DeploymentUnknown DeploymentStatus = iota
	DeploymentChecking
	DeploymentDeployed
	DeploymentNotDeployed
)

// String returns the status name.
func (d DeploymentStatus) String() string {
	switch d {
	case DeploymentChecking:
		return "checking"
	case DeploymentDeployed:
		return "deployed"
	case DeploymentNotDeployed:
		return "not deployed"
	default:
		return "unknown"
	}
}

// Operation names the coordinator's operations.
type Operation uint8

const (
	OpSend Operation = iota
	OpRefresh
	OpDecrypt
	OpDeploymentCheck
)

// String returns the short operation name used in logs and metrics.
func (o Operation) String() string {
	switch o {
	case OpSend:
		return "send"
	case OpRefresh:
		return "refresh"
	case OpDecrypt:
		return "decrypt"
	default:
		return "deployment_check"
	}
}

// Title returns the operation name for human readable messages.
func (o Operation) Title() string {
	switch o {
	case OpSend:
		return "Send"
	case OpRefresh:
		return "Refresh"
	case OpDecrypt:
		return "Decrypt"
	default:
		return "Deployment check"
	}
}

// LastAction is the outcome of the most recent operation step, rendered as
// the view's status line.
type LastAction struct {
	Op      Operation
	Kind    ErrorKind
	Message string
	At      time.Time
}

// Failed reports whether the action ended in an error.
func (l LastAction) Failed() bool {
	return l.Kind != KindNone
}

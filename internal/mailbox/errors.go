package mailbox

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input rejected locally, before any collaborator
	// is contacted.
	ErrValidation = errors.New("invalid input")

	// ErrBusy is returned when the targeted resource already has an
	// operation in flight. The intent is dropped, not queued.
	ErrBusy = errors.New("operation already in flight")

	// ErrNotConnected is returned when no wallet session is active.
	ErrNotConnected = errors.New("wallet not connected")

	// ErrDeploymentUnknown is returned while the contract deployment
	// check for the current chain has not succeeded.
	ErrDeploymentUnknown = errors.New("contract deployment not confirmed")

	// ErrContractNotDeployed is terminal for a session: the contract has
	// no code (or no address) on the connected chain.
	ErrContractNotDeployed = errors.New("contract not deployed")

	// ErrEncryptionUnavailable is returned by encryption clients that are
	// not initialized for the connected chain.
	ErrEncryptionUnavailable = errors.New("encryption client unavailable")

	// ErrUserRejectedSignature is returned when the user declines the
	// decryption signature request.
	ErrUserRejectedSignature = errors.New("user rejected signature request")

	// ErrUserRejected is returned when the user declines to sign a
	// transaction.
	ErrUserRejected = errors.New("user rejected transaction")

	// ErrRPC wraps failures talking to the chain or the relayer.
	ErrRPC = errors.New("rpc error")

	// ErrUnknownRequestType is returned for messages an actor does not
	// handle.
	ErrUnknownRequestType = errors.New("unknown request type")

	// ErrStaleCompletion is returned when a completion does not match the
	// operation a resource is tracking.
	ErrStaleCompletion = errors.New("stale operation completion")
)

// ErrorKind is the classification surfaced to views.
type ErrorKind uint8

const (
	KindNone ErrorKind = iota
	KindValidation
	KindBusy
	KindNotConnected
	KindDeploymentUnknown
	KindContractNotDeployed
	KindEncryptionUnavailable
	KindUserRejectedSignature
	KindUserRejected
	KindTimeout
	KindRPC
	KindUnknown
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindValidation:
		return "validation"
	case KindBusy:
		return "busy"
	case KindNotConnected:
		return "not_connected"
	case KindDeploymentUnknown:
		return "deployment_unknown"
	case KindContractNotDeployed:
		return "contract_not_deployed"
	case KindEncryptionUnavailable:
		return "encryption_unavailable"
	case KindUserRejectedSignature:
		return "user_rejected_signature"
	case KindUserRejected:
		return "user_rejected"
	case KindTimeout:
		return "timeout"
	case KindRPC:
		return "rpc"
	default:
		return "unknown"
	}
}

// Classify maps err onto an ErrorKind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.Is(err, ErrNotConnected):
		return KindNotConnected
	case errors.Is(err, ErrDeploymentUnknown):
		return KindDeploymentUnknown
	case errors.Is(err, ErrContractNotDeployed):
		return KindContractNotDeployed
	case errors.Is(err, ErrEncryptionUnavailable):
		return KindEncryptionUnavailable
	case errors.Is(err, ErrUserRejectedSignature):
		return KindUserRejectedSignature
	case errors.Is(err, ErrUserRejected):
		return KindUserRejected
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrRPC):
		return KindRPC
	default:
		return KindUnknown
	}
}

// validationError builds an ErrValidation with detail.
func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// FailureMessage renders err as the last-action text shown for op.
func FailureMessage(op Operation, err error) string {
	var reason string
	switch Classify(err) {
	case KindValidation:
		reason = err.Error()
	case KindBusy:
		reason = "another " + op.String() + " is still running"
	case KindNotConnected:
		reason = "connect a wallet first"
	case KindDeploymentUnknown:
		reason = "still checking the ZaMail contract deployment"
	case KindContractNotDeployed:
		reason = "ZaMail is not deployed on this chain"
	case KindEncryptionUnavailable:
		reason = "the FHEVM encryption client is not ready"
	case KindUserRejectedSignature:
		reason = "the decryption signature request was rejected"
	case KindUserRejected:
		reason = "the transaction was rejected in the wallet"
	case KindTimeout:
		reason = "the request timed out"
	case KindRPC:
		reason = "the network request failed: " + err.Error()
	default:
		reason = err.Error()
	}

	return fmt.Sprintf("%s failed: %s", op.Title(), reason)
}

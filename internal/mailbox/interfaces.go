package mailbox

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Signer is the wallet capability of a session. Implementations return
// ErrUserRejected when the user declines.
type Signer interface {
	// Address is the account the signer signs for.
	Address() common.Address

	// SignTx signs tx for chainID.
	SignTx(ctx context.Context, tx *types.Transaction,
		chainID *big.Int) (*types.Transaction, error)

	// SignTypedData returns an EIP-712 signature over data.
	SignTypedData(ctx context.Context,
		data apitypes.TypedData) ([]byte, error)
}

// ChainClient reaches the mailbox contract.
type ChainClient interface {
	// IsDeployed reports whether contract has code.
	IsDeployed(ctx context.Context, contract common.Address) (bool, error)

	// SendMessage submits the encrypted message and waits for the
	// receipt.
	SendMessage(ctx context.Context, signer Signer,
		contract common.Address, to common.Address,
		ct Ciphertext) (*Receipt, error)

	// Query lists the sent and received message ids of owner.
	Query(ctx context.Context, contract common.Address,
		owner common.Address) (*Mailbox, error)

	// MessageContent returns the ciphertext handle of message id.
	MessageContent(ctx context.Context, contract common.Address,
		id MessageID) (common.Hash, error)
}

// EncryptRequest asks for a 64-bit value to be encrypted for contract on
// behalf of user.
type EncryptRequest struct {
	ChainID  uint64
	Contract common.Address
	User     common.Address
	Value    uint64
}

// SignatureScope is what a decryption signature authorizes.
type SignatureScope struct {
	ChainID   uint64
	User      common.Address
	Contracts []common.Address
}

// Credential is an opaque user-decryption authorization.
type Credential interface {
	// User is the address that signed the credential.
	User() common.Address

	// ExpiresAt is when the credential stops being accepted.
	ExpiresAt() time.Time
}

// EncryptionClient wraps the FHE relayer.
type EncryptionClient interface {
	// Encrypt produces a ciphertext and input proof. It returns
	// ErrEncryptionUnavailable when the chain is not supported.
	Encrypt(ctx context.Context, req EncryptRequest) (Ciphertext, error)

	// DecryptionSignature loads or creates a credential for scope,
	// asking signer when a new one is needed. A declined prompt yields
	// ErrUserRejectedSignature.
	DecryptionSignature(ctx context.Context, scope SignatureScope,
		signer Signer) (Credential, error)

	// UserDecrypt decrypts handle, which belongs to contract.
	UserDecrypt(ctx context.Context, cred Credential, handle common.Hash,
		contract common.Address) (uint64, error)

	// Supports reports whether the client is configured for chainID.
	Supports(chainID uint64) bool
}

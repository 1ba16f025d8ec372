package fhevm

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/roasbeef/zamail/internal/mailbox"
	"golang.org/x/crypto/nacl/box"
)

const (
	// DefaultDurationDays is the validity of a new decryption signature.
	DefaultDurationDays = 365

	// domainName and domainVersion identify the EIP-712 domain of the
	// decryption verifier contract.
	domainName    = "Decryption"
	domainVersion = "1"

	// requestType is the primary type of the signed request.
	requestType = "UserDecryptRequestVerification"
)

// SignatureKey identifies a stored decryption signature: the user, the chain
// and the exact set of contracts it authorizes.
type SignatureKey struct {
	User    common.Address
	ChainID uint64

	// Scope is the normalized contract list, see ScopeString.
	Scope string
}

// NewSignatureKey builds the lookup key of scope.
func NewSignatureKey(scope mailbox.SignatureScope) SignatureKey {
	return SignatureKey{
		User:    scope.User,
		ChainID: scope.ChainID,
		Scope:   ScopeString(scope.Contracts),
	}
}

// String renders the key for logs and singleflight grouping.
func (k SignatureKey) String() string {
	return fmt.Sprintf("%s@%d/%s", k.User.Hex(), k.ChainID, k.Scope)
}

// ScopeString sorts and deduplicates contracts and joins their lowercase hex
// with commas.
func ScopeString(contracts []common.Address) string {
	norm := normalizeContracts(contracts)

	parts := make([]string, len(norm))
	for i, c := range norm {
		parts[i] = strings.ToLower(c.Hex())
	}

	return strings.Join(parts, ",")
}

// ParseScope is the inverse of ScopeString.
func ParseScope(scope string) ([]common.Address, error) {
	if scope == "" {
		return nil, nil
	}

	parts := strings.Split(scope, ",")
	contracts := make([]common.Address, 0, len(parts))
	for _, p := range parts {
		if !common.IsHexAddress(p) {
			return nil, fmt.Errorf("invalid contract %q in scope", p)
		}
		contracts = append(contracts, common.HexToAddress(p))
	}

	return normalizeContracts(contracts), nil
}

func normalizeContracts(contracts []common.Address) []common.Address {
	norm := slices.Clone(contracts)
	slices.SortFunc(norm, func(a, b common.Address) int {
		return a.Cmp(b)
	})

	return slices.Compact(norm)
}

// DecryptionSignature authorizes the relayer to re-encrypt ciphertexts of
// Contracts to PublicKey on behalf of UserAddress. It implements
// mailbox.Credential.
type DecryptionSignature struct {
	// PublicKey and PrivateKey are the NaCl box keypair user decryption
	// results are sealed to.
	PublicKey  [32]byte
	PrivateKey [32]byte

	Contracts   []common.Address
	UserAddress common.Address
	ChainID     uint64

	// StartTimestamp is the unix time the validity window opens.
	StartTimestamp int64
	DurationDays   int64

	// Signature is the 65 byte EIP-712 signature of the user.
	Signature []byte
}

var _ mailbox.Credential = (*DecryptionSignature)(nil)

// User implements mailbox.Credential.
func (s *DecryptionSignature) User() common.Address {
	return s.UserAddress
}

// ExpiresAt implements mailbox.Credential.
func (s *DecryptionSignature) ExpiresAt() time.Time {
	start := time.Unix(s.StartTimestamp, 0)
	return start.Add(time.Duration(s.DurationDays) * 24 * time.Hour)
}

// IsValid reports whether the validity window contains now.
func (s *DecryptionSignature) IsValid(now time.Time) bool {
	return !now.Before(time.Unix(s.StartTimestamp, 0)) &&
		now.Before(s.ExpiresAt())
}

// Covers reports whether contract is in scope.
func (s *DecryptionSignature) Covers(contract common.Address) bool {
	return slices.Contains(s.Contracts, contract)
}

// Key returns the store key of the signature.
func (s *DecryptionSignature) Key() SignatureKey {
	return SignatureKey{
		User:    s.UserAddress,
		ChainID: s.ChainID,
		Scope:   ScopeString(s.Contracts),
	}
}

// TypedData is the EIP-712 request the user signs. verifier is the
// decryption verifier contract of the chain.
func (s *DecryptionSignature) TypedData(
	verifier common.Address) apitypes.TypedData {

	contracts := make([]interface{}, len(s.Contracts))
	for i, c := range s.Contracts {
		contracts[i] = c.Hex()
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			requestType: {
				{Name: "publicKey", Type: "bytes"},
				{Name: "contractAddresses", Type: "address[]"},
				{Name: "startTimestamp", Type: "uint256"},
				{Name: "durationDays", Type: "uint256"},
			},
		},
		PrimaryType: requestType,
		Domain: apitypes.TypedDataDomain{
			Name:    domainName,
			Version: domainVersion,
			ChainId: math.NewHexOrDecimal256(
				int64(s.ChainID),
			),
			VerifyingContract: verifier.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"publicKey":         hexutil.Encode(s.PublicKey[:]),
			"contractAddresses": contracts,
			"startTimestamp": fmt.Sprintf(
				"%d", s.StartTimestamp,
			),
			"durationDays": fmt.Sprintf("%d", s.DurationDays),
		},
	}
}

// Verify checks that Signature was produced by UserAddress over the typed
// data for verifier.
func (s *DecryptionSignature) Verify(verifier common.Address) error {
	hash, _, err := apitypes.TypedDataAndHash(s.TypedData(verifier))
	if err != nil {
		return fmt.Errorf("hash typed data: %w", err)
	}

	if len(s.Signature) != crypto.SignatureLength {
		return fmt.Errorf("%w: signature is %d bytes",
			ErrSignerMismatch, len(s.Signature))
	}

	sig := slices.Clone(s.Signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return fmt.Errorf("recover signer: %w", err)
	}

	if signer := crypto.PubkeyToAddress(*pub); signer != s.UserAddress {
		return fmt.Errorf("%w: recovered %s, want %s",
			ErrSignerMismatch, signer.Hex(), s.UserAddress.Hex())
	}

	return nil
}

// signatureParams configures NewDecryptionSignature.
type signatureParams struct {
	verifier     common.Address
	now          time.Time
	durationDays int64
	random       io.Reader
}

// NewDecryptionSignature generates a fresh keypair for scope and asks signer
// to sign the request. A declined prompt is reported as
// mailbox.ErrUserRejectedSignature.
func NewDecryptionSignature(ctx context.Context, scope mailbox.SignatureScope,
	signer mailbox.Signer, verifier common.Address, now time.Time,
	durationDays int64) (*DecryptionSignature, error) {

	return newDecryptionSignature(ctx, scope, signer, signatureParams{
		verifier:     verifier,
		now:          now,
		durationDays: durationDays,
		random:       rand.Reader,
	})
}

func newDecryptionSignature(ctx context.Context, scope mailbox.SignatureScope,
	signer mailbox.Signer, params signatureParams) (*DecryptionSignature,
	error) {

	if signer.Address() != scope.User {
		return nil, fmt.Errorf("%w: signer %s, scope user %s",
			ErrScopeMismatch, signer.Address().Hex(),
			scope.User.Hex())
	}

	pub, priv, err := box.GenerateKey(params.random)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}

	durationDays := params.durationDays
	if durationDays <= 0 {
		durationDays = DefaultDurationDays
	}

	sig := &DecryptionSignature{
		PublicKey:      *pub,
		PrivateKey:     *priv,
		Contracts:      normalizeContracts(scope.Contracts),
		UserAddress:    scope.User,
		ChainID:        scope.ChainID,
		StartTimestamp: params.now.Unix(),
		DurationDays:   durationDays,
	}

	raw, err := signer.SignTypedData(ctx, sig.TypedData(params.verifier))
	switch {
	case errors.Is(err, mailbox.ErrUserRejected),
		errors.Is(err, mailbox.ErrUserRejectedSignature):

		return nil, fmt.Errorf("%w: %v",
			mailbox.ErrUserRejectedSignature, err)

	case err != nil:
		return nil, fmt.Errorf("sign decryption request: %w", err)
	}
	sig.Signature = raw

	if err := sig.Verify(params.verifier); err != nil {
		return nil, err
	}

	return sig, nil
}

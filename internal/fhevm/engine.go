package fhevm

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/roasbeef/zamail/internal/mailbox"
)

// Engine produces encrypted inputs and performs user decryption for one
// chain.
type Engine interface {
	// Encrypt returns the handle and input proof of req.Value.
	Encrypt(ctx context.Context,
		req mailbox.EncryptRequest) (mailbox.Ciphertext, error)

	// UserDecrypt returns the clear value of handle. sig must cover
	// contract.
	UserDecrypt(ctx context.Context, sig *DecryptionSignature,
		handle common.Hash, contract common.Address) (uint64, error)
}

// MockEngine is the clear engine used against local development chains
// running the FHEVM mock coprocessor. The value travels in the last eight
// bytes of the handle.
type MockEngine struct {
	chainID uint64
}

var _ Engine = (*MockEngine)(nil)

// NewMockEngine creates the clear engine for chainID.
func NewMockEngine(chainID uint64) *MockEngine {
	return &MockEngine{chainID: chainID}
}

// Encrypt implements Engine.
func (m *MockEngine) Encrypt(_ context.Context,
	req mailbox.EncryptRequest) (mailbox.Ciphertext, error) {

	if req.ChainID != m.chainID {
		return mailbox.Ciphertext{}, fmt.Errorf("%w: mock engine "+
			"serves chain %d, got %d",
			mailbox.ErrEncryptionUnavailable, m.chainID, req.ChainID)
	}

	var nonce [8]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return mailbox.Ciphertext{}, fmt.Errorf("read nonce: %w", err)
	}

	var chainID [8]byte
	binary.BigEndian.PutUint64(chainID[:], req.ChainID)

	seed := crypto.Keccak256(
		chainID[:], req.Contract.Bytes(), req.User.Bytes(), nonce[:],
	)

	var handle common.Hash
	copy(handle[:24], seed)
	binary.BigEndian.PutUint64(handle[24:], req.Value)

	return mailbox.Ciphertext{
		Handle: handle,

		// The mock input verifier accepts an empty proof.
		InputProof: []byte{},
	}, nil
}

// UserDecrypt implements Engine.
func (m *MockEngine) UserDecrypt(_ context.Context, sig *DecryptionSignature,
	handle common.Hash, contract common.Address) (uint64, error) {

	if !sig.Covers(contract) {
		return 0, fmt.Errorf("%w: contract %s", ErrScopeMismatch,
			contract.Hex())
	}

	return binary.BigEndian.Uint64(handle[24:]), nil
}

package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/roasbeef/zamail/internal/mailbox"
)

// KeySigner signs with a locally held secp256k1 key.
type KeySigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

var _ mailbox.Signer = (*KeySigner)(nil)

// NewKeySigner wraps key.
func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{
		key:  key,
		addr: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// ParseKeySigner reads a hex private key, with or without 0x prefix.
func ParseKeySigner(hexKey string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(
		strings.TrimSpace(hexKey), "0x",
	))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return NewKeySigner(key), nil
}

// Address implements mailbox.Signer.
func (k *KeySigner) Address() common.Address {
	return k.addr
}

// SignTx implements mailbox.Signer.
func (k *KeySigner) SignTx(_ context.Context, tx *types.Transaction,
	chainID *big.Int) (*types.Transaction, error) {

	return types.SignTx(tx, types.LatestSignerForChainID(chainID), k.key)
}

// SignTypedData implements mailbox.Signer. The recovery id is returned in
// the 27/28 form wallets use.
func (k *KeySigner) SignTypedData(_ context.Context,
	data apitypes.TypedData) ([]byte, error) {

	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}

	sig, err := crypto.Sign(hash, k.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27

	return sig, nil
}

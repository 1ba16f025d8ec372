package fhevm

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/roasbeef/zamail/internal/mailbox"
	"github.com/stretchr/testify/require"
)

var (
	testChainID  uint64 = 31337
	testContract        = common.HexToAddress(
		"0x5FbDB2315678afecb367f032d93F642f64180aa3",
	)
	testVerifier = common.HexToAddress(
		"0xa02Cda4Ca3a71D7C46997716F4283aa851C28812",
	)
)

// testSigner signs with an in-memory key and counts prompts.
type testSigner struct {
	key     *ecdsa.PrivateKey
	prompts atomic.Int32
	reject  bool

	// gate, when set, blocks each prompt until closed.
	gate chan struct{}
}

func newTestSigner(t *testing.T) *testSigner {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	return &testSigner{key: key}
}

func (s *testSigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *testSigner) SignTx(_ context.Context, tx *types.Transaction,
	chainID *big.Int) (*types.Transaction, error) {

	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

func (s *testSigner) SignTypedData(ctx context.Context,
	data apitypes.TypedData) ([]byte, error) {

	s.prompts.Add(1)

	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if s.reject {
		return nil, mailbox.ErrUserRejected
	}

	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27

	return sig, nil
}

func (s *testSigner) scope(contracts ...common.Address) mailbox.SignatureScope {
	return mailbox.SignatureScope{
		ChainID:   testChainID,
		User:      s.Address(),
		Contracts: contracts,
	}
}

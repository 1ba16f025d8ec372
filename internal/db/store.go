package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/zamail/internal/db/sqlc"
	"github.com/roasbeef/zamail/internal/fhevm"
)

// Store is the SQLite backed fhevm.SignatureStore.
type Store struct {
	*BaseDB

	txs *TransactionExecutor[*sqlc.Queries]
}

var _ fhevm.SignatureStore = (*Store)(nil)

var _ BatchedTx[*sqlc.Queries] = (*TransactionExecutor[*sqlc.Queries])(nil)

// NewStore wraps an already migrated database.
func NewStore(db *sql.DB, log *slog.Logger) *Store {
	base := NewBaseDB(db)

	return &Store{
		BaseDB: base,
		txs: NewTransactionExecutor(
			base, func(tx *sql.Tx) *sqlc.Queries {
				return base.Queries.WithTx(tx)
			}, log,
		),
	}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.DB.Close()
}

// withTimeout applies DefaultStoreTimeout when ctx has no deadline.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, DefaultStoreTimeout)
}

func userKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// LoadSignature implements fhevm.SignatureStore.
func (s *Store) LoadSignature(ctx context.Context,
	key fhevm.SignatureKey) (fn.Option[*fhevm.DecryptionSignature], error) {

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var row sqlc.DecryptionSignature
	err := s.txs.ExecTx(ctx, ReadTxOption(), func(q *sqlc.Queries) error {
		var err error
		row, err = q.GetDecryptionSignature(
			ctx, sqlc.GetDecryptionSignatureParams{
				UserAddress:   userKey(key.User),
				ChainID:       int64(key.ChainID),
				ContractScope: key.Scope,
			},
		)

		return err
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fn.None[*fhevm.DecryptionSignature](), nil

	case err != nil:
		return fn.None[*fhevm.DecryptionSignature](), err
	}

	sig, err := signatureFromRow(row)
	if err != nil {
		return fn.None[*fhevm.DecryptionSignature](), err
	}

	return fn.Some(sig), nil
}

// StoreSignature implements fhevm.SignatureStore.
func (s *Store) StoreSignature(ctx context.Context,
	sig *fhevm.DecryptionSignature) error {

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	key := sig.Key()

	return s.txs.ExecTx(ctx, WriteTxOption(), func(q *sqlc.Queries) error {
		return q.UpsertDecryptionSignature(
			ctx, sqlc.UpsertDecryptionSignatureParams{
				UserAddress:    userKey(key.User),
				ChainID:        int64(key.ChainID),
				ContractScope:  key.Scope,
				PublicKey:      sig.PublicKey[:],
				PrivateKey:     sig.PrivateKey[:],
				StartTimestamp: sig.StartTimestamp,
				DurationDays:   sig.DurationDays,
				ExpiresAt:      sig.ExpiresAt().Unix(),
				Signature:      sig.Signature,
				CreatedAt:      time.Now().Unix(),
			},
		)
	})
}

// DeleteSignature implements fhevm.SignatureStore.
func (s *Store) DeleteSignature(ctx context.Context,
	key fhevm.SignatureKey) error {

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return s.txs.ExecTx(ctx, WriteTxOption(), func(q *sqlc.Queries) error {
		return q.DeleteDecryptionSignature(
			ctx, sqlc.DeleteDecryptionSignatureParams{
				UserAddress:   userKey(key.User),
				ChainID:       int64(key.ChainID),
				ContractScope: key.Scope,
			},
		)
	})
}

// PruneExpired implements fhevm.SignatureStore.
func (s *Store) PruneExpired(ctx context.Context,
	now time.Time) (int64, error) {

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var pruned int64
	err := s.txs.ExecTx(ctx, WriteTxOption(), func(q *sqlc.Queries) error {
		var err error
		pruned, err = q.DeleteExpiredDecryptionSignatures(
			ctx, now.Unix(),
		)

		return err
	})

	return pruned, err
}

// ListSignatures returns every signature stored for user, latest expiry
// first.
func (s *Store) ListSignatures(ctx context.Context,
	user common.Address) ([]*fhevm.DecryptionSignature, error) {

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var rows []sqlc.DecryptionSignature
	err := s.txs.ExecTx(ctx, ReadTxOption(), func(q *sqlc.Queries) error {
		var err error
		rows, err = q.ListDecryptionSignaturesByUser(ctx, userKey(user))

		return err
	})
	if err != nil {
		return nil, err
	}

	sigs := make([]*fhevm.DecryptionSignature, 0, len(rows))
	for _, row := range rows {
		sig, err := signatureFromRow(row)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}

	return sigs, nil
}

func signatureFromRow(row sqlc.DecryptionSignature) (
	*fhevm.DecryptionSignature, error) {

	if len(row.PublicKey) != 32 || len(row.PrivateKey) != 32 {
		return nil, fmt.Errorf("corrupt keypair for %s on chain %d",
			row.UserAddress, row.ChainID)
	}

	contracts, err := fhevm.ParseScope(row.ContractScope)
	if err != nil {
		return nil, fmt.Errorf("corrupt scope for %s: %w",
			row.UserAddress, err)
	}

	sig := &fhevm.DecryptionSignature{
		Contracts:      contracts,
		UserAddress:    common.HexToAddress(row.UserAddress),
		ChainID:        uint64(row.ChainID),
		StartTimestamp: row.StartTimestamp,
		DurationDays:   row.DurationDays,
		Signature:      row.Signature,
	}
	copy(sig.PublicKey[:], row.PublicKey)
	copy(sig.PrivateKey[:], row.PrivateKey)

	return sig, nil
}

package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/roasbeef/zamail/internal/db/sqlc"
)

// DefaultStoreTimeout bounds a single store call made without a deadline.
var DefaultStoreTimeout = 10 * time.Second

const (
	// DefaultNumTxRetries is how often a transaction failing with a busy
	// or locked database is retried.
	DefaultNumTxRetries = 10

	// DefaultInitialRetryDelay is the first backoff interval between
	// transaction retries. Intervals are jittered and doubled up to
	// DefaultMaxRetryDelay.
	DefaultInitialRetryDelay = 40 * time.Millisecond

	// DefaultMaxRetryDelay caps the backoff interval.
	DefaultMaxRetryDelay = 3 * time.Second
)

// TxOptions selects the kind of transaction to open.
type TxOptions interface {
	// ReadOnly returns true if the transaction should be read-only.
	ReadOnly() bool
}

// BaseTxOptions is the TxOptions implementation understood by BaseDB.
type BaseTxOptions struct {
	readOnly bool
}

// ReadOnly implements TxOptions.
func (a *BaseTxOptions) ReadOnly() bool {
	return a.readOnly
}

// ReadTxOption returns options for a read-only transaction.
func ReadTxOption() *BaseTxOptions {
	return &BaseTxOptions{readOnly: true}
}

// WriteTxOption returns options for a read-write transaction.
func WriteTxOption() *BaseTxOptions {
	return &BaseTxOptions{}
}

// BatchedTx runs several queries of Q atomically.
type BatchedTx[Q any] interface {
	// ExecTx runs txBody inside one transaction.
	ExecTx(ctx context.Context, txOptions TxOptions,
		txBody func(Q) error) error
}

// QueryCreator binds a query set to an open transaction.
type QueryCreator[Q any] func(*sql.Tx) Q

// BatchedQuerier can both run queries directly and open transactions.
type BatchedQuerier interface {
	sqlc.Querier

	// BeginTx opens a transaction matching options.
	BeginTx(ctx context.Context, options TxOptions) (*sql.Tx, error)
}

// BaseDB couples a connection with its generated queries.
type BaseDB struct {
	*sql.DB

	*sqlc.Queries
}

// NewBaseDB wraps db.
func NewBaseDB(db *sql.DB) *BaseDB {
	return &BaseDB{
		DB:      db,
		Queries: sqlc.New(db),
	}
}

// BeginTx maps TxOptions onto sql.TxOptions.
func (s *BaseDB) BeginTx(ctx context.Context, opts TxOptions) (*sql.Tx, error) {
	return s.DB.BeginTx(ctx, &sql.TxOptions{
		ReadOnly: opts.ReadOnly(),
	})
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// txExecutorOptions tunes how transactions are retried.
type txExecutorOptions struct {
	numRetries        int
	initialRetryDelay time.Duration
	maxRetryDelay     time.Duration
}

func defaultTxExecutorOptions() *txExecutorOptions {
	return &txExecutorOptions{
		numRetries:        DefaultNumTxRetries,
		initialRetryDelay: DefaultInitialRetryDelay,
		maxRetryDelay:     DefaultMaxRetryDelay,
	}
}

// backOff returns the retry policy for one ExecTx call.
func (t *txExecutorOptions) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(t.initialRetryDelay),
		backoff.WithMaxInterval(t.maxRetryDelay),
		backoff.WithMultiplier(2),
		backoff.WithMaxElapsedTime(0),
	)

	return backoff.WithContext(
		backoff.WithMaxRetries(exp, uint64(t.numRetries)), ctx,
	)
}

// TxExecutorOption modifies the executor options.
type TxExecutorOption func(*txExecutorOptions)

// WithTxRetries sets how often a busy transaction is retried.
func WithTxRetries(numRetries int) TxExecutorOption {
	return func(o *txExecutorOptions) {
		o.numRetries = numRetries
	}
}

// WithTxRetryDelay sets the first retry interval.
func WithTxRetryDelay(delay time.Duration) TxExecutorOption {
	return func(o *txExecutorOptions) {
		o.initialRetryDelay = delay
	}
}

// TransactionExecutor runs transaction bodies over a query set Q, retrying
// them while SQLite reports the database busy or locked.
type TransactionExecutor[Q any] struct {
	BatchedQuerier

	createQuery QueryCreator[Q]

	opts *txExecutorOptions

	log *slog.Logger
}

// NewTransactionExecutor creates an executor over db.
func NewTransactionExecutor[Q any](db BatchedQuerier,
	createQuery QueryCreator[Q], log *slog.Logger,
	opts ...TxExecutorOption) *TransactionExecutor[Q] {

	txOpts := defaultTxExecutorOptions()
	for _, optFunc := range opts {
		optFunc(txOpts)
	}

	return &TransactionExecutor[Q]{
		BatchedQuerier: db,
		createQuery:    createQuery,
		opts:           txOpts,
		log:            log,
	}
}

// ExecTx implements BatchedTx.
func (t *TransactionExecutor[Q]) ExecTx(ctx context.Context,
	txOptions TxOptions, txBody func(Q) error) error {

	attempt := func() error {
		err := t.execOnce(ctx, txOptions, txBody)
		if err == nil || IsSerializationOrDeadlockError(err) {
			return err
		}

		return backoff.Permanent(err)
	}

	notify := func(err error, delay time.Duration) {
		t.log.DebugContext(
			ctx, "Retrying transaction on busy database",
			"delay", delay, "err", err,
		)
	}

	err := backoff.RetryNotify(attempt, t.opts.backOff(ctx), notify)
	if IsSerializationOrDeadlockError(err) {
		return fmt.Errorf("%w: %w", ErrRetriesExceeded, err)
	}

	return err
}

// execOnce opens, runs and commits a single transaction.
func (t *TransactionExecutor[Q]) execOnce(ctx context.Context,
	txOptions TxOptions, txBody func(Q) error) error {

	tx, err := t.BeginTx(ctx, txOptions)
	if err != nil {
		return MapSQLError(err)
	}

	if err := txBody(t.createQuery(tx)); err != nil {
		rbErr := tx.Rollback()
		if rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(MapSQLError(err), rbErr)
		}

		return MapSQLError(err)
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()

		return MapSQLError(err)
	}

	return nil
}

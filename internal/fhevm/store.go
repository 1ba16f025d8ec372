package fhevm

import (
	"context"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// SignatureStore persists decryption signatures so a user signs at most once
// per scope and validity window.
type SignatureStore interface {
	// LoadSignature returns the signature stored under key, if any.
	LoadSignature(ctx context.Context,
		key SignatureKey) (fn.Option[*DecryptionSignature], error)

	// StoreSignature inserts or replaces the signature under its key.
	StoreSignature(ctx context.Context, sig *DecryptionSignature) error

	// DeleteSignature removes the signature under key.
	DeleteSignature(ctx context.Context, key SignatureKey) error

	// PruneExpired deletes every signature expired at now and returns
	// how many were removed.
	PruneExpired(ctx context.Context, now time.Time) (int64, error)
}

// MemoryStore is a process local SignatureStore.
type MemoryStore struct {
	mu   sync.RWMutex
	sigs map[SignatureKey]*DecryptionSignature
}

var _ SignatureStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sigs: make(map[SignatureKey]*DecryptionSignature),
	}
}

// LoadSignature implements SignatureStore.
func (m *MemoryStore) LoadSignature(_ context.Context,
	key SignatureKey) (fn.Option[*DecryptionSignature], error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	sig, ok := m.sigs[key]
	if !ok {
		return fn.None[*DecryptionSignature](), nil
	}

	return fn.Some(sig), nil
}

// StoreSignature implements SignatureStore.
func (m *MemoryStore) StoreSignature(_ context.Context,
	sig *DecryptionSignature) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sigs[sig.Key()] = sig

	return nil
}

// DeleteSignature implements SignatureStore.
func (m *MemoryStore) DeleteSignature(_ context.Context,
	key SignatureKey) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sigs, key)

	return nil
}

// PruneExpired implements SignatureStore.
func (m *MemoryStore) PruneExpired(_ context.Context,
	now time.Time) (int64, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	var pruned int64
	for key, sig := range m.sigs {
		if !now.Before(sig.ExpiresAt()) {
			delete(m.sigs, key)
			pruned++
		}
	}

	return pruned, nil
}

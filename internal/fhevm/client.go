package fhevm

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/roasbeef/zamail/internal/mailbox"
	"golang.org/x/sync/singleflight"
)

// ChainConfig binds an Engine to the chain it serves.
type ChainConfig struct {
	ChainID uint64
	Engine  Engine

	// Verifier is the decryption verifier contract named in the EIP-712
	// domain of user decryption requests.
	Verifier common.Address
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Chains []ChainConfig

	// Store persists decryption signatures. Defaults to a MemoryStore.
	Store SignatureStore

	// DurationDays is the validity of new signatures. Defaults to
	// DefaultDurationDays.
	DurationDays int64

	// PromptTimeout bounds a shared signature request. Defaults to
	// DefaultPromptTimeout.
	PromptTimeout time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// DefaultPromptTimeout bounds how long a decryption signature request may
// wait on the wallet.
const DefaultPromptTimeout = 2 * time.Minute

// Client is the mailbox.EncryptionClient backed by per-chain engines. It
// reuses stored decryption signatures and collapses concurrent signature
// requests for the same scope into one wallet prompt.
type Client struct {
	chains       map[uint64]ChainConfig
	store        SignatureStore
	durationDays int64
	promptTime   time.Duration
	now          func() time.Time

	prompts singleflight.Group
}

var _ mailbox.EncryptionClient = (*Client)(nil)

// NewClient creates a client from cfg.
func NewClient(cfg ClientConfig) *Client {
	chains := make(map[uint64]ChainConfig, len(cfg.Chains))
	for _, chain := range cfg.Chains {
		chains[chain.ChainID] = chain
	}

	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	durationDays := cfg.DurationDays
	if durationDays <= 0 {
		durationDays = DefaultDurationDays
	}

	promptTime := cfg.PromptTimeout
	if promptTime <= 0 {
		promptTime = DefaultPromptTimeout
	}

	return &Client{
		chains:       chains,
		store:        store,
		durationDays: durationDays,
		promptTime:   promptTime,
		now:          now,
	}
}

// Supports reports whether an engine is configured for chainID.
func (c *Client) Supports(chainID uint64) bool {
	_, ok := c.chains[chainID]
	return ok
}

func (c *Client) chain(chainID uint64) (ChainConfig, error) {
	chain, ok := c.chains[chainID]
	if !ok {
		return ChainConfig{}, fmt.Errorf("%w: no FHEVM instance for "+
			"chain %d", mailbox.ErrEncryptionUnavailable, chainID)
	}

	return chain, nil
}

// Encrypt implements mailbox.EncryptionClient.
func (c *Client) Encrypt(ctx context.Context,
	req mailbox.EncryptRequest) (mailbox.Ciphertext, error) {

	chain, err := c.chain(req.ChainID)
	if err != nil {
		return mailbox.Ciphertext{}, err
	}

	ct, err := chain.Engine.Encrypt(ctx, req)
	if err != nil {
		return mailbox.Ciphertext{}, err
	}

	log.TraceS(ctx, "Encrypted input", "chain_id", req.ChainID,
		"contract", req.Contract, "handle", ct.Handle)

	return ct, nil
}

// DecryptionSignature implements mailbox.EncryptionClient.
func (c *Client) DecryptionSignature(ctx context.Context,
	scope mailbox.SignatureScope,
	signer mailbox.Signer) (mailbox.Credential, error) {

	chain, err := c.chain(scope.ChainID)
	if err != nil {
		return nil, err
	}

	// The shared request outlives any single caller: each caller only
	// stops waiting when its own context ends.
	key := NewSignatureKey(scope)
	results := c.prompts.DoChan(key.String(), func() (any, error) {
		promptCtx, cancel := context.WithTimeout(
			context.WithoutCancel(ctx), c.promptTime,
		)
		defer cancel()

		return c.loadOrSign(promptCtx, chain, key, scope, signer)
	})

	var res singleflight.Result
	select {
	case res = <-results:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}

	if res.Shared {
		log.DebugS(ctx, "Shared decryption signature request",
			"key", key)
	}

	return res.Val.(*DecryptionSignature), nil
}

func (c *Client) loadOrSign(ctx context.Context, chain ChainConfig,
	key SignatureKey, scope mailbox.SignatureScope,
	signer mailbox.Signer) (*DecryptionSignature, error) {

	stored, err := c.store.LoadSignature(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load decryption signature: %w", err)
	}

	if stored.IsSome() {
		sig := stored.UnsafeFromSome()

		verifyErr := sig.Verify(chain.Verifier)
		if sig.IsValid(c.now()) && verifyErr == nil {
			log.DebugS(ctx, "Reusing decryption signature",
				"key", key, "expires_at", sig.ExpiresAt())

			return sig, nil
		}

		log.InfoS(ctx, "Discarding stored decryption signature",
			"key", key, "expired", !sig.IsValid(c.now()),
			"verify_err", verifyErr)

		if err := c.store.DeleteSignature(ctx, key); err != nil {
			return nil, fmt.Errorf("delete decryption "+
				"signature: %w", err)
		}
	}

	sig, err := NewDecryptionSignature(
		ctx, scope, signer, chain.Verifier, c.now(), c.durationDays,
	)
	if err != nil {
		return nil, err
	}

	if err := c.store.StoreSignature(ctx, sig); err != nil {
		return nil, fmt.Errorf("store decryption signature: %w", err)
	}

	log.InfoS(ctx, "Created decryption signature", "key", key,
		"expires_at", sig.ExpiresAt())

	return sig, nil
}

// UserDecrypt implements mailbox.EncryptionClient.
func (c *Client) UserDecrypt(ctx context.Context, cred mailbox.Credential,
	handle common.Hash, contract common.Address) (uint64, error) {

	sig, ok := cred.(*DecryptionSignature)
	if !ok {
		return 0, fmt.Errorf("%w: got %T", ErrInvalidCredential, cred)
	}

	if !sig.IsValid(c.now()) {
		return 0, fmt.Errorf("%w: expired at %s", ErrCredentialExpired,
			sig.ExpiresAt().Format(time.RFC3339))
	}

	if !sig.Covers(contract) {
		return 0, fmt.Errorf("%w: contract %s", ErrScopeMismatch,
			contract.Hex())
	}

	chain, err := c.chain(sig.ChainID)
	if err != nil {
		return 0, err
	}

	return chain.Engine.UserDecrypt(ctx, sig, handle, contract)
}

// PruneSignatures drops expired signatures from the store.
func (c *Client) PruneSignatures(ctx context.Context) (int64, error) {
	return c.store.PruneExpired(ctx, c.now())
}

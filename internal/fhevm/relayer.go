package fhevm

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/zamail/internal/mailbox"
	"golang.org/x/crypto/nacl/box"
)

const (
	// DefaultRelayerTimeout bounds the retries of a single relayer call.
	DefaultRelayerTimeout = 30 * time.Second

	keyPath         = "/v1/keyurl"
	inputProofPath  = "/v1/input-proof"
	userDecryptPath = "/v1/user-decrypt"

	// maxErrorBody caps how much of an error response is quoted.
	maxErrorBody = 4096
)

// RelayerConfig configures a RelayerEngine.
type RelayerConfig struct {
	// URL is the relayer base URL, e.g. https://relayer.testnet.zama.cloud.
	URL string

	// ChainID is the chain the relayer serves.
	ChainID uint64

	// RetryTimeout bounds retries of transient failures.
	RetryTimeout time.Duration

	// HTTPClient overrides http.DefaultClient.
	HTTPClient *http.Client
}

// RelayerEngine talks to an FHEVM relayer over HTTP. Inputs are sealed to the
// relayer's input key and user decryption results come back sealed to the
// keypair of the decryption signature.
type RelayerEngine struct {
	cfg    RelayerConfig
	client *http.Client

	mu       sync.Mutex
	inputKey fn.Option[[32]byte]
}

var _ Engine = (*RelayerEngine)(nil)

// NewRelayerEngine creates a relayer client.
func NewRelayerEngine(cfg RelayerConfig) *RelayerEngine {
	if cfg.RetryTimeout <= 0 {
		cfg.RetryTimeout = DefaultRelayerTimeout
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &RelayerEngine{
		cfg:    cfg,
		client: client,
	}
}

type relayerEnvelope[T any] struct {
	Response T      `json:"response"`
	Message  string `json:"message,omitempty"`
}

type keyResponse struct {
	InputKey string `json:"inputKey"`
}

type inputProofRequest struct {
	ContractAddress string `json:"contractAddress"`
	UserAddress     string `json:"userAddress"`
	ContractChainID string `json:"contractChainId"`
	Ciphertext      string `json:"ciphertextWithInputVerification"`
}

type inputProofResponse struct {
	Handles []string `json:"handles"`
	Proof   string   `json:"inputProof"`
}

type handleContractPair struct {
	Handle          string `json:"handle"`
	ContractAddress string `json:"contractAddress"`
}

type requestValidity struct {
	StartTimestamp string `json:"startTimestamp"`
	DurationDays   string `json:"durationDays"`
}

type userDecryptRequest struct {
	HandleContractPairs []handleContractPair `json:"handleContractPairs"`
	RequestValidity     requestValidity      `json:"requestValidity"`
	ContractsChainID    string               `json:"contractsChainId"`
	ContractAddresses   []string             `json:"contractAddresses"`
	UserAddress         string               `json:"userAddress"`
	Signature           string               `json:"signature"`
	PublicKey           string               `json:"publicKey"`
}

type userDecryptShare struct {
	Payload string `json:"payload"`
}

// Encrypt implements Engine.
func (r *RelayerEngine) Encrypt(ctx context.Context,
	req mailbox.EncryptRequest) (mailbox.Ciphertext, error) {

	if req.ChainID != r.cfg.ChainID {
		return mailbox.Ciphertext{}, fmt.Errorf("%w: relayer serves "+
			"chain %d, got %d", mailbox.ErrEncryptionUnavailable,
			r.cfg.ChainID, req.ChainID)
	}

	key, err := r.fetchInputKey(ctx)
	if err != nil {
		return mailbox.Ciphertext{}, err
	}

	var clear [8]byte
	binary.BigEndian.PutUint64(clear[:], req.Value)

	sealed, err := box.SealAnonymous(nil, clear[:], &key, rand.Reader)
	if err != nil {
		return mailbox.Ciphertext{}, fmt.Errorf("seal input: %w", err)
	}

	var resp relayerEnvelope[inputProofResponse]
	err = r.postJSON(ctx, inputProofPath, inputProofRequest{
		ContractAddress: req.Contract.Hex(),
		UserAddress:     req.User.Hex(),
		ContractChainID: strconv.FormatUint(req.ChainID, 10),
		Ciphertext:      hexutil.Encode(sealed),
	}, &resp)
	if err != nil {
		return mailbox.Ciphertext{}, err
	}

	if len(resp.Response.Handles) != 1 {
		return mailbox.Ciphertext{}, fmt.Errorf("%w: expected one "+
			"handle, got %d", ErrMalformedResponse,
			len(resp.Response.Handles))
	}

	handle, err := hexutil.Decode(resp.Response.Handles[0])
	if err != nil || len(handle) != common.HashLength {
		return mailbox.Ciphertext{}, fmt.Errorf("%w: bad handle %q",
			ErrMalformedResponse, resp.Response.Handles[0])
	}

	proof, err := hexutil.Decode(resp.Response.Proof)
	if err != nil {
		return mailbox.Ciphertext{}, fmt.Errorf("%w: bad input "+
			"proof: %v", ErrMalformedResponse, err)
	}

	return mailbox.Ciphertext{
		Handle:     common.BytesToHash(handle),
		InputProof: proof,
	}, nil
}

// UserDecrypt implements Engine.
func (r *RelayerEngine) UserDecrypt(ctx context.Context,
	sig *DecryptionSignature, handle common.Hash,
	contract common.Address) (uint64, error) {

	contracts := make([]string, len(sig.Contracts))
	for i, c := range sig.Contracts {
		contracts[i] = c.Hex()
	}

	var resp relayerEnvelope[[]userDecryptShare]
	err := r.postJSON(ctx, userDecryptPath, userDecryptRequest{
		HandleContractPairs: []handleContractPair{{
			Handle:          handle.Hex(),
			ContractAddress: contract.Hex(),
		}},
		RequestValidity: requestValidity{
			StartTimestamp: strconv.FormatInt(
				sig.StartTimestamp, 10,
			),
			DurationDays: strconv.FormatInt(sig.DurationDays, 10),
		},
		ContractsChainID:  strconv.FormatUint(sig.ChainID, 10),
		ContractAddresses: contracts,
		UserAddress:       sig.UserAddress.Hex(),
		Signature: strings.TrimPrefix(
			hexutil.Encode(sig.Signature), "0x",
		),
		PublicKey: hexutil.Encode(sig.PublicKey[:]),
	}, &resp)
	if err != nil {
		return 0, err
	}

	if len(resp.Response) != 1 {
		return 0, fmt.Errorf("%w: expected one share, got %d",
			ErrMalformedResponse, len(resp.Response))
	}

	payload, err := hexutil.Decode(resp.Response[0].Payload)
	if err != nil {
		return 0, fmt.Errorf("%w: bad payload: %v",
			ErrMalformedResponse, err)
	}

	clear, ok := box.OpenAnonymous(
		nil, payload, &sig.PublicKey, &sig.PrivateKey,
	)
	if !ok {
		return 0, fmt.Errorf("%w: payload not sealed to this "+
			"credential", ErrMalformedResponse)
	}

	return decodeClearValue(clear)
}

// decodeClearValue reads a big-endian unsigned value of at most 32 bytes
// that must fit in 64 bits.
func decodeClearValue(b []byte) (uint64, error) {
	if len(b) == 0 || len(b) > 32 {
		return 0, fmt.Errorf("%w: clear value is %d bytes",
			ErrMalformedResponse, len(b))
	}

	if len(b) > 8 {
		if !bytes.Equal(b[:len(b)-8], make([]byte, len(b)-8)) {
			return 0, fmt.Errorf("%w: clear value exceeds 64 bits",
				ErrMalformedResponse)
		}
		b = b[len(b)-8:]
	}

	var padded [8]byte
	copy(padded[8-len(b):], b)

	return binary.BigEndian.Uint64(padded[:]), nil
}

// fetchInputKey returns the relayer input key, fetching it on first use.
func (r *RelayerEngine) fetchInputKey(ctx context.Context) ([32]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inputKey.IsSome() {
		return r.inputKey.UnsafeFromSome(), nil
	}

	var resp relayerEnvelope[keyResponse]
	if err := r.do(ctx, http.MethodGet, keyPath, nil, &resp); err != nil {
		return [32]byte{}, fmt.Errorf("%w: fetch input key: %w",
			mailbox.ErrEncryptionUnavailable, err)
	}

	raw, err := hexutil.Decode(resp.Response.InputKey)
	if err != nil || len(raw) != 32 {
		return [32]byte{}, fmt.Errorf("%w: %w: bad input key",
			mailbox.ErrEncryptionUnavailable, ErrMalformedResponse)
	}

	var key [32]byte
	copy(key[:], raw)
	r.inputKey = fn.Some(key)

	log.DebugS(ctx, "Fetched relayer input key", "url", r.cfg.URL)

	return key, nil
}

func (r *RelayerEngine) postJSON(ctx context.Context, path string,
	body, out any) error {

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}

	return r.do(ctx, http.MethodPost, path, payload, out)
}

// do performs one relayer call, retrying network errors and 5xx responses
// with exponential backoff.
func (r *RelayerEngine) do(ctx context.Context, method, path string,
	payload []byte, out any) error {

	operation := func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(
			ctx, method, r.cfg.URL+path, body,
		)
		if err != nil {
			return backoff.Permanent(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := r.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %s %s: %w", mailbox.ErrRPC,
				method, path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(
				resp.Body, maxErrorBody,
			))
			err := fmt.Errorf("%w: %s %s: status %d: %s",
				mailbox.ErrRPC, method, path, resp.StatusCode,
				strings.TrimSpace(string(msg)))

			if resp.StatusCode < http.StatusInternalServerError {
				return backoff.Permanent(err)
			}

			return err
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: decode %s: %v",
				ErrMalformedResponse, path, err))
		}

		return nil
	}

	policy := backoff.WithContext(
		backoff.NewExponentialBackOff(
			backoff.WithMaxElapsedTime(r.cfg.RetryTimeout),
		), ctx,
	)

	notify := func(err error, wait time.Duration) {
		log.WarnS(ctx, "Relayer call failed, retrying", err,
			"path", path, "wait", wait)
	}

	err := backoff.RetryNotify(operation, policy, notify)
	if err != nil && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}

	return err
}

package fhevm

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/roasbeef/zamail/internal/mailbox"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/nacl/box"
)

// fakeRelayer opens sealed inputs with its own key, remembers the clear value
// per handle and seals it back to the requester on user decryption.
type fakeRelayer struct {
	t *testing.T

	pub  *[32]byte
	priv *[32]byte

	mu     sync.Mutex
	values map[common.Hash]uint64

	// failures is the number of 503 answers before serving requests.
	failures atomic.Int32
	calls    atomic.Int32
}

func newFakeRelayer(t *testing.T) (*fakeRelayer, *httptest.Server) {
	t.Helper()

	pub, priv, err := box.GenerateKey(rand.Reader)
	require.NoError(t, err)

	f := &fakeRelayer{
		t:      t,
		pub:    pub,
		priv:   priv,
		values: make(map[common.Hash]uint64),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+keyPath, f.handleKey)
	mux.HandleFunc("POST "+inputProofPath, f.handleInput)
	mux.HandleFunc("POST "+userDecryptPath, f.handleDecrypt)

	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			f.calls.Add(1)
			if f.failures.Load() > 0 {
				f.failures.Add(-1)
				http.Error(w, "warming up",
					http.StatusServiceUnavailable)
				return
			}
			mux.ServeHTTP(w, r)
		},
	))
	t.Cleanup(srv.Close)

	return f, srv
}

func (f *fakeRelayer) reply(w http.ResponseWriter, resp any) {
	w.Header().Set("Content-Type", "application/json")
	require.NoError(f.t, json.NewEncoder(w).Encode(map[string]any{
		"response": resp,
	}))
}

func (f *fakeRelayer) handleKey(w http.ResponseWriter, _ *http.Request) {
	f.reply(w, keyResponse{InputKey: hexutil.Encode(f.pub[:])})
}

func (f *fakeRelayer) handleInput(w http.ResponseWriter, r *http.Request) {
	var req inputProofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sealed, err := hexutil.Decode(req.Ciphertext)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	clear, ok := box.OpenAnonymous(nil, sealed, f.pub, f.priv)
	if !ok || len(clear) != 8 {
		http.Error(w, "bad ciphertext", http.StatusBadRequest)
		return
	}

	handle := crypto.Keccak256Hash(sealed)

	f.mu.Lock()
	f.values[handle] = binary.BigEndian.Uint64(clear)
	f.mu.Unlock()

	f.reply(w, inputProofResponse{
		Handles: []string{handle.Hex()},
		Proof:   "0x01",
	})
}

func (f *fakeRelayer) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	var req userDecryptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if len(req.Signature) != 130 {
		http.Error(w, "bad signature", http.StatusUnauthorized)
		return
	}

	rawKey, err := hexutil.Decode(req.PublicKey)
	if err != nil || len(rawKey) != 32 {
		http.Error(w, "bad public key", http.StatusBadRequest)
		return
	}
	var userKey [32]byte
	copy(userKey[:], rawKey)

	handle := common.HexToHash(req.HandleContractPairs[0].Handle)

	f.mu.Lock()
	value, ok := f.values[handle]
	f.mu.Unlock()
	if !ok {
		http.Error(w, "unknown handle", http.StatusNotFound)
		return
	}

	// Answer with a 32 byte word like the on-chain euint64 encoding.
	var clear [32]byte
	binary.BigEndian.PutUint64(clear[24:], value)

	sealed, err := box.SealAnonymous(nil, clear[:], &userKey, rand.Reader)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	f.reply(w, []userDecryptShare{{Payload: hexutil.Encode(sealed)}})
}

func relayerClient(srv *httptest.Server) *Client {
	return NewClient(ClientConfig{
		Chains: []ChainConfig{{
			ChainID: testChainID,
			Engine: NewRelayerEngine(RelayerConfig{
				URL:          srv.URL + "/",
				ChainID:      testChainID,
				RetryTimeout: 5 * time.Second,
				HTTPClient:   srv.Client(),
			}),
			Verifier: testVerifier,
		}},
	})
}

// TestRelayerRoundTrip encrypts through the relayer and decrypts the sealed
// answer with the signature keypair.
func TestRelayerRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, srv := newFakeRelayer(t)
	signer := newTestSigner(t)
	client := relayerClient(srv)

	value, err := mailbox.EncodeText("gm fren")
	require.NoError(t, err)

	ct, err := client.Encrypt(ctx, mailbox.EncryptRequest{
		ChainID:  testChainID,
		Contract: testContract,
		User:     signer.Address(),
		Value:    value,
	})
	require.NoError(t, err)
	require.Equal(t, []byte{0x01}, ct.InputProof)

	cred, err := client.DecryptionSignature(
		ctx, signer.scope(testContract), signer,
	)
	require.NoError(t, err)

	got, err := client.UserDecrypt(ctx, cred, ct.Handle, testContract)
	require.NoError(t, err)
	require.Equal(t, "gm fren", mailbox.DecodeText(got))
}

// TestRelayerRetriesUnavailable checks 5xx answers are retried.
func TestRelayerRetriesUnavailable(t *testing.T) {
	t.Parallel()

	relayer, srv := newFakeRelayer(t)
	relayer.failures.Store(2)
	client := relayerClient(srv)

	_, err := client.Encrypt(context.Background(), mailbox.EncryptRequest{
		ChainID:  testChainID,
		Contract: testContract,
		Value:    42,
	})
	require.NoError(t, err)

	// Two failed key fetches, one key fetch, one input proof.
	require.EqualValues(t, 4, relayer.calls.Load())
}

// TestRelayerClientErrorNotRetried checks 4xx answers surface as RPC errors
// without retries.
func TestRelayerClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	relayer, srv := newFakeRelayer(t)
	signer := newTestSigner(t)
	client := relayerClient(srv)
	ctx := context.Background()

	cred, err := client.DecryptionSignature(
		ctx, signer.scope(testContract), signer,
	)
	require.NoError(t, err)

	_, err = client.UserDecrypt(
		ctx, cred, common.HexToHash("0xdead"), testContract,
	)
	require.ErrorIs(t, err, mailbox.ErrRPC)
	require.Contains(t, err.Error(), "unknown handle")
	require.EqualValues(t, 1, relayer.calls.Load())
}

// TestDecodeClearValue checks the accepted clear value widths.
func TestDecodeClearValue(t *testing.T) {
	t.Parallel()

	v, err := decodeClearValue([]byte{0x01, 0x02})
	require.NoError(t, err)
	require.EqualValues(t, 0x0102, v)

	word := make([]byte, 32)
	word[31] = 7
	v, err = decodeClearValue(word)
	require.NoError(t, err)
	require.EqualValues(t, 7, v)

	word[0] = 1
	_, err = decodeClearValue(word)
	require.ErrorIs(t, err, ErrMalformedResponse)

	_, err = decodeClearValue(nil)
	require.ErrorIs(t, err, ErrMalformedResponse)
}

package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/roasbeef/zamail/internal/mailbox"
	"github.com/stretchr/testify/require"
)

var (
	testContract = common.HexToAddress(
		"0x5FbDB2315678afecb367f032d93F642f64180aa3",
	)
	bob = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

// fakeBackend answers ZaMail calls from in-memory state.
type fakeBackend struct {
	mu sync.Mutex

	chainID  int64
	code     []byte
	sent     []*big.Int
	received []*big.Int
	contents map[uint64]common.Hash

	// receiptMisses is how many polls return NotFound before the
	// receipt.
	receiptMisses int
	reverted      bool
	nextID        int64
	sendErr       error

	txs []*types.Transaction
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID:  31337,
		code:     []byte{0x60, 0x80},
		contents: make(map[uint64]common.Hash),
		nextID:   42,
	}
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return big.NewInt(f.chainID), nil
}

func (f *fakeBackend) CodeAt(_ context.Context, account common.Address,
	_ *big.Int) ([]byte, error) {

	if account != testContract {
		return nil, nil
	}

	return f.code, nil
}

func (f *fakeBackend) CallContract(_ context.Context, call ethereum.CallMsg,
	_ *big.Int) ([]byte, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	parsed := ZaMailABI()
	method, err := parsed.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}

	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case methodSent:
		return method.Outputs.Pack(f.sent)

	case methodReceived:
		return method.Outputs.Pack(f.received)

	case methodContent:
		id := args[0].(*big.Int).Uint64()
		return method.Outputs.Pack([32]byte(f.contents[id]))

	default:
		return nil, errors.New("unexpected call " + method.Name)
	}
}

func (f *fakeBackend) PendingNonceAt(context.Context,
	common.Address) (uint64, error) {

	return 3, nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) HeaderByNumber(context.Context,
	*big.Int) (*types.Header, error) {

	return &types.Header{BaseFee: big.NewInt(10_000_000_000)}, nil
}

func (f *fakeBackend) EstimateGas(context.Context,
	ethereum.CallMsg) (uint64, error) {

	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context,
	tx *types.Transaction) error {

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sendErr != nil {
		return f.sendErr
	}
	f.txs = append(f.txs, tx)

	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context,
	hash common.Hash) (*types.Receipt, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.receiptMisses > 0 {
		f.receiptMisses--
		return nil, ethereum.NotFound
	}

	status := types.ReceiptStatusSuccessful
	if f.reverted {
		status = types.ReceiptStatusFailed
	}

	event := ZaMailABI().Events[eventMessageSent]
	tx := f.txs[len(f.txs)-1]

	return &types.Receipt{
		Status:      status,
		TxHash:      hash,
		BlockNumber: big.NewInt(7),
		GasUsed:     90_000,
		Logs: []*types.Log{{
			Address: testContract,
			Topics: []common.Hash{
				event.ID,
				common.BigToHash(big.NewInt(f.nextID)),
				common.BytesToHash(tx.To().Bytes()),
			},
		}},
	}, nil
}

func newTestClient(backend Backend) *Client {
	return NewClient(backend, ClientConfig{
		ReceiptTimeout: 5 * time.Second,
		PollInterval:   time.Millisecond,
	})
}

func newKeySigner(t *testing.T) *KeySigner {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	return NewKeySigner(key)
}

// TestIsDeployed checks deployment is detected from contract code.
func TestIsDeployed(t *testing.T) {
	t.Parallel()

	client := newTestClient(newFakeBackend())
	ctx := context.Background()

	deployed, err := client.IsDeployed(ctx, testContract)
	require.NoError(t, err)
	require.True(t, deployed)

	deployed, err = client.IsDeployed(ctx, bob)
	require.NoError(t, err)
	require.False(t, deployed)
}

// TestQueryAndContent checks id lists and content handles are decoded.
func TestQueryAndContent(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.sent = []*big.Int{big.NewInt(1), big.NewInt(5)}
	backend.received = []*big.Int{big.NewInt(2)}
	backend.contents[5] = common.HexToHash("0xfeed")

	client := newTestClient(backend)
	ctx := context.Background()

	box, err := client.Query(ctx, testContract, bob)
	require.NoError(t, err)
	require.Equal(t, []mailbox.MessageID{1, 5}, box.Sent)
	require.Equal(t, []mailbox.MessageID{2}, box.Received)

	handle, err := client.MessageContent(ctx, testContract, 5)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0xfeed"), handle)
}

// TestQueryRejectsWideIDs checks ids beyond 64 bits are refused.
func TestQueryRejectsWideIDs(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.received = []*big.Int{new(big.Int).Lsh(big.NewInt(1), 64)}

	_, err := newTestClient(backend).Query(
		context.Background(), testContract, bob,
	)
	require.ErrorIs(t, err, mailbox.ErrRPC)
}

// TestSendMessage submits a message and reads the id from the receipt.
func TestSendMessage(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.receiptMisses = 2
	signer := newKeySigner(t)
	client := newTestClient(backend)

	ct := mailbox.Ciphertext{
		Handle:     common.HexToHash("0xabc"),
		InputProof: []byte{0x01, 0x02},
	}
	receipt, err := client.SendMessage(
		context.Background(), signer, testContract, bob, ct,
	)
	require.NoError(t, err)
	require.EqualValues(t, 7, receipt.BlockNumber)
	require.Equal(t, mailbox.MessageID(42),
		receipt.MessageID.UnwrapOr(0))

	require.Len(t, backend.txs, 1)
	tx := backend.txs[0]
	require.Equal(t, testContract, *tx.To())
	require.EqualValues(t, 3, tx.Nonce())
	require.EqualValues(t, 120_000, tx.Gas())
	require.Zero(t, tx.GasFeeCap().Cmp(big.NewInt(21_000_000_000)))

	sender, err := types.Sender(
		types.LatestSignerForChainID(big.NewInt(31337)), tx,
	)
	require.NoError(t, err)
	require.Equal(t, signer.Address(), sender)

	method := ZaMailABI().Methods[methodSend]
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	require.Equal(t, bob, args[0])
	require.Equal(t, [32]byte(ct.Handle), args[1])
	require.Equal(t, ct.InputProof, args[2])
}

// TestSendMessageReverted checks failed receipts surface as RPC errors.
func TestSendMessageReverted(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.reverted = true

	_, err := newTestClient(backend).SendMessage(
		context.Background(), newKeySigner(t), testContract, bob,
		mailbox.Ciphertext{},
	)
	require.ErrorIs(t, err, mailbox.ErrRPC)
	require.Contains(t, err.Error(), "reverted")
}

type codedError struct{ code int }

func (e codedError) Error() string  { return "request rejected" }
func (e codedError) ErrorCode() int { return e.code }

// TestSendMessageRejected checks both a declined prompt and a wallet
// rejection code map to ErrUserRejected.
func TestSendMessageRejected(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	declined := NewPromptSigner(newKeySigner(t), ConfirmFunc(
		func(context.Context, Prompt) (bool, error) {
			return false, nil
		},
	))

	_, err := newTestClient(backend).SendMessage(
		context.Background(), declined, testContract, bob,
		mailbox.Ciphertext{},
	)
	require.ErrorIs(t, err, mailbox.ErrUserRejected)
	require.Empty(t, backend.txs)

	backend.sendErr = codedError{code: userRejectedCode}
	_, err = newTestClient(backend).SendMessage(
		context.Background(), newKeySigner(t), testContract, bob,
		mailbox.Ciphertext{},
	)
	require.ErrorIs(t, err, mailbox.ErrUserRejected)
	require.Equal(t, mailbox.KindUserRejected, mailbox.Classify(err))
}

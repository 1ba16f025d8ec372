package mailbox

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	testContract = common.HexToAddress(
		"0x5FbDB2315678afecb367f032d93F642f64180aa3",
	)
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

const testChainID = 31337

// gate blocks a fake call until released. A nil gate never blocks.
type gate chan struct{}

func (g gate) wait(ctx context.Context) error {
	if g == nil {
		return nil
	}

	select {
	case <-g:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type fakeSigner struct {
	addr common.Address
}

func (s fakeSigner) Address() common.Address { return s.addr }

func (s fakeSigner) SignTx(context.Context, *types.Transaction,
	*big.Int) (*types.Transaction, error) {

	return nil, errors.New("not implemented")
}

func (s fakeSigner) SignTypedData(context.Context,
	apitypes.TypedData) ([]byte, error) {

	return nil, errors.New("not implemented")
}

func session(addr common.Address) Session {
	return Session{
		Address: addr,
		ChainID: testChainID,
		Signer:  fakeSigner{addr: addr},
	}
}

// fakeChain is an in-memory mailbox contract.
type fakeChain struct {
	mu        sync.Mutex
	deployed  bool
	deployErr error
	nextID    MessageID
	sent      map[common.Address][]MessageID
	received  map[common.Address][]MessageID
	handles   map[MessageID]common.Hash
	sendGate  gate
	queryGate gate

	sendCalls    atomic.Int32
	queryCalls   atomic.Int32
	contentCalls atomic.Int32
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		deployed: true,
		nextID:   1,
		sent:     make(map[common.Address][]MessageID),
		received: make(map[common.Address][]MessageID),
		handles:  make(map[MessageID]common.Hash),
	}
}

// deliver stores a message as if it had been mined.
func (f *fakeChain) deliver(from, to common.Address,
	handle common.Hash) MessageID {

	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	f.sent[from] = append(f.sent[from], id)
	f.received[to] = append(f.received[to], id)
	f.handles[id] = handle

	return id
}

func (f *fakeChain) IsDeployed(context.Context, common.Address) (bool,
	error) {

	return f.deployed, f.deployErr
}

func (f *fakeChain) SendMessage(ctx context.Context, signer Signer,
	_ common.Address, to common.Address, ct Ciphertext) (*Receipt, error) {

	f.sendCalls.Add(1)
	if err := f.sendGate.wait(ctx); err != nil {
		return nil, err
	}

	id := f.deliver(signer.Address(), to, ct.Handle)

	return &Receipt{
		TxHash:    common.BigToHash(new(big.Int).SetUint64(uint64(id))),
		MessageID: fn.Some(id),
	}, nil
}

func (f *fakeChain) Query(ctx context.Context, _ common.Address,
	owner common.Address) (*Mailbox, error) {

	f.queryCalls.Add(1)
	if err := f.queryGate.wait(ctx); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return &Mailbox{
		Sent:     slices.Clone(f.sent[owner]),
		Received: slices.Clone(f.received[owner]),
	}, nil
}

func (f *fakeChain) MessageContent(_ context.Context, _ common.Address,
	id MessageID) (common.Hash, error) {

	f.contentCalls.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()

	h, ok := f.handles[id]
	if !ok {
		return common.Hash{}, fmt.Errorf("%w: unknown message %d",
			ErrRPC, id)
	}

	return h, nil
}

type fakeCredential struct {
	user    common.Address
	expires time.Time
}

func (c fakeCredential) User() common.Address  { return c.user }
func (c fakeCredential) ExpiresAt() time.Time { return c.expires }

// fakeEncryption keeps plaintexts by handle instead of encrypting.
type fakeEncryption struct {
	mu          sync.Mutex
	plaintexts  map[common.Hash]uint64
	counter     uint64
	encryptGate gate
	decryptGate gate
	sigErr      error
	encryptErr  error

	// unsupported chains make Supports report false.
	unsupported map[uint64]bool

	encryptCalls   atomic.Int32
	signatureCalls atomic.Int32
	decryptCalls   atomic.Int32
}

func newFakeEncryption() *fakeEncryption {
	return &fakeEncryption{plaintexts: make(map[common.Hash]uint64)}
}

// seal registers value and returns its handle.
func (f *fakeEncryption) seal(value uint64) common.Hash {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.counter++

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], f.counter)
	binary.BigEndian.PutUint64(buf[8:], value)
	h := crypto.Keccak256Hash(buf[:])
	f.plaintexts[h] = value

	return h
}

func (f *fakeEncryption) Encrypt(ctx context.Context,
	req EncryptRequest) (Ciphertext, error) {

	f.encryptCalls.Add(1)
	if err := f.encryptGate.wait(ctx); err != nil {
		return Ciphertext{}, err
	}
	if f.encryptErr != nil {
		return Ciphertext{}, f.encryptErr
	}

	return Ciphertext{Handle: f.seal(req.Value), InputProof: []byte{1}},
		nil
}

func (f *fakeEncryption) DecryptionSignature(_ context.Context,
	scope SignatureScope, _ Signer) (Credential, error) {

	f.signatureCalls.Add(1)
	if f.sigErr != nil {
		return nil, f.sigErr
	}

	return fakeCredential{
		user:    scope.User,
		expires: time.Now().Add(24 * time.Hour),
	}, nil
}

func (f *fakeEncryption) UserDecrypt(ctx context.Context, _ Credential,
	handle common.Hash, _ common.Address) (uint64, error) {

	f.decryptCalls.Add(1)
	if err := f.decryptGate.wait(ctx); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.plaintexts[handle]
	if !ok {
		return 0, fmt.Errorf("%w: unknown handle", ErrRPC)
	}

	return v, nil
}

func (f *fakeEncryption) Supports(chainID uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return !f.unsupported[chainID]
}

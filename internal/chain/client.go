package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/zamail/internal/mailbox"
)

const (
	// DefaultReceiptTimeout bounds how long a send waits to be mined.
	DefaultReceiptTimeout = 2 * time.Minute

	// DefaultPollInterval is the first receipt poll interval.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultGasMarginPercent is added on top of the gas estimate.
	DefaultGasMarginPercent = 20

	// userRejectedCode is the EIP-1193 error code of a declined request.
	userRejectedCode = 4001
)

// Backend is the subset of ethclient.Client the mailbox client needs.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address,
		blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg,
		blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context,
		account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context,
		number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context,
		txHash common.Hash) (*types.Receipt, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Dial connects to the JSON-RPC endpoint at url.
func Dial(ctx context.Context, url string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", mailbox.ErrRPC, url,
			err)
	}

	return client, nil
}

// ClientConfig tunes a Client.
type ClientConfig struct {
	ReceiptTimeout   time.Duration
	PollInterval     time.Duration
	GasMarginPercent uint64
}

// Client is the go-ethereum backed mailbox.ChainClient.
type Client struct {
	backend Backend
	cfg     ClientConfig
}

var _ mailbox.ChainClient = (*Client)(nil)

// NewClient creates a client over backend.
func NewClient(backend Backend, cfg ClientConfig) *Client {
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = DefaultReceiptTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.GasMarginPercent == 0 {
		cfg.GasMarginPercent = DefaultGasMarginPercent
	}

	return &Client{
		backend: backend,
		cfg:     cfg,
	}
}

// rpcErr classifies err from the step op.
func rpcErr(op string, err error) error {
	var coded interface{ ErrorCode() int }

	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):

		return fmt.Errorf("%s: %w", op, err)

	case errors.Is(err, mailbox.ErrUserRejected):
		return fmt.Errorf("%s: %w", op, err)

	case errors.As(err, &coded) && coded.ErrorCode() == userRejectedCode:
		return fmt.Errorf("%s: %w: %v", op, mailbox.ErrUserRejected, err)

	default:
		return fmt.Errorf("%w: %s: %w", mailbox.ErrRPC, op, err)
	}
}

// ChainID returns the chain id of the backend.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return 0, rpcErr("chain id", err)
	}

	if !id.IsUint64() {
		return 0, fmt.Errorf("%w: chain id %s exceeds 64 bits",
			mailbox.ErrRPC, id)
	}

	return id.Uint64(), nil
}

// IsDeployed implements mailbox.ChainClient.
func (c *Client) IsDeployed(ctx context.Context,
	contract common.Address) (bool, error) {

	code, err := c.backend.CodeAt(ctx, contract, nil)
	if err != nil {
		return false, rpcErr("read contract code", err)
	}

	return len(code) > 0, nil
}

// SendMessage implements mailbox.ChainClient.
func (c *Client) SendMessage(ctx context.Context, signer mailbox.Signer,
	contract common.Address, to common.Address,
	ct mailbox.Ciphertext) (*mailbox.Receipt, error) {

	data, err := ZaMailABI().Pack(
		methodSend, to, [32]byte(ct.Handle), ct.InputProof,
	)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", methodSend, err)
	}

	tx, chainID, err := c.buildTx(ctx, signer.Address(), contract, data)
	if err != nil {
		return nil, err
	}

	signed, err := signer.SignTx(ctx, tx, chainID)
	if err != nil {
		return nil, rpcErr("sign transaction", err)
	}

	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, rpcErr("send transaction", err)
	}

	log.InfoS(ctx, "Submitted message", "tx", signed.Hash(),
		"to", to, "nonce", signed.Nonce())

	receipt, err := c.waitMined(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: transaction %s reverted in block "+
			"%d", mailbox.ErrRPC, signed.Hash(), receipt.BlockNumber)
	}

	id, err := sentMessageID(receipt, contract)
	if err != nil {
		return nil, err
	}

	return &mailbox.Receipt{
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		MessageID:   id,
	}, nil
}

// buildTx prepares an unsigned dynamic fee transaction calling contract.
func (c *Client) buildTx(ctx context.Context, from, contract common.Address,
	data []byte) (*types.Transaction, *big.Int, error) {

	chainID, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, nil, rpcErr("chain id", err)
	}

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, nil, rpcErr("pending nonce", err)
	}

	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, rpcErr("suggest gas tip", err)
	}

	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, rpcErr("latest header", err)
	}

	// Leave room for two full blocks of base fee growth.
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      from,
		To:        &contract,
		GasFeeCap: feeCap,
		GasTipCap: tip,
		Data:      data,
	})
	if err != nil {
		return nil, nil, rpcErr("estimate gas", err)
	}
	gas += gas * c.cfg.GasMarginPercent / 100

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &contract,
		Data:      data,
	})

	return tx, chainID, nil
}

// waitMined polls for the receipt of hash with exponential backoff.
func (c *Client) waitMined(ctx context.Context,
	hash common.Hash) (*types.Receipt, error) {

	var receipt *types.Receipt
	poll := func() error {
		r, err := c.backend.TransactionReceipt(ctx, hash)
		if err != nil {
			return err
		}
		receipt = r

		return nil
	}

	policy := backoff.WithContext(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(c.cfg.PollInterval),
			backoff.WithMaxInterval(5*time.Second),
			backoff.WithMaxElapsedTime(c.cfg.ReceiptTimeout),
		), ctx,
	)

	notify := func(err error, wait time.Duration) {
		if !errors.Is(err, ethereum.NotFound) {
			log.WarnS(ctx, "Receipt poll failed", err, "tx", hash,
				"wait", wait)
		}
	}

	err := backoff.RetryNotify(poll, policy, notify)
	switch {
	case err == nil:
		return receipt, nil

	case ctx.Err() != nil:
		return nil, fmt.Errorf("wait for %s: %w", hash, ctx.Err())

	case errors.Is(err, ethereum.NotFound):
		return nil, fmt.Errorf("%w: transaction %s not mined after %s",
			mailbox.ErrRPC, hash, c.cfg.ReceiptTimeout)

	default:
		return nil, rpcErr("transaction receipt", err)
	}
}

// sentMessageID extracts the id from the MessageSent log of contract.
func sentMessageID(receipt *types.Receipt,
	contract common.Address) (fn.Option[mailbox.MessageID], error) {

	event := ZaMailABI().Events[eventMessageSent]
	for _, l := range receipt.Logs {
		if l.Address != contract || len(l.Topics) < 2 ||
			l.Topics[0] != event.ID {

			continue
		}

		id, err := toMessageID(new(big.Int).SetBytes(l.Topics[1][:]))
		if err != nil {
			return fn.None[mailbox.MessageID](), err
		}

		return fn.Some(id), nil
	}

	return fn.None[mailbox.MessageID](), nil
}

// toMessageID narrows an on-chain uint256 id.
func toMessageID(v *big.Int) (mailbox.MessageID, error) {
	u, overflow := uint256.FromBig(v)
	if overflow || !u.IsUint64() {
		return 0, fmt.Errorf("%w: message id %s exceeds 64 bits",
			mailbox.ErrRPC, v)
	}

	return mailbox.MessageID(u.Uint64()), nil
}

// call runs a view method and returns its single output.
func (c *Client) call(ctx context.Context, contract common.Address,
	method string, args ...any) (any, error) {

	data, err := ZaMailABI().Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{
		To:   &contract,
		Data: data,
	}, nil)
	if err != nil {
		return nil, rpcErr(method, err)
	}

	values, err := ZaMailABI().Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %w", mailbox.ErrRPC,
			method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%w: %s returned %d values",
			mailbox.ErrRPC, method, len(values))
	}

	return values[0], nil
}

func (c *Client) messageIDs(ctx context.Context, contract common.Address,
	method string, owner common.Address) ([]mailbox.MessageID, error) {

	value, err := c.call(ctx, contract, method, owner)
	if err != nil {
		return nil, err
	}

	raw, ok := value.([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: %s returned %T", mailbox.ErrRPC,
			method, value)
	}

	ids := make([]mailbox.MessageID, 0, len(raw))
	for _, v := range raw {
		id, err := toMessageID(v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// Query implements mailbox.ChainClient.
func (c *Client) Query(ctx context.Context, contract common.Address,
	owner common.Address) (*mailbox.Mailbox, error) {

	sent, err := c.messageIDs(ctx, contract, methodSent, owner)
	if err != nil {
		return nil, err
	}

	received, err := c.messageIDs(ctx, contract, methodReceived, owner)
	if err != nil {
		return nil, err
	}

	return &mailbox.Mailbox{
		Sent:     sent,
		Received: received,
	}, nil
}

// MessageContent implements mailbox.ChainClient.
func (c *Client) MessageContent(ctx context.Context, contract common.Address,
	id mailbox.MessageID) (common.Hash, error) {

	value, err := c.call(
		ctx, contract, methodContent, new(big.Int).SetUint64(uint64(id)),
	)
	if err != nil {
		return common.Hash{}, err
	}

	handle, ok := value.([32]byte)
	if !ok {
		return common.Hash{}, fmt.Errorf("%w: %s returned %T",
			mailbox.ErrRPC, methodContent, value)
	}

	return common.Hash(handle), nil
}

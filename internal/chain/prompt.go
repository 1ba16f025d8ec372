package chain

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/roasbeef/zamail/internal/mailbox"
)

// PromptKind distinguishes what the user is asked to sign.
type PromptKind uint8

const (
	PromptTransaction PromptKind = iota
	PromptTypedData
)

// Prompt describes a pending signature for confirmation.
type Prompt struct {
	Kind    PromptKind
	Account common.Address
	Summary string
}

// Confirmer asks the user to approve a prompt.
type Confirmer interface {
	Confirm(ctx context.Context, p Prompt) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, p Prompt) (bool, error)

// Confirm implements Confirmer.
func (f ConfirmFunc) Confirm(ctx context.Context, p Prompt) (bool, error) {
	return f(ctx, p)
}

// PromptSigner asks for confirmation before every signature. A refused
// transaction yields mailbox.ErrUserRejected and a refused typed data
// request mailbox.ErrUserRejectedSignature.
type PromptSigner struct {
	mailbox.Signer

	confirm Confirmer
}

// NewPromptSigner wraps signer.
func NewPromptSigner(signer mailbox.Signer, confirm Confirmer) *PromptSigner {
	return &PromptSigner{
		Signer:  signer,
		confirm: confirm,
	}
}

func (p *PromptSigner) ask(ctx context.Context, prompt Prompt,
	rejected error) error {

	ok, err := p.confirm.Confirm(ctx, prompt)
	switch {
	case err != nil:
		return fmt.Errorf("confirm signature: %w", err)

	case !ok:
		log.InfoS(ctx, "User declined signature", "summary",
			prompt.Summary)

		return rejected
	}

	return nil
}

// SignTx implements mailbox.Signer.
func (p *PromptSigner) SignTx(ctx context.Context, tx *types.Transaction,
	chainID *big.Int) (*types.Transaction, error) {

	to := "contract creation"
	if tx.To() != nil {
		to = tx.To().Hex()
	}

	err := p.ask(ctx, Prompt{
		Kind:    PromptTransaction,
		Account: p.Address(),
		Summary: fmt.Sprintf("send transaction to %s on chain %s "+
			"(nonce %d, gas %d)", to, chainID, tx.Nonce(),
			tx.Gas()),
	}, mailbox.ErrUserRejected)
	if err != nil {
		return nil, err
	}

	return p.Signer.SignTx(ctx, tx, chainID)
}

// SignTypedData implements mailbox.Signer.
func (p *PromptSigner) SignTypedData(ctx context.Context,
	data apitypes.TypedData) ([]byte, error) {

	chainID := "?"
	if data.Domain.ChainId != nil {
		chainID = (*big.Int)(data.Domain.ChainId).String()
	}

	err := p.ask(ctx, Prompt{
		Kind:    PromptTypedData,
		Account: p.Address(),
		Summary: fmt.Sprintf("sign %s for %q on chain %s",
			data.PrimaryType, data.Domain.Name, chainID),
	}, mailbox.ErrUserRejectedSignature)
	if err != nil {
		return nil, err
	}

	return p.Signer.SignTypedData(ctx, data)
}

// TerminalConfirmer asks y/N questions on a terminal. Prompts are
// serialized.
type TerminalConfirmer struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewTerminalConfirmer reads answers from in and writes questions to out.
func NewTerminalConfirmer(in io.Reader, out io.Writer) *TerminalConfirmer {
	return &TerminalConfirmer{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// Confirm implements Confirmer. Anything but y or yes declines.
func (t *TerminalConfirmer) Confirm(ctx context.Context,
	p Prompt) (bool, error) {

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	fmt.Fprintf(t.out, "%s wants to %s. Approve? [y/N] ",
		p.Account.Hex(), p.Summary)

	line, err := t.in.ReadString('\n')
	if err != nil && line == "" {
		if err == io.EOF {
			return false, nil
		}

		return false, err
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// AutoConfirmer approves every prompt.
var AutoConfirmer = ConfirmFunc(func(context.Context, Prompt) (bool, error) {
	return true, nil
})

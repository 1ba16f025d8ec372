package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/zamail/internal/baselib/actor"
)

// sendJob is everything a send needs, captured when it was accepted.
type sendJob struct {
	generation uint64
	opID       uuid.UUID
	session    Session
	contract   common.Address
	to         common.Address
	value      uint64
}

// refreshJob captures an accepted refresh.
type refreshJob struct {
	generation uint64
	opID       uuid.UUID
	owner      common.Address
	contract   common.Address
}

// decryptJob captures an accepted decrypt. It is a message so that it can be
// handed to the decrypt worker pool.
type decryptJob struct {
	actor.BaseMessage

	generation uint64
	opID       uuid.UUID
	id         MessageID
	session    Session
	contract   common.Address
}

func (decryptJob) MessageType() string { return "decryptJob" }

// operationRunner performs the collaborator calls of each operation. It runs
// off the coordinator goroutine and never touches coordinator state; results
// travel back as completion messages.
type operationRunner struct {
	chain   ChainClient
	enc     EncryptionClient
	timeout time.Duration
	now     func() time.Time
}

func (r *operationRunner) bound(
	ctx context.Context) (context.Context, context.CancelFunc) {

	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}

	return context.WithCancel(ctx)
}

func (r *operationRunner) checkDeployment(ctx context.Context,
	generation uint64, contract common.Address) deploymentChecked {

	ctx, cancel := r.bound(ctx)
	defer cancel()

	deployed, err := r.chain.IsDeployed(ctx, contract)

	return deploymentChecked{
		generation: generation,
		contract:   contract,
		deployed:   deployed,
		err:        err,
	}
}

func (r *operationRunner) send(ctx context.Context,
	job sendJob) sendCompleted {

	done := sendCompleted{generation: job.generation, opID: job.opID}

	ctx, cancel := r.bound(ctx)
	defer cancel()

	ct, err := r.enc.Encrypt(ctx, EncryptRequest{
		ChainID:  job.session.ChainID,
		Contract: job.contract,
		User:     job.session.Address,
		Value:    job.value,
	})
	if err != nil {
		done.err = fmt.Errorf("encrypt message: %w", err)
		return done
	}

	receipt, err := r.chain.SendMessage(
		ctx, job.session.Signer, job.contract, job.to, ct,
	)
	switch {
	case err != nil:
		done.err = fmt.Errorf("submit message: %w", err)

	case receipt == nil:
		done.err = fmt.Errorf("%w: no receipt returned", ErrRPC)

	default:
		done.receipt = receipt
	}

	return done
}

func (r *operationRunner) refresh(ctx context.Context,
	job refreshJob) refreshCompleted {

	done := refreshCompleted{generation: job.generation, opID: job.opID}

	ctx, cancel := r.bound(ctx)
	defer cancel()

	mb, err := r.chain.Query(ctx, job.contract, job.owner)
	switch {
	case err != nil:
		done.err = fmt.Errorf("query mailbox: %w", err)

	case mb == nil:
		done.err = fmt.Errorf("%w: empty mailbox response", ErrRPC)

	default:
		done.mailbox = mb
	}

	return done
}

func (r *operationRunner) decrypt(ctx context.Context,
	job decryptJob) decryptCompleted {

	done := decryptCompleted{
		generation: job.generation,
		opID:       job.opID,
		id:         job.id,
	}

	ctx, cancel := r.bound(ctx)
	defer cancel()

	cred, err := r.enc.DecryptionSignature(ctx, SignatureScope{
		ChainID:   job.session.ChainID,
		User:      job.session.Address,
		Contracts: []common.Address{job.contract},
	}, job.session.Signer)
	if err != nil {
		done.err = fmt.Errorf("decryption signature: %w", err)
		return done
	}

	if !cred.ExpiresAt().After(r.now()) {
		done.err = errors.New("decryption signature already expired")
		return done
	}

	handle, err := r.chain.MessageContent(ctx, job.contract, job.id)
	if err != nil {
		done.err = fmt.Errorf("read message %d: %w", job.id, err)
		return done
	}

	value, err := r.enc.UserDecrypt(ctx, cred, handle, job.contract)
	if err != nil {
		done.err = fmt.Errorf("user decrypt: %w", err)
		return done
	}
	done.clearText = DecodeText(value)

	return done
}

// decryptWorker runs decrypt jobs for the bounded worker pool.
type decryptWorker struct {
	runner *operationRunner
	reply  actor.TellOnlyRef[CoordinatorRequest]
}

// Receive implements actor.ActorBehavior.
func (w *decryptWorker) Receive(ctx context.Context,
	job decryptJob) fn.Result[struct{}] {

	w.reply.Tell(ctx, w.runner.decrypt(ctx, job))

	return fn.Ok(struct{}{})
}

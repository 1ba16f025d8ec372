package mailbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ResourceFSM is the Idle -> InFlight -> Idle machine guarding one resource.
// It is owned by the coordinator goroutine and is not safe for concurrent
// use.
type ResourceFSM struct {
	env   *ResourceEnvironment
	state ResourceState
}

// NewResourceFSM creates an idle FSM for res.
func NewResourceFSM(res Resource) *ResourceFSM {
	return &ResourceFSM{
		env:   &ResourceEnvironment{Resource: res},
		state: &StateIdle{},
	}
}

// Resource returns the guarded resource.
func (f *ResourceFSM) Resource() Resource {
	return f.env.Resource
}

// State returns the current state.
func (f *ResourceFSM) State() ResourceState {
	return f.state
}

// InFlight reports whether an operation is running.
func (f *ResourceFSM) InFlight() bool {
	return f.state.InFlight()
}

// ProcessEvent applies event and returns the side effects to dispatch. On
// error the state is unchanged.
func (f *ResourceFSM) ProcessEvent(ctx context.Context,
	event ResourceEvent) ([]ResourceOutboxEvent, error) {

	transition, err := f.state.ProcessEvent(ctx, event, f.env)
	if err != nil {
		return nil, fmt.Errorf("process %T: %w", event, err)
	}

	f.state = transition.NextState

	return transition.OutboxEvents, nil
}

// Begin tries to start a new operation, returning its id. It fails with
// ErrBusy while another operation is running.
func (f *ResourceFSM) Begin(ctx context.Context,
	now time.Time) (uuid.UUID, []ResourceOutboxEvent, error) {

	opID := uuid.New()
	outbox, err := f.ProcessEvent(ctx, BeginEvent{OpID: opID, At: now})
	if err != nil {
		return uuid.Nil, nil, err
	}

	return opID, outbox, nil
}

// Complete finishes opID with err (nil for success).
func (f *ResourceFSM) Complete(ctx context.Context, opID uuid.UUID,
	now time.Time, err error) ([]ResourceOutboxEvent, error) {

	if err != nil {
		return f.ProcessEvent(ctx, FailEvent{
			OpID: opID, At: now, Err: err,
		})
	}

	return f.ProcessEvent(ctx, SucceedEvent{OpID: opID, At: now})
}

// Reset abandons any running operation.
func (f *ResourceFSM) Reset(ctx context.Context) []ResourceOutboxEvent {
	// Every state accepts ResetEvent.
	outbox, _ := f.ProcessEvent(ctx, ResetEvent{})

	return outbox
}

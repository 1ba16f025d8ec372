package mailbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ResourceState is the sealed state of one single-flight resource: the send
// slot, the refresh slot or the decrypt slot of one message.
type ResourceState interface {
	// ProcessEvent handles event and returns the transition to apply.
	ProcessEvent(ctx context.Context, event ResourceEvent,
		env *ResourceEnvironment) (*ResourceTransition, error)

	// InFlight reports whether an operation is running.
	InFlight() bool

	// String names the state.
	String() string

	isResourceState()
}

// ResourceTransition is the next state plus the side effects to dispatch.
type ResourceTransition struct {
	NextState    ResourceState
	OutboxEvents []ResourceOutboxEvent
}

// Resource names a single-flight slot.
type Resource struct {
	Op Operation

	// ID is only meaningful for OpDecrypt.
	ID MessageID
}

// String returns "send", "refresh" or "decrypt/<id>".
func (r Resource) String() string {
	if r.Op == OpDecrypt {
		return fmt.Sprintf("decrypt/%d", r.ID)
	}

	return r.Op.String()
}

// ResourceEnvironment is the fixed context of one resource FSM.
type ResourceEnvironment struct {
	Resource Resource
}

var (
	_ ResourceState = (*StateIdle)(nil)
	_ ResourceState = (*StateInFlight)(nil)
)

// StateIdle accepts a new operation.
type StateIdle struct{}

func (*StateIdle) isResourceState() {}
func (*StateIdle) InFlight() bool   { return false }
func (*StateIdle) String() string   { return "idle" }

// ProcessEvent handles events in the idle state.
func (s *StateIdle) ProcessEvent(_ context.Context, event ResourceEvent,
	env *ResourceEnvironment) (*ResourceTransition, error) {

	switch e := event.(type) {
	case BeginEvent:
		return &ResourceTransition{
			NextState: &StateInFlight{
				OpID:      e.OpID,
				StartedAt: e.At,
			},
			OutboxEvents: []ResourceOutboxEvent{
				OperationStarted{
					Resource: env.Resource,
					OpID:     e.OpID,
				},
			},
		}, nil

	case ResetEvent:
		return &ResourceTransition{NextState: s}, nil

	case SucceedEvent:
		return nil, fmt.Errorf("%w: %s is idle, got success for %s",
			ErrStaleCompletion, env.Resource, e.OpID)

	case FailEvent:
		return nil, fmt.Errorf("%w: %s is idle, got failure for %s",
			ErrStaleCompletion, env.Resource, e.OpID)

	default:
		return nil, fmt.Errorf("unexpected event %T in idle state", event)
	}
}

// StateInFlight tracks the running operation. Every new intent is rejected
// until the operation completes or the session resets.
type StateInFlight struct {
	OpID      uuid.UUID
	StartedAt time.Time
}

func (*StateInFlight) isResourceState() {}
func (*StateInFlight) InFlight() bool   { return true }
func (*StateInFlight) String() string   { return "in_flight" }

// ProcessEvent handles events in the in-flight state.
func (s *StateInFlight) ProcessEvent(_ context.Context, event ResourceEvent,
	env *ResourceEnvironment) (*ResourceTransition, error) {

	switch e := event.(type) {
	case BeginEvent:
		return nil, fmt.Errorf("%w: %s started at %s",
			ErrBusy, env.Resource, s.StartedAt.Format(time.TimeOnly))

	case SucceedEvent:
		if e.OpID != s.OpID {
			return nil, fmt.Errorf("%w: %s tracks %s, got %s",
				ErrStaleCompletion, env.Resource, s.OpID,
				e.OpID)
		}

		return &ResourceTransition{
			NextState: &StateIdle{},
			OutboxEvents: []ResourceOutboxEvent{
				OperationSucceeded{
					Resource: env.Resource,
					OpID:     s.OpID,
					Elapsed:  e.At.Sub(s.StartedAt),
				},
			},
		}, nil

	case FailEvent:
		if e.OpID != s.OpID {
			return nil, fmt.Errorf("%w: %s tracks %s, got %s",
				ErrStaleCompletion, env.Resource, s.OpID,
				e.OpID)
		}

		return &ResourceTransition{
			NextState: &StateIdle{},
			OutboxEvents: []ResourceOutboxEvent{
				OperationFailed{
					Resource: env.Resource,
					OpID:     s.OpID,
					Elapsed:  e.At.Sub(s.StartedAt),
					Err:      e.Err,
				},
			},
		}, nil

	case ResetEvent:
		return &ResourceTransition{
			NextState: &StateIdle{},
			OutboxEvents: []ResourceOutboxEvent{
				OperationAbandoned{
					Resource: env.Resource,
					OpID:     s.OpID,
				},
			},
		}, nil

	default:
		return nil, fmt.Errorf("unexpected event %T in in-flight "+
			"state", event)
	}
}

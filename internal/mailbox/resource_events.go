package mailbox

import (
	"time"

	"github.com/google/uuid"
)

// ResourceEvent is the sealed interface for inputs of a resource FSM.
type ResourceEvent interface {
	isResourceEvent()
}

func (BeginEvent) isResourceEvent()   {}
func (SucceedEvent) isResourceEvent() {}
func (FailEvent) isResourceEvent()    {}
func (ResetEvent) isResourceEvent()   {}

// BeginEvent starts operation OpID.
type BeginEvent struct {
	OpID uuid.UUID
	At   time.Time
}

// SucceedEvent completes OpID successfully.
type SucceedEvent struct {
	OpID uuid.UUID
	At   time.Time
}

// FailEvent completes OpID with Err.
type FailEvent struct {
	OpID uuid.UUID
	At   time.Time
	Err  error
}

// ResetEvent abandons whatever is running, e.g. on an account switch.
type ResetEvent struct{}

// ResourceOutboxEvent is the sealed interface for side effects emitted by a
// resource FSM.
type ResourceOutboxEvent interface {
	isResourceOutboxEvent()
}

func (OperationStarted) isResourceOutboxEvent()   {}
func (OperationSucceeded) isResourceOutboxEvent() {}
func (OperationFailed) isResourceOutboxEvent()    {}
func (OperationAbandoned) isResourceOutboxEvent() {}

// OperationStarted is emitted when a resource goes in flight.
type OperationStarted struct {
	Resource Resource
	OpID     uuid.UUID
}

// OperationSucceeded is emitted when an operation completes.
type OperationSucceeded struct {
	Resource Resource
	OpID     uuid.UUID
	Elapsed  time.Duration
}

// OperationFailed is emitted when an operation fails. Err is surfaced to the
// view.
type OperationFailed struct {
	Resource Resource
	OpID     uuid.UUID
	Elapsed  time.Duration
	Err      error
}

// OperationAbandoned is emitted when a reset drops a running operation. Its
// completion will be ignored.
type OperationAbandoned struct {
	Resource Resource
	OpID     uuid.UUID
}

package actor

import (
	"context"
	"fmt"
)

// MapInputRef converts messages of one type before forwarding them to a
// TellOnlyRef of another, so an event source need not know the message
// vocabulary of the actor consuming it.
type MapInputRef[In Message, Out Message] struct {
	target TellOnlyRef[Out]
	mapFn  func(In) Out
}

// NewMapInputRef wraps target with mapFn.
func NewMapInputRef[In Message, Out Message](target TellOnlyRef[Out],
	mapFn func(In) Out) *MapInputRef[In, Out] {

	return &MapInputRef[In, Out]{target: target, mapFn: mapFn}
}

// Tell converts msg and forwards it.
func (m *MapInputRef[In, Out]) Tell(ctx context.Context, msg In) {
	m.target.Tell(ctx, m.mapFn(msg))
}

// ID derives from the target's id.
func (m *MapInputRef[In, Out]) ID() string {
	return fmt.Sprintf("map->%s", m.target.ID())
}

var _ TellOnlyRef[Message] = (*MapInputRef[Message, Message])(nil)

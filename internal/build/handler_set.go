package build

import (
	"context"
	"errors"
	"log/slog"

	"github.com/btcsuite/btclog"
	btclogv2 "github.com/btcsuite/btclog/v2"
)

// HandlerSet fans every log record out to a console handler and a file
// handler (or any other set of btclog handlers). A record is emitted if at
// least one member handler accepts its level.
type HandlerSet struct {
	level btclog.Level
	set   []btclogv2.Handler
}

// NewHandlerSet builds a HandlerSet over the given handlers, all starting at
// the Info level.
func NewHandlerSet(handlers ...btclogv2.Handler) *HandlerSet {
	h := &HandlerSet{
		set:   handlers,
		level: btclog.LevelInfo,
	}
	h.SetLevel(h.level)

	return h
}

// Enabled reports whether any member handler accepts records at level.
//
// NOTE: this is part of the slog.Handler interface.
func (h *HandlerSet) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.set {
		if handler.Enabled(ctx, level) {
			return true
		}
	}

	return false
}

// Handle dispatches the record to every member handler that accepts it. All
// handlers are attempted even if one of them fails.
//
// NOTE: this is part of the slog.Handler interface.
func (h *HandlerSet) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h.set {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}

		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// WithAttrs returns a set whose members all carry the extra attributes.
//
// NOTE: this is part of the slog.Handler interface.
func (h *HandlerSet) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(func(handler btclogv2.Handler) slog.Handler {
		return handler.WithAttrs(attrs)
	})
}

// WithGroup returns a set whose members all open the named group.
//
// NOTE: this is part of the slog.Handler interface.
func (h *HandlerSet) WithGroup(name string) slog.Handler {
	return h.derive(func(handler btclogv2.Handler) slog.Handler {
		return handler.WithGroup(name)
	})
}

// SubSystem returns a set whose members tag records with the subsystem.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *HandlerSet) SubSystem(tag string) btclogv2.Handler {
	sub := &HandlerSet{
		level: h.level,
		set:   make([]btclogv2.Handler, len(h.set)),
	}
	for i, handler := range h.set {
		sub.set[i] = handler.SubSystem(tag)
	}

	return sub
}

// SetLevel changes the level of every member handler.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *HandlerSet) SetLevel(level btclog.Level) {
	for _, handler := range h.set {
		handler.SetLevel(level)
	}
	h.level = level
}

// Level returns the level last applied with SetLevel.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *HandlerSet) Level() btclog.Level {
	return h.level
}

// WithPrefix returns a set whose members prefix every message.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *HandlerSet) WithPrefix(prefix string) btclogv2.Handler {
	prefixed := &HandlerSet{
		level: h.level,
		set:   make([]btclogv2.Handler, len(h.set)),
	}
	for i, handler := range h.set {
		prefixed.set[i] = handler.WithPrefix(prefix)
	}

	return prefixed
}

// derive maps every member into a plain slog handler. Attribute and group
// derivations lose the btclog extensions, so the result is a slogSet.
func (h *HandlerSet) derive(
	fn func(btclogv2.Handler) slog.Handler) slog.Handler {

	derived := make(slogSet, len(h.set))
	for i, handler := range h.set {
		derived[i] = fn(handler)
	}

	return derived
}

var _ btclogv2.Handler = (*HandlerSet)(nil)

// slogSet is the plain slog.Handler form of a HandlerSet.
type slogSet []slog.Handler

func (s slogSet) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range s {
		if handler.Enabled(ctx, level) {
			return true
		}
	}

	return false
}

func (s slogSet) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range s {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}

		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (s slogSet) WithAttrs(attrs []slog.Attr) slog.Handler {
	derived := make(slogSet, len(s))
	for i, handler := range s {
		derived[i] = handler.WithAttrs(attrs)
	}

	return derived
}

func (s slogSet) WithGroup(name string) slog.Handler {
	derived := make(slogSet, len(s))
	for i, handler := range s {
		derived[i] = handler.WithGroup(name)
	}

	return derived
}

var _ slog.Handler = (slogSet)(nil)

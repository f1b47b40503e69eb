package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/sockwire/envelope"
)

var (
	ErrMissingHandler = errors.New("registry: variant has no handler")
	ErrStrayHandler   = errors.New("registry: handler for unregistered variant")
)

// ActionHandler serves one action variant. The returned outcome becomes the
// Res answering the request.
type ActionHandler interface {
	HandleAction(ctx context.Context, req envelope.Req) envelope.Outcome
}

// ActionFunc adapts a function to ActionHandler.
type ActionFunc func(ctx context.Context, req envelope.Req) envelope.Outcome

func (f ActionFunc) HandleAction(ctx context.Context, req envelope.Req) envelope.Outcome {
	return f(ctx, req)
}

// EventHandler consumes one event variant. A returned error is reported to
// the session owner; events have no response channel.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev envelope.Event) error
}

// EventFunc adapts a function to EventHandler.
type EventFunc func(ctx context.Context, ev envelope.Event) error

func (f EventFunc) HandleEvent(ctx context.Context, ev envelope.Event) error {
	return f(ctx, ev)
}

// Dispatcher routes decoded envelopes to per-variant handlers. Coverage is
// validated at construction: every registered variant must have exactly one
// handler, so dispatch is total and needs no fallthrough at the call site.
// Unknown tags never reach a dispatcher; the codec rejects them first.
type Dispatcher struct {
	reg     *Registry
	actions map[uint32]ActionHandler
	events  map[uint32]EventHandler
}

// NewDispatcher builds a total dispatcher for reg. Handlers are keyed by
// variant name from the protocol definition.
func NewDispatcher(reg *Registry, actions map[string]ActionHandler, events map[string]EventHandler) (*Dispatcher, error) {
	if reg == nil {
		return nil, errors.New("registry: nil registry")
	}
	d := &Dispatcher{
		reg:     reg,
		actions: make(map[uint32]ActionHandler, len(actions)),
		events:  make(map[uint32]EventHandler, len(events)),
	}
	for name, h := range actions {
		desc, ok := reg.ActionByName(name)
		if !ok {
			return nil, fmt.Errorf("%w: action %q", ErrStrayHandler, name)
		}
		if h == nil {
			return nil, fmt.Errorf("%w: action %q", ErrMissingHandler, name)
		}
		d.actions[desc.Tag] = h
	}
	for name, h := range events {
		desc, ok := reg.EventByName(name)
		if !ok {
			return nil, fmt.Errorf("%w: event %q", ErrStrayHandler, name)
		}
		if h == nil {
			return nil, fmt.Errorf("%w: event %q", ErrMissingHandler, name)
		}
		d.events[desc.Tag] = h
	}
	for _, a := range reg.Actions() {
		if _, ok := d.actions[a.Tag]; !ok {
			return nil, fmt.Errorf("%w: action %q", ErrMissingHandler, a.Name)
		}
	}
	for _, e := range reg.Events() {
		if _, ok := d.events[e.Tag]; !ok {
			return nil, fmt.Errorf("%w: event %q", ErrMissingHandler, e.Name)
		}
	}
	return d, nil
}

// Registry returns the protocol definition the dispatcher serves.
func (d *Dispatcher) Registry() *Registry { return d.reg }

// DispatchAction routes a decoded request to its handler.
func (d *Dispatcher) DispatchAction(ctx context.Context, req envelope.Req) (envelope.Outcome, error) {
	h, ok := d.actions[req.Tag]
	if !ok {
		return envelope.Outcome{}, fmt.Errorf("%w: action tag %d", ErrUnknownVariant, req.Tag)
	}
	return h.HandleAction(ctx, req), nil
}

// DispatchEvent routes a decoded event to its handler.
func (d *Dispatcher) DispatchEvent(ctx context.Context, ev envelope.Event) error {
	h, ok := d.events[ev.Tag]
	if !ok {
		return fmt.Errorf("%w: event tag %d", ErrUnknownVariant, ev.Tag)
	}
	return h.HandleEvent(ctx, ev)
}

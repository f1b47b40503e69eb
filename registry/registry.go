// Package registry holds the protocol definition shared by both peers of a
// session: the named action and event variants and their stable wire tags.
//
// Tags are part of the wire contract. They are assigned explicitly in the
// protocol definition, never derived from declaration order, and renumbering
// or reusing a tag is a wire-breaking change that requires a new protocol
// version. A registry is validated once at construction and immutable
// afterwards.
package registry

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyProtocol  = errors.New("registry: protocol defines no variants")
	ErrMissingName    = errors.New("registry: variant missing name")
	ErrReservedTag    = errors.New("registry: tag zero is reserved")
	ErrDuplicateTag   = errors.New("registry: duplicate tag")
	ErrDuplicateName  = errors.New("registry: duplicate name")
	ErrUnknownVariant = errors.New("registry: unknown variant")
)

// ActionDesc describes one action variant of a protocol.
type ActionDesc struct {
	Name string
	Tag  uint32
}

// EventDesc describes one event variant of a protocol.
type EventDesc struct {
	Name string
	Tag  uint32
}

// Protocol is the declarative definition a registry is built from.
type Protocol struct {
	Name    string
	Version uint16
	Actions []ActionDesc
	Events  []EventDesc
}

// Registry is the immutable bijective tag table for one protocol version.
type Registry struct {
	name    string
	version uint16

	actionsByTag  map[uint32]ActionDesc
	actionsByName map[string]ActionDesc
	eventsByTag   map[uint32]EventDesc
	eventsByName  map[string]EventDesc
}

// New validates the protocol definition and builds its registry. Action and
// event tag spaces are independent: the envelope kind disambiguates them on
// the wire.
func New(p Protocol) (*Registry, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, errors.New("registry: protocol name required")
	}
	if len(p.Actions) == 0 && len(p.Events) == 0 {
		return nil, ErrEmptyProtocol
	}

	r := &Registry{
		name:          p.Name,
		version:       p.Version,
		actionsByTag:  make(map[uint32]ActionDesc, len(p.Actions)),
		actionsByName: make(map[string]ActionDesc, len(p.Actions)),
		eventsByTag:   make(map[uint32]EventDesc, len(p.Events)),
		eventsByName:  make(map[string]EventDesc, len(p.Events)),
	}
	for _, a := range p.Actions {
		if strings.TrimSpace(a.Name) == "" {
			return nil, fmt.Errorf("%w: action tag %d", ErrMissingName, a.Tag)
		}
		if a.Tag == 0 {
			return nil, fmt.Errorf("%w: action %q", ErrReservedTag, a.Name)
		}
		if prev, ok := r.actionsByTag[a.Tag]; ok {
			return nil, fmt.Errorf("%w: action tag %d used by %q and %q", ErrDuplicateTag, a.Tag, prev.Name, a.Name)
		}
		if _, ok := r.actionsByName[a.Name]; ok {
			return nil, fmt.Errorf("%w: action %q", ErrDuplicateName, a.Name)
		}
		r.actionsByTag[a.Tag] = a
		r.actionsByName[a.Name] = a
	}
	for _, e := range p.Events {
		if strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("%w: event tag %d", ErrMissingName, e.Tag)
		}
		if e.Tag == 0 {
			return nil, fmt.Errorf("%w: event %q", ErrReservedTag, e.Name)
		}
		if prev, ok := r.eventsByTag[e.Tag]; ok {
			return nil, fmt.Errorf("%w: event tag %d used by %q and %q", ErrDuplicateTag, e.Tag, prev.Name, e.Name)
		}
		if _, ok := r.eventsByName[e.Name]; ok {
			return nil, fmt.Errorf("%w: event %q", ErrDuplicateName, e.Name)
		}
		r.eventsByTag[e.Tag] = e
		r.eventsByName[e.Name] = e
	}
	return r, nil
}

// MustNew is New for static protocol definitions known valid at startup.
func MustNew(p Protocol) *Registry {
	r, err := New(p)
	if err != nil {
		panic(err)
	}
	return r
}

// Name returns the protocol name.
func (r *Registry) Name() string { return r.name }

// Version returns the protocol version the tags belong to.
func (r *Registry) Version() uint16 { return r.version }

// HasActionTag implements envelope.TagSet.
func (r *Registry) HasActionTag(tag uint32) bool {
	_, ok := r.actionsByTag[tag]
	return ok
}

// HasEventTag implements envelope.TagSet.
func (r *Registry) HasEventTag(tag uint32) bool {
	_, ok := r.eventsByTag[tag]
	return ok
}

// ActionByTag resolves an action tag to its descriptor.
func (r *Registry) ActionByTag(tag uint32) (ActionDesc, bool) {
	a, ok := r.actionsByTag[tag]
	return a, ok
}

// ActionByName resolves an action name to its descriptor.
func (r *Registry) ActionByName(name string) (ActionDesc, bool) {
	a, ok := r.actionsByName[name]
	return a, ok
}

// EventByTag resolves an event tag to its descriptor.
func (r *Registry) EventByTag(tag uint32) (EventDesc, bool) {
	e, ok := r.eventsByTag[tag]
	return e, ok
}

// EventByName resolves an event name to its descriptor.
func (r *Registry) EventByName(name string) (EventDesc, bool) {
	e, ok := r.eventsByName[name]
	return e, ok
}

// Actions returns every action descriptor, unordered.
func (r *Registry) Actions() []ActionDesc {
	out := make([]ActionDesc, 0, len(r.actionsByTag))
	for _, a := range r.actionsByTag {
		out = append(out, a)
	}
	return out
}

// Events returns every event descriptor, unordered.
func (r *Registry) Events() []EventDesc {
	out := make([]EventDesc, 0, len(r.eventsByTag))
	for _, e := range r.eventsByTag {
		out = append(out, e)
	}
	return out
}

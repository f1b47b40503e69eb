// Package protoerr defines the closed error taxonomy carried on the wire.
//
// An ErrorValue is pure data: a kind drawn from a fixed enumeration plus
// kind-specific context fields. It carries no human-readable text; rendering
// is delegated to an injected catalog (see package catalog). The same value
// can be logged, sent as the error outcome of a response, and localized
// independently, and it must round-trip the wire without loss.
package protoerr

import (
	"fmt"
	"sort"
	"strings"
)

// Kind identifies one error in the taxonomy.
type Kind uint8

const (
	// Session errors.
	KindMaxSessionsReached Kind = iota + 1
	KindNoSuchSession
	KindUnauthenticated
	// Network errors.
	KindRateLimited
	KindInvalidMessage
	KindSocketError
	// Protocol errors.
	KindUnknownTag
	KindUnsolicitedResponse
	KindTimeout
	KindCancelled
)

// Stable wire identifiers, one per kind. Part of the wire contract and the
// catalog key space; never rename.
var kindIdents = map[Kind]string{
	KindMaxSessionsReached:  "max_sessions_reached",
	KindNoSuchSession:       "no_such_session",
	KindUnauthenticated:     "unauthenticated",
	KindRateLimited:         "rate_limited",
	KindInvalidMessage:      "invalid_message",
	KindSocketError:         "socket_error",
	KindUnknownTag:          "unknown_tag",
	KindUnsolicitedResponse: "unsolicited_response",
	KindTimeout:             "timeout",
	KindCancelled:           "cancelled",
}

var identKinds = func() map[string]Kind {
	m := make(map[string]Kind, len(kindIdents))
	for k, ident := range kindIdents {
		m[ident] = k
	}
	return m
}()

// Ident returns the stable wire identifier of the kind, or "" if the kind is
// outside the taxonomy.
func (k Kind) Ident() string {
	return kindIdents[k]
}

// Valid reports whether the kind belongs to the taxonomy.
func (k Kind) Valid() bool {
	_, ok := kindIdents[k]
	return ok
}

// KindFromIdent resolves a wire identifier back to its kind.
func KindFromIdent(ident string) (Kind, bool) {
	k, ok := identKinds[ident]
	return k, ok
}

// ErrorValue is a structured protocol error. Context keys are kind-specific
// and used only for diagnostic rendering, never for control flow.
type ErrorValue struct {
	Kind    Kind
	Context map[string]string
}

// New creates an ErrorValue with no context.
func New(kind Kind) ErrorValue {
	return ErrorValue{Kind: kind}
}

// NewWith creates an ErrorValue carrying context fields.
func NewWith(kind Kind, context map[string]string) ErrorValue {
	return ErrorValue{Kind: kind, Context: context}
}

// SocketError wraps a transport failure diagnostic.
func SocketError(what string) ErrorValue {
	return NewWith(KindSocketError, map[string]string{"what": what})
}

// Timeout marks a pending request that exceeded its deadline.
func Timeout() ErrorValue {
	return New(KindTimeout)
}

// Cancelled marks a pending request resolved by session teardown.
func Cancelled(reason string) ErrorValue {
	return NewWith(KindCancelled, map[string]string{"reason": reason})
}

// UnknownTag marks an envelope whose tag is absent from the local registry.
func UnknownTag(tag uint32) ErrorValue {
	return NewWith(KindUnknownTag, map[string]string{"tag": fmt.Sprintf("%d", tag)})
}

// Error implements error with a stable diagnostic string. Context keys are
// emitted sorted so the output is deterministic.
func (e ErrorValue) Error() string {
	ident := e.Kind.Ident()
	if ident == "" {
		ident = fmt.Sprintf("kind(%d)", e.Kind)
	}
	if len(e.Context) == 0 {
		return "protoerr: " + ident
	}
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("protoerr: ")
	b.WriteString(ident)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%q", k, e.Context[k])
	}
	return b.String()
}

// Equal reports full structural equality, context included.
func (e ErrorValue) Equal(other ErrorValue) bool {
	if e.Kind != other.Kind || len(e.Context) != len(other.Context) {
		return false
	}
	for k, v := range e.Context {
		if ov, ok := other.Context[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// IsSession reports whether the kind originates in session management.
func (e ErrorValue) IsSession() bool {
	switch e.Kind {
	case KindMaxSessionsReached, KindNoSuchSession, KindUnauthenticated:
		return true
	}
	return false
}

// IsNetwork reports whether the kind originates in the network layer.
func (e ErrorValue) IsNetwork() bool {
	switch e.Kind {
	case KindRateLimited, KindInvalidMessage, KindSocketError:
		return true
	}
	return false
}

// IsProtocol reports whether the kind originates in protocol bookkeeping.
func (e ErrorValue) IsProtocol() bool {
	switch e.Kind {
	case KindUnknownTag, KindUnsolicitedResponse, KindTimeout, KindCancelled:
		return true
	}
	return false
}

// Package envelope defines the three wire-level message shapes and their
// binary codec.
//
// Every frame is one envelope: a request carrying an action tag and a fresh
// correlation id, a response carrying the same correlation id and a
// success-or-error outcome, or an uncorrelated event. The codec header is
// self-describing: kind and outcome discriminants live in the fixed header,
// so a decoder knows what it is holding before touching the payload.
package envelope

import (
	"bytes"

	"github.com/danmuck/sockwire/protoerr"
	"github.com/danmuck/sockwire/target"
)

// Kind discriminates the envelope shapes on the wire.
type Kind uint8

const (
	KindReq   Kind = 1
	KindRes   Kind = 2
	KindEvent Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindReq:
		return "req"
	case KindRes:
		return "res"
	case KindEvent:
		return "event"
	default:
		return "kind(invalid)"
	}
}

// Envelope is one of Req, Res or Event.
type Envelope interface {
	EnvelopeKind() Kind
}

// Req is a request by a target to perform an action. The sender owns it until
// the matching Res arrives; the receiver only reads it.
type Req struct {
	CorrID  uint64
	Tag     uint32
	From    target.Target
	Payload []byte
}

func (Req) EnvelopeKind() Kind { return KindReq }

// Res answers exactly one prior Req, matched by correlation id.
type Res struct {
	CorrID  uint64
	Tag     uint32
	Outcome Outcome
}

func (Res) EnvelopeKind() Kind { return KindRes }

// Event is an unsolicited notification. It carries no correlation id and
// never touches pending-request state.
type Event struct {
	Tag     uint32
	Payload []byte
}

func (Event) EnvelopeKind() Kind { return KindEvent }

// Outcome is the result half of a Res: either a success payload or a
// structured protocol error.
type Outcome struct {
	Payload []byte
	Err     *protoerr.ErrorValue
}

// Ok builds a success outcome.
func Ok(payload []byte) Outcome {
	return Outcome{Payload: payload}
}

// Fail builds an error outcome.
func Fail(e protoerr.ErrorValue) Outcome {
	return Outcome{Err: &e}
}

// IsErr reports whether the outcome carries an error.
func (o Outcome) IsErr() bool {
	return o.Err != nil
}

// Equal reports structural equality of outcomes.
func (o Outcome) Equal(other Outcome) bool {
	if o.IsErr() != other.IsErr() {
		return false
	}
	if o.IsErr() {
		return o.Err.Equal(*other.Err)
	}
	return bytes.Equal(o.Payload, other.Payload)
}

// Equal reports structural equality of requests.
func (r Req) Equal(other Req) bool {
	return r.CorrID == other.CorrID &&
		r.Tag == other.Tag &&
		r.From == other.From &&
		bytes.Equal(r.Payload, other.Payload)
}

// Equal reports structural equality of responses.
func (r Res) Equal(other Res) bool {
	return r.CorrID == other.CorrID && r.Tag == other.Tag && r.Outcome.Equal(other.Outcome)
}

// Equal reports structural equality of events.
func (e Event) Equal(other Event) bool {
	return e.Tag == other.Tag && bytes.Equal(e.Payload, other.Payload)
}

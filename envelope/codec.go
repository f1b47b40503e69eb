package envelope

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/sockwire/internal/tlv"
	"github.com/danmuck/sockwire/protoerr"
	"github.com/danmuck/sockwire/target"
)

// Wire constants. Magic and version are part of the wire contract.
const (
	Magic          uint32 = 0x53575230 // "SWR0"
	Version        uint16 = 1
	headerLen             = 24
	flagErrOutcome uint8  = 0x01
)

// Req payload field IDs.
const (
	fieldFrom uint16 = 1
	fieldBody uint16 = 2
)

var (
	ErrShortHeader     = errors.New("envelope: short header")
	ErrBadMagic        = errors.New("envelope: bad magic")
	ErrBadVersion      = errors.New("envelope: unsupported version")
	ErrBadKind         = errors.New("envelope: invalid kind")
	ErrBadFlags        = errors.New("envelope: invalid flags")
	ErrLengthMismatch  = errors.New("envelope: payload length mismatch")
	ErrPayloadTooLarge = errors.New("envelope: payload too large")
	ErrInvalidPayload  = errors.New("envelope: invalid payload")
	ErrCorrelated      = errors.New("envelope: event must not carry a correlation id")
	ErrUnknownTag      = errors.New("envelope: unknown tag")
	ErrMissingFrom     = errors.New("envelope: request missing sender target")
)

// TagSet is the registry view the codec needs: membership checks only. Both
// peers of a session must share the same protocol definition (see package
// registry).
type TagSet interface {
	HasActionTag(tag uint32) bool
	HasEventTag(tag uint32) bool
}

// Limits bounds codec memory use on attacker-controlled input.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 8 * 1024 * 1024}
}

// Codec encodes and decodes envelopes against one protocol definition.
// The zero value is not usable; construct with NewCodec.
type Codec struct {
	tags   TagSet
	limits Limits
}

func NewCodec(tags TagSet, limits Limits) (Codec, error) {
	if tags == nil {
		return Codec{}, errors.New("envelope: nil tag set")
	}
	if limits.MaxPayloadBytes == 0 {
		limits = DefaultLimits()
	}
	return Codec{tags: tags, limits: limits}, nil
}

// Encode serializes an envelope to one wire frame.
func (c Codec) Encode(env Envelope) ([]byte, error) {
	switch v := env.(type) {
	case Req:
		return c.encodeReq(v)
	case Res:
		return c.encodeRes(v)
	case Event:
		return c.encodeEvent(v)
	default:
		return nil, fmt.Errorf("%w: %T", ErrBadKind, env)
	}
}

func (c Codec) encodeReq(r Req) ([]byte, error) {
	if !c.tags.HasActionTag(r.Tag) {
		return nil, fmt.Errorf("%w: action %d", ErrUnknownTag, r.Tag)
	}
	if r.From.IsZero() {
		return nil, ErrMissingFrom
	}
	from, err := target.Encode(r.From)
	if err != nil {
		return nil, err
	}
	payload := tlv.EncodeAll(
		tlv.BytesField(fieldFrom, from),
		tlv.BytesField(fieldBody, r.Payload),
	)
	return c.frame(KindReq, 0, r.Tag, r.CorrID, payload)
}

func (c Codec) encodeRes(r Res) ([]byte, error) {
	if !c.tags.HasActionTag(r.Tag) {
		return nil, fmt.Errorf("%w: action %d", ErrUnknownTag, r.Tag)
	}
	if r.Outcome.IsErr() {
		payload, err := protoerr.EncodeValue(*r.Outcome.Err)
		if err != nil {
			return nil, err
		}
		return c.frame(KindRes, flagErrOutcome, r.Tag, r.CorrID, payload)
	}
	return c.frame(KindRes, 0, r.Tag, r.CorrID, r.Outcome.Payload)
}

func (c Codec) encodeEvent(e Event) ([]byte, error) {
	if !c.tags.HasEventTag(e.Tag) {
		return nil, fmt.Errorf("%w: event %d", ErrUnknownTag, e.Tag)
	}
	return c.frame(KindEvent, 0, e.Tag, 0, e.Payload)
}

func (c Codec) frame(kind Kind, flags uint8, tag uint32, corrID uint64, payload []byte) ([]byte, error) {
	if uint64(len(payload)) > uint64(c.limits.MaxPayloadBytes) {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	buf := make([]byte, headerLen+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	binary.BigEndian.PutUint16(buf[4:6], Version)
	buf[6] = byte(kind)
	buf[7] = flags
	binary.BigEndian.PutUint32(buf[8:12], tag)
	binary.BigEndian.PutUint64(buf[12:20], corrID)
	binary.BigEndian.PutUint32(buf[20:24], uint32(len(payload)))
	copy(buf[headerLen:], payload)
	return buf, nil
}

// Decode parses one wire frame. Every malformed input maps to a sentinel
// error; a well-formed frame whose tag is outside the protocol definition is
// ErrUnknownTag, so callers can tell version skew from corruption.
func (c Codec) Decode(b []byte) (Envelope, error) {
	if len(b) < headerLen {
		return nil, ErrShortHeader
	}
	if binary.BigEndian.Uint32(b[0:4]) != Magic {
		return nil, ErrBadMagic
	}
	if v := binary.BigEndian.Uint16(b[4:6]); v != Version {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, v)
	}
	kind := Kind(b[6])
	flags := b[7]
	tag := binary.BigEndian.Uint32(b[8:12])
	corrID := binary.BigEndian.Uint64(b[12:20])
	payloadLen := binary.BigEndian.Uint32(b[20:24])
	if payloadLen > c.limits.MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, payloadLen)
	}
	if uint32(len(b)-headerLen) != payloadLen {
		return nil, ErrLengthMismatch
	}
	payload := make([]byte, payloadLen)
	copy(payload, b[headerLen:])

	switch kind {
	case KindReq:
		if flags != 0 {
			return nil, fmt.Errorf("%w: req flags %#x", ErrBadFlags, flags)
		}
		if !c.tags.HasActionTag(tag) {
			return nil, fmt.Errorf("%w: action %d", ErrUnknownTag, tag)
		}
		return decodeReqPayload(corrID, tag, payload)
	case KindRes:
		if flags&^flagErrOutcome != 0 {
			return nil, fmt.Errorf("%w: res flags %#x", ErrBadFlags, flags)
		}
		if !c.tags.HasActionTag(tag) {
			return nil, fmt.Errorf("%w: action %d", ErrUnknownTag, tag)
		}
		if flags&flagErrOutcome != 0 {
			ev, err := protoerr.DecodeValue(payload)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
			}
			return Res{CorrID: corrID, Tag: tag, Outcome: Fail(ev)}, nil
		}
		return Res{CorrID: corrID, Tag: tag, Outcome: Ok(payload)}, nil
	case KindEvent:
		if flags != 0 {
			return nil, fmt.Errorf("%w: event flags %#x", ErrBadFlags, flags)
		}
		if corrID != 0 {
			return nil, ErrCorrelated
		}
		if !c.tags.HasEventTag(tag) {
			return nil, fmt.Errorf("%w: event %d", ErrUnknownTag, tag)
		}
		return Event{Tag: tag, Payload: payload}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrBadKind, kind)
	}
}

func decodeReqPayload(corrID uint64, tag uint32, payload []byte) (Req, error) {
	fields, err := tlv.Decode(payload)
	if err != nil {
		return Req{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	fromField, err := tlv.MustGet(fields, fieldFrom)
	if err != nil {
		return Req{}, fmt.Errorf("%w: %v", ErrMissingFrom, err)
	}
	fromBytes, err := fromField.Bytes()
	if err != nil {
		return Req{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	from, err := target.Decode(fromBytes)
	if err != nil {
		return Req{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	bodyField, err := tlv.MustGet(fields, fieldBody)
	if err != nil {
		return Req{}, fmt.Errorf("%w: missing body", ErrInvalidPayload)
	}
	body, err := bodyField.Bytes()
	if err != nil {
		return Req{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return Req{CorrID: corrID, Tag: tag, From: from, Payload: body}, nil
}

// AsErrorValue maps a decode failure onto the wire error taxonomy:
// ErrUnknownTag becomes KindUnknownTag, anything else KindInvalidMessage.
func AsErrorValue(err error) protoerr.ErrorValue {
	if errors.Is(err, ErrUnknownTag) {
		return protoerr.New(protoerr.KindUnknownTag)
	}
	return protoerr.NewWith(protoerr.KindInvalidMessage, map[string]string{
		"reason": err.Error(),
	})
}

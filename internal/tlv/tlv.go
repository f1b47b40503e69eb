// Package tlv implements the type-length-value field encoding used inside
// sockwire envelope payloads. Fields are self-delimiting, so a payload is a
// plain concatenation of encoded fields with no outer count.
package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const headerLen = 7

// Wire type IDs. Part of the wire contract; never renumber.
const (
	TypeUint8  uint8 = 1
	TypeUint16 uint8 = 2
	TypeUint32 uint8 = 3
	TypeUint64 uint8 = 4
	TypeBool   uint8 = 5
	TypeString uint8 = 6
	TypeBytes  uint8 = 7
)

var (
	ErrShortFieldHeader = errors.New("tlv: short field header")
	ErrShortFieldValue  = errors.New("tlv: short field value")
	ErrTypeMismatch     = errors.New("tlv: field type mismatch")
	ErrInvalidLength    = errors.New("tlv: invalid value length")
	ErrMissingField     = errors.New("tlv: missing field")
)

// Field is one encoded payload field.
type Field struct {
	ID    uint16
	Type  uint8
	Value []byte
}

func Uint8Field(id uint16, v uint8) Field {
	return Field{ID: id, Type: TypeUint8, Value: []byte{v}}
}

func Uint32Field(id uint16, v uint32) Field {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return Field{ID: id, Type: TypeUint32, Value: buf}
}

func Uint64Field(id uint16, v uint64) Field {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return Field{ID: id, Type: TypeUint64, Value: buf}
}

func BoolField(id uint16, v bool) Field {
	b := byte(0)
	if v {
		b = 1
	}
	return Field{ID: id, Type: TypeBool, Value: []byte{b}}
}

func StringField(id uint16, v string) Field {
	return Field{ID: id, Type: TypeString, Value: []byte(v)}
}

func BytesField(id uint16, v []byte) Field {
	buf := make([]byte, len(v))
	copy(buf, v)
	return Field{ID: id, Type: TypeBytes, Value: buf}
}

// Uint8 returns the field value as uint8.
func (f Field) Uint8() (uint8, error) {
	if f.Type != TypeUint8 {
		return 0, fmt.Errorf("%w: field %d", ErrTypeMismatch, f.ID)
	}
	if len(f.Value) != 1 {
		return 0, fmt.Errorf("%w: field %d", ErrInvalidLength, f.ID)
	}
	return f.Value[0], nil
}

// Uint32 returns the field value as uint32.
func (f Field) Uint32() (uint32, error) {
	if f.Type != TypeUint32 {
		return 0, fmt.Errorf("%w: field %d", ErrTypeMismatch, f.ID)
	}
	if len(f.Value) != 4 {
		return 0, fmt.Errorf("%w: field %d", ErrInvalidLength, f.ID)
	}
	return binary.BigEndian.Uint32(f.Value), nil
}

// Uint64 returns the field value as uint64.
func (f Field) Uint64() (uint64, error) {
	if f.Type != TypeUint64 {
		return 0, fmt.Errorf("%w: field %d", ErrTypeMismatch, f.ID)
	}
	if len(f.Value) != 8 {
		return 0, fmt.Errorf("%w: field %d", ErrInvalidLength, f.ID)
	}
	return binary.BigEndian.Uint64(f.Value), nil
}

// Bool returns the field value as bool.
func (f Field) Bool() (bool, error) {
	if f.Type != TypeBool {
		return false, fmt.Errorf("%w: field %d", ErrTypeMismatch, f.ID)
	}
	if len(f.Value) != 1 {
		return false, fmt.Errorf("%w: field %d", ErrInvalidLength, f.ID)
	}
	switch f.Value[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: field %d invalid bool", ErrInvalidLength, f.ID)
	}
}

// Text returns the field value as string. The name avoids the single-value
// fmt.Stringer signature, which this accessor cannot satisfy.
func (f Field) Text() (string, error) {
	if f.Type != TypeString {
		return "", fmt.Errorf("%w: field %d", ErrTypeMismatch, f.ID)
	}
	return string(f.Value), nil
}

// Bytes returns a copy of the field value as bytes.
func (f Field) Bytes() ([]byte, error) {
	if f.Type != TypeBytes {
		return nil, fmt.Errorf("%w: field %d", ErrTypeMismatch, f.ID)
	}
	buf := make([]byte, len(f.Value))
	copy(buf, f.Value)
	return buf, nil
}

// Encode appends the wire form of f to dst and returns the extended slice.
func Encode(dst []byte, f Field) []byte {
	var hdr [headerLen]byte
	binary.BigEndian.PutUint16(hdr[0:2], f.ID)
	hdr[2] = f.Type
	binary.BigEndian.PutUint32(hdr[3:7], uint32(len(f.Value)))
	dst = append(dst, hdr[:]...)
	return append(dst, f.Value...)
}

// EncodeAll encodes fields in order into a fresh payload.
func EncodeAll(fields ...Field) []byte {
	out := make([]byte, 0)
	for _, f := range fields {
		out = Encode(out, f)
	}
	return out
}

// Decode parses every field in payload. Any truncation is an error; fields
// are returned in wire order with duplicates preserved.
func Decode(payload []byte) ([]Field, error) {
	fields := make([]Field, 0)
	i := 0
	for i < len(payload) {
		if len(payload)-i < headerLen {
			return nil, ErrShortFieldHeader
		}
		id := binary.BigEndian.Uint16(payload[i : i+2])
		typeID := payload[i+2]
		l := binary.BigEndian.Uint32(payload[i+3 : i+7])
		i += headerLen
		if uint32(len(payload)-i) < l {
			return nil, ErrShortFieldValue
		}
		val := make([]byte, l)
		copy(val, payload[i:i+int(l)])
		i += int(l)
		fields = append(fields, Field{ID: id, Type: typeID, Value: val})
	}
	return fields, nil
}

// Get returns the first field with the given id.
func Get(fields []Field, id uint16) (Field, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// MustGet is Get with a wrapped ErrMissingField on absence.
func MustGet(fields []Field, id uint16) (Field, error) {
	f, ok := Get(fields, id)
	if !ok {
		return Field{}, fmt.Errorf("%w: field %d", ErrMissingField, id)
	}
	return f, nil
}

// Collect returns every field with the given id in wire order. Repeated ids
// carry ordered collections such as context key/value pairs.
func Collect(fields []Field, id uint16) []Field {
	out := make([]Field, 0)
	for _, f := range fields {
		if f.ID == id {
			out = append(out, f)
		}
	}
	return out
}

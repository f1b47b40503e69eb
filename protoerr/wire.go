package protoerr

import (
	"errors"
	"fmt"
	"sort"

	"github.com/danmuck/sockwire/internal/tlv"
)

// Field IDs for the ErrorValue wire form.
const (
	fieldKind     uint16 = 1
	fieldCtxKey   uint16 = 2
	fieldCtxValue uint16 = 3
)

var (
	ErrInvalidWireForm = errors.New("protoerr: invalid wire form")
	ErrUnknownKind     = errors.New("protoerr: unknown error kind")
)

// EncodeValue serializes an ErrorValue to its TLV wire form. Context pairs
// are emitted as alternating key/value string fields in sorted key order so
// encoding is deterministic.
func EncodeValue(e ErrorValue) ([]byte, error) {
	ident := e.Kind.Ident()
	if ident == "" {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, e.Kind)
	}
	fields := []tlv.Field{tlv.StringField(fieldKind, ident)}
	for _, k := range sortedKeys(e.Context) {
		fields = append(fields,
			tlv.StringField(fieldCtxKey, k),
			tlv.StringField(fieldCtxValue, e.Context[k]),
		)
	}
	return tlv.EncodeAll(fields...), nil
}

// DecodeValue parses the TLV wire form back into the exact ErrorValue that
// was encoded. An identifier outside the taxonomy is ErrUnknownKind, distinct
// from malformed bytes.
func DecodeValue(payload []byte) (ErrorValue, error) {
	fields, err := tlv.Decode(payload)
	if err != nil {
		return ErrorValue{}, fmt.Errorf("%w: %v", ErrInvalidWireForm, err)
	}
	kindField, err := tlv.MustGet(fields, fieldKind)
	if err != nil {
		return ErrorValue{}, fmt.Errorf("%w: missing kind", ErrInvalidWireForm)
	}
	ident, err := kindField.Text()
	if err != nil {
		return ErrorValue{}, fmt.Errorf("%w: kind field", ErrInvalidWireForm)
	}
	kind, ok := KindFromIdent(ident)
	if !ok {
		return ErrorValue{}, fmt.Errorf("%w: %q", ErrUnknownKind, ident)
	}

	keys := tlv.Collect(fields, fieldCtxKey)
	values := tlv.Collect(fields, fieldCtxValue)
	if len(keys) != len(values) {
		return ErrorValue{}, fmt.Errorf("%w: unpaired context fields", ErrInvalidWireForm)
	}
	var context map[string]string
	if len(keys) > 0 {
		context = make(map[string]string, len(keys))
		for i := range keys {
			k, err := keys[i].Text()
			if err != nil {
				return ErrorValue{}, fmt.Errorf("%w: context key", ErrInvalidWireForm)
			}
			v, err := values[i].Text()
			if err != nil {
				return ErrorValue{}, fmt.Errorf("%w: context value", ErrInvalidWireForm)
			}
			context[k] = v
		}
	}
	return ErrorValue{Kind: kind, Context: context}, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package syncpb defines the sync wire messages, their protobuf encoding and
// the gRPC service descriptor for sync.v1.SyncService.
//
// Messages are encoded field by field with protowire; unknown fields are
// skipped on decode so newer clients can talk to older servers.
package syncpb

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrInvalidUTF8 is returned when a string field does not hold valid UTF-8.
var ErrInvalidUTF8 = errors.New("string field contains invalid UTF-8")

// Message is implemented by every wire message.
type Message interface {
	AppendWire(b []byte) []byte
	UnmarshalWire(b []byte) error
}

// fieldFunc decodes one field value from b and reports the bytes consumed.
// It returns 0 for fields it does not know, which are then skipped.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func decodeFields(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func consumeInt64(typ protowire.Type, b []byte, dst *int64) (int, error) {
	if typ != protowire.VarintType {
		return 0, nil
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = int64(v)
	return n, nil
}

func consumeBool(typ protowire.Type, b []byte, dst *bool) (int, error) {
	var v int64
	n, err := consumeInt64(typ, b, &v)
	if n > 0 {
		*dst = v != 0
	}
	return n, err
}

func consumeString(typ protowire.Type, b []byte, dst *string) (int, error) {
	if typ != protowire.BytesType {
		return 0, nil
	}
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	if !utf8.ValidString(v) {
		return 0, ErrInvalidUTF8
	}
	*dst = v
	return n, nil
}

// consumeBytes copies the value out of b, which may alias a transport buffer.
func consumeBytes(typ protowire.Type, b []byte, dst *[]byte) (int, error) {
	if typ != protowire.BytesType {
		return 0, nil
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = append([]byte{}, v...)
	return n, nil
}

func consumeMessage(typ protowire.Type, b []byte, m Message) (int, error) {
	if typ != protowire.BytesType {
		return 0, nil
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, m.UnmarshalWire(v)
}

func appendInt64(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// appendBytes writes a present-but-empty value too; nil means absent.
func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendMessage(b []byte, num protowire.Number, m Message) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m.AppendWire(nil))
}

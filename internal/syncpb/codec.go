package syncpb

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype of the sync wire codec.
const CodecName = "syncwire"

func init() {
	encoding.RegisterCodec(Codec{})
}

// Codec marshals syncpb messages for gRPC.
type Codec struct{}

// Marshal implements encoding.Codec.
func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(Message)
	if !ok {
		return nil, fmt.Errorf("syncwire: cannot marshal %T", v)
	}
	return m.AppendWire(nil), nil
}

// Unmarshal implements encoding.Codec.
func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(Message)
	if !ok {
		return fmt.Errorf("syncwire: cannot unmarshal into %T", v)
	}
	return m.UnmarshalWire(data)
}

// Name implements encoding.Codec.
func (Codec) Name() string { return CodecName }

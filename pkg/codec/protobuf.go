package codec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// ErrNotProtoMessage is returned when Protobuf sees a value that is not a proto.Message
var ErrNotProtoMessage = errors.New("codec: value is not a proto.Message")

// Protobuf serializes proto.Message values. Destinations must be message pointers.
type Protobuf struct{}

func (Protobuf) Name() string { return "protobuf" }

func (Protobuf) Marshal(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotProtoMessage, v)
	}
	return proto.Marshal(m)
}

func (Protobuf) Unmarshal(data []byte, dst any) error {
	m, ok := dst.(proto.Message)
	if !ok {
		return fmt.Errorf("%w: %T", ErrNotProtoMessage, dst)
	}
	return proto.Unmarshal(data, m)
}

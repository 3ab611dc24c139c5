// Package codec serializes cached values to bytes.
//
// A Region stores whatever its Codec produces, so every process sharing a
// backend must use the same codec. Msgpack is the default.
package codec

import (
	"errors"
	"fmt"
)

// ErrUnknownCodec is returned by ByName for unregistered names
var ErrUnknownCodec = errors.New("codec: unknown codec")

// Codec encodes values for storage and decodes them into a destination pointer
type Codec interface {
	// Name identifies the codec in configuration
	Name() string

	Marshal(v any) ([]byte, error)

	// Unmarshal decodes data into dst, which must be a non-nil pointer
	Unmarshal(data []byte, dst any) error
}

// ByName returns the codec registered under name. An empty name selects Msgpack.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "msgpack":
		return Msgpack{}, nil
	case "json":
		return JSON{}, nil
	case "cbor":
		return NewCBOR(false)
	case "cbor-deterministic":
		return NewCBOR(true)
	case "protobuf":
		return Protobuf{}, nil
	case "raw":
		return Raw{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

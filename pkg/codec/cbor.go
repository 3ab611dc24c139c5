package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// CBOR serializes values using fxamacker/cbor.
// The zero value is NOT ready to use. Construct with NewCBOR.
type CBOR struct {
	deterministic bool
	enc           cbor.EncMode
	dec           cbor.DecMode
}

// NewCBOR constructs a CBOR codec. Deterministic selects RFC 8949 core
// deterministic encoding, for byte-stable output; otherwise preferred
// unsorted encoding is used. Times are encoded as RFC3339Nano.
func NewCBOR(deterministic bool) (*CBOR, error) {
	var eo cbor.EncOptions
	if deterministic {
		eo = cbor.CoreDetEncOptions()
	} else {
		eo = cbor.PreferredUnsortedEncOptions()
	}
	eo.Time = cbor.TimeRFC3339Nano

	em, err := eo.EncMode()
	if err != nil {
		return nil, err
	}
	dm, err := (cbor.DecOptions{}).DecMode()
	if err != nil {
		return nil, err
	}
	return &CBOR{deterministic: deterministic, enc: em, dec: dm}, nil
}

func (c *CBOR) Name() string {
	if c.deterministic {
		return "cbor-deterministic"
	}
	return "cbor"
}

func (c *CBOR) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c *CBOR) Unmarshal(data []byte, dst any) error {
	return c.dec.Unmarshal(data, dst)
}

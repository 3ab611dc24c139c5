package codec

import "fmt"

// Limit wraps another codec and refuses to decode payloads over MaxDecode
// bytes. MaxDecode <= 0 disables the check.
type Limit struct {
	Inner     Codec
	MaxDecode int
}

func (c Limit) Name() string                  { return c.Inner.Name() }
func (c Limit) Marshal(v any) ([]byte, error) { return c.Inner.Marshal(v) }

func (c Limit) Unmarshal(data []byte, dst any) error {
	if c.MaxDecode > 0 && len(data) > c.MaxDecode {
		return fmt.Errorf("codec: payload too large: %d > %d", len(data), c.MaxDecode)
	}
	return c.Inner.Unmarshal(data, dst)
}

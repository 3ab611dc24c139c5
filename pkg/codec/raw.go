package codec

import "fmt"

// Raw stores []byte and string values verbatim
type Raw struct{}

func (Raw) Name() string { return "raw" }

func (Raw) Marshal(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return nil, fmt.Errorf("codec: raw cannot encode %T", v)
	}
}

func (Raw) Unmarshal(data []byte, dst any) error {
	switch d := dst.(type) {
	case *[]byte:
		*d = append((*d)[:0], data...)
	case *string:
		*d = string(data)
	default:
		return fmt.Errorf("codec: raw cannot decode into %T", dst)
	}
	return nil
}

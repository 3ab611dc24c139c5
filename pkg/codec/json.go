package codec

import "encoding/json"

// JSON serializes values with encoding/json
type JSON struct{}

func (JSON) Name() string                         { return "json" }
func (JSON) Marshal(v any) ([]byte, error)        { return json.Marshal(v) }
func (JSON) Unmarshal(data []byte, dst any) error { return json.Unmarshal(data, dst) }

package models

import (
	"encoding/json"
	"time"
)

// Setting is a key/value pair outside the sync lifecycle.
type Setting struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Decode unmarshals the stored value into v.
func (s Setting) Decode(v any) error {
	return json.Unmarshal(s.Value, v)
}

package kafka

import (
	"encoding/json"
	"fmt"
)

// MustMarshal panics on types that cannot be encoded; event structs always can.
func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode memudahkan decode envelope maupun payload spesifik
func Decode[T any](b []byte) (T, error) {
	var t T
	if len(b) == 0 {
		return t, fmt.Errorf("decode %T: empty message", t)
	}
	if err := json.Unmarshal(b, &t); err != nil {
		return t, fmt.Errorf("decode %T: %w", t, err)
	}
	return t, nil
}

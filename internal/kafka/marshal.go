package kafka

import (
	"encoding/json"
	"fmt"
)

// UnwrapPayload decodes a message value into T.
func UnwrapPayload[T any](payload []byte) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}

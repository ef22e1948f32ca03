package queue

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Encode serialises a job payload.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode job payload: %w", err)
	}
	return data, nil
}

// Decode parses a job payload. Undecodable payloads are permanent failures.
func Decode(data []byte, v any) error {
	if len(data) == 0 {
		return Permanent(fmt.Errorf("decode job payload: empty"))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return Permanent(fmt.Errorf("decode job payload: %w", err))
	}
	return nil
}

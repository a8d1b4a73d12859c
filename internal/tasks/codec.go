package tasks

import (
	"encoding/json"
	"fmt"
)

// Encode serializes a task record for storage.
func Encode(t Task) ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	return data, nil
}

// Decode parses a stored task record. Malformed payloads and out-of-enum
// statuses yield a *CodecError; a task is never partially populated.
func Decode(data []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, &CodecError{Err: err}
	}
	if !t.Status.Valid() {
		return Task{}, &CodecError{Err: fmt.Errorf("status %q outside enum", t.Status)}
	}
	return t, nil
}

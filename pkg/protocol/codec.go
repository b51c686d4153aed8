// Package protocol defines the JSON messages exchanged between player clients and the relay.
//
// Every message is a JSON object carrying a "type" discriminant next to its own fields. The
// relay only understands the envelope; game actions and game states travel as raw JSON and are
// interpreted by the host's rules engine.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidMessage = errors.New("invalid message")
var ErrUnknownType = errors.New("unknown message type")

// Tag marshals v and merges the discriminant into the resulting object.
func Tag(typ string, v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("tag %s: payload is not an object: %w", typ, err)
	}
	t, _ := json.Marshal(typ)
	fields["type"] = t
	return json.Marshal(fields)
}

// PeekType reads the discriminant without decoding the rest of the message.
func PeekType(data []byte) (string, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	return env.Type, nil
}

func decodeInto(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

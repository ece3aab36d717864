package protocol

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
)

var (
	ErrUnknownEvent = errors.New("unknown event type")
	ErrBadPayload   = errors.New("bad payload")
)

var validate = validator.New()

type envelope struct {
	Type EventType `json:"type"`
}

// Peek extracts the event type without decoding the payload.
func Peek(data []byte) (EventType, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if env.Type == "" {
		return "", ErrUnknownEvent
	}
	return env.Type, nil
}

// Parse decodes and validates a typed payload out of a raw frame.
func Parse[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if err := validate.Struct(&v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return v, nil
}

// Encode marshals a payload under its envelope type. Payload fields are
// flattened next to "type", matching what Parse expects on the other side.
func Encode(t EventType, payload any) ([]byte, error) {
	m := map[string]json.RawMessage{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
	}
	typ, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	m["type"] = typ
	return json.Marshal(m)
}

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrUnknownEvent   = errors.New("unknown event")
	ErrInvalidPayload = errors.New("invalid payload")
)

// Decode parses data as the payload of e and validates it. The returned
// value is always a pointer, e.g. *Sample for EventLocationUpdate.
func Decode(e Event, data []byte) (Payload, error) {
	s, ok := registry[e]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e)
	}

	p := s.payload()
	if len(data) > 0 {
		if err := json.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, e, err)
		}
	}
	if o, ok := p.(*OrderEvent); ok {
		o.Raw = append(json.RawMessage(nil), data...)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", e, err)
	}
	return p, nil
}

// Encode validates p against the schema of e and marshals it.
func Encode(e Event, p Payload) ([]byte, error) {
	s, ok := registry[e]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e)
	}
	if p == nil {
		p = Empty{}
	}

	want := reflect.TypeOf(s.payload()).Elem()
	got := reflect.TypeOf(p)
	if got.Kind() == reflect.Pointer {
		got = got.Elem()
	}
	if got != want {
		return nil, fmt.Errorf("%w: %s expects %s, got %s", ErrInvalidPayload, e, want.Name(), got.Name())
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", e, err)
	}
	return json.Marshal(p)
}

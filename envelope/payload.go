package envelope

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Unhandled is the payload returned for message types with no registered
// schema. The raw bytes survive untouched so the message can be forwarded,
// dead-lettered or logged without loss.
type Unhandled struct {
	Type string
	Raw  json.RawMessage
}

var payloadRegistry = struct {
	sync.RWMutex
	decoders map[string]func(json.RawMessage) (any, error)
}{decoders: make(map[string]func(json.RawMessage) (any, error))}

// RegisterPayload binds a message type to the Go type its payload decodes
// into. Registration normally happens in package init; re-registering a type
// replaces the previous binding.
func RegisterPayload[T any](msgType string) {
	payloadRegistry.Lock()
	defer payloadRegistry.Unlock()
	payloadRegistry.decoders[msgType] = func(raw json.RawMessage) (any, error) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", msgType, err)
		}
		return v, nil
	}
}

// Payload decodes the envelope payload through the type registry. Unknown
// types are not an error: they come back as Unhandled carrying the raw
// bytes.
func Payload(e *Envelope) (any, error) {
	payloadRegistry.RLock()
	decode, ok := payloadRegistry.decoders[e.Type]
	payloadRegistry.RUnlock()
	if !ok {
		return Unhandled{Type: e.Type, Raw: e.Payload}, nil
	}
	return decode(e.Payload)
}

// Decode unmarshals the payload into a caller-chosen type, bypassing the
// registry. Typed topic handles use this for compile-time payload types.
func Decode[T any](e *Envelope) (T, error) {
	var v T
	if err := json.Unmarshal(e.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return v, nil
}

// RegisteredTypes lists the known message types, sorted. Diagnostic use.
func RegisteredTypes() []string {
	payloadRegistry.RLock()
	defer payloadRegistry.RUnlock()
	types := make([]string, 0, len(payloadRegistry.decoders))
	for t := range payloadRegistry.decoders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Package envelope defines the wire format shared by every producer and
// consumer on the bus. An envelope wraps a typed payload with the identity
// and correlation metadata that downstream services rely on for idempotency
// and tracing. Envelopes are immutable once produced: a republished message
// keeps its id and correlationId so deduplication keys stay stable.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Version is the envelope schema version stamped on every message.
const Version = "1.0"

// Record header names. Headers mirror the envelope metadata so brokers and
// tooling can filter without decoding the value.
const (
	HeaderCorrelationID  = "correlation-id"
	HeaderMessageType    = "message-type"
	HeaderSource         = "source"
	HeaderVersion        = "version"
	HeaderOrganizationID = "organization-id"
	HeaderEmployeeID     = "employee-id"

	// HeaderRetryAttempt counts completed DLQ rounds. It is absent on first
	// publish and set by the DLQ reprocessor on republish.
	HeaderRetryAttempt = "retry-attempt"
)

// Metadata carries the correlation and provenance fields attached to every
// envelope. CorrelationID is stable across an entire causal chain and is
// never rewritten in transit.
type Metadata struct {
	CorrelationID  string    `json:"correlationId"`
	Timestamp      time.Time `json:"timestamp"`
	Source         string    `json:"source"`
	Version        string    `json:"version"`
	OrganizationID string    `json:"organizationId,omitempty"`
	EmployeeID     string    `json:"employeeId,omitempty"`
}

// Envelope is the unit of transfer on every topic.
type Envelope struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Metadata Metadata        `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

// Option adjusts an envelope during construction.
type Option func(*Envelope)

// WithID sets an explicit envelope id instead of a generated one.
func WithID(id string) Option {
	return func(e *Envelope) { e.ID = id }
}

// WithType overrides the message type chosen by the caller of New.
func WithType(msgType string) Option {
	return func(e *Envelope) { e.Type = msgType }
}

// WithCorrelationID joins the envelope to an existing causal chain.
func WithCorrelationID(id string) Option {
	return func(e *Envelope) { e.Metadata.CorrelationID = id }
}

// WithSource names the producing component.
func WithSource(source string) Option {
	return func(e *Envelope) { e.Metadata.Source = source }
}

// WithTimestamp overrides the produce timestamp. Used by republishers that
// must preserve the original event time.
func WithTimestamp(ts time.Time) Option {
	return func(e *Envelope) { e.Metadata.Timestamp = ts.UTC() }
}

// WithOrganizationID scopes the envelope to a tenant. The organization id
// doubles as the partition key so per-tenant ordering holds.
func WithOrganizationID(id string) Option {
	return func(e *Envelope) { e.Metadata.OrganizationID = id }
}

// WithEmployeeID scopes the envelope to an employee.
func WithEmployeeID(id string) Option {
	return func(e *Envelope) { e.Metadata.EmployeeID = id }
}

// New builds an envelope around payload. The payload is marshaled once at
// construction; a marshal failure is returned synchronously and nothing is
// published. Missing identity fields are filled: a fresh id, a fresh
// correlationId, the current UTC time and the schema version.
func New(msgType string, payload any, opts ...Option) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}

	env := &Envelope{
		Type:    msgType,
		Payload: raw,
	}
	for _, opt := range opts {
		opt(env)
	}

	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Metadata.CorrelationID == "" {
		env.Metadata.CorrelationID = uuid.NewString()
	}
	if env.Metadata.Timestamp.IsZero() {
		env.Metadata.Timestamp = time.Now().UTC()
	} else {
		env.Metadata.Timestamp = env.Metadata.Timestamp.UTC()
	}
	if env.Metadata.Version == "" {
		env.Metadata.Version = Version
	}
	return env, nil
}

// Validate reports the first missing required field.
func (e *Envelope) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("envelope missing id")
	case e.Type == "":
		return fmt.Errorf("envelope missing type")
	case e.Metadata.CorrelationID == "":
		return fmt.Errorf("envelope %s missing correlationId", e.ID)
	case e.Metadata.Timestamp.IsZero():
		return fmt.Errorf("envelope %s missing timestamp", e.ID)
	case e.Metadata.Version == "":
		return fmt.Errorf("envelope %s missing version", e.ID)
	}
	return nil
}

// Key returns the partition key: the organization id when present, else the
// envelope id. Tenant events stay ordered within their partition; events
// without a tenant spread across partitions.
func (e *Envelope) Key() string {
	if e.Metadata.OrganizationID != "" {
		return e.Metadata.OrganizationID
	}
	return e.ID
}

// Headers renders the metadata as record headers.
func (e *Envelope) Headers() map[string]string {
	h := map[string]string{
		HeaderCorrelationID: e.Metadata.CorrelationID,
		HeaderMessageType:   e.Type,
		HeaderSource:        e.Metadata.Source,
		HeaderVersion:       e.Metadata.Version,
	}
	if e.Metadata.OrganizationID != "" {
		h[HeaderOrganizationID] = e.Metadata.OrganizationID
	}
	if e.Metadata.EmployeeID != "" {
		h[HeaderEmployeeID] = e.Metadata.EmployeeID
	}
	return h
}

// Marshal renders the envelope as its JSON wire form.
func (e *Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope %s: %w", e.ID, err)
	}
	return data, nil
}

// Unmarshal parses a wire-form envelope and validates its required fields.
func Unmarshal(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// Package correlation tracks causal context across the event backbone.
// Every request entering the platform gets a correlation context; work
// spawned from it gets child contexts sharing one trace id. Services record
// trace events against the correlation id they received, and the store
// assembles full traces and OTel-shaped exports from them.
package correlation

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// EventStatus is the lifecycle state a trace event reports.
type EventStatus string

const (
	// EventStarted opens an operation; a later completed or failed event
	// on the same service and operation closes it.
	EventStarted EventStatus = "started"

	// EventCompleted closes an operation successfully.
	EventCompleted EventStatus = "completed"

	// EventFailed closes an operation with an error.
	EventFailed EventStatus = "failed"
)

// IsValid returns true when s is a recognized event status.
func (s EventStatus) IsValid() bool {
	switch s {
	case EventStarted, EventCompleted, EventFailed:
		return true
	}
	return false
}

// CorrelationContext identifies one unit of causally related work. The
// correlation id is the public key services pass around; trace and span ids
// follow the OpenTelemetry shapes so exports splice into tracing backends.
type CorrelationContext struct {
	CorrelationID  string    `json:"correlationId"`
	ParentID       string    `json:"parentId,omitempty"`
	TraceID        string    `json:"traceId"`
	SpanID         string    `json:"spanId"`
	OrganizationID string    `json:"organizationId,omitempty"`
	EmployeeID     string    `json:"employeeId,omitempty"`
	WorkflowID     string    `json:"workflowId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// TraceEvent is one recorded step within a correlation.
type TraceEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	Service   string         `json:"service"`
	Operation string         `json:"operation"`
	Status    EventStatus    `json:"status"`
	Duration  time.Duration  `json:"duration,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ContextOption adjusts a context at creation.
type ContextOption func(*CorrelationContext)

// WithOrganizationID scopes the context to a tenant.
func WithOrganizationID(id string) ContextOption {
	return func(c *CorrelationContext) { c.OrganizationID = id }
}

// WithEmployeeID scopes the context to an employee.
func WithEmployeeID(id string) ContextOption {
	return func(c *CorrelationContext) { c.EmployeeID = id }
}

// WithWorkflowID attaches the workflow run this context belongs to.
func WithWorkflowID(id string) ContextOption {
	return func(c *CorrelationContext) { c.WorkflowID = id }
}

// WithCorrelationID pins the correlation id instead of generating one, for
// contexts continuing work that entered through another service.
func WithCorrelationID(id string) ContextOption {
	return func(c *CorrelationContext) { c.CorrelationID = id }
}

// WithTraceID joins an existing trace instead of opening a new one.
func WithTraceID(id string) ContextOption {
	return func(c *CorrelationContext) { c.TraceID = id }
}

func newContext(opts ...ContextOption) CorrelationContext {
	ctx := CorrelationContext{
		SpanID:    newSpanID(),
		CreatedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&ctx)
	}
	if ctx.CorrelationID == "" {
		ctx.CorrelationID = uuid.NewString()
	}
	if ctx.TraceID == "" {
		ctx.TraceID = newTraceID()
	}
	return ctx
}

// newTraceID returns 16 random bytes as 32 hex characters.
func newTraceID() string {
	return randomHex(16)
}

// newSpanID returns 8 random bytes as 16 hex characters.
func newSpanID() string {
	return randomHex(8)
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand only fails when the platform entropy source is
		// broken; fall back to a uuid-derived value rather than panic.
		return hex.EncodeToString([]byte(uuid.NewString()))[:2*n]
	}
	return hex.EncodeToString(b)
}

// Package component defines the lifecycle contract every lifebus processor
// implements and the registry the binary assembles them through. A component
// owns one worker: the gateway owns its HTTP server, a poller component owns
// its poll loops, a consumer component owns its group session. The binary
// starts components in pipeline order and stops them in reverse so in-flight
// work drains before the bus connection closes.
package component

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360studio/lifebus/bus"
	"github.com/c360studio/lifebus/correlation"
	"github.com/c360studio/lifebus/hrms"
	"github.com/c360studio/lifebus/metrics"
)

// Component is the minimal lifecycle every processor implements.
type Component interface {
	// Initialize prepares internal state after construction, before Start.
	Initialize() error

	// Start launches the component's worker. The context bounds the
	// component's lifetime; cancellation begins shutdown.
	Start(ctx context.Context) error

	// Stop halts the worker, waiting up to timeout for in-flight work.
	Stop(timeout time.Duration) error

	// Meta describes the component for discovery and diagnostics.
	Meta() Metadata

	// Health reports liveness for the health endpoint.
	Health() HealthStatus

	// IsRunning reports whether the worker is live.
	IsRunning() bool
}

// Discoverable extends Component with the introspection surface the admin
// tooling renders: ports, config schema and flow metrics.
type Discoverable interface {
	Component

	InputPorts() []Port
	OutputPorts() []Port
	ConfigSchema() ConfigSchema
	DataFlow() FlowMetrics
}

// Metadata identifies a component.
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// HealthStatus is one component's contribution to /api/health.
type HealthStatus struct {
	Healthy    bool           `json:"healthy"`
	Status     string         `json:"status"`
	LastCheck  time.Time      `json:"lastCheck"`
	ErrorCount int            `json:"errorCount"`
	Uptime     time.Duration  `json:"uptime"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// PortDirection distinguishes consuming from producing ports.
type PortDirection string

const (
	// DirectionInput marks a port the component consumes from.
	DirectionInput PortDirection = "input"

	// DirectionOutput marks a port the component produces to.
	DirectionOutput PortDirection = "output"
)

// Port describes one bus attachment: a topic or subscription pattern the
// component reads or writes, with the group it reads under.
type Port struct {
	Name        string        `json:"name"`
	Direction   PortDirection `json:"direction"`
	Topic       string        `json:"topic"`
	Group       string        `json:"group,omitempty"`
	Required    bool          `json:"required"`
	Description string        `json:"description,omitempty"`
}

// FlowMetrics is a coarse activity snapshot for dashboards.
type FlowMetrics struct {
	MessagesPerSecond float64   `json:"messagesPerSecond"`
	BytesPerSecond    float64   `json:"bytesPerSecond"`
	ErrorRate         float64   `json:"errorRate"`
	LastActivity      time.Time `json:"lastActivity"`
}

// PollerAdmin is the control surface the poller component exposes to the
// gateway's admin endpoints.
type PollerAdmin interface {
	// ForcePoll triggers an out-of-band cycle on every poller for the
	// source, returning how many pollers were signalled.
	ForcePoll(source string) (int, error)

	// PollerStatuses snapshots every poller for the health endpoint.
	PollerStatuses() []hrms.PollerStatus
}

// Dependencies carries the shared infrastructure components are built
// around. Every field is optional; components fall back to in-memory or
// default equivalents where that makes sense, so tests construct only what
// they exercise.
type Dependencies struct {
	// Client is the shared broker connection.
	Client *bus.Client

	// Producer publishes on behalf of every component.
	Producer *bus.Producer

	// Metrics is the process-wide collector set.
	Metrics *metrics.Metrics

	// Correlation is the process-wide correlation store.
	Correlation *correlation.Store

	// Cursors persists poll positions across restarts.
	Cursors hrms.CursorStore

	// Adapters lists the configured HRMS tenants. The gateway verifies
	// and normalizes with them; the poller component drives them.
	Adapters []hrms.Config

	// Pollers is set on components that expose poller admin operations.
	// Only the gateway reads it.
	Pollers PollerAdmin

	// Logger is the parent logger; components derive their own.
	Logger *slog.Logger
}

// Log returns the configured logger or the process default.
func (d Dependencies) Log() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

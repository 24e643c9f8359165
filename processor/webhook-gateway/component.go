// Package webhookgateway is the HTTP ingress of the event backbone. It
// receives provider webhooks, verifies signatures, normalizes payloads
// through the HRMS adapters and publishes the resulting lifecycle events,
// and carries the admin surface: webhook registry CRUD, health, forced
// polls and metrics.
package webhookgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/lifebus/bus"
	"github.com/c360studio/lifebus/component"
	"github.com/c360studio/lifebus/correlation"
	"github.com/c360studio/lifebus/hrms"
	"github.com/c360studio/lifebus/metrics"
)

const (
	componentName    = "webhook-gateway"
	componentVersion = "0.1.0"
)

// adapterEntry pairs an adapter with the webhook secret in force for it.
// Ephemeral entries were built from the webhook registry alone and are
// evicted when the registration changes.
type adapterEntry struct {
	adapter   hrms.Adapter
	secret    string
	ephemeral bool
}

// Component is the webhook gateway processor.
type Component struct {
	config      Config
	registry    *Registry
	limiter     *RateLimiter
	producer    *bus.Producer
	correlation *correlation.Store
	pollers     component.PollerAdmin
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu       sync.RWMutex
	adapters map[string]adapterEntry
	running  bool
	started  time.Time
	server   *http.Server
	done     chan struct{}

	errorCount     atomic.Int64
	lastActivityMu sync.RWMutex
	lastActivity   time.Time
}

// NewComponent builds the gateway from its raw JSON config and the shared
// dependencies. Adapters configured in deps become signature-verifying
// webhook processors; tenants present only in the webhook registry get
// webhook-only processors on demand.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	config := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &config); err != nil {
			return nil, fmt.Errorf("parse webhook-gateway config: %w", err)
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid webhook-gateway config: %w", err)
	}
	if deps.Producer == nil {
		return nil, fmt.Errorf("webhook-gateway requires a producer")
	}

	logger := deps.Log().With("component", componentName)

	registry, err := NewRegistry(config.RegistryPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open webhook registry: %w", err)
	}

	c := &Component{
		config:      config,
		registry:    registry,
		limiter:     NewRateLimiter(config.RateLimit, config.GetRateWindow()),
		producer:    deps.Producer,
		correlation: deps.Correlation,
		pollers:     deps.Pollers,
		metrics:     deps.Metrics,
		logger:      logger,
		adapters:    make(map[string]adapterEntry),
	}

	for _, acfg := range deps.Adapters {
		adapter, err := hrms.New(acfg, deps.Log())
		if err != nil {
			return nil, fmt.Errorf("build %s adapter: %w", acfg.Source, err)
		}
		key := acfg.Source + "/" + acfg.OrganizationID
		c.adapters[key] = adapterEntry{adapter: adapter, secret: acfg.WebhookSecret}
	}
	return c, nil
}

// Initialize starts the registry hot-reload watcher.
func (c *Component) Initialize() error {
	return c.registry.Watch()
}

// Start binds the listener and serves in its own goroutine.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("%s already started", componentName)
	}

	c.server = &http.Server{
		Addr:              c.config.ListenAddr,
		Handler:           c.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	c.done = make(chan struct{})
	c.running = true
	c.started = time.Now()

	go func() {
		defer close(c.done)
		if err := c.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("http server failed", "error", err)
			c.errorCount.Add(1)
		}
	}()

	c.logger.Info("webhook gateway listening",
		"addr", c.config.ListenAddr, "adapters", len(c.adapters))
	return nil
}

// Stop drains the server: in-flight requests finish within timeout.
func (c *Component) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	server, done := c.server, c.done
	c.running = false
	c.server = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := server.Shutdown(ctx)
	<-done
	c.registry.Close()

	c.logger.Info("webhook gateway stopped")
	return err
}

// Meta describes the component.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        componentName,
		Type:        "processor",
		Description: "HTTP webhook ingress normalizing HRMS events onto the bus",
		Version:     componentVersion,
	}
}

// Health reports liveness for /api/health.
func (c *Component) Health() component.HealthStatus {
	running := c.IsRunning()
	status := "stopped"
	if running {
		status = "running"
	}
	return component.HealthStatus{
		Healthy:    running,
		Status:     status,
		LastCheck:  time.Now(),
		ErrorCount: int(c.errorCount.Load()),
		Uptime:     time.Since(c.startTime()),
	}
}

// IsRunning reports whether the server is live.
func (c *Component) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// InputPorts lists the HTTP ingress as the sole input.
func (c *Component) InputPorts() []component.Port {
	return []component.Port{{
		Name:        "webhooks",
		Direction:   component.DirectionInput,
		Topic:       "http:" + c.config.ListenAddr,
		Required:    true,
		Description: "Inbound HRMS webhook deliveries",
	}}
}

// OutputPorts lists the canonical lifecycle topics.
func (c *Component) OutputPorts() []component.Port {
	ports := make([]component.Port, 0, 4)
	for _, lt := range []string{"employee.onboard", "employee.exit", "employee.transfer", "employee.update"} {
		ports = append(ports, component.Port{
			Name:        lt,
			Direction:   component.DirectionOutput,
			Topic:       lt,
			Required:    true,
			Description: "Normalized lifecycle events",
		})
	}
	return ports
}

// ConfigSchema returns the generated schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return gatewaySchema
}

// DataFlow snapshots activity for dashboards.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{LastActivity: c.getLastActivity()}
}

func (c *Component) startTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.started
}

func (c *Component) updateLastActivity() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

func (c *Component) getLastActivity() time.Time {
	c.lastActivityMu.RLock()
	defer c.lastActivityMu.RUnlock()
	return c.lastActivity
}

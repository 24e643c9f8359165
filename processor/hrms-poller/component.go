// Package hrmspoller drives the configured HRMS adapters on their poll
// intervals and publishes the normalized lifecycle events. One poller runs
// per adapter config; cursors persist through the shared cursor store so a
// restart resumes where the last clean poll stopped. The component also
// serves as the poller admin surface the gateway's operational endpoints
// call into.
package hrmspoller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/lifebus/bus"
	"github.com/c360studio/lifebus/component"
	"github.com/c360studio/lifebus/correlation"
	"github.com/c360studio/lifebus/envelope"
	"github.com/c360studio/lifebus/hrms"
	"github.com/c360studio/lifebus/metrics"
)

const (
	componentName    = "hrms-poller"
	componentVersion = "0.1.0"
)

// Component owns the poll loops for every configured adapter.
type Component struct {
	config      Config
	producer    *bus.Producer
	correlation *correlation.Store
	cursors     hrms.CursorStore
	health      *hrms.HealthTracker
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu      sync.RWMutex
	pollers map[string]*hrms.Poller
	running bool
	started time.Time
	cancel  context.CancelFunc

	errorCount   atomic.Int64
	published    atomic.Int64
	lastActivity atomic.Int64
}

// NewComponent builds the poller component from its raw JSON config and
// the shared dependencies. Adapter configs come from deps; every valid
// config gets a poller, with disabled ones idle until a forced poll.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	config := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &config); err != nil {
			return nil, fmt.Errorf("parse hrms-poller config: %w", err)
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid hrms-poller config: %w", err)
	}
	if deps.Producer == nil {
		return nil, fmt.Errorf("hrms-poller requires a producer")
	}

	logger := deps.Log().With("component", componentName)

	cursors := deps.Cursors
	if cursors == nil && config.CursorPath != "" {
		store, err := hrms.NewFileCursorStore(config.CursorPath)
		if err != nil {
			return nil, fmt.Errorf("open cursor store: %w", err)
		}
		cursors = store
	}

	c := &Component{
		config:      config,
		producer:    deps.Producer,
		correlation: deps.Correlation,
		cursors:     cursors,
		metrics:     deps.Metrics,
		logger:      logger,
		pollers:     make(map[string]*hrms.Poller),
		health: hrms.NewHealthTracker(hrms.HealthConfig{
			FailureThreshold: config.FailureThreshold,
			RecoveryTimeout:  config.GetRecoveryTimeout(),
		}),
	}

	for _, acfg := range deps.Adapters {
		adapter, err := hrms.New(acfg, deps.Log())
		if err != nil {
			return nil, fmt.Errorf("build %s adapter: %w", acfg.Source, err)
		}
		poller := hrms.NewPoller(adapter, acfg, c, c.cursors, c.health, c.metrics, logger)
		c.pollers[poller.Key()] = poller
	}
	return c, nil
}

// Initialize is a no-op; pollers load their cursors on Start.
func (c *Component) Initialize() error {
	return nil
}

// Start launches every poll loop.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("%s already started", componentName)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	started := make([]*hrms.Poller, 0, len(c.pollers))
	for _, p := range c.pollers {
		if err := p.Start(loopCtx); err != nil {
			cancel()
			for _, prev := range started {
				_ = prev.Stop(time.Second)
			}
			return fmt.Errorf("start poller %s: %w", p.Key(), err)
		}
		started = append(started, p)
	}

	c.cancel = cancel
	c.running = true
	c.started = time.Now()
	c.logger.Info("pollers started", "count", len(c.pollers))
	return nil
}

// Stop halts every poll loop, splitting the timeout across them.
func (c *Component) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	c.running = false
	c.cancel = nil
	pollers := make([]*hrms.Poller, 0, len(c.pollers))
	for _, p := range c.pollers {
		pollers = append(pollers, p)
	}
	c.mu.Unlock()

	cancel()

	deadline := time.Now().Add(timeout)
	var firstErr error
	for _, p := range pollers {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			remaining = time.Millisecond
		}
		if err := p.Stop(remaining); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	c.logger.Info("pollers stopped", "count", len(pollers))
	return firstErr
}

// PublishLifecycle routes one normalized event to its canonical topic.
// This is the hrms.Publisher contract every poller produces through.
func (c *Component) PublishLifecycle(ctx context.Context, ev envelope.LifecycleEvent) error {
	topic, err := bus.TopicForLifecycle(ev.Type)
	if err != nil {
		return err
	}

	opts := []envelope.Option{
		envelope.WithOrganizationID(ev.OrganizationID),
		envelope.WithEmployeeID(ev.EmployeeID),
	}
	if c.correlation != nil {
		corr := c.correlation.CreateContext(
			correlation.WithOrganizationID(ev.OrganizationID),
			correlation.WithEmployeeID(ev.EmployeeID),
		)
		opts = append(opts, envelope.WithCorrelationID(corr.CorrelationID))
		_ = c.correlation.RecordEvent(corr.CorrelationID, componentName, "publish-lifecycle",
			correlation.EventStarted, map[string]any{"source": ev.Metadata.Source, "type": string(ev.Type)})
		defer func() {
			status := correlation.EventCompleted
			md := map[string]any{"topic": topic.Name}
			if err != nil {
				status = correlation.EventFailed
				md["error"] = err.Error()
			}
			_ = c.correlation.RecordEvent(corr.CorrelationID, componentName, "publish-lifecycle", status, md)
		}()
	}

	if _, err = topic.Publish(ctx, c.producer, ev, opts...); err != nil {
		c.errorCount.Add(1)
		return err
	}
	c.published.Add(1)
	c.lastActivity.Store(time.Now().UnixNano())
	return nil
}

// ForcePoll triggers an out-of-band cycle on every poller for the source.
func (c *Component) ForcePoll(source string) (int, error) {
	if !hrms.KnownSource(source) {
		return 0, fmt.Errorf("unknown hrms source %q", source)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.running {
		return 0, fmt.Errorf("%s not running", componentName)
	}

	triggered := 0
	for _, p := range c.pollers {
		status := p.Status()
		if status.Source != source {
			continue
		}
		if err := p.ForcePoll(); err != nil {
			return triggered, err
		}
		triggered++
	}
	return triggered, nil
}

// PollerStatuses snapshots every poller, sorted by key for stable output.
func (c *Component) PollerStatuses() []hrms.PollerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.pollers))
	for key := range c.pollers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]hrms.PollerStatus, 0, len(keys))
	for _, key := range keys {
		out = append(out, c.pollers[key].Status())
	}
	return out
}

// Meta describes the component.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        componentName,
		Type:        "processor",
		Description: "Scheduled HRMS API polling publishing lifecycle events",
		Version:     componentVersion,
	}
}

// Health rolls up poller circuit state: any open circuit marks the
// component degraded but not dead.
func (c *Component) Health() component.HealthStatus {
	running := c.IsRunning()
	status := "stopped"
	if running {
		status = "running"
	}

	detail := make(map[string]any)
	openCircuits := 0
	for _, s := range c.PollerStatuses() {
		if s.Health != nil && s.Health.CircuitOpen {
			openCircuits++
		}
	}
	if openCircuits > 0 {
		status = "degraded"
		detail["openCircuits"] = openCircuits
	}

	return component.HealthStatus{
		Healthy:    running,
		Status:     status,
		LastCheck:  time.Now(),
		ErrorCount: int(c.errorCount.Load()),
		Uptime:     time.Since(c.startTime()),
		Detail:     detail,
	}
}

// IsRunning reports whether the poll loops are live.
func (c *Component) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// InputPorts lists the upstream provider APIs.
func (c *Component) InputPorts() []component.Port {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ports := make([]component.Port, 0, len(c.pollers))
	for key := range c.pollers {
		ports = append(ports, component.Port{
			Name:        key,
			Direction:   component.DirectionInput,
			Topic:       "hrms:" + key,
			Description: "Upstream HRMS change feed",
		})
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
	return ports
}

// OutputPorts lists the canonical lifecycle topics.
func (c *Component) OutputPorts() []component.Port {
	ports := make([]component.Port, 0, 4)
	for _, lt := range envelope.LifecycleTypes() {
		ports = append(ports, component.Port{
			Name:        lt.Topic(),
			Direction:   component.DirectionOutput,
			Topic:       lt.Topic(),
			Required:    true,
			Description: "Normalized lifecycle events",
		})
	}
	return ports
}

// ConfigSchema returns the generated schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return pollerSchema
}

// DataFlow snapshots publish activity.
func (c *Component) DataFlow() component.FlowMetrics {
	flow := component.FlowMetrics{}
	if ts := c.lastActivity.Load(); ts > 0 {
		flow.LastActivity = time.Unix(0, ts)
	}
	return flow
}

func (c *Component) startTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.started
}

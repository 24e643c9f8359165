package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/lifebus/bus"
	"github.com/c360studio/lifebus/component"
	"github.com/c360studio/lifebus/config"
	"github.com/c360studio/lifebus/correlation"
	"github.com/c360studio/lifebus/hrms"
	"github.com/c360studio/lifebus/metrics"
	dlqhandler "github.com/c360studio/lifebus/processor/dlq-handler"
	hrmspoller "github.com/c360studio/lifebus/processor/hrms-poller"
	webhookgateway "github.com/c360studio/lifebus/processor/webhook-gateway"
)

// startupOrder is the pipeline order: triage first so dead letters are
// handled from the start, pollers next, ingress last. Shutdown runs in
// reverse so the gateway stops accepting before the pollers drain and the
// triage consumer leaves last.
var startupOrder = []string{"dlq-handler", "hrms-poller", "webhook-gateway"}

// App assembles the shared infrastructure and the three processors.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	client      *bus.Client
	producer    *bus.Producer
	metrics     *metrics.Metrics
	correlation *correlation.Store
	registry    *component.Registry

	components map[string]component.Discoverable
	started    []string
}

// NewApp builds the application from validated configuration. Nothing is
// dialed until Run.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	m := metrics.New()
	client := bus.NewClient(cfg.Kafka.ClientConfig(), logger)

	a := &App{
		cfg:         cfg,
		logger:      logger,
		client:      client,
		producer:    bus.NewProducer(client, "lifebus", m, logger),
		metrics:     m,
		correlation: correlation.NewStore(cfg.Correlation.MaxAge, logger),
		registry:    component.NewRegistry(),
		components:  make(map[string]component.Discoverable),
	}

	if err := hrmspoller.Register(a.registry); err != nil {
		return nil, fmt.Errorf("register hrms-poller: %w", err)
	}
	if err := webhookgateway.Register(a.registry); err != nil {
		return nil, fmt.Errorf("register webhook-gateway: %w", err)
	}
	if err := dlqhandler.Register(a.registry); err != nil {
		return nil, fmt.Errorf("register dlq-handler: %w", err)
	}
	logger.Info("component factories registered", "components", a.registry.ListFactories())

	if err := a.buildComponents(); err != nil {
		return nil, err
	}
	return a, nil
}

// buildComponents instantiates the processors. The poller component is
// built first so the gateway can take it as its poller admin surface.
func (a *App) buildComponents() error {
	cursors, err := hrms.NewFileCursorStore(a.cfg.CursorPath())
	if err != nil {
		return fmt.Errorf("open cursor store: %w", err)
	}

	deps := component.Dependencies{
		Client:      a.client,
		Producer:    a.producer,
		Metrics:     a.metrics,
		Correlation: a.correlation,
		Cursors:     cursors,
		Adapters:    a.cfg.Adapters,
		Logger:      a.logger,
	}

	poller, err := a.registry.Create("hrms-poller", mustJSON(map[string]any{
		"cursor_path": a.cfg.CursorPath(),
	}), deps)
	if err != nil {
		return err
	}
	a.components["hrms-poller"] = poller

	gatewayDeps := deps
	gatewayDeps.Pollers = poller.(component.PollerAdmin)
	gateway, err := a.registry.Create("webhook-gateway", mustJSON(map[string]any{
		"listen_addr":     a.cfg.Gateway.ListenAddr,
		"max_body_bytes":  a.cfg.Gateway.MaxBodyBytes,
		"request_timeout": a.cfg.Gateway.RequestTimeout.String(),
		"rate_limit":      a.cfg.Gateway.RateLimit,
		"rate_window":     a.cfg.Gateway.RateWindow.String(),
		"registry_path":   a.cfg.RegistryPath(),
	}), gatewayDeps)
	if err != nil {
		return err
	}
	a.components["webhook-gateway"] = gateway

	handler, err := a.registry.Create("dlq-handler", mustJSON(map[string]any{
		"quarantine_after": a.cfg.DLQ.QuarantineAfter,
		"max_reprocess":    a.cfg.DLQ.MaxReprocess,
		"reprocess_delay":  a.cfg.DLQ.ReprocessDelay.String(),
		"manual_review":    a.cfg.DLQ.ManualReviewEnabled(),
	}), deps)
	if err != nil {
		return err
	}
	a.components["dlq-handler"] = handler
	return nil
}

// Run connects to the brokers, ensures the topic topology, starts every
// component and blocks until ctx ends, then shuts down.
func (a *App) Run(ctx context.Context) error {
	if _, err := a.client.Connect(ctx); err != nil {
		return err
	}
	if err := a.client.EnsureTopics(ctx, bus.FullTopology()); err != nil {
		return fmt.Errorf("ensure topics: %w", err)
	}
	a.correlation.StartPruner(ctx, a.cfg.Correlation.PruneInterval)

	for _, name := range startupOrder {
		comp := a.components[name]
		if err := comp.Initialize(); err != nil {
			a.shutdown(10 * time.Second)
			return fmt.Errorf("initialize %s: %w", name, err)
		}
		if err := comp.Start(ctx); err != nil {
			a.shutdown(10 * time.Second)
			return fmt.Errorf("start %s: %w", name, err)
		}
		a.started = append(a.started, name)
	}
	a.logger.Info("lifebus running",
		"listen_addr", a.cfg.Gateway.ListenAddr,
		"adapters", len(a.cfg.Adapters),
		"brokers", a.cfg.Kafka.Brokers)

	<-ctx.Done()
	a.logger.Info("shutdown signal received")
	a.shutdown(30 * time.Second)
	return nil
}

// shutdown stops started components in reverse order, splitting the
// timeout across them, then releases the broker connection.
func (a *App) shutdown(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for i := len(a.started) - 1; i >= 0; i-- {
		name := a.started[i]
		remaining := time.Until(deadline)
		if remaining <= 0 {
			remaining = time.Second
		}
		if err := a.components[name].Stop(remaining); err != nil {
			a.logger.Error("component stop failed", "component", name, "error", err)
		}
	}
	a.started = nil
	a.client.Close()
	a.logger.Info("lifebus stopped")
}

// Health snapshots every component for diagnostics.
func (a *App) Health() map[string]component.HealthStatus {
	out := make(map[string]component.HealthStatus, len(a.components))
	for name, comp := range a.components {
		out[name] = comp.Health()
	}
	return out
}

func mustJSON(v map[string]any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

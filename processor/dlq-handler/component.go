// Package dlqhandler consumes every dead-letter topic and triages each
// record: transient failures republish to their original topic after a
// delay, exhausted or poisoned records park on quarantine.queue, and
// everything else is flagged for an operator on manual.review.queue. The
// original envelope travels untouched through every hop so its id and
// correlationId survive reprocessing.
package dlqhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/lifebus/bus"
	"github.com/c360studio/lifebus/component"
	"github.com/c360studio/lifebus/correlation"
	"github.com/c360studio/lifebus/envelope"
	"github.com/c360studio/lifebus/metrics"
)

const (
	componentName    = "dlq-handler"
	componentVersion = "0.1.0"

	// reprocessorSource marks republished envelopes so consumers and
	// dashboards can tell a replay from a first delivery.
	reprocessorSource = "dlq-reprocessor"

	quarantineTopic = "quarantine.queue"
	reviewTopic     = "manual.review.queue"
)

// reviewEntry is one message waiting on an operator decision.
type reviewEntry struct {
	msg       *envelope.DLQMessage
	flaggedAt time.Time
}

// Component is the dead-letter triage processor.
type Component struct {
	config      Config
	triage      TriageConfig
	consumer    *bus.Consumer
	producer    *bus.Producer
	correlation *correlation.Store
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu      sync.RWMutex
	running bool
	started time.Time

	// reviewIndex holds messages flagged for review, keyed by original
	// envelope id, bounded FIFO. The review topic is the durable record;
	// this index only serves the manual reprocess path of this process.
	reviewMu    sync.Mutex
	reviewIndex map[string]*reviewEntry
	reviewOrder []string

	errorCount   atomic.Int64
	handled      atomic.Int64
	lastActivity atomic.Int64
}

// NewComponent builds the handler from its raw JSON config and the shared
// dependencies. The consumer joins the dlq-handler group on its registered
// dlq.* subscription.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	config := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &config); err != nil {
			return nil, fmt.Errorf("parse dlq-handler config: %w", err)
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dlq-handler config: %w", err)
	}
	if deps.Client == nil {
		return nil, fmt.Errorf("dlq-handler requires a bus client")
	}
	if deps.Producer == nil {
		return nil, fmt.Errorf("dlq-handler requires a producer")
	}

	logger := deps.Log().With("component", componentName)

	group, ok := bus.LookupGroup(componentName)
	if !ok {
		return nil, fmt.Errorf("consumer group %q not registered", componentName)
	}

	c := &Component{
		config:      config,
		triage:      config.Triage(),
		producer:    deps.Producer,
		correlation: deps.Correlation,
		metrics:     deps.Metrics,
		logger:      logger,
		reviewIndex: make(map[string]*reviewEntry),
	}
	c.consumer = bus.NewConsumer(deps.Client.Config(), group, deps.Producer, deps.Metrics, logger)
	return c, nil
}

// Initialize registers the dead-letter handler. Quarantine and review
// records share the subscription but carry their own types, which stay
// unhandled on purpose: they are terminal.
func (c *Component) Initialize() error {
	return c.consumer.RegisterHandler(envelope.TypeDLQMessage, c.handleDeadLetter)
}

// Start joins the consumer group.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("%s already started", componentName)
	}
	if err := c.consumer.Start(ctx); err != nil {
		return err
	}
	c.running = true
	c.started = time.Now()
	c.logger.Info("dlq handler started",
		"quarantine_after", c.config.QuarantineAfter,
		"max_reprocess", c.config.MaxReprocess,
		"reprocess_delay", c.config.ReprocessDelay)
	return nil
}

// Stop drains the consumer.
func (c *Component) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	err := c.consumer.Stop(timeout)
	c.logger.Info("dlq handler stopped")
	return err
}

// handleDeadLetter triages one dlq.message record. Redelivery of the same
// record reaches the same verdict, and every action republishes the
// original envelope unmodified apart from the source stamp, so the path is
// idempotent under at-least-once delivery.
func (c *Component) handleDeadLetter(ctx context.Context, env *envelope.Envelope, mc bus.MessageContext) error {
	msg, err := envelope.Decode[envelope.DLQMessage](env)
	if err != nil {
		return fmt.Errorf("%w: decode dlq message: %w", bus.ErrSkip, err)
	}
	if msg.OriginalEnvelope == nil || msg.OriginalTopic == "" {
		return fmt.Errorf("%w: dlq message %s missing original envelope or topic", bus.ErrSkip, env.ID)
	}

	decision := Triage(c.triage, &msg)
	c.logger.Info("triaged dead letter",
		"envelope_id", msg.OriginalEnvelope.ID,
		"original_topic", msg.OriginalTopic,
		"attempt_count", msg.AttemptCount,
		"error_name", msg.Error.Name,
		"decision", string(decision))
	c.recordTrace(&msg, string(decision))

	switch decision {
	case DecisionReprocess:
		err = c.reprocess(ctx, &msg, c.triage.ReprocessDelay)
	case DecisionQuarantine:
		err = c.quarantine(ctx, &msg)
	case DecisionReview:
		err = c.flagForReview(ctx, &msg)
	}
	if err != nil {
		c.errorCount.Add(1)
		return err
	}

	c.handled.Add(1)
	c.lastActivity.Store(time.Now().UnixNano())
	return nil
}

// reprocess waits out the delay and republishes the original envelope to
// its original topic. The envelope keeps its id and correlationId; only
// the source changes and the retry-attempt header carries the round count.
func (c *Component) reprocess(ctx context.Context, msg *envelope.DLQMessage, delay time.Duration) error {
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			// Shutdown mid-delay: the record stays unmarked and the next
			// owner of the partition runs the delay again.
			return ctx.Err()
		}
	}

	republished, headers := republishable(msg)
	if _, err := c.producer.SendEnvelope(ctx, msg.OriginalTopic, republished, headers); err != nil {
		return fmt.Errorf("republish %s to %s: %w", republished.ID, msg.OriginalTopic, err)
	}

	if c.metrics != nil {
		c.metrics.DLQReprocessed.Inc()
	}
	c.logger.Info("republished dead letter",
		"envelope_id", republished.ID,
		"topic", msg.OriginalTopic,
		"retry_attempt", msg.AttemptCount)
	return nil
}

// republishable copies the original envelope for another delivery round.
// The id and correlationId stay untouched so downstream idempotency keys
// are stable; only the source marks the replay, and the retry-attempt
// header carries the round count forward.
func republishable(msg *envelope.DLQMessage) (*envelope.Envelope, map[string]string) {
	republished := *msg.OriginalEnvelope
	republished.Metadata.Source = reprocessorSource
	return &republished, map[string]string{
		envelope.HeaderRetryAttempt: strconv.Itoa(msg.AttemptCount),
	}
}

// quarantine parks the message. Nothing consumes quarantine.queue; it is
// the terminal parking lot with a 30 day retention window.
func (c *Component) quarantine(ctx context.Context, msg *envelope.DLQMessage) error {
	park := envelope.QuarantineMessage{
		DLQMessage:    *msg,
		Reason:        fmt.Sprintf("attempt %d of %d: %s", msg.AttemptCount, c.config.QuarantineAfter, msg.Error.Name),
		QuarantinedAt: time.Now().UTC(),
	}
	if _, err := c.producer.SendOne(ctx, quarantineTopic, park,
		envelope.WithType(envelope.TypeDLQQuarantine),
		envelope.WithCorrelationID(msg.OriginalEnvelope.Metadata.CorrelationID),
		envelope.WithOrganizationID(msg.OriginalEnvelope.Metadata.OrganizationID),
		envelope.WithEmployeeID(msg.OriginalEnvelope.Metadata.EmployeeID),
	); err != nil {
		return fmt.Errorf("quarantine %s: %w", msg.OriginalEnvelope.ID, err)
	}

	if c.metrics != nil {
		c.metrics.DLQQuarantined.Inc()
	}
	c.logger.Warn("quarantined dead letter",
		"envelope_id", msg.OriginalEnvelope.ID,
		"original_topic", msg.OriginalTopic,
		"attempt_count", msg.AttemptCount)
	return nil
}

// flagForReview publishes the review record and remembers the message so
// ManualReprocess can republish it without re-reading the topic.
func (c *Component) flagForReview(ctx context.Context, msg *envelope.DLQMessage) error {
	flag := envelope.ReviewMessage{
		DLQMessage:   *msg,
		ReviewReason: fmt.Sprintf("non-transient failure %s after %d attempts", msg.Error.Name, msg.AttemptCount),
		FlaggedAt:    time.Now().UTC(),
	}
	if _, err := c.producer.SendOne(ctx, reviewTopic, flag,
		envelope.WithType(envelope.TypeDLQManualReview),
		envelope.WithCorrelationID(msg.OriginalEnvelope.Metadata.CorrelationID),
		envelope.WithOrganizationID(msg.OriginalEnvelope.Metadata.OrganizationID),
		envelope.WithEmployeeID(msg.OriginalEnvelope.Metadata.EmployeeID),
	); err != nil {
		return fmt.Errorf("flag %s for review: %w", msg.OriginalEnvelope.ID, err)
	}

	c.indexForReview(msg)
	if c.metrics != nil {
		c.metrics.DLQManualReview.Inc()
	}
	c.logger.Warn("flagged dead letter for review",
		"envelope_id", msg.OriginalEnvelope.ID,
		"original_topic", msg.OriginalTopic,
		"error_name", msg.Error.Name)
	return nil
}

func (c *Component) indexForReview(msg *envelope.DLQMessage) {
	c.reviewMu.Lock()
	defer c.reviewMu.Unlock()

	id := msg.OriginalEnvelope.ID
	if _, ok := c.reviewIndex[id]; !ok {
		c.reviewOrder = append(c.reviewOrder, id)
	}
	c.reviewIndex[id] = &reviewEntry{msg: msg, flaggedAt: time.Now().UTC()}

	for len(c.reviewOrder) > c.config.ReviewIndexSize {
		oldest := c.reviewOrder[0]
		c.reviewOrder = c.reviewOrder[1:]
		delete(c.reviewIndex, oldest)
	}
}

// PendingReviews lists the original envelope ids waiting on an operator,
// oldest first.
func (c *Component) PendingReviews() []string {
	c.reviewMu.Lock()
	defer c.reviewMu.Unlock()
	out := make([]string, len(c.reviewOrder))
	copy(out, c.reviewOrder)
	return out
}

// ManualReprocess republishes a reviewed message immediately, skipping the
// reprocess delay. The id is the original envelope id from the review
// record.
func (c *Component) ManualReprocess(ctx context.Context, envelopeID string) error {
	c.reviewMu.Lock()
	entry, ok := c.reviewIndex[envelopeID]
	c.reviewMu.Unlock()
	if !ok {
		return fmt.Errorf("envelope %s not pending review", envelopeID)
	}

	if err := c.reprocess(ctx, entry.msg, 0); err != nil {
		return err
	}

	c.reviewMu.Lock()
	delete(c.reviewIndex, envelopeID)
	for i, id := range c.reviewOrder {
		if id == envelopeID {
			c.reviewOrder = append(c.reviewOrder[:i], c.reviewOrder[i+1:]...)
			break
		}
	}
	c.reviewMu.Unlock()
	return nil
}

func (c *Component) recordTrace(msg *envelope.DLQMessage, decision string) {
	if c.correlation == nil {
		return
	}
	corrID := msg.OriginalEnvelope.Metadata.CorrelationID
	if corrID == "" {
		return
	}
	_ = c.correlation.RecordEvent(corrID, componentName, "triage", correlation.EventCompleted, map[string]any{
		"decision":      decision,
		"originalTopic": msg.OriginalTopic,
		"attemptCount":  msg.AttemptCount,
		"errorName":     msg.Error.Name,
	})
}

// Meta describes the component.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        componentName,
		Type:        "processor",
		Description: "Dead-letter triage: republish, quarantine or flag for review",
		Version:     componentVersion,
	}
}

// Health reports liveness.
func (c *Component) Health() component.HealthStatus {
	running := c.IsRunning()
	status := "stopped"
	if running {
		status = "running"
	}
	c.reviewMu.Lock()
	pending := len(c.reviewIndex)
	c.reviewMu.Unlock()

	return component.HealthStatus{
		Healthy:    running,
		Status:     status,
		LastCheck:  time.Now(),
		ErrorCount: int(c.errorCount.Load()),
		Uptime:     time.Since(c.startTime()),
		Detail: map[string]any{
			"handled":        c.handled.Load(),
			"pendingReviews": pending,
		},
	}
}

// IsRunning reports whether the consumer is live.
func (c *Component) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// InputPorts lists the dead-letter subscription.
func (c *Component) InputPorts() []component.Port {
	return []component.Port{{
		Name:        "dead-letters",
		Direction:   component.DirectionInput,
		Topic:       "dlq.*",
		Group:       componentName,
		Required:    true,
		Description: "Every dead-letter topic",
	}}
}

// OutputPorts lists the triage destinations. Republishes also target the
// original topics, which vary per record.
func (c *Component) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:        quarantineTopic,
			Direction:   component.DirectionOutput,
			Topic:       quarantineTopic,
			Required:    true,
			Description: "Terminal parking for exhausted or poisoned records",
		},
		{
			Name:        reviewTopic,
			Direction:   component.DirectionOutput,
			Topic:       reviewTopic,
			Description: "Records waiting on an operator decision",
		},
	}
}

// ConfigSchema returns the generated schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return handlerSchema
}

// DataFlow snapshots triage activity.
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

package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/c360studio/lifebus/envelope"
	"github.com/c360studio/lifebus/metrics"
)

// MessageContext carries record position and header data into handlers.
type MessageContext struct {
	Topic         string
	Partition     int32
	Offset        int64
	Timestamp     time.Time
	Headers       map[string]string
	CorrelationID string

	// Attempt is the number of completed dead-letter rounds, read from the
	// retry-attempt header. Zero on first delivery.
	Attempt int
}

// Handler processes one decoded envelope. Returning nil acknowledges the
// record; wrapping ErrSkip acknowledges without retry or dead-letter;
// any other error goes through the retry policy.
type Handler func(ctx context.Context, env *envelope.Envelope, mc MessageContext) error

type globHandler struct {
	pattern string
	handler Handler
}

// Consumer runs one consumer group member: it polls fetches, dispatches
// records to type handlers, retries retryable failures in process and
// dead-letters what remains. Delivery is at least once; handlers must be
// idempotent by envelope id.
type Consumer struct {
	cfg     ClientConfig
	group   GroupConfig
	dlq     DLQSink
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	mu       sync.RWMutex
	handlers map[string]Handler
	globs    []globHandler
	running  bool
	kc       *kgo.Client
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewConsumer prepares a consumer for a group. Nothing is dialed until
// Start.
func NewConsumer(cfg ClientConfig, group GroupConfig, dlq DLQSink, m *metrics.Metrics, logger *slog.Logger) *Consumer {
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:      cfg,
		group:    group,
		dlq:      dlq,
		logger:   logger.With("group", group.Name),
		metrics:  m,
		tracer:   otel.Tracer("lifebus/bus"),
		handlers: make(map[string]Handler),
	}
}

// RegisterHandler binds a message type, or a glob of types such as
// "employee.*", to a handler. Registration is rejected once the consumer
// has started.
func (c *Consumer) RegisterHandler(typePattern string, h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("consumer %s already started, cannot register handler for %q", c.group.Name, typePattern)
	}
	if isGlob(typePattern) {
		if _, err := doublestar.Match(typePattern, "probe"); err != nil {
			return fmt.Errorf("invalid handler pattern %q: %w", typePattern, err)
		}
		c.globs = append(c.globs, globHandler{pattern: typePattern, handler: h})
		return nil
	}
	c.handlers[typePattern] = h
	return nil
}

// Start joins the group and begins the poll loop in its own goroutine.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("consumer %s already started", c.group.Name)
	}
	if len(c.group.Subscriptions) == 0 {
		return fmt.Errorf("consumer %s has no subscriptions", c.group.Name)
	}

	opts, err := baseOpts(c.cfg)
	if err != nil {
		return err
	}
	opts = append(opts,
		kgo.ConsumerGroup(c.group.Name),
		kgo.SessionTimeout(c.group.SessionTimeout),
		kgo.HeartbeatInterval(c.group.HeartbeatInterval),
		kgo.RebalanceTimeout(c.group.RebalanceTimeout),
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(time.Second),
	)
	if c.group.FetchMaxBytes > 0 {
		opts = append(opts, kgo.FetchMaxBytes(c.group.FetchMaxBytes))
	}

	subOpts, err := subscriptionOpts(c.group.Subscriptions)
	if err != nil {
		return err
	}
	opts = append(opts, subOpts...)

	kc, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("create consumer client for %s: %w", c.group.Name, err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	err = kc.Ping(pingCtx)
	pingCancel()
	if err != nil {
		kc.Close()
		return fmt.Errorf("consumer %s brokers unreachable: %w", c.group.Name, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.kc = kc
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.pollLoop(loopCtx)

	c.logger.Info("consumer started", "subscriptions", c.group.Subscriptions)
	return nil
}

// Stop drains the poll loop, commits marked offsets and leaves the group.
func (c *Consumer) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	cancel, done, kc := c.cancel, c.done, c.kc
	c.running = false
	c.kc = nil
	c.cancel = nil
	c.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(timeout):
		c.logger.Warn("consumer drain timed out", "timeout", timeout)
	}

	commitCtx, commitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer commitCancel()
	if err := kc.CommitMarkedOffsets(commitCtx); err != nil {
		c.logger.Warn("final offset commit failed", "error", err)
	}
	kc.Close()

	c.logger.Info("consumer stopped")
	return nil
}

// Running reports whether the poll loop is live.
func (c *Consumer) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Pause stops fetching the given partitions without leaving the group.
func (c *Consumer) Pause(partitions map[string][]int32) {
	c.mu.RLock()
	kc := c.kc
	c.mu.RUnlock()
	if kc != nil {
		kc.PauseFetchPartitions(partitions)
	}
}

// Resume restarts fetching partitions paused by Pause.
func (c *Consumer) Resume(partitions map[string][]int32) {
	c.mu.RLock()
	kc := c.kc
	c.mu.RUnlock()
	if kc != nil {
		kc.ResumeFetchPartitions(partitions)
	}
}

// TopicPartitionOffset names one committed position.
type TopicPartitionOffset struct {
	Topic     string
	Partition int32
	Offset    int64
}

// CommitOffsets synchronously commits explicit positions, for operational
// replay and recovery tooling.
func (c *Consumer) CommitOffsets(ctx context.Context, offsets []TopicPartitionOffset) error {
	c.mu.RLock()
	kc := c.kc
	c.mu.RUnlock()
	if kc == nil {
		return fmt.Errorf("consumer %s not started", c.group.Name)
	}
	recs := make([]*kgo.Record, len(offsets))
	for i, o := range offsets {
		recs[i] = &kgo.Record{Topic: o.Topic, Partition: o.Partition, Offset: o.Offset}
	}
	if err := kc.CommitRecords(ctx, recs...); err != nil {
		return fmt.Errorf("commit offsets for %s: %w", c.group.Name, err)
	}
	return nil
}

// Seek moves the fetch position of one partition.
func (c *Consumer) Seek(topic string, partition int32, offset int64) error {
	c.mu.RLock()
	kc := c.kc
	c.mu.RUnlock()
	if kc == nil {
		return fmt.Errorf("consumer %s not started", c.group.Name)
	}
	kc.SetOffsets(map[string]map[int32]kgo.EpochOffset{
		topic: {partition: {Epoch: -1, Offset: offset}},
	})
	return nil
}

func (c *Consumer) pollLoop(ctx context.Context) {
	defer close(c.done)

	for {
		fetches := c.kc.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		for _, fe := range fetches.Errors() {
			if errors.Is(fe.Err, context.Canceled) {
				continue
			}
			c.logger.Error("fetch error", "topic", fe.Topic, "partition", fe.Partition, "error", fe.Err)
		}

		c.processFetch(ctx, fetches, c.kc.MarkCommitRecords)
	}
}

// processFetch dispatches one poll's records in fetch order. A record left
// unmarked (shutdown, failed dead-letter publish) poisons the rest of its
// partition for this fetch: marking any later record would commit the
// partition offset past the abandoned one and lose it, so later records
// wait for redelivery instead.
func (c *Consumer) processFetch(ctx context.Context, fetches kgo.Fetches, mark func(...*kgo.Record)) {
	type topicPartition struct {
		topic     string
		partition int32
	}
	abandoned := make(map[topicPartition]struct{})

	fetches.EachRecord(func(rec *kgo.Record) {
		if ctx.Err() != nil {
			return
		}
		tp := topicPartition{rec.Topic, rec.Partition}
		if _, dead := abandoned[tp]; dead {
			return
		}
		if c.processRecord(ctx, rec) {
			mark(rec)
		} else {
			abandoned[tp] = struct{}{}
		}
	})
}

// processRecord handles one record to completion. It reports whether the
// offset may be marked: false means the record was abandoned mid-flight
// (shutdown, or a failed dead-letter publish) and must redeliver.
func (c *Consumer) processRecord(ctx context.Context, rec *kgo.Record) bool {
	env, err := envelope.Unmarshal(rec.Value)
	if err != nil {
		c.logger.Warn("skipping undecodable record",
			"topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset, "error", err)
		return true
	}

	mc := messageContext(rec)
	handler, ok := c.handlerFor(env.Type)
	if !ok {
		c.logger.Warn("no handler for message type",
			"type", env.Type, "topic", rec.Topic, "envelope_id", env.ID)
		return true
	}

	start := time.Now()
	committed := c.invokeWithRetry(ctx, handler, env, mc)
	if committed {
		c.metrics.ConsumedTotal.WithLabelValues(rec.Topic, c.group.Name).Inc()
		c.metrics.HandlerDuration.WithLabelValues(rec.Topic, c.group.Name).Observe(time.Since(start).Seconds())
	}
	return committed
}

// invokeWithRetry drives the in-process retry policy: MaxRetries total
// invocations with exponential pauses, then a dead-letter publish carrying
// attempt+1 as the completed round count.
func (c *Consumer) invokeWithRetry(ctx context.Context, handler Handler, env *envelope.Envelope, mc MessageContext) bool {
	retry := c.group.Retry
	tokens := retry.Tokens()

	var err error
	for attempt := 1; ; attempt++ {
		err = c.invoke(ctx, handler, env, mc)
		if err == nil {
			return true
		}
		if errors.Is(err, ErrSkip) {
			c.logger.Warn("skipping record",
				"envelope_id", env.ID, "type", env.Type, "error", err)
			return true
		}
		if !IsRetryable(err, tokens) || attempt >= retry.MaxRetries {
			break
		}

		c.metrics.HandlerRetries.WithLabelValues(mc.Topic, c.group.Name).Inc()
		c.logger.Warn("handler failed, retrying",
			"envelope_id", env.ID,
			"type", env.Type,
			"attempt", attempt,
			"max_retries", retry.MaxRetries,
			"error", err)
		if sleepErr := sleep(ctx, retry.Delay(attempt)); sleepErr != nil {
			// Shutdown mid-retry: leave the offset unmarked so the record
			// redelivers.
			return false
		}
	}

	if dlqErr := c.dlq.SendToDLQ(ctx, mc.Topic, env, err, mc.Attempt+1); dlqErr != nil {
		c.logger.Error("dead-letter publish failed, leaving record unmarked",
			"envelope_id", env.ID, "topic", mc.Topic, "error", dlqErr)
		return false
	}
	return true
}

// invoke runs the handler inside a span, converting panics into errors so a
// poison record cannot kill the poll loop.
func (c *Consumer) invoke(ctx context.Context, handler Handler, env *envelope.Envelope, mc MessageContext) (err error) {
	ctx, span := c.tracer.Start(ctx, "handle "+env.Type, trace.WithAttributes(
		attribute.String("messaging.destination.name", mc.Topic),
		attribute.String("messaging.consumer.group.name", c.group.Name),
		attribute.String("envelope.id", env.ID),
		attribute.String("correlation.id", mc.CorrelationID),
	))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			c.logger.Error("handler panicked",
				"envelope_id", env.ID, "type", env.Type, "panic", r,
				"stack", string(debug.Stack()))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	return handler(ctx, env, mc)
}

func (c *Consumer) handlerFor(msgType string) (Handler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if h, ok := c.handlers[msgType]; ok {
		return h, true
	}
	for _, gh := range c.globs {
		if ok, _ := doublestar.Match(gh.pattern, msgType); ok {
			return gh.handler, true
		}
	}
	return nil, false
}

func messageContext(rec *kgo.Record) MessageContext {
	headers := make(map[string]string, len(rec.Headers))
	for _, h := range rec.Headers {
		headers[h.Key] = string(h.Value)
	}
	attempt := 0
	if v, ok := headers[envelope.HeaderRetryAttempt]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			attempt = n
		}
	}
	return MessageContext{
		Topic:         rec.Topic,
		Partition:     rec.Partition,
		Offset:        rec.Offset,
		Timestamp:     rec.Timestamp,
		Headers:       headers,
		CorrelationID: headers[envelope.HeaderCorrelationID],
		Attempt:       attempt,
	}
}

func isGlob(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

// subscriptionOpts renders subscriptions as client options. Any glob in the
// set flips the whole subscription to regex form, with literal names
// quoted, so pattern and exact subscriptions mix freely.
func subscriptionOpts(subscriptions []string) ([]kgo.Opt, error) {
	glob := false
	for _, s := range subscriptions {
		if isGlob(s) {
			glob = true
			break
		}
	}
	if !glob {
		return []kgo.Opt{kgo.ConsumeTopics(subscriptions...)}, nil
	}

	exprs := make([]string, len(subscriptions))
	for i, s := range subscriptions {
		if !isGlob(s) {
			exprs[i] = "^" + regexp.QuoteMeta(s) + "$"
			continue
		}
		re, err := GlobToRegex(s)
		if err != nil {
			return nil, err
		}
		exprs[i] = re.String()
	}
	return []kgo.Opt{kgo.ConsumeTopics(exprs...), kgo.ConsumeRegex()}, nil
}

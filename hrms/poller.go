package hrms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/c360studio/lifebus/envelope"
	"github.com/c360studio/lifebus/metrics"
)

// PollState is the poller's position in its cycle.
type PollState string

const (
	// StateDisabled means the adapter config has polling turned off.
	StateDisabled PollState = "disabled"

	// StateIdle means the poller is waiting out the interval.
	StateIdle PollState = "idle"

	// StatePolling means an upstream fetch is in flight.
	StatePolling PollState = "polling"

	// StatePublishing means fetched events are being produced.
	StatePublishing PollState = "publishing"
)

// catchupDelay is the gap before the next cycle when a poll hit the
// event cap with more waiting upstream.
const catchupDelay = 5 * time.Second

// never parks a disabled poller's timer; only ForcePoll wakes it.
const never = time.Duration(math.MaxInt64)

// Publisher produces normalized lifecycle events onto the bus.
type Publisher interface {
	PublishLifecycle(ctx context.Context, event envelope.LifecycleEvent) error
}

// PollerStatus is a snapshot of one poller for operational endpoints.
type PollerStatus struct {
	Source         string         `json:"source"`
	OrganizationID string         `json:"organizationId"`
	State          PollState      `json:"state"`
	LastPoll       time.Time      `json:"lastPoll,omitempty"`
	LastError      string         `json:"lastError,omitempty"`
	Cursor         Cursor         `json:"cursor"`
	Health         *AdapterHealth `json:"health,omitempty"`
}

// Poller drives one adapter on its configured interval. Events publish
// before the cursor persists, so a crash between the two replays the
// window instead of dropping it.
type Poller struct {
	adapter   Adapter
	cfg       Config
	publisher Publisher
	cursors   CursorStore
	health    *HealthTracker
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu        sync.Mutex
	state     PollState
	cursor    Cursor
	notBefore time.Time
	hasMore   bool
	lastPoll  time.Time
	lastErr   error

	force  chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller wires a poller around an adapter. The cursor store and
// health tracker may be shared across pollers; nil falls back to
// in-memory equivalents.
func NewPoller(adapter Adapter, cfg Config, publisher Publisher, cursors CursorStore, health *HealthTracker, m *metrics.Metrics, logger *slog.Logger) *Poller {
	if cursors == nil {
		cursors = NewMemoryCursorStore()
	}
	if health == nil {
		health = NewHealthTracker(DefaultHealthConfig())
	}
	if logger == nil {
		logger = slog.Default()
	}

	state := StateIdle
	if !cfg.Enabled || cfg.PollInterval == 0 {
		state = StateDisabled
	}

	return &Poller{
		adapter:   adapter,
		cfg:       cfg,
		publisher: publisher,
		cursors:   cursors,
		health:    health,
		logger:    logger.With("source", cfg.Source, "organization_id", cfg.OrganizationID),
		metrics:   m,
		state:     state,
		force:     make(chan struct{}, 1),
	}
}

// Key identifies this poller's cursor and health records.
func (p *Poller) Key() string {
	return p.cfg.Source + "/" + p.cfg.OrganizationID
}

// Start loads the persisted cursor and launches the poll loop. Disabled
// pollers start successfully but never poll until ForcePoll.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done != nil {
		return fmt.Errorf("poller %s already started", p.Key())
	}

	cursor, err := p.cursors.LoadCursor(p.Key())
	if err != nil {
		return fmt.Errorf("loading cursor for %s: %w", p.Key(), err)
	}
	p.cursor = cursor

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.run(loopCtx)

	p.logger.Info("poller started",
		"interval", p.cfg.PollInterval, "state", p.state)
	return nil
}

// Stop halts the loop and waits up to timeout for the in-flight cycle.
func (p *Poller) Stop(timeout time.Duration) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("poller %s did not stop within %s", p.Key(), timeout)
	}
}

// ForcePoll requests an immediate cycle regardless of interval or
// disabled state. A cycle already pending coalesces.
func (p *Poller) ForcePoll() error {
	p.mu.Lock()
	started := p.done != nil
	p.mu.Unlock()

	if !started {
		return fmt.Errorf("poller %s not started", p.Key())
	}
	select {
	case p.force <- struct{}{}:
	default:
	}
	return nil
}

// State returns the current poll state.
func (p *Poller) State() PollState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Status snapshots the poller for operational endpoints.
func (p *Poller) Status() PollerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := PollerStatus{
		Source:         p.cfg.Source,
		OrganizationID: p.cfg.OrganizationID,
		State:          p.state,
		LastPoll:       p.lastPoll,
		Cursor:         p.cursor,
		Health:         p.health.Status(p.Key()),
	}
	if p.lastErr != nil {
		status.LastError = p.lastErr.Error()
	}
	return status
}

func (p *Poller) setState(s PollState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// run is the poll loop. Disabled pollers only wake for ForcePoll.
func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	disabled := p.State() == StateDisabled

	var timer *time.Timer
	if disabled {
		timer = time.NewTimer(never)
	} else {
		// First cycle runs immediately so a restart does not sit out a
		// full interval.
		timer = time.NewTimer(0)
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-p.force:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		p.cycle(ctx)

		if disabled {
			timer.Reset(never)
			continue
		}
		timer.Reset(p.nextDelay())
	}
}

// nextDelay picks the wait before the next cycle: the catchup delay when
// the last poll capped out, otherwise the configured interval, stretched
// past any rate-limit holdoff.
func (p *Poller) nextDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	delay := p.cfg.PollInterval
	if p.hasMore {
		delay = catchupDelay
	}
	if hold := time.Until(p.notBefore); hold > delay {
		delay = hold
	}
	return delay
}

// cycle runs one poll plus publish pass. Adapter panics are contained
// here so a malformed upstream response cannot kill the loop.
func (p *Poller) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("poll cycle panicked",
				"panic", r, "stack", string(debug.Stack()))
			p.health.MarkFailure(p.Key())
			p.recordError(fmt.Errorf("poll panic: %v", r))
		}
		p.setState(p.restingState())
	}()

	key := p.Key()
	if !p.health.Available(key) {
		p.logger.Warn("circuit open, skipping poll")
		return
	}

	p.setState(StatePolling)
	p.mu.Lock()
	cursor := p.cursor
	p.lastPoll = time.Now().UTC()
	p.mu.Unlock()

	result, err := p.adapter.Poll(ctx, cursor)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		p.health.MarkFailure(key)
		p.recordError(err)
		p.countRun("error")

		if wait, ok := IsRateLimitError(err); ok {
			p.mu.Lock()
			p.notBefore = time.Now().Add(wait)
			p.mu.Unlock()
			p.logger.Warn("provider rate limited, holding off", "retry_after", wait)
			return
		}
		p.logger.Error("poll failed", "error", err)
		return
	}
	p.health.MarkSuccess(key)

	if len(result.Events) > 0 {
		p.setState(StatePublishing)
		for i, ev := range result.Events {
			if err := p.publisher.PublishLifecycle(ctx, ev); err != nil {
				// Cursor stays put: the whole window replays next cycle
				// and consumers dedupe on source event id.
				p.recordError(err)
				p.countRun("publish_error")
				p.logger.Error("publish failed, cursor not advanced",
					"error", err, "published", i, "total", len(result.Events))
				return
			}
		}
		if p.metrics != nil {
			p.metrics.PollEvents.WithLabelValues(p.cfg.Source).Add(float64(len(result.Events)))
		}
	}

	p.mu.Lock()
	p.cursor = result.Cursor
	p.hasMore = result.HasMore
	p.lastErr = nil
	p.mu.Unlock()

	if err := p.cursors.SaveCursor(key, result.Cursor); err != nil {
		// The in-memory cursor still advanced; a crash before the next
		// successful save replays from the stale position.
		p.logger.Warn("cursor save failed", "error", err)
	}

	p.countRun("ok")
	if len(result.Events) > 0 || result.HasMore {
		p.logger.Info("poll completed",
			"events", len(result.Events), "has_more", result.HasMore)
	} else {
		p.logger.Debug("poll completed", "events", 0)
	}
}

// restingState is what the poller returns to between cycles.
func (p *Poller) restingState() PollState {
	if !p.cfg.Enabled || p.cfg.PollInterval == 0 {
		return StateDisabled
	}
	return StateIdle
}

func (p *Poller) recordError(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

func (p *Poller) countRun(result string) {
	if p.metrics != nil {
		p.metrics.PollRuns.WithLabelValues(p.cfg.Source, result).Inc()
	}
}

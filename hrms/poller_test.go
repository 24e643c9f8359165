package hrms

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/c360studio/lifebus/envelope"
)

type fakeAdapter struct {
	mu      sync.Mutex
	results []PollResult
	pollErr error
	polls   int
}

func (a *fakeAdapter) Source() string { return SourceGeneric }

func (a *fakeAdapter) ValidateSignature([]byte, string) error { return nil }

func (a *fakeAdapter) ProcessWebhook(context.Context, WebhookPayload) (*WebhookResult, error) {
	return &WebhookResult{}, nil
}

func (a *fakeAdapter) HealthCheck(context.Context) error { return nil }

func (a *fakeAdapter) Poll(_ context.Context, cursor Cursor) (*PollResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.polls++
	if a.pollErr != nil {
		return nil, a.pollErr
	}
	if len(a.results) == 0 {
		return &PollResult{Cursor: cursor}, nil
	}
	result := a.results[0]
	a.results = a.results[1:]
	return &result, nil
}

func (a *fakeAdapter) pollCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.polls
}

type capturePublisher struct {
	mu     sync.Mutex
	events []envelope.LifecycleEvent
	err    error
}

func (p *capturePublisher) PublishLifecycle(_ context.Context, ev envelope.LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func testLifecycleEvent(id string) envelope.LifecycleEvent {
	return envelope.LifecycleEvent{
		Type:           envelope.LifecycleOnboard,
		OrganizationID: "org-1",
		EmployeeID:     id,
		Employee:       envelope.Employee{ID: id, Status: envelope.StatusActive},
		Metadata:       envelope.EventMetadata{Source: SourceGeneric, SourceEventID: "ev-" + id},
	}
}

func pollerConfig() Config {
	return Config{
		Source:         SourceGeneric,
		OrganizationID: "org-1",
		PollInterval:   time.Hour,
		Enabled:        true,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPollerPublishesAndAdvancesCursor(t *testing.T) {
	adapter := &fakeAdapter{results: []PollResult{{
		Events: []envelope.LifecycleEvent{testLifecycleEvent("emp-1"), testLifecycleEvent("emp-2")},
		Cursor: Cursor{LastEventID: "ev-emp-2"},
	}}}
	pub := &capturePublisher{}
	cursors := NewMemoryCursorStore()

	p := NewPoller(adapter, pollerConfig(), pub, cursors, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer p.Stop(time.Second)

	waitFor(t, "events to publish", func() bool { return pub.count() == 2 })
	waitFor(t, "cursor to persist", func() bool {
		cursor, _ := cursors.LoadCursor(p.Key())
		return cursor.LastEventID == "ev-emp-2"
	})
}

func TestPollerHoldsCursorOnPublishFailure(t *testing.T) {
	adapter := &fakeAdapter{results: []PollResult{{
		Events: []envelope.LifecycleEvent{testLifecycleEvent("emp-1")},
		Cursor: Cursor{LastEventID: "ev-emp-1"},
	}}}
	pub := &capturePublisher{err: errors.New("broker down")}
	cursors := NewMemoryCursorStore()

	p := NewPoller(adapter, pollerConfig(), pub, cursors, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer p.Stop(time.Second)

	waitFor(t, "the failed cycle to finish", func() bool {
		return adapter.pollCount() >= 1 && p.State() == StateIdle
	})

	cursor, _ := cursors.LoadCursor(p.Key())
	if !cursor.IsZero() {
		t.Errorf("cursor advanced past a failed publish: %+v", cursor)
	}
	if status := p.Status(); status.LastError == "" {
		t.Error("Status() carries no error after a failed publish")
	}
}

func TestPollerDisabledUntilForced(t *testing.T) {
	adapter := &fakeAdapter{results: []PollResult{{
		Events: []envelope.LifecycleEvent{testLifecycleEvent("emp-1")},
		Cursor: Cursor{LastEventID: "ev-emp-1"},
	}}}
	pub := &capturePublisher{}

	cfg := pollerConfig()
	cfg.Enabled = false

	p := NewPoller(adapter, cfg, pub, nil, nil, nil, nil)
	if p.State() != StateDisabled {
		t.Fatalf("State() = %s, want %s", p.State(), StateDisabled)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer p.Stop(time.Second)

	// No cycle runs on its own.
	time.Sleep(100 * time.Millisecond)
	if n := adapter.pollCount(); n != 0 {
		t.Fatalf("disabled poller polled %d times", n)
	}

	if err := p.ForcePoll(); err != nil {
		t.Fatalf("ForcePoll() error: %v", err)
	}
	waitFor(t, "the forced cycle to publish", func() bool { return pub.count() == 1 })
}

func TestPollerCircuitSkipsPolls(t *testing.T) {
	adapter := &fakeAdapter{pollErr: errors.New("upstream down")}
	pub := &capturePublisher{}
	health := NewHealthTracker(HealthConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour})

	p := NewPoller(adapter, pollerConfig(), pub, nil, health, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer p.Stop(time.Second)

	waitFor(t, "the first failure", func() bool { return adapter.pollCount() == 1 })

	// The circuit is open; forced cycles run but skip the upstream call.
	if err := p.ForcePoll(); err != nil {
		t.Fatalf("ForcePoll() error: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if n := adapter.pollCount(); n != 1 {
		t.Errorf("open circuit still polled upstream: %d calls", n)
	}

	status := p.Status()
	if status.Health == nil || !status.Health.CircuitOpen {
		t.Errorf("Status().Health = %+v, want an open circuit", status.Health)
	}
}

func TestPollerForcePollBeforeStart(t *testing.T) {
	p := NewPoller(&fakeAdapter{}, pollerConfig(), &capturePublisher{}, nil, nil, nil, nil)
	if err := p.ForcePoll(); err == nil {
		t.Fatal("ForcePoll() before Start should error")
	}
}

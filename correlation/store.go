package correlation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultMaxAge is how long an idle correlation survives before the pruner
// drops it.
const DefaultMaxAge = 24 * time.Hour

type entry struct {
	ctx          CorrelationContext
	events       []TraceEvent
	lastActivity time.Time
}

// Store holds live correlation contexts and their trace events. It is an
// injected dependency, bounded by age-based pruning, and safe for concurrent
// use; updates within one correlation are serialized under the store lock.
type Store struct {
	logger *slog.Logger
	maxAge time.Duration

	mu       sync.RWMutex
	entries  map[string]*entry
	children map[string][]string
}

// NewStore builds an empty store. maxAge <= 0 selects DefaultMaxAge.
func NewStore(maxAge time.Duration, logger *slog.Logger) *Store {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:   logger,
		maxAge:   maxAge,
		entries:  make(map[string]*entry),
		children: make(map[string][]string),
	}
}

// CreateContext registers a new root context.
func (s *Store) CreateContext(opts ...ContextOption) CorrelationContext {
	ctx := newContext(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.register(ctx)
	return ctx
}

// CreateChildContext registers a context under an existing parent. The child
// shares the parent's trace id, gets a fresh span id, and inherits the
// organization, employee and workflow scoping unless options override them.
func (s *Store) CreateChildContext(parentCorrelationID string, opts ...ContextOption) (CorrelationContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.entries[parentCorrelationID]
	if !ok {
		return CorrelationContext{}, fmt.Errorf("parent correlation %s not found", parentCorrelationID)
	}

	inherited := []ContextOption{
		WithTraceID(parent.ctx.TraceID),
		WithOrganizationID(parent.ctx.OrganizationID),
		WithEmployeeID(parent.ctx.EmployeeID),
		WithWorkflowID(parent.ctx.WorkflowID),
	}
	child := newContext(append(inherited, opts...)...)
	child.ParentID = parentCorrelationID

	s.register(child)
	s.children[parentCorrelationID] = append(s.children[parentCorrelationID], child.CorrelationID)
	parent.lastActivity = time.Now().UTC()
	return child, nil
}

// register assumes the store lock is held.
func (s *Store) register(ctx CorrelationContext) {
	s.entries[ctx.CorrelationID] = &entry{
		ctx:          ctx,
		lastActivity: time.Now().UTC(),
	}
}

// Get returns a registered context.
func (s *Store) Get(correlationID string) (CorrelationContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[correlationID]
	if !ok {
		return CorrelationContext{}, false
	}
	return e.ctx, true
}

// RecordEvent appends a trace event to a correlation. Completed and failed
// events get their duration from the most recent matching started event on
// the same service and operation. Recording against an unknown correlation
// registers it implicitly: this store only sees the slice of a trace that
// passed through this process.
func (s *Store) RecordEvent(correlationID, service, operation string, status EventStatus, metadata map[string]any) error {
	if !status.IsValid() {
		return fmt.Errorf("unknown trace event status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[correlationID]
	if !ok {
		s.register(newContext(WithCorrelationID(correlationID)))
		e = s.entries[correlationID]
		s.logger.Debug("implicitly registered correlation", "correlation_id", correlationID)
	}

	now := time.Now().UTC()
	event := TraceEvent{
		Timestamp: now,
		Service:   service,
		Operation: operation,
		Status:    status,
		Metadata:  metadata,
	}
	if status == EventCompleted || status == EventFailed {
		for i := len(e.events) - 1; i >= 0; i-- {
			prev := e.events[i]
			if prev.Status == EventStarted && prev.Service == service && prev.Operation == operation {
				event.Duration = now.Sub(prev.Timestamp)
				break
			}
		}
	}

	e.events = append(e.events, event)
	e.lastActivity = now
	return nil
}

// FullTrace is a correlation context with its events and direct children.
type FullTrace struct {
	Context  CorrelationContext   `json:"context"`
	Events   []TraceEvent         `json:"events"`
	Children []CorrelationContext `json:"children"`
}

// GetFullTrace assembles the context, its recorded events and one hop of
// children.
func (s *Store) GetFullTrace(correlationID string) (*FullTrace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[correlationID]
	if !ok {
		return nil, fmt.Errorf("correlation %s not found", correlationID)
	}

	trace := &FullTrace{
		Context: e.ctx,
		Events:  append([]TraceEvent(nil), e.events...),
	}
	for _, childID := range s.children[correlationID] {
		if child, ok := s.entries[childID]; ok {
			trace.Children = append(trace.Children, child.ctx)
		}
	}
	return trace, nil
}

// Cleanup drops correlations idle longer than maxAge and returns how many
// were removed.
func (s *Store) Cleanup(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.entries {
		if e.lastActivity.Before(cutoff) {
			delete(s.entries, id)
			delete(s.children, id)
			removed++
		}
	}
	if removed > 0 {
		// Drop dangling child references left by pruned subtrees.
		for parent, ids := range s.children {
			kept := ids[:0]
			for _, id := range ids {
				if _, ok := s.entries[id]; ok {
					kept = append(kept, id)
				}
			}
			if len(kept) == 0 {
				delete(s.children, parent)
			} else {
				s.children[parent] = kept
			}
		}
	}
	return removed
}

// Len reports how many contexts are live.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// StartPruner runs Cleanup on the interval until ctx ends.
func (s *Store) StartPruner(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := s.Cleanup(s.maxAge); removed > 0 {
					s.logger.Debug("pruned idle correlations", "removed", removed, "live", s.Len())
				}
			}
		}
	}()
}

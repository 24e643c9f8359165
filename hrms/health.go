package hrms

import (
	"sync"
	"time"
)

// AdapterHealth tracks the reachability of one upstream tenant API.
type AdapterHealth struct {
	// Available indicates if the adapter is currently usable.
	Available bool `json:"available"`

	// LastSuccess is the time of the last successful upstream call.
	LastSuccess time.Time `json:"lastSuccess,omitempty"`

	// LastFailure is the time of the last failed upstream call.
	LastFailure time.Time `json:"lastFailure,omitempty"`

	// FailureCount is the number of consecutive failures.
	FailureCount int `json:"failureCount"`

	// CircuitOpen indicates if the circuit breaker has tripped.
	CircuitOpen bool `json:"circuitOpen"`

	// CircuitOpenedAt is when the circuit was opened.
	CircuitOpenedAt time.Time `json:"circuitOpenedAt,omitempty"`
}

// HealthConfig configures the circuit breaker around upstream calls.
type HealthConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens and polling pauses for the adapter.
	FailureThreshold int

	// RecoveryTimeout is how long an open circuit blocks before a probe
	// poll is allowed through.
	RecoveryTimeout time.Duration
}

// DefaultHealthConfig returns defaults sized for poll cadences of a
// minute or more.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  5 * time.Minute,
	}
}

// HealthTracker records upstream call outcomes per adapter key and
// answers whether each adapter should be polled. Safe for concurrent use.
type HealthTracker struct {
	mu       sync.RWMutex
	config   HealthConfig
	statuses map[string]*AdapterHealth
}

// NewHealthTracker creates a tracker. Zero-value config fields fall back
// to the defaults.
func NewHealthTracker(cfg HealthConfig) *HealthTracker {
	def := DefaultHealthConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	return &HealthTracker{
		config:   cfg,
		statuses: make(map[string]*AdapterHealth),
	}
}

// getOrCreate returns the status for a key, creating it available.
// Callers must hold the write lock.
func (t *HealthTracker) getOrCreate(key string) *AdapterHealth {
	if status, ok := t.statuses[key]; ok {
		return status
	}
	status := &AdapterHealth{Available: true}
	t.statuses[key] = status
	return status
}

// MarkSuccess records a successful upstream call and closes the circuit.
func (t *HealthTracker) MarkSuccess(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	status := t.getOrCreate(key)
	status.LastSuccess = time.Now()
	status.FailureCount = 0
	status.Available = true
	status.CircuitOpen = false
}

// MarkFailure records a failed upstream call, opening the circuit once
// the consecutive failure count reaches the threshold.
func (t *HealthTracker) MarkFailure(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	status := t.getOrCreate(key)
	status.LastFailure = time.Now()
	status.FailureCount++

	if status.FailureCount >= t.config.FailureThreshold {
		status.CircuitOpen = true
		status.CircuitOpenedAt = time.Now()
		status.Available = false
	}
}

// Available reports whether the adapter should be called. An open
// circuit blocks until RecoveryTimeout passes, after which one probe is
// allowed through (half-open).
func (t *HealthTracker) Available(key string) bool {
	t.mu.RLock()
	status, ok := t.statuses[key]
	if !ok {
		t.mu.RUnlock()
		return true
	}
	circuitOpen := status.CircuitOpen
	openedAt := status.CircuitOpenedAt
	recovery := t.config.RecoveryTimeout
	t.mu.RUnlock()

	if !circuitOpen {
		return true
	}
	return time.Since(openedAt) > recovery
}

// Status returns a copy of the health record for a key, or nil when the
// key has never been marked.
func (t *HealthTracker) Status(key string) *AdapterHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if status, ok := t.statuses[key]; ok {
		copied := *status
		return &copied
	}
	return nil
}

// Statuses returns a copy of every health record, keyed by adapter key.
func (t *HealthTracker) Statuses() map[string]AdapterHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]AdapterHealth, len(t.statuses))
	for key, status := range t.statuses {
		out[key] = *status
	}
	return out
}

// Reset clears the health record for a key.
func (t *HealthTracker) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.statuses, key)
}

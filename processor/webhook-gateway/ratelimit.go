package webhookgateway

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// Decision is the rate limiter's answer for one request.
type Decision struct {
	// Allowed is false when the key exhausted its window budget.
	Allowed bool

	// RetryAfter is the wait hint returned with a 429.
	RetryAfter time.Duration

	// SlowDown is a pre-processing delay applied once a key burns through
	// half its budget, shedding load before the hard limit trips.
	SlowDown time.Duration
}

// RateLimiter enforces a per-key request budget. Each key gets a token
// bucket sized to the window budget; idle keys expire from the cache so a
// tenant churn never grows memory without bound.
type RateLimiter struct {
	// mu serializes lookup-or-create so concurrent first requests for a
	// key share one bucket instead of each minting their own.
	mu       sync.Mutex
	limiters *gocache.Cache
	limit    rate.Limit
	burst    int
	slowStep time.Duration
}

// NewRateLimiter allows requests per window for each key.
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	perSecond := rate.Limit(float64(requests) / window.Seconds())
	return &RateLimiter{
		// Idle keys outlive three windows, then drop.
		limiters: gocache.New(3*window, window),
		limit:    perSecond,
		burst:    requests,
		slowStep: window / time.Duration(requests*4),
	}
}

// Check spends one request from the key's budget and reports the decision.
func (rl *RateLimiter) Check(key string) Decision {
	lim := rl.limiterFor(key)

	if !lim.Allow() {
		res := lim.Reserve()
		wait := res.Delay()
		res.Cancel()
		if wait < time.Second {
			wait = time.Second
		}
		return Decision{Allowed: false, RetryAfter: wait}
	}

	d := Decision{Allowed: true}
	if remaining := lim.Tokens(); remaining < float64(rl.burst)/2 {
		// Deeper into the budget, longer the delay.
		depth := float64(rl.burst)/2 - remaining
		d.SlowDown = time.Duration(depth) * rl.slowStep
	}
	return d
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if v, ok := rl.limiters.Get(key); ok {
		rl.limiters.SetDefault(key, v)
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(rl.limit, rl.burst)
	rl.limiters.SetDefault(key, lim)
	return lim
}

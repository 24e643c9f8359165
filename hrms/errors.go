// Package hrms contains the upstream HRMS adapters: webhook normalization,
// signature verification and incremental polling for Workday,
// SuccessFactors, BambooHR and generic HTTP sources.
package hrms

import (
	"errors"
	"fmt"
	"time"
)

// Classification tokens carried in upstream failure names. The consumer
// retry predicate and DLQ triage match on these.
const (
	TokenNetwork   = "NETWORK_EXCEPTION"
	TokenTimeout   = "REQUEST_TIMED_OUT"
	TokenRateLimit = "RATE_LIMIT_EXCEEDED"
)

// AuthError means the upstream rejected our credentials. Not retryable
// without a credential change.
type AuthError struct {
	source string
	err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication rejected: %v", e.source, e.err)
}

func (e *AuthError) Unwrap() error {
	return e.err
}

// NewAuthError wraps an upstream 401.
func NewAuthError(source string, err error) error {
	return &AuthError{source: source, err: err}
}

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	var auth *AuthError
	return errors.As(err, &auth)
}

// PermissionError means the credentials work but lack a scope. Not
// retryable without an upstream configuration change.
type PermissionError struct {
	source string
	err    error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s: permission denied: %v", e.source, e.err)
}

func (e *PermissionError) Unwrap() error {
	return e.err
}

// NewPermissionError wraps an upstream 403.
func NewPermissionError(source string, err error) error {
	return &PermissionError{source: source, err: err}
}

// IsPermissionError reports whether err is a permission failure.
func IsPermissionError(err error) bool {
	var perm *PermissionError
	return errors.As(err, &perm)
}

// RateLimitError means the upstream throttled us. Retryable after the
// advertised delay.
type RateLimitError struct {
	source     string
	retryAfter time.Duration
	err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited, retry after %s: %v", e.source, e.retryAfter, e.err)
}

func (e *RateLimitError) Unwrap() error {
	return e.err
}

// Name returns the classification token.
func (e *RateLimitError) Name() string {
	return TokenRateLimit
}

// RetryAfter returns the upstream's requested backoff.
func (e *RateLimitError) RetryAfter() time.Duration {
	return e.retryAfter
}

// NewRateLimitError wraps an upstream 429 with its Retry-After hint.
func NewRateLimitError(source string, retryAfter time.Duration, err error) error {
	return &RateLimitError{source: source, retryAfter: retryAfter, err: err}
}

// IsRateLimitError reports whether err is a throttle and the backoff the
// upstream asked for.
func IsRateLimitError(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.retryAfter, true
	}
	return 0, false
}

// NetworkError covers transport failures and upstream 5xx responses.
// Retryable.
type NetworkError struct {
	source string
	token  string
	err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.source, e.token, e.err)
}

func (e *NetworkError) Unwrap() error {
	return e.err
}

// Name returns the classification token.
func (e *NetworkError) Name() string {
	return e.token
}

// NewNetworkError wraps a connection-level failure.
func NewNetworkError(source string, err error) error {
	return &NetworkError{source: source, token: TokenNetwork, err: err}
}

// NewTimeoutError wraps a deadline failure.
func NewTimeoutError(source string, err error) error {
	return &NetworkError{source: source, token: TokenTimeout, err: err}
}

// IsNetworkError reports whether err is a transport-level failure.
func IsNetworkError(err error) bool {
	var net *NetworkError
	return errors.As(err, &net)
}

// Retryable reports whether a poll that failed with err should run again on
// the next cycle without operator intervention.
func Retryable(err error) bool {
	if IsNetworkError(err) {
		return true
	}
	if _, ok := IsRateLimitError(err); ok {
		return true
	}
	return false
}

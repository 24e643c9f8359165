package bus

import (
	"errors"
	"fmt"
	"strings"
)

// Error classification for handler failures.

// ErrSkip tells the consumer to acknowledge a record without retrying or
// dead-lettering it. Handlers wrap it around schema failures and other
// records that can never succeed but are not worth an operator's time.
var ErrSkip = errors.New("skip record")

// DefaultRetryableTokens are matched against handler error names and
// messages to decide in-process retry. Upstream clients embed these tokens
// in the failures they raise.
var DefaultRetryableTokens = []string{
	"NETWORK_EXCEPTION",
	"REQUEST_TIMED_OUT",
}

// RetryableError marks a handler failure worth retrying in process. The
// token is the classification name carried into DLQ records.
type RetryableError struct {
	token string
	err   error
}

func (e *RetryableError) Error() string {
	if e.token == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %v", e.token, e.err)
}

func (e *RetryableError) Unwrap() error {
	return e.err
}

// Name returns the classification token.
func (e *RetryableError) Name() string {
	return e.token
}

// NewRetryableError wraps an error as retryable under the given token.
func NewRetryableError(token string, err error) error {
	return &RetryableError{token: token, err: err}
}

// TerminalError marks a failure that must skip retries and dead-letter
// immediately, regardless of token matches in the underlying error.
type TerminalError struct {
	err error
}

func (e *TerminalError) Error() string {
	return e.err.Error()
}

func (e *TerminalError) Unwrap() error {
	return e.err
}

// NewTerminalError wraps an error as non-retryable.
func NewTerminalError(err error) error {
	return &TerminalError{err: err}
}

// IsTerminal returns true if the error was explicitly marked non-retryable.
func IsTerminal(err error) bool {
	var terminal *TerminalError
	return errors.As(err, &terminal)
}

// IsRetryable decides whether a handler failure deserves another in-process
// attempt. Explicit classification wins; otherwise the error name and
// message are scanned for the configured tokens.
func IsRetryable(err error, tokens []string) bool {
	if err == nil {
		return false
	}
	var terminal *TerminalError
	if errors.As(err, &terminal) {
		return false
	}
	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return true
	}

	name := ""
	var named interface{ Name() string }
	if errors.As(err, &named) {
		name = named.Name()
	}
	return ContainsToken(name, err.Error(), tokens)
}

// ContainsToken reports whether the error name or message carries any of
// the tokens. Shared by the consumer retry predicate and DLQ triage, which
// sees only the serialized name and message.
func ContainsToken(name, message string, tokens []string) bool {
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		if strings.Contains(name, tok) || strings.Contains(message, tok) {
			return true
		}
	}
	return false
}

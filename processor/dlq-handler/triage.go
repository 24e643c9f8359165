package dlqhandler

import (
	"time"

	"github.com/c360studio/lifebus/bus"
	"github.com/c360studio/lifebus/envelope"
)

// Decision is the fate triage assigns a dead-lettered message.
type Decision string

const (
	// DecisionReprocess republishes the original envelope to its original
	// topic after the reprocess delay.
	DecisionReprocess Decision = "reprocess"

	// DecisionQuarantine parks the message on quarantine.queue. Terminal.
	DecisionQuarantine Decision = "quarantine"

	// DecisionReview flags the message on manual.review.queue for an
	// operator.
	DecisionReview Decision = "review"
)

// DefaultTransientTokens are the error classifications worth an automatic
// republish. Triage sees only the serialized error name and message, so
// matching is token-based like the consumer's retry predicate.
var DefaultTransientTokens = []string{
	"NETWORK_EXCEPTION",
	"REQUEST_TIMED_OUT",
	"CONNECTION_ERROR",
	"ECONNRESET",
	"ENOTFOUND",
}

// TriageConfig is the decision policy.
type TriageConfig struct {
	// QuarantineAfter is the attempt count at which a message stops
	// circulating no matter what failed.
	QuarantineAfter int

	// MaxReprocess is the highest attempt count still eligible for an
	// automatic republish.
	MaxReprocess int

	// ReprocessDelay is the pause before a republish, giving a transient
	// outage time to clear.
	ReprocessDelay time.Duration

	// ManualReview routes non-transient failures to an operator queue
	// instead of straight to quarantine.
	ManualReview bool

	// TransientTokens override DefaultTransientTokens when non-empty.
	TransientTokens []string
}

// DefaultTriageConfig returns the standard policy.
func DefaultTriageConfig() TriageConfig {
	return TriageConfig{
		QuarantineAfter: 5,
		MaxReprocess:    3,
		ReprocessDelay:  60 * time.Second,
		ManualReview:    true,
		TransientTokens: DefaultTransientTokens,
	}
}

// Tokens returns the transient token set in force.
func (c TriageConfig) Tokens() []string {
	if len(c.TransientTokens) > 0 {
		return c.TransientTokens
	}
	return DefaultTransientTokens
}

// Triage decides a dead-lettered message's fate. The attempt ceiling wins
// over everything: a message past QuarantineAfter quarantines even when its
// failure looks transient. Transient failures within the reprocess budget
// republish; the rest go to review when enabled, else quarantine. The
// decision depends only on the message, so redelivery of the same DLQ
// record reaches the same verdict.
func Triage(cfg TriageConfig, msg *envelope.DLQMessage) Decision {
	if msg.AttemptCount >= cfg.QuarantineAfter {
		return DecisionQuarantine
	}

	transient := bus.ContainsToken(msg.Error.Name, msg.Error.Message, cfg.Tokens())
	if transient && msg.AttemptCount <= cfg.MaxReprocess {
		return DecisionReprocess
	}

	if cfg.ManualReview {
		return DecisionReview
	}
	return DecisionQuarantine
}

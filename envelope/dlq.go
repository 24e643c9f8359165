package envelope

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

// Message types used on dead-letter and triage topics.
const (
	// TypeDLQMessage wraps a failed envelope on dlq.<originalTopic>.
	TypeDLQMessage = "dlq.message"

	// TypeDLQQuarantine is the terminal parking type on quarantine.queue.
	TypeDLQQuarantine = "dlq.quarantine"

	// TypeDLQManualReview flags a record on manual.review.queue for an
	// operator decision.
	TypeDLQManualReview = "dlq.manual-review"
)

// ErrorInfo is the serialized form of the failure that dead-lettered a
// message. Stack traces live only here, never in HTTP responses.
type ErrorInfo struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// NewErrorInfo captures err for a DLQ record. Errors exposing a Name method
// keep their classification name; everything else is named by its Go type.
func NewErrorInfo(err error) ErrorInfo {
	info := ErrorInfo{
		Name:    fmt.Sprintf("%T", err),
		Message: err.Error(),
		Stack:   string(debug.Stack()),
	}
	var named interface{ Name() string }
	if errors.As(err, &named) {
		info.Name = named.Name()
	}
	return info
}

// DLQMessage is the payload of a dlq.message envelope. The original envelope
// travels inside it unmodified so a reprocessor can republish with the same
// id and correlationId.
type DLQMessage struct {
	OriginalTopic    string    `json:"originalTopic"`
	OriginalEnvelope *Envelope `json:"originalEnvelope"`
	Error            ErrorInfo `json:"error"`
	AttemptCount     int       `json:"attemptCount"`
	DLQTimestamp     time.Time `json:"dlqTimestamp"`
}

// NewDLQMessage builds the dead-letter payload for env after cause.
// attemptCount is the number of completed delivery rounds including this
// one; the producer is the only place that increments it.
func NewDLQMessage(originalTopic string, env *Envelope, cause error, attemptCount int) *DLQMessage {
	return &DLQMessage{
		OriginalTopic:    originalTopic,
		OriginalEnvelope: env,
		Error:            NewErrorInfo(cause),
		AttemptCount:     attemptCount,
		DLQTimestamp:     time.Now().UTC(),
	}
}

// QuarantineMessage parks a poisoned record with the reason it was pulled
// from circulation. Terminal: nothing republishes from quarantine.
type QuarantineMessage struct {
	DLQMessage
	Reason        string    `json:"reason"`
	QuarantinedAt time.Time `json:"quarantinedAt"`
}

// ReviewMessage asks an operator to decide a record's fate.
type ReviewMessage struct {
	DLQMessage
	ReviewReason string    `json:"reviewReason"`
	FlaggedAt    time.Time `json:"flaggedAt"`
}

func init() {
	RegisterPayload[DLQMessage](TypeDLQMessage)
	RegisterPayload[QuarantineMessage](TypeDLQQuarantine)
	RegisterPayload[ReviewMessage](TypeDLQManualReview)
}

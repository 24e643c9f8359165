package dlqhandler

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/lifebus/component"
)

var handlerSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config tunes the dead-letter triage policy.
type Config struct {
	// QuarantineAfter is the attempt ceiling before a message parks.
	QuarantineAfter int `json:"quarantine_after" schema:"type:int,description:Attempt count that forces quarantine,category:basic,default:5"`

	// MaxReprocess is the last attempt still eligible for republish.
	MaxReprocess int `json:"max_reprocess" schema:"type:int,description:Highest attempt count still republished,category:basic,default:3"`

	// ReprocessDelay is the pause before a republish, as a Go duration.
	ReprocessDelay string `json:"reprocess_delay" schema:"type:string,description:Pause before republishing a transient failure,category:basic,default:60s"`

	// ManualReview routes non-transient failures to the operator queue.
	ManualReview bool `json:"manual_review" schema:"type:bool,description:Flag non-transient failures for operator review,category:basic,default:true"`

	// ReviewIndexSize caps the in-memory index of messages waiting on an
	// operator. Oldest entries fall off first; the review topic itself is
	// the durable record.
	ReviewIndexSize int `json:"review_index_size" schema:"type:int,description:Bound on the in-memory review index,category:advanced,default:1000"`
}

// DefaultConfig returns the handler defaults.
func DefaultConfig() Config {
	return Config{
		QuarantineAfter: 5,
		MaxReprocess:    3,
		ReprocessDelay:  "60s",
		ManualReview:    true,
		ReviewIndexSize: 1000,
	}
}

// Validate checks the policy holds together.
func (c *Config) Validate() error {
	if c.QuarantineAfter <= 0 {
		return fmt.Errorf("quarantine_after must be positive")
	}
	if c.MaxReprocess < 0 {
		return fmt.Errorf("max_reprocess cannot be negative")
	}
	if c.MaxReprocess >= c.QuarantineAfter {
		return fmt.Errorf("max_reprocess (%d) must stay below quarantine_after (%d)", c.MaxReprocess, c.QuarantineAfter)
	}
	if c.ReviewIndexSize <= 0 {
		return fmt.Errorf("review_index_size must be positive")
	}
	return nil
}

// GetReprocessDelay parses the delay with a 60s fallback.
func (c *Config) GetReprocessDelay() time.Duration {
	if d, err := time.ParseDuration(c.ReprocessDelay); err == nil && d >= 0 {
		return d
	}
	return 60 * time.Second
}

// Triage renders the config as the decision policy.
func (c *Config) Triage() TriageConfig {
	return TriageConfig{
		QuarantineAfter: c.QuarantineAfter,
		MaxReprocess:    c.MaxReprocess,
		ReprocessDelay:  c.GetReprocessDelay(),
		ManualReview:    c.ManualReview,
		TransientTokens: DefaultTransientTokens,
	}
}

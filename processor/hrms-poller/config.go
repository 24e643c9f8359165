package hrmspoller

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/lifebus/component"
)

// pollerSchema documents the configuration surface.
var pollerSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds the poller runner settings. The adapters themselves come
// from the shared dependencies; this config tunes how they are driven.
type Config struct {
	// CursorPath is the JSON file poll cursors persist to. Empty keeps
	// cursors in memory only.
	CursorPath string `json:"cursor_path" schema:"type:string,description:Cursor persistence file,category:basic,default:data/cursors.json"`

	// FailureThreshold is the consecutive upstream failures before a
	// tenant's circuit opens and its polls pause.
	FailureThreshold int `json:"failure_threshold" schema:"type:int,description:Failures before the circuit opens,category:advanced,default:3"`

	// RecoveryTimeout is how long an open circuit blocks, as a Go
	// duration.
	RecoveryTimeout string `json:"recovery_timeout" schema:"type:string,description:Hold-off before probing an open circuit,category:advanced,default:5m"`
}

// DefaultConfig returns the poller defaults.
func DefaultConfig() Config {
	return Config{
		CursorPath:       "data/cursors.json",
		FailureThreshold: 3,
		RecoveryTimeout:  "5m",
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("failure_threshold must be positive")
	}
	return nil
}

// GetRecoveryTimeout parses the recovery timeout with a 5m fallback.
func (c *Config) GetRecoveryTimeout() time.Duration {
	if d, err := time.ParseDuration(c.RecoveryTimeout); err == nil && d > 0 {
		return d
	}
	return 5 * time.Minute
}

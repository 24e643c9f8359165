package webhookgateway

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/lifebus/component"
)

// gatewaySchema documents the configuration surface.
var gatewaySchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds the webhook gateway settings.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string `json:"listen_addr" schema:"type:string,description:HTTP bind address,category:basic,default::8080"`

	// MaxBodyBytes caps inbound webhook bodies.
	MaxBodyBytes int64 `json:"max_body_bytes" schema:"type:int,description:Webhook body size cap in bytes,category:advanced,default:10485760"`

	// RequestTimeout bounds each inbound request, as a Go duration.
	RequestTimeout string `json:"request_timeout" schema:"type:string,description:Per-request timeout,category:advanced,default:30s"`

	// RateLimit is the per-key request budget per window.
	RateLimit int `json:"rate_limit" schema:"type:int,description:Requests allowed per key per window,category:basic,default:120"`

	// RateWindow is the rate limit window, as a Go duration.
	RateWindow string `json:"rate_window" schema:"type:string,description:Rate limit window,category:basic,default:1m"`

	// RegistryPath is the webhook config registry file.
	RegistryPath string `json:"registry_path" schema:"type:string,description:Webhook registry file path,category:basic,default:data/webhooks.yaml"`

	// ExposeMetrics serves the prometheus registry on /metrics.
	ExposeMetrics bool `json:"expose_metrics" schema:"type:bool,description:Serve /metrics on the admin surface,category:advanced,default:true"`
}

// DefaultConfig returns the gateway defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":8080",
		MaxBodyBytes:   10 << 20,
		RequestTimeout: "30s",
		RateLimit:      120,
		RateWindow:     "1m",
		RegistryPath:   "data/webhooks.yaml",
		ExposeMetrics:  true,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive")
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("rate_limit must be positive")
	}
	if c.GetRateWindow() <= 0 {
		return fmt.Errorf("rate_window must be a positive duration")
	}
	if c.RegistryPath == "" {
		return fmt.Errorf("registry_path is required")
	}
	return nil
}

// GetRequestTimeout parses the request timeout with a 30s fallback.
func (c *Config) GetRequestTimeout() time.Duration {
	if d, err := time.ParseDuration(c.RequestTimeout); err == nil && d > 0 {
		return d
	}
	return 30 * time.Second
}

// GetRateWindow parses the rate window with a one minute fallback.
func (c *Config) GetRateWindow() time.Duration {
	if d, err := time.ParseDuration(c.RateWindow); err == nil {
		return d
	}
	if c.RateWindow == "" {
		return time.Minute
	}
	return 0
}

// Package config provides configuration loading and management for the
// lifebus binary. Configuration layers defaults, an optional YAML file and
// environment overrides; every duration field accepts Go duration syntax.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/lifebus/bus"
	"github.com/c360studio/lifebus/hrms"
)

// Config is the complete lifebus configuration tree.
type Config struct {
	Kafka       KafkaConfig       `yaml:"kafka"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	DLQ         DLQConfig         `yaml:"dlq"`
	Correlation CorrelationConfig `yaml:"correlation"`

	// Adapters lists the HRMS tenants this instance serves.
	Adapters []hrms.Config `yaml:"adapters"`

	// DataDir holds files lifebus persists between runs: poll cursors and
	// the webhook registry.
	DataDir string `yaml:"data_dir"`
}

// KafkaConfig holds the broker connection settings.
type KafkaConfig struct {
	// Brokers is the seed broker list. Required.
	Brokers []string `yaml:"brokers"`

	// ClientID identifies this process to the brokers.
	ClientID string `yaml:"client_id"`

	// GroupID prefixes consumer group names when several lifebus
	// deployments share a cluster. Empty uses the registry names as-is.
	GroupID string `yaml:"group_id"`

	// SSL enables TLS on broker connections.
	SSL bool `yaml:"ssl"`

	// SASLMechanism is empty, plain, scram-sha-256 or scram-sha-512.
	SASLMechanism string `yaml:"sasl_mechanism"`
	SASLUsername  string `yaml:"sasl_username"`
	SASLPassword  string `yaml:"sasl_password"`

	// ConnectTimeout bounds the initial dial plus ping.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// RequestTimeout bounds individual broker requests.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ClientConfig renders the Kafka settings as a bus client config.
func (k KafkaConfig) ClientConfig() bus.ClientConfig {
	cfg := bus.DefaultClientConfig(k.Brokers...)
	if k.ClientID != "" {
		cfg.ClientID = k.ClientID
	}
	if k.ConnectTimeout > 0 {
		cfg.ConnectTimeout = k.ConnectTimeout
	}
	if k.RequestTimeout > 0 {
		cfg.RequestTimeout = k.RequestTimeout
	}
	cfg.TLS = k.SSL
	cfg.SASLMechanism = k.SASLMechanism
	cfg.SASLUsername = k.SASLUsername
	cfg.SASLPassword = k.SASLPassword
	return cfg
}

// GroupName applies the deployment prefix to a registry group name.
func (k KafkaConfig) GroupName(name string) string {
	if k.GroupID == "" {
		return name
	}
	return k.GroupID + "." + name
}

// GatewayConfig tunes the webhook ingress.
type GatewayConfig struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string `yaml:"listen_addr"`

	// MaxBodyBytes caps webhook request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// RequestTimeout bounds each inbound request.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// RateLimit is the per-key request budget per window.
	RateLimit int `yaml:"rate_limit"`

	// RateWindow is the rate limit window.
	RateWindow time.Duration `yaml:"rate_window"`

	// RegistryPath is the webhook config registry file. Empty derives
	// <data_dir>/webhooks.yaml.
	RegistryPath string `yaml:"registry_path"`
}

// DLQConfig tunes dead-letter triage.
type DLQConfig struct {
	// QuarantineAfter is the attempt count at which a record is parked
	// without further triage.
	QuarantineAfter int `yaml:"quarantine_after"`

	// MaxReprocess is the highest attempt count still eligible for
	// automatic republish.
	MaxReprocess int `yaml:"max_reprocess"`

	// ReprocessDelay is the pause before a republish.
	ReprocessDelay time.Duration `yaml:"reprocess_delay"`

	// ManualReview routes non-transient failures to an operator queue
	// instead of quarantine. A pointer so an explicit false in a config
	// file is distinguishable from the field being absent.
	ManualReview *bool `yaml:"manual_review"`
}

// ManualReviewEnabled resolves the manual review setting, defaulting to
// enabled when no layer set it.
func (d DLQConfig) ManualReviewEnabled() bool {
	if d.ManualReview == nil {
		return true
	}
	return *d.ManualReview
}

// CorrelationConfig tunes the correlation store.
type CorrelationConfig struct {
	// MaxAge is how long an idle correlation survives.
	MaxAge time.Duration `yaml:"max_age"`

	// PruneInterval is how often the background pruner runs.
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// DefaultConfig returns the standard settings. Brokers are intentionally
// absent; they come from the config file or KAFKA_BROKERS.
func DefaultConfig() *Config {
	return &Config{
		Kafka: KafkaConfig{
			ClientID:       "lifebus",
			ConnectTimeout: 30 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
		Gateway: GatewayConfig{
			ListenAddr:     ":8080",
			MaxBodyBytes:   10 << 20,
			RequestTimeout: 30 * time.Second,
			RateLimit:      120,
			RateWindow:     time.Minute,
		},
		DLQ: DLQConfig{
			QuarantineAfter: 5,
			MaxReprocess:    3,
			ReprocessDelay:  60 * time.Second,
			ManualReview:    boolPtr(true),
		},
		Correlation: CorrelationConfig{
			MaxAge:        24 * time.Hour,
			PruneInterval: time.Hour,
		},
		DataDir: "data",
	}
}

// Validate checks the assembled configuration. Called after all layers
// merge, so a broker list from the environment satisfies the requirement.
func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required (or set KAFKA_BROKERS)")
	}
	if err := c.Kafka.ClientConfig().Validate(); err != nil {
		return err
	}
	if c.Gateway.ListenAddr == "" {
		return fmt.Errorf("gateway.listen_addr is required")
	}
	if c.Gateway.MaxBodyBytes <= 0 {
		return fmt.Errorf("gateway.max_body_bytes must be positive")
	}
	if c.Gateway.RateLimit <= 0 || c.Gateway.RateWindow <= 0 {
		return fmt.Errorf("gateway rate limit and window must be positive")
	}
	if c.DLQ.QuarantineAfter <= 0 {
		return fmt.Errorf("dlq.quarantine_after must be positive")
	}
	if c.DLQ.MaxReprocess < 0 {
		return fmt.Errorf("dlq.max_reprocess cannot be negative")
	}
	if c.DLQ.MaxReprocess >= c.DLQ.QuarantineAfter {
		return fmt.Errorf("dlq.max_reprocess (%d) must stay below dlq.quarantine_after (%d)",
			c.DLQ.MaxReprocess, c.DLQ.QuarantineAfter)
	}
	for i := range c.Adapters {
		if err := c.Adapters[i].Validate(); err != nil {
			return fmt.Errorf("adapters[%d]: %w", i, err)
		}
	}
	return nil
}

// RegistryPath resolves the webhook registry file location.
func (c *Config) RegistryPath() string {
	if c.Gateway.RegistryPath != "" {
		return c.Gateway.RegistryPath
	}
	return filepath.Join(c.DataDir, "webhooks.yaml")
}

// CursorPath resolves the poll cursor file location.
func (c *Config) CursorPath() string {
	return filepath.Join(c.DataDir, "cursors.json")
}

// LoadFromFile reads a config file. Environment references in the file
// (${VAR} or ${VAR:-default}) are expanded before parsing so secrets stay
// out of the file itself.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := ExpandEnvWithDefaults(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &config, nil
}

// SaveToFile writes the config as YAML, creating parent directories.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Merge overlays non-zero fields from other onto c.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if len(other.Kafka.Brokers) > 0 {
		c.Kafka.Brokers = other.Kafka.Brokers
	}
	if other.Kafka.ClientID != "" {
		c.Kafka.ClientID = other.Kafka.ClientID
	}
	if other.Kafka.GroupID != "" {
		c.Kafka.GroupID = other.Kafka.GroupID
	}
	if other.Kafka.SSL {
		c.Kafka.SSL = true
	}
	if other.Kafka.SASLMechanism != "" {
		c.Kafka.SASLMechanism = other.Kafka.SASLMechanism
		c.Kafka.SASLUsername = other.Kafka.SASLUsername
		c.Kafka.SASLPassword = other.Kafka.SASLPassword
	}
	if other.Kafka.ConnectTimeout > 0 {
		c.Kafka.ConnectTimeout = other.Kafka.ConnectTimeout
	}
	if other.Kafka.RequestTimeout > 0 {
		c.Kafka.RequestTimeout = other.Kafka.RequestTimeout
	}

	if other.Gateway.ListenAddr != "" {
		c.Gateway.ListenAddr = other.Gateway.ListenAddr
	}
	if other.Gateway.MaxBodyBytes > 0 {
		c.Gateway.MaxBodyBytes = other.Gateway.MaxBodyBytes
	}
	if other.Gateway.RequestTimeout > 0 {
		c.Gateway.RequestTimeout = other.Gateway.RequestTimeout
	}
	if other.Gateway.RateLimit > 0 {
		c.Gateway.RateLimit = other.Gateway.RateLimit
	}
	if other.Gateway.RateWindow > 0 {
		c.Gateway.RateWindow = other.Gateway.RateWindow
	}
	if other.Gateway.RegistryPath != "" {
		c.Gateway.RegistryPath = other.Gateway.RegistryPath
	}

	if other.DLQ.QuarantineAfter > 0 {
		c.DLQ.QuarantineAfter = other.DLQ.QuarantineAfter
	}
	if other.DLQ.MaxReprocess > 0 {
		c.DLQ.MaxReprocess = other.DLQ.MaxReprocess
	}
	if other.DLQ.ReprocessDelay > 0 {
		c.DLQ.ReprocessDelay = other.DLQ.ReprocessDelay
	}
	if other.DLQ.ManualReview != nil {
		c.DLQ.ManualReview = other.DLQ.ManualReview
	}

	if other.Correlation.MaxAge > 0 {
		c.Correlation.MaxAge = other.Correlation.MaxAge
	}
	if other.Correlation.PruneInterval > 0 {
		c.Correlation.PruneInterval = other.Correlation.PruneInterval
	}

	if len(other.Adapters) > 0 {
		c.Adapters = other.Adapters
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}
}

func boolPtr(b bool) *bool { return &b }

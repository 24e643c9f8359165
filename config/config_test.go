package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c360studio/lifebus/hrms"
)

func validConfig() *Config {
	c := DefaultConfig()
	c.Kafka.Brokers = []string{"localhost:9092"}
	return c
}

func TestDefaultConfigDefaults(t *testing.T) {
	c := DefaultConfig()

	if c.Gateway.MaxBodyBytes != 10<<20 {
		t.Errorf("max body = %d, want 10 MiB", c.Gateway.MaxBodyBytes)
	}
	if c.DLQ.QuarantineAfter != 5 || c.DLQ.MaxReprocess != 3 {
		t.Errorf("dlq defaults = %+v", c.DLQ)
	}
	if c.DLQ.ReprocessDelay != 60*time.Second {
		t.Errorf("reprocess delay = %s, want 60s", c.DLQ.ReprocessDelay)
	}
	if c.Correlation.MaxAge != 24*time.Hour {
		t.Errorf("correlation max age = %s, want 24h", c.Correlation.MaxAge)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no brokers", mutate: func(c *Config) { c.Kafka.Brokers = nil }, wantErr: true},
		{name: "bad sasl mechanism", mutate: func(c *Config) { c.Kafka.SASLMechanism = "gssapi" }, wantErr: true},
		{name: "empty listen addr", mutate: func(c *Config) { c.Gateway.ListenAddr = "" }, wantErr: true},
		{name: "zero body cap", mutate: func(c *Config) { c.Gateway.MaxBodyBytes = 0 }, wantErr: true},
		{name: "zero rate window", mutate: func(c *Config) { c.Gateway.RateWindow = 0 }, wantErr: true},
		{
			name:    "reprocess budget above quarantine",
			mutate:  func(c *Config) { c.DLQ.MaxReprocess = 5 },
			wantErr: true,
		},
		{
			name: "invalid adapter",
			mutate: func(c *Config) {
				c.Adapters = []hrms.Config{{Source: "workday"}}
			},
			wantErr: true,
		},
		{
			name: "valid adapter",
			mutate: func(c *Config) {
				c.Adapters = []hrms.Config{{
					Source:         "generic",
					OrganizationID: "org-1",
					Enabled:        true,
				}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lifebus.yaml")

	c := validConfig()
	c.Kafka.GroupID = "staging"
	c.Gateway.ListenAddr = ":9999"
	c.Adapters = []hrms.Config{{
		Source:         "bamboohr",
		OrganizationID: "org-7",
		TenantURL:      "https://api.bamboohr.com/api/gateway.php/org7",
		Credentials:    hrms.Credentials{Token: "key"},
		PollInterval:   5 * time.Minute,
		Enabled:        true,
	}}

	if err := c.SaveToFile(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Kafka.GroupID != "staging" {
		t.Errorf("group id = %q", loaded.Kafka.GroupID)
	}
	if loaded.Gateway.ListenAddr != ":9999" {
		t.Errorf("listen addr = %q", loaded.Gateway.ListenAddr)
	}
	if len(loaded.Adapters) != 1 || loaded.Adapters[0].PollInterval != 5*time.Minute {
		t.Errorf("adapters = %+v", loaded.Adapters)
	}
}

func TestLoadExpandsEnvReferences(t *testing.T) {
	t.Setenv("TEST_BAMBOO_KEY", "s3cret")

	path := filepath.Join(t.TempDir(), "lifebus.yaml")
	body := `
kafka:
  brokers: ["${TEST_KAFKA_BROKER:-localhost:9092}"]
adapters:
  - source: generic
    organization_id: org-1
    enabled: true
    webhook_secret: "${TEST_BAMBOO_KEY}"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := loaded.Kafka.Brokers[0]; got != "localhost:9092" {
		t.Errorf("broker = %q, want fallback localhost:9092", got)
	}
	if got := loaded.Adapters[0].WebhookSecret; got != "s3cret" {
		t.Errorf("webhook secret = %q, want expanded env value", got)
	}
}

func TestMergePrecedence(t *testing.T) {
	base := DefaultConfig()
	overlay := &Config{}
	overlay.Kafka.Brokers = []string{"broker-1:9092", "broker-2:9092"}
	overlay.Gateway.RateLimit = 500
	overlay.DLQ.ReprocessDelay = 2 * time.Minute

	base.Merge(overlay)

	if len(base.Kafka.Brokers) != 2 {
		t.Errorf("brokers = %v", base.Kafka.Brokers)
	}
	if base.Gateway.RateLimit != 500 {
		t.Errorf("rate limit = %d", base.Gateway.RateLimit)
	}
	if base.DLQ.ReprocessDelay != 2*time.Minute {
		t.Errorf("reprocess delay = %s", base.DLQ.ReprocessDelay)
	}
	// Untouched fields keep their defaults.
	if base.Gateway.ListenAddr != ":8080" {
		t.Errorf("listen addr = %q, want default", base.Gateway.ListenAddr)
	}
	if !base.DLQ.ManualReviewEnabled() {
		t.Error("manual review default lost by an overlay that never set it")
	}
}

func TestMergeManualReviewOff(t *testing.T) {
	base := DefaultConfig()
	off := false
	base.Merge(&Config{DLQ: DLQConfig{ManualReview: &off}})

	if base.DLQ.ManualReviewEnabled() {
		t.Error("manual_review: false in the overlay must disable manual review")
	}
}

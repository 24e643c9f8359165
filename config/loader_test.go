package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoaderEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lifebus.yaml")
	body := `
kafka:
  brokers: ["file-broker:9092"]
  client_id: from-file
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("KAFKA_BROKERS", "env-a:9092, env-b:9092")
	t.Setenv("KAFKA_SSL", "true")
	t.Setenv("KAFKA_SASL_MECHANISM", "scram-sha-256")
	t.Setenv("KAFKA_SASL_USERNAME", "svc")
	t.Setenv("KAFKA_SASL_PASSWORD", "pw")

	cfg, err := NewLoader(nil).Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[0] != "env-a:9092" {
		t.Errorf("brokers = %v, want env override", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.ClientID != "from-file" {
		t.Errorf("client id = %q, want file value to survive", cfg.Kafka.ClientID)
	}
	if !cfg.Kafka.SSL || cfg.Kafka.SASLMechanism != "scram-sha-256" {
		t.Errorf("security settings not applied: %+v", cfg.Kafka)
	}
}

func TestLoaderManualReviewOffSurvives(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lifebus.yaml")
	body := `
kafka:
  brokers: ["broker:9092"]
dlq:
  manual_review: false
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader(nil).Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DLQ.ManualReviewEnabled() {
		t.Error("manual_review: false in the file was lost through the layers")
	}
	if cfg.DLQ.QuarantineAfter != 5 {
		t.Errorf("quarantine_after = %d, want untouched default", cfg.DLQ.QuarantineAfter)
	}
}

func TestLoaderMissingBrokersFails(t *testing.T) {
	// No file, no KAFKA_BROKERS: startup must fail rather than run with an
	// empty broker list.
	t.Setenv("KAFKA_BROKERS", "")
	t.Chdir(t.TempDir())

	if _, err := NewLoader(nil).Load(""); err == nil {
		t.Fatal("expected error without brokers")
	}
}

func TestLoaderExplicitMissingFileFails(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "localhost:9092")
	if _, err := NewLoader(nil).Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for explicitly named missing file")
	}
}

func TestExpandEnvWithDefaults(t *testing.T) {
	t.Setenv("TEST_SET_VAR", "value")
	os.Unsetenv("TEST_UNSET_VAR")

	tests := []struct {
		in   string
		want string
	}{
		{"${TEST_SET_VAR}", "value"},
		{"${TEST_SET_VAR:-fallback}", "value"},
		{"${TEST_UNSET_VAR:-fallback}", "fallback"},
		{"${TEST_UNSET_VAR}", ""},
		{"prefix-${TEST_SET_VAR}-suffix", "prefix-value-suffix"},
		{"no refs here", "no refs here"},
		{"${TEST_UNSET_VAR:-localhost:9092}", "localhost:9092"},
	}
	for _, tt := range tests {
		if got := ExpandEnvWithDefaults(tt.in); got != tt.want {
			t.Errorf("ExpandEnvWithDefaults(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

package dlqhandler

import (
	"errors"
	"testing"

	"github.com/c360studio/lifebus/envelope"
)

func dlqMessage(t *testing.T, attemptCount int, errName, errMessage string) *envelope.DLQMessage {
	t.Helper()
	env, err := envelope.New("employee.onboard", map[string]any{"employeeId": "emp-1"},
		envelope.WithSource("test"),
		envelope.WithOrganizationID("org-1"),
	)
	if err != nil {
		t.Fatalf("building envelope: %v", err)
	}
	msg := envelope.NewDLQMessage("employee.onboard", env, errors.New(errMessage), attemptCount)
	msg.Error.Name = errName
	msg.Error.Message = errMessage
	return msg
}

func TestTriage(t *testing.T) {
	cfg := DefaultTriageConfig()

	tests := []struct {
		name       string
		attempts   int
		errName    string
		errMessage string
		want       Decision
	}{
		{
			name:       "transient within budget republishes",
			attempts:   1,
			errName:    "NETWORK_EXCEPTION",
			errMessage: "broker unreachable",
			want:       DecisionReprocess,
		},
		{
			name:       "transient at budget republishes",
			attempts:   3,
			errName:    "REQUEST_TIMED_OUT",
			errMessage: "request timed out",
			want:       DecisionReprocess,
		},
		{
			name:       "transient past budget goes to review",
			attempts:   4,
			errName:    "NETWORK_EXCEPTION",
			errMessage: "broker unreachable",
			want:       DecisionReview,
		},
		{
			name:       "attempt ceiling quarantines even transient failures",
			attempts:   5,
			errName:    "NETWORK_EXCEPTION",
			errMessage: "broker unreachable",
			want:       DecisionQuarantine,
		},
		{
			name:       "past the ceiling still quarantines",
			attempts:   7,
			errName:    "SomethingElse",
			errMessage: "boom",
			want:       DecisionQuarantine,
		},
		{
			name:       "non-transient goes to review",
			attempts:   1,
			errName:    "ValidationError",
			errMessage: "missing employee id",
			want:       DecisionReview,
		},
		{
			name:       "token matched in message not name",
			attempts:   2,
			errName:    "*errors.errorString",
			errMessage: "dial tcp: ECONNRESET",
			want:       DecisionReprocess,
		},
		{
			name:       "dns failure token",
			attempts:   1,
			errName:    "*net.DNSError",
			errMessage: "lookup broker: ENOTFOUND",
			want:       DecisionReprocess,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := dlqMessage(t, tt.attempts, tt.errName, tt.errMessage)
			if got := Triage(cfg, msg); got != tt.want {
				t.Errorf("Triage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTriageManualReviewDisabled(t *testing.T) {
	cfg := DefaultTriageConfig()
	cfg.ManualReview = false

	msg := dlqMessage(t, 1, "ValidationError", "missing employee id")
	if got := Triage(cfg, msg); got != DecisionQuarantine {
		t.Errorf("Triage() with review disabled = %q, want %q", got, DecisionQuarantine)
	}
}

func TestTriageDeterministic(t *testing.T) {
	// At-least-once delivery means the same DLQ record can arrive twice;
	// both deliveries must reach the same verdict.
	cfg := DefaultTriageConfig()
	msg := dlqMessage(t, 2, "NETWORK_EXCEPTION", "broker unreachable")

	first := Triage(cfg, msg)
	for i := 0; i < 5; i++ {
		if got := Triage(cfg, msg); got != first {
			t.Fatalf("Triage() verdict changed on redelivery: %q then %q", first, got)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "zero quarantine ceiling", mutate: func(c *Config) { c.QuarantineAfter = 0 }, wantErr: true},
		{name: "negative reprocess budget", mutate: func(c *Config) { c.MaxReprocess = -1 }, wantErr: true},
		{name: "budget at ceiling", mutate: func(c *Config) { c.MaxReprocess = 5 }, wantErr: true},
		{name: "zero review index", mutate: func(c *Config) { c.ReviewIndexSize = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigGetReprocessDelay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReprocessDelay = "2m"
	if got := cfg.GetReprocessDelay().Minutes(); got != 2 {
		t.Errorf("GetReprocessDelay() = %v minutes, want 2", got)
	}

	cfg.ReprocessDelay = "not a duration"
	if got := cfg.GetReprocessDelay().Seconds(); got != 60 {
		t.Errorf("GetReprocessDelay() fallback = %v seconds, want 60", got)
	}
}

package hrmspoller

import (
	"encoding/json"
	"testing"

	"github.com/c360studio/lifebus/bus"
	"github.com/c360studio/lifebus/component"
	"github.com/c360studio/lifebus/hrms"
)

func testDeps(adapters ...hrms.Config) component.Dependencies {
	client := bus.NewClient(bus.DefaultClientConfig("127.0.0.1:1"), nil)
	return component.Dependencies{
		Client:   client,
		Producer: bus.NewProducer(client, "test", nil, nil),
		Cursors:  hrms.NewMemoryCursorStore(),
		Adapters: adapters,
	}
}

func TestNewComponent(t *testing.T) {
	disc, err := NewComponent(nil, testDeps(hrms.Config{
		Source:         hrms.SourceGeneric,
		OrganizationID: "org-1",
	}))
	if err != nil {
		t.Fatalf("NewComponent() error: %v", err)
	}
	comp := disc.(*Component)

	statuses := comp.PollerStatuses()
	if len(statuses) != 1 {
		t.Fatalf("PollerStatuses() returned %d, want 1", len(statuses))
	}
	if statuses[0].Source != hrms.SourceGeneric || statuses[0].OrganizationID != "org-1" {
		t.Errorf("status = %+v", statuses[0])
	}
	if statuses[0].State != hrms.StateDisabled {
		t.Errorf("state = %s, want %s for a webhook-only adapter", statuses[0].State, hrms.StateDisabled)
	}
	if comp.IsRunning() {
		t.Error("IsRunning() true before Start")
	}
}

func TestNewComponentRejectsBadAdapter(t *testing.T) {
	_, err := NewComponent(nil, testDeps(hrms.Config{
		Source:         "notasource",
		OrganizationID: "org-1",
	}))
	if err == nil {
		t.Fatal("expected an error for an unknown source")
	}
}

func TestNewComponentRequiresProducer(t *testing.T) {
	_, err := NewComponent(nil, component.Dependencies{})
	if err == nil {
		t.Fatal("expected an error without a producer")
	}
}

func TestNewComponentRejectsBadConfig(t *testing.T) {
	raw := json.RawMessage(`{"failure_threshold": 0}`)
	if _, err := NewComponent(raw, testDeps()); err == nil {
		t.Fatal("expected an error for a zero failure threshold")
	}
}

func TestPollerStatusesSorted(t *testing.T) {
	disc, err := NewComponent(nil, testDeps(
		hrms.Config{Source: hrms.SourceGeneric, OrganizationID: "org-b"},
		hrms.Config{Source: hrms.SourceGeneric, OrganizationID: "org-a"},
	))
	if err != nil {
		t.Fatalf("NewComponent() error: %v", err)
	}
	comp := disc.(*Component)

	statuses := comp.PollerStatuses()
	if len(statuses) != 2 {
		t.Fatalf("PollerStatuses() returned %d, want 2", len(statuses))
	}
	if statuses[0].OrganizationID != "org-a" || statuses[1].OrganizationID != "org-b" {
		t.Errorf("statuses not sorted: %s then %s", statuses[0].OrganizationID, statuses[1].OrganizationID)
	}
}

func TestForcePollValidation(t *testing.T) {
	disc, err := NewComponent(nil, testDeps(hrms.Config{
		Source:         hrms.SourceGeneric,
		OrganizationID: "org-1",
	}))
	if err != nil {
		t.Fatalf("NewComponent() error: %v", err)
	}
	comp := disc.(*Component)

	if _, err := comp.ForcePoll("notasource"); err == nil {
		t.Error("ForcePoll() accepted an unknown source")
	}
	if _, err := comp.ForcePoll(hrms.SourceGeneric); err == nil {
		t.Error("ForcePoll() succeeded before Start")
	}
}

func TestConfigDurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecoveryTimeout = "bogus"
	if got := cfg.GetRecoveryTimeout().Minutes(); got != 5 {
		t.Errorf("GetRecoveryTimeout() fallback = %v minutes, want 5", got)
	}
	cfg.RecoveryTimeout = "90s"
	if got := cfg.GetRecoveryTimeout().Seconds(); got != 90 {
		t.Errorf("GetRecoveryTimeout() = %v seconds, want 90", got)
	}
}

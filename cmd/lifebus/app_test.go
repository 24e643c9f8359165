package main

import (
	"testing"

	"github.com/c360studio/lifebus/config"
	"github.com/c360studio/lifebus/hrms"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Kafka.Brokers = []string{"127.0.0.1:1"}
	cfg.DataDir = t.TempDir()
	return cfg
}

func TestNewAppBuildsComponents(t *testing.T) {
	app, err := NewApp(testConfig(t), nil)
	if err != nil {
		t.Fatalf("NewApp() error: %v", err)
	}

	for _, name := range startupOrder {
		comp, ok := app.components[name]
		if !ok {
			t.Fatalf("component %s not built", name)
		}
		if comp.IsRunning() {
			t.Errorf("component %s running before Start", name)
		}
		if meta := comp.Meta(); meta.Name != name {
			t.Errorf("component %s reports name %q", name, meta.Name)
		}
	}

	health := app.Health()
	if len(health) != len(startupOrder) {
		t.Fatalf("Health() reports %d components, want %d", len(health), len(startupOrder))
	}
	for name, status := range health {
		if status.Healthy {
			t.Errorf("component %s healthy before Start", name)
		}
	}
}

func TestNewAppWiresAdapters(t *testing.T) {
	cfg := testConfig(t)
	cfg.Adapters = []hrms.Config{
		{Source: hrms.SourceGeneric, OrganizationID: "org-1"},
	}

	app, err := NewApp(cfg, nil)
	if err != nil {
		t.Fatalf("NewApp() error: %v", err)
	}

	poller, ok := app.components["hrms-poller"].(interface {
		PollerStatuses() []hrms.PollerStatus
	})
	if !ok {
		t.Fatal("hrms-poller does not expose poller statuses")
	}
	if got := len(poller.PollerStatuses()); got != 1 {
		t.Errorf("poller count = %d, want 1", got)
	}
}

func TestNewAppRejectsBadAdapter(t *testing.T) {
	cfg := testConfig(t)
	cfg.Adapters = []hrms.Config{
		{Source: "notasource", OrganizationID: "org-1"},
	}
	if _, err := NewApp(cfg, nil); err == nil {
		t.Fatal("NewApp() accepted an unknown adapter source")
	}
}

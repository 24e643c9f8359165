package component

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

type nopComponent struct{ name string }

func (n *nopComponent) Initialize() error                { return nil }
func (n *nopComponent) Start(context.Context) error      { return nil }
func (n *nopComponent) Stop(time.Duration) error         { return nil }
func (n *nopComponent) Meta() Metadata                   { return Metadata{Name: n.name} }
func (n *nopComponent) Health() HealthStatus             { return HealthStatus{Healthy: true} }
func (n *nopComponent) IsRunning() bool                  { return false }
func (n *nopComponent) InputPorts() []Port               { return nil }
func (n *nopComponent) OutputPorts() []Port              { return nil }
func (n *nopComponent) ConfigSchema() ConfigSchema       { return ConfigSchema{} }
func (n *nopComponent) DataFlow() FlowMetrics            { return FlowMetrics{} }

func nopFactory(name string) Factory {
	return func(json.RawMessage, Dependencies) (Discoverable, error) {
		return &nopComponent{name: name}, nil
	}
}

func TestRegistryRegisterAndCreate(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterWithConfig(RegistrationConfig{
		Name:    "gateway",
		Factory: nopFactory("gateway"),
		Type:    "processor",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	c, err := r.Create("gateway", nil, Dependencies{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := c.Meta().Name; got != "gateway" {
		t.Errorf("created component name = %q, want gateway", got)
	}
}

func TestRegistryRejections(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterWithConfig(RegistrationConfig{Factory: nopFactory("x")}); err == nil {
		t.Error("expected error registering without a name")
	}
	if err := r.RegisterWithConfig(RegistrationConfig{Name: "x"}); err == nil {
		t.Error("expected error registering without a factory")
	}

	if err := r.RegisterWithConfig(RegistrationConfig{Name: "x", Factory: nopFactory("x")}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.RegisterWithConfig(RegistrationConfig{Name: "x", Factory: nopFactory("x")}); err == nil {
		t.Error("expected error registering a duplicate name")
	}

	if _, err := r.Create("missing", nil, Dependencies{}); err == nil {
		t.Error("expected error creating an unregistered component")
	}
}

func TestRegistryListFactoriesSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"dlq-handler", "webhook-gateway", "hrms-poller"} {
		if err := r.RegisterWithConfig(RegistrationConfig{Name: name, Factory: nopFactory(name)}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	got := r.ListFactories()
	want := []string{"dlq-handler", "hrms-poller", "webhook-gateway"}
	if len(got) != len(want) {
		t.Fatalf("ListFactories() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ListFactories()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

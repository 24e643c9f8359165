package hrmspoller

import (
	"fmt"

	"github.com/c360studio/lifebus/component"
)

// RegistryInterface is the minimal registration surface.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register adds the hrms poller factory to the registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        componentName,
		Factory:     NewComponent,
		Schema:      pollerSchema,
		Type:        "processor",
		Description: "Scheduled HRMS API polling publishing lifecycle events",
		Version:     componentVersion,
	})
}

package dlqhandler

import (
	"fmt"

	"github.com/c360studio/lifebus/component"
)

// RegistryInterface is the minimal registration surface.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register adds the dlq handler factory to the registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        componentName,
		Factory:     NewComponent,
		Schema:      handlerSchema,
		Type:        "processor",
		Description: "Dead-letter triage: republish, quarantine or flag for review",
		Version:     componentVersion,
	})
}

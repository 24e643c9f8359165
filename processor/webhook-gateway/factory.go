package webhookgateway

import (
	"fmt"

	"github.com/c360studio/lifebus/component"
)

// RegistryInterface is the minimal registration surface.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register adds the webhook gateway factory to the registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        componentName,
		Factory:     NewComponent,
		Schema:      gatewaySchema,
		Type:        "processor",
		Description: "HTTP webhook ingress normalizing HRMS events onto the bus",
		Version:     componentVersion,
	})
}

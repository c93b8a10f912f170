package changeworker

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface required for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the change-worker component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "change-worker",
		Factory:     NewComponent,
		Schema:      changeWorkerSchema,
		Type:        "processor",
		Protocol:    "jetstream",
		Domain:      "tenet",
		Description: "Cascades change events through the reference graph",
		Version:     "0.1.0",
	})
}

package kbapi

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface required for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the kb-api component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "kb-api",
		Factory:     NewComponent,
		Schema:      kbAPISchema,
		Type:        "processor",
		Protocol:    "http",
		Domain:      "tenet",
		Description: "HTTP endpoints for knowledge-base records, gate review, and snapshots",
		Version:     "0.1.0",
	})
}

package provider

import (
	"fmt"

	"github.com/hazelchat/hazelsync/internal/models"
)

// NotSupportedError reports a provider with no registered adapter, or an
// adapter missing a capability the caller needs.
type NotSupportedError struct {
	Provider   models.Provider
	Capability string
}

func (e *NotSupportedError) Error() string {
	if e.Capability != "" {
		return fmt.Sprintf("provider %s does not support %s", e.Provider, e.Capability)
	}
	return fmt.Sprintf("unsupported provider: %s", e.Provider)
}

// ConfigurationError reports an adapter that exists but cannot operate, for
// example because its bot token is not configured.
type ConfigurationError struct {
	Provider models.Provider
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("provider %s is not configured: %s", e.Provider, e.Reason)
}

// APIError reports a failed call to the external platform. Status carries
// the HTTP status code when the platform exposed one, zero otherwise.
type APIError struct {
	Provider models.Provider
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s api error (status %d): %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("provider %s api error: %s", e.Provider, e.Message)
}

package llm

import "fmt"

// ConfigurationError means the request or client setup is wrong; retrying
// the same call cannot succeed.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "llm configuration: " + e.Message
}

// ProviderError wraps a failure from a concrete provider adapter.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llm provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

package core

import (
	"errors"
	"fmt"
)

// ConfigError represents a configuration-related error with actionable instructions.
type ConfigError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
	Action  string // Actionable instruction for resolution
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

// Error codes for configuration errors
const (
	ErrCodeInvalidValue       = "INVALID_VALUE"
	ErrCodeMissingProvider    = "MISSING_PROVIDER"
	ErrCodeUnknownProvider    = "UNKNOWN_PROVIDER"
	ErrCodeInvalidStore       = "INVALID_TASK_STORE"
	ErrCodeProvidersFile      = "PROVIDERS_FILE"
	ErrCodeDirectoryNotUsable = "DIRECTORY_NOT_USABLE"
)

// ErrInvalidValue reports an environment variable whose value is out of range.
func ErrInvalidValue(varName string, value any, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Invalid value for %s (%v): %s", varName, value, reason),
		Action:  fmt.Sprintf("Fix %s in your .env file", varName),
	}
}

// ErrMissingProvider reports that no vision provider has credentials.
func ErrMissingProvider() *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingProvider,
		Message: "No vision provider is configured",
		Action:  "Set OPENAI_API_KEY or QWEN_API_KEY, or declare a provider in PROVIDERS_FILE",
	}
}

// ErrUnknownProvider reports a DEFAULT_PROVIDER that is not declared.
func ErrUnknownProvider(name string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeUnknownProvider,
		Message: fmt.Sprintf("Unknown vision provider: %s", name),
		Action:  "Set DEFAULT_PROVIDER to one of the configured providers",
	}
}

// ErrInvalidStore reports an unsupported TASK_STORE backend.
func ErrInvalidStore(backend string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidStore,
		Message: fmt.Sprintf("Unsupported task store backend: %s", backend),
		Action:  "Set TASK_STORE to sqlite or json",
	}
}

// ErrProvidersFile wraps a failure to read or parse PROVIDERS_FILE.
func ErrProvidersFile(path string, err error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeProvidersFile,
		Message: fmt.Sprintf("Cannot load providers file %s: %v", path, err),
		Action:  "Check that PROVIDERS_FILE points to a valid YAML document",
	}
}

// ErrDirectoryNotUsable reports a working directory that cannot be created or written.
func ErrDirectoryNotUsable(path string, err error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeDirectoryNotUsable,
		Message: fmt.Sprintf("Directory %s is not usable: %v", path, err),
		Action:  "Check permissions or point the directory setting elsewhere",
	}
}

// IsConfigError checks if an error is a ConfigError and returns it.
func IsConfigError(err error) (*ConfigError, bool) {
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return configErr, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from a ConfigError, or "" for other errors.
func GetErrorCode(err error) string {
	if configErr, ok := IsConfigError(err); ok {
		return configErr.Code
	}
	return ""
}

package errors

import (
	"fmt"
	"strings"
)

// ConfigurationError is raised when configuration is invalid or missing
type ConfigurationError struct {
	*AppError
}

// NewConfigurationError creates a new configuration error
func NewConfigurationError(message string) *ConfigurationError {
	return &ConfigurationError{
		AppError: &AppError{
			Message:  message,
			ExitCode: ExitConfigError,
		},
	}
}

// UnknownBackendError is raised when the configured backend kind has no registration
type UnknownBackendError struct {
	*AppError
	Backend string
}

// NewUnknownBackendError creates a new unknown backend error
func NewUnknownBackendError(backend string, supported []string) *UnknownBackendError {
	return &UnknownBackendError{
		AppError: &AppError{
			Message: fmt.Sprintf("Unsupported backend %q", backend),
			Context: &ErrorContext{
				Operation: "Creating provider",
				Component: "Provider Factory",
				Details: map[string]any{
					"backend":   backend,
					"supported": strings.Join(supported, ", "),
				},
				Suggestions: []string{
					fmt.Sprintf("Set 'backend' to one of: %s", strings.Join(supported, ", ")),
					"Run 'assistant-llm backends' to list the registered backends",
				},
			},
			ExitCode: ExitConfigError,
		},
		Backend: backend,
	}
}

// MissingEnvVarError is raised when a credential environment variable is not set
type MissingEnvVarError struct {
	*AppError
	Variable string
}

// NewMissingEnvVarError creates a new missing environment variable error
func NewMissingEnvVarError(varName, backend string) *MissingEnvVarError {
	return &MissingEnvVarError{
		AppError: &AppError{
			Message: fmt.Sprintf("Required environment variable '%s' is not set", varName),
			Context: &ErrorContext{
				Operation: "Resolving credentials",
				Component: "Environment",
				Details: map[string]any{
					"variable": varName,
					"backend":  backend,
				},
				Suggestions: []string{
					fmt.Sprintf("Export the variable: export %s='your-key'", varName),
					fmt.Sprintf("Add %s=... to a .env file in the working directory", varName),
					fmt.Sprintf("Point backends.%s.api_key_env at another variable", backend),
				},
			},
			ExitCode: ExitConfigError,
		},
		Variable: varName,
	}
}

// InvalidConfigValueError is raised when a configuration key has an invalid value
type InvalidConfigValueError struct {
	*AppError
	Key string
}

// NewInvalidConfigValueError creates a new invalid configuration value error
func NewInvalidConfigValueError(key string, value any, reason string) *InvalidConfigValueError {
	return &InvalidConfigValueError{
		AppError: &AppError{
			Message: fmt.Sprintf("Configuration key '%s' has an invalid value", key),
			Context: &ErrorContext{
				Operation: "Validating configuration",
				Component: "Config",
				Details: map[string]any{
					"key":    key,
					"value":  value,
					"reason": reason,
				},
				Suggestions: []string{
					fmt.Sprintf("Fix '%s' in your configuration file", key),
					"Run 'assistant-llm config show' to inspect the merged configuration",
				},
			},
			ExitCode: ExitConfigError,
		},
		Key: key,
	}
}

// ConfigFileError is raised when a configuration file cannot be read or parsed
type ConfigFileError struct {
	*AppError
}

// NewConfigFileError creates a new config file error
func NewConfigFileError(filePath string, cause error) *ConfigFileError {
	return &ConfigFileError{
		AppError: &AppError{
			Message: fmt.Sprintf("Failed to load configuration file: %s", filePath),
			Cause:   cause,
			Context: &ErrorContext{
				Operation: "Loading configuration",
				Component: "Config File",
				Details: map[string]any{
					"file_path": filePath,
				},
				Suggestions: []string{
					"Check that the file exists and is readable",
					"Validate YAML syntax",
					"Run 'assistant-llm config init' to write a fresh file",
				},
			},
			ExitCode: ExitConfigError,
		},
	}
}

// IsConfigurationError reports whether err is any of the configuration errors
// above.
func IsConfigurationError(err error) bool {
	return ExitCodeOf(err) == ExitConfigError
}

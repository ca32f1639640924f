package config

import (
	"fmt"
	"regexp"
	"strings"
)

var backendIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,63}$`)

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const maxEnvValueLength = 10000

// ValidateBackendConfig checks a BackendConfig against the admission
// contract: identifier shape, transport-specific required fields, and
// request-timeout bounds. MaxRetries is not range-checked. It returns all
// violations found, not just the first.
func ValidateBackendConfig(c BackendConfig) ValidationErrors {
	var errs ValidationErrors

	if !backendIDPattern.MatchString(c.ID) {
		errs.Add("id", "must match ^[A-Za-z][A-Za-z0-9_-]{0,63}$", c.ID)
	}
	if strings.Contains(c.ID, "__") {
		errs.Add("id", "must not contain \"__\", reserved as the tool/prompt namespace separator", c.ID)
	}
	if strings.HasSuffix(c.ID, "_") {
		errs.Add("id", "must not end with \"_\", which would run into the \"__\" namespace separator", c.ID)
	}

	switch c.Transport {
	case TransportChildProcess:
		if c.ChildProcess == nil {
			errs.Add("childProcess", "is required for child-process transport")
			break
		}
		if strings.TrimSpace(c.ChildProcess.Command) == "" {
			errs.Add("childProcess.command", "is required for child-process transport")
		}
		for k, v := range c.ChildProcess.Env {
			if !envKeyPattern.MatchString(k) {
				errs.Add("childProcess.env", fmt.Sprintf("key %q must match ^[A-Za-z_][A-Za-z0-9_]*$", k))
			}
			if len(v) > maxEnvValueLength {
				errs.Add("childProcess.env", fmt.Sprintf("value for %q exceeds %d characters", k, maxEnvValueLength))
			}
		}
	case TransportEventStream:
		if c.EventStream == nil {
			errs.Add("eventStream", "is required for event-stream transport")
			break
		}
		if strings.TrimSpace(c.EventStream.BaseURL) == "" {
			errs.Add("eventStream.baseUrl", "is required for event-stream transport")
		}
	default:
		errs.Add("transport", fmt.Sprintf("must be one of: %s, %s", TransportChildProcess, TransportEventStream), c.Transport)
	}

	if c.RequestTimeout != 0 && (c.RequestTimeout < MinRequestTimeout || c.RequestTimeout > MaxRequestTimeout) {
		errs.Add("requestTimeout", fmt.Sprintf("must be between %s and %s", MinRequestTimeout, MaxRequestTimeout), c.RequestTimeout)
	}

	return errs
}

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// FormatValidationError creates a consistent validation error message
func FormatValidationError(entityType, entityName string, err error) error {
	if err == nil {
		return nil
	}

	if entityName != "" {
		return fmt.Errorf("validation failed for %s '%s': %w", entityType, entityName, err)
	}
	return fmt.Errorf("validation failed for %s: %w", entityType, err)
}

package config

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigNotFound indicates the requested config file does not exist.
	ErrConfigNotFound = errors.New("config file not found")

	// ErrInvalidYAML indicates the config file could not be parsed.
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// ErrValidationFailed indicates the parsed config failed validation.
	ErrValidationFailed = errors.New("config validation failed")

	// ErrInvalidValue indicates a field holds a value outside its allowed set.
	ErrInvalidValue = errors.New("invalid value")
)

// ValidationError describes a single invalid config field.
type ValidationError struct {
	Section string
	Field   string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config section %q: %v", e.Section, e.Err)
	}
	return fmt.Sprintf("config section %q field %q: %v", e.Section, e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError builds a ValidationError for the given section and field.
func NewValidationError(section, field string, err error) *ValidationError {
	return &ValidationError{Section: section, Field: field, Err: err}
}

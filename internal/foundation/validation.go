// Package foundation holds small generic helpers shared across packages.
package foundation

import (
	"fmt"
	"strings"

	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
)

// Validator represents a validation function.
type Validator[T any] func(T) ValidationResult

// ValidationResult contains the result of a validation operation.
type ValidationResult struct {
	Valid  bool
	Errors []FieldError
}

// FieldError represents a single validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// Error implements the error interface.
func (fe FieldError) Error() string {
	if fe.Field != "" {
		return fmt.Sprintf("field '%s': %s", fe.Field, fe.Message)
	}
	return fe.Message
}

// Valid creates a successful validation result.
func Valid() ValidationResult {
	return ValidationResult{Valid: true}
}

// Invalid creates a failed validation result with errors.
func Invalid(errs ...FieldError) ValidationResult {
	return ValidationResult{Valid: false, Errors: errs}
}

// NewFieldError creates a field error carrying the offending value.
func NewFieldError(field, code, message string, value any) FieldError {
	return FieldError{Field: field, Code: code, Message: message, Value: value}
}

// Combine merges multiple validation results.
func (vr ValidationResult) Combine(other ValidationResult) ValidationResult {
	if vr.Valid && other.Valid {
		return Valid()
	}
	all := make([]FieldError, 0, len(vr.Errors)+len(other.Errors))
	all = append(all, vr.Errors...)
	all = append(all, other.Errors...)
	return Invalid(all...)
}

// ToError converts a validation result to a classified validation error, or nil.
// The individual field errors are attached under the "fields" context key.
func (vr ValidationResult) ToError() error {
	if vr.Valid {
		return nil
	}
	messages := make([]string, 0, len(vr.Errors))
	for _, fe := range vr.Errors {
		messages = append(messages, fe.Error())
	}
	return errors.ValidationError(strings.Join(messages, "; ")).
		WithContext("fields", vr.Errors).
		Build()
}

// ValidatorChain runs every validator and collects all failures.
type ValidatorChain[T any] struct {
	validators []Validator[T]
}

// NewValidatorChain creates a new validator chain.
func NewValidatorChain[T any](validators ...Validator[T]) *ValidatorChain[T] {
	return &ValidatorChain[T]{validators: validators}
}

// Add appends a validator to the chain.
func (vc *ValidatorChain[T]) Add(validator Validator[T]) *ValidatorChain[T] {
	vc.validators = append(vc.validators, validator)
	return vc
}

// Validate runs all validators in the chain.
func (vc *ValidatorChain[T]) Validate(value T) ValidationResult {
	result := Valid()
	for _, validator := range vc.validators {
		result = result.Combine(validator(value))
	}
	return result
}

// Check turns a predicate over T into a Validator reporting field/code/message when it fails.
func Check[T any](field, code, message string, ok func(T) bool, value func(T) any) Validator[T] {
	return func(v T) ValidationResult {
		if ok(v) {
			return Valid()
		}
		var bad any
		if value != nil {
			bad = value(v)
		}
		return Invalid(NewFieldError(field, code, message, bad))
	}
}

// OneOf validates that a value is in a set of allowed values.
func OneOf[T comparable](field string, allowed []T) Validator[T] {
	allowedSet := make(map[T]bool, len(allowed))
	for _, item := range allowed {
		allowedSet[item] = true
	}
	return func(value T) ValidationResult {
		if !allowedSet[value] {
			return Invalid(NewFieldError(field, "one_of",
				fmt.Sprintf("field must be one of: %v", allowed), value))
		}
		return Valid()
	}
}

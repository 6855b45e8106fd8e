// Package shared contains common domain types, errors and events
// used across the domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrValueOutOfRange = errors.New("value out of range")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "enrollment", "progress", "catalog"
	Op      string // Operation that failed, e.g., "Enroll", "MarkMaterialCompleted"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Catalog errors (course / topic / material lookups)
var (
	ErrStudentNotFound  = NewDomainError("catalog", "Find", ErrNotFound, "student not found")
	ErrCourseNotFound   = NewDomainError("catalog", "Find", ErrNotFound, "course not found")
	ErrTopicNotFound    = NewDomainError("catalog", "Find", ErrNotFound, "topic not found")
	ErrMaterialNotFound = NewDomainError("catalog", "Find", ErrNotFound, "material not found")
)

// Enrollment errors
var (
	ErrEnrollmentNotFound = NewDomainError("enrollment", "Find", ErrNotFound, "enrollment not found")
	ErrAlreadyEnrolled    = NewDomainError("enrollment", "Enroll", ErrAlreadyExists, "already enrolled")
	ErrBulkTooLarge       = NewDomainError("enrollment", "BulkEnroll", ErrValueOutOfRange, "too many identifiers in one call")
	ErrSubjectRequired    = NewDomainError("enrollment", "ContactAttendees", ErrInvalidInput, "subject is required")
	ErrMessageRequired    = NewDomainError("enrollment", "ContactAttendees", ErrInvalidInput, "message is required")
)

// Progress errors
var (
	ErrCourseProgressNotFound = NewDomainError("progress", "Find", ErrNotFound, "course progress not found")
	ErrTopicProgressNotFound  = NewDomainError("progress", "Find", ErrNotFound, "topic progress not found")
	ErrInvalidPercent         = NewDomainError("progress", "Validate", ErrValueOutOfRange, "percentage must be between 0 and 100")
	ErrInvalidSkillScore      = NewDomainError("progress", "Validate", ErrValueOutOfRange, "skill score must be between 0 and 100")
	ErrInvalidTimeSpent       = NewDomainError("progress", "Validate", ErrValueOutOfRange, "time spent out of range")
	ErrEmptyID                = NewDomainError("progress", "Validate", ErrInvalidID, "identifier cannot be empty")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" (conflict) error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrValueOutOfRange)
}

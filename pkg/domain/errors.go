package domain

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Typed errors below match them through errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrConflict           = errors.New("conflict")
)

// NotFoundError reports an unknown area, lane or challan.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Is reports kind equality for errors.Is.
func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound constructs a NotFoundError.
func NotFound(entity EntityType, id string) error {
	return NotFoundError{Entity: entity, ID: id}
}

// ValidationError identifies the offending field of a rejected input.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Is reports kind equality for errors.Is.
func (e ValidationError) Is(target error) bool { return target == ErrInvalidInput }

// InvalidInput constructs a ValidationError for field.
func InvalidInput(field, format string, args ...any) error {
	return ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// PreconditionError reports an operation requested against a record in the wrong state.
type PreconditionError struct {
	Message string
}

func (e PreconditionError) Error() string { return e.Message }

// Is reports kind equality for errors.Is.
func (e PreconditionError) Is(target error) bool { return target == ErrPreconditionFailed }

// PreconditionFailed constructs a PreconditionError.
func PreconditionFailed(format string, args ...any) error {
	return PreconditionError{Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports a uniqueness violation, such as a reused challan number.
type ConflictError struct {
	Entity EntityType
	Key    string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Entity, e.Key)
}

// Is reports kind equality for errors.Is.
func (e ConflictError) Is(target error) bool { return target == ErrConflict }

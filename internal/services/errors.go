package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the target of a mutation does not exist.
	// Detail reads return a nil result instead.
	ErrNotFound           = errors.New("not found")
	ErrCollectionFull     = errors.New("collection is full")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// ValidationError reports malformed input. It is raised before any data access.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

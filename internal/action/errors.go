package action

import (
	"errors"
	"fmt"
)

// ValidationError marks malformed or out-of-range input, rejected before
// any external call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidationError checks if an error is an input rejection.
func IsValidationError(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// NotFoundError marks a referenced upstream entity that does not exist.
type NotFoundError struct {
	Kind string // server | account | node | egg
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s does not exist", e.Kind, e.ID)
}

// IsNotFoundError checks if an error is an upstream absence.
func IsNotFoundError(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// DeclinedError marks a destructive action aborted at the confirmation
// gate. The action never happened: no mutation, no notification, no audit.
type DeclinedError struct {
	Decision string // declined | expired
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("action %s at confirmation gate", e.Decision)
}

// IsDeclinedError checks if an error is a confirmation gate abort.
func IsDeclinedError(err error) bool {
	var e *DeclinedError
	return errors.As(err, &e)
}

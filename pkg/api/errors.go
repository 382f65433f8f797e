package api

import (
	"errors"
	"strings"
)

// NotFoundError indicates a referenced workflow, run, or step does not exist.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return e.Resource + " not found"
}

// NewNotFoundError builds a NotFoundError for the named resource
// (e.g. "workflow", "run", "step").
func NewNotFoundError(resource string) error {
	return &NotFoundError{Resource: resource}
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// AuthorizationError indicates the caller does not own the resource it is
// trying to act on.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string {
	if e.Message == "" {
		return "insufficient permissions"
	}
	return e.Message
}

// NewAuthorizationError builds an AuthorizationError with the given message.
func NewAuthorizationError(message string) error {
	return &AuthorizationError{Message: message}
}

// IsAuthorization reports whether err is an AuthorizationError.
func IsAuthorization(err error) bool {
	var e *AuthorizationError
	return errors.As(err, &e)
}

// ValidationError indicates invalid input or an illegal state transition,
// such as cancelling an already-completed run or saving a workflow with a
// dangling step link.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError builds a ValidationError with the given message.
func NewValidationError(message string) error {
	return &ValidationError{Message: message}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// QuotaError indicates a provider quota or rate-limit rejection. Jobs that
// fail with a QuotaError must not be retried by the queue layer; the failure
// is terminal for the attempt chain.
type QuotaError struct {
	Message string
}

func (e *QuotaError) Error() string {
	return e.Message
}

// NewQuotaError builds a QuotaError with the given message.
func NewQuotaError(message string) error {
	return &QuotaError{Message: message}
}

// IsQuota reports whether err is a QuotaError.
func IsQuota(err error) bool {
	var e *QuotaError
	return errors.As(err, &e)
}

// LooksLikeQuotaMessage reports whether an error message from an AI provider
// indicates a quota or rate-limit rejection.
func LooksLikeQuotaMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(msg, "429") ||
		strings.Contains(lower, "quota") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests")
}

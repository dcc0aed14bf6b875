// Package apperrors provides the error taxonomy shared by the store, gateway and orchestrator.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation           = errors.New("validation error")
	ErrNotFound             = errors.New("not found")
	ErrDuplicateID          = errors.New("duplicate id")
	ErrGatewayUnavailable   = errors.New("gateway unavailable")
	ErrRemoteNotFound       = errors.New("remote job not found")
	ErrSubmissionRejected   = errors.New("submission rejected")
	ErrCancellationRejected = errors.New("cancellation rejected")
	ErrNotCancellable       = errors.New("not cancellable")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrObjectNotFound       = errors.New("object not found")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "resolution")
	Resource string // For not found errors (e.g., "job")
	Op       string // Operation that failed (e.g., "runpod.submit")
	Cause    error  // Underlying error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// DuplicateID creates a conflict error for an id that is already taken.
func DuplicateID(resource, id string) error {
	return &Error{
		Sentinel: ErrDuplicateID,
		Message:  fmt.Sprintf("%s %s already exists", resource, id),
		Resource: resource,
	}
}

// Wrap classifies cause under sentinel for the given operation.
func Wrap(sentinel error, op string, cause error) error {
	msg := fmt.Sprintf("%s: %v", op, sentinel)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v: %v", op, sentinel, cause)
	}
	return &Error{
		Sentinel: sentinel,
		Message:  msg,
		Op:       op,
		Cause:    cause,
	}
}

// Newf classifies a formatted message under sentinel.
func Newf(sentinel error, format string, args ...any) error {
	return &Error{
		Sentinel: sentinel,
		Message:  fmt.Sprintf(format, args...),
	}
}

// HTTPStatus maps an error to the status code the API answers with.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateID), errors.Is(err, ErrNotCancellable), errors.Is(err, ErrCancellationRejected):
		return http.StatusConflict
	case errors.Is(err, ErrSubmissionRejected), errors.Is(err, ErrRemoteNotFound):
		return http.StatusBadGateway
	case errors.Is(err, ErrGatewayUnavailable), errors.Is(err, ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

package backend

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned by operations a backend cannot perform
var ErrUnsupported = errors.New("unsupported operation")

// UnsupportedError names the operation that a backend refused
type UnsupportedError struct {
	Operation string // e.g., "AddTask", "DeleteAppointment"
	Message   string // Human-readable explanation
}

// NewUnsupportedError creates a new UnsupportedError
func NewUnsupportedError(operation, message string) *UnsupportedError {
	return &UnsupportedError{Operation: operation, Message: message}
}

func (e *UnsupportedError) Error() string {
	return e.Message
}

// Is makes errors.Is(err, ErrUnsupported) match
func (e *UnsupportedError) Is(target error) bool {
	return target == ErrUnsupported
}

// BackendError represents an error from a backend operation
// It provides structured error information including HTTP status codes,
// the EWS response code, operation context, and the underlying error
type BackendError struct {
	Operation    string // e.g., "FindItem", "UpdateItem", "Subscribe"
	StatusCode   int    // HTTP status code (0 if not an HTTP error)
	Message      string // Human-readable error message
	ResponseCode string // Optional: EWS ResponseCode such as ErrorItemNotFound
	ItemID       string // Optional: affected item id
	Body         string // Optional: response body for debugging
	Err          error  // Optional: underlying error
}

// Error implements the error interface
func (e *BackendError) Error() string {
	msg := e.Message
	if e.ResponseCode != "" && e.ResponseCode != e.Message {
		msg = fmt.Sprintf("%s (%s)", e.Message, e.ResponseCode)
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s failed with status %d: %s", e.Operation, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, msg)
}

// Unwrap returns the underlying error for error wrapping
func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error is a 404 or the item does not exist
func (e *BackendError) IsNotFound() bool {
	return e.StatusCode == 404 || e.ResponseCode == "ErrorItemNotFound" || e.ResponseCode == "ErrorFolderNotFound"
}

// IsUnauthorized returns true if the error is a 401 Unauthorized or 403 Forbidden
func (e *BackendError) IsUnauthorized() bool {
	return e.StatusCode == 401 || e.StatusCode == 403 || e.ResponseCode == "ErrorAccessDenied"
}

// IsServerError returns true if the error is a 5xx server error
func (e *BackendError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// NewBackendError creates a new BackendError
func NewBackendError(operation string, statusCode int, message string) *BackendError {
	return &BackendError{
		Operation:  operation,
		StatusCode: statusCode,
		Message:    message,
	}
}

// WithItemID adds the item id to the error for context
func (e *BackendError) WithItemID(id string) *BackendError {
	e.ItemID = id
	return e
}

// WithResponseCode records the EWS response code
func (e *BackendError) WithResponseCode(code string) *BackendError {
	e.ResponseCode = code
	return e
}

// WithBody adds the response body to the error for debugging
func (e *BackendError) WithBody(body string) *BackendError {
	e.Body = body
	return e
}

// WithError wraps an underlying error
func (e *BackendError) WithError(err error) *BackendError {
	e.Err = err
	return e
}

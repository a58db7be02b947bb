package utils

import (
	"fmt"
	"strings"
)

// ErrorWithSuggestion wraps an error with a helpful suggestion for the user
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface
func (e *ErrorWithSuggestion) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%v\n\nSuggestion: %s", e.Err, e.Suggestion)
	}
	return e.Err.Error()
}

// Unwrap allows errors.Is and errors.As to work
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// Common error constructors with suggestions

// ErrItemNotFound creates an error when an Exchange item does not exist
func ErrItemNotFound(itemID string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("item '%s' not found", itemID),
		Suggestion: "Run 'exchangesync tasks' to see the ids of flagged e-mails",
	}
}

// ErrBackendNotConfigured creates an error when a backend is not configured
func ErrBackendNotConfigured(backendName string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("backend '%s' is not configured", backendName),
		Suggestion: fmt.Sprintf("Add backend configuration to ~/.config/exchangesync/config.yaml under 'backends.%s'", backendName),
	}
}

// ErrMirrorNotConfigured creates an error when a command needs the local mirror
func ErrMirrorNotConfigured() error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("no mirror backend configured"),
		Suggestion: "Set 'mirror_backend' to the name of a sqlite backend in ~/.config/exchangesync/config.yaml",
	}
}

// ErrBackendOffline creates an error when a backend is offline
func ErrBackendOffline(backendName, reason string) error {
	suggestion := "Check your internet connection and try again"
	lower := strings.ToLower(reason)
	if strings.Contains(reason, "DNS") || strings.Contains(lower, "no such host") {
		suggestion = "Check your DNS settings and the configured Exchange host"
	} else if strings.Contains(lower, "refused") {
		suggestion = "Check if the server is running and accessible"
	} else if strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded") {
		suggestion = "The server may be slow or unreachable. Try again later"
	}

	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("backend '%s' is offline: %s", backendName, reason),
		Suggestion: suggestion,
	}
}

// ErrInvalidDate creates an error for invalid date formats
func ErrInvalidDate(dateStr string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid date format: %s", dateStr),
		Suggestion: "Use YYYY-MM-DD format (e.g., 2026-01-15)",
	}
}

// ErrCredentialsNotFound creates an error when credentials are not found
func ErrCredentialsNotFound(backend, username string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("credentials not found for %s (user: %s)", backend, username),
		Suggestion: fmt.Sprintf("Store credentials with 'exchangesync credentials set %s %s --prompt'", backend, username),
	}
}

// ErrAuthenticationFailed creates an error when the server rejects the
// credentials. cause may be nil.
func ErrAuthenticationFailed(backend string, cause error) error {
	err := fmt.Errorf("authentication failed for %s", backend)
	if cause != nil {
		err = fmt.Errorf("authentication failed for %s: %w", backend, cause)
	}
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: fmt.Sprintf("Check your credentials with 'exchangesync credentials get %s' and update if needed", backend),
	}
}

// ErrUnsupportedOperation creates an error for operations the backend refuses
func ErrUnsupportedOperation(err error) error {
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: "Exchange only exposes flagged e-mails as tasks; create or edit them in your mail client",
	}
}

// ErrConfigFileNotFound creates an error when config file is not found
func ErrConfigFileNotFound(path string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("config file not found at %s", path),
		Suggestion: "Run 'exchangesync config init' to create a sample configuration file",
	}
}

// ErrInvalidConfig creates an error for invalid configuration
func ErrInvalidConfig(field string, reason string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid configuration for '%s': %s", field, reason),
		Suggestion: fmt.Sprintf("Check ~/.config/exchangesync/config.yaml and fix the '%s' field", field),
	}
}

// WrapWithSuggestion wraps an existing error with a suggestion
func WrapWithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}

package credentials

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringServicePrefix is the prefix for all exchangesync keyring entries
	KeyringServicePrefix = "exchangesync"
)

// ErrNotFound is returned when the keyring holds no entry for the backend and user
var ErrNotFound = errors.New("credentials not found in keyring")

// getServiceName returns the keyring service name for a backend
func getServiceName(backendName string) string {
	return fmt.Sprintf("%s-%s", KeyringServicePrefix, backendName)
}

func checkKey(backendName, username string) error {
	if backendName == "" {
		return fmt.Errorf("backend name cannot be empty")
	}
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	return nil
}

// Set stores credentials in the OS keyring
func Set(backendName, username, password string) error {
	if err := checkKey(backendName, username); err != nil {
		return err
	}
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	if err := keyring.Set(getServiceName(backendName), username, password); err != nil {
		return fmt.Errorf("failed to store credentials in keyring: %w", err)
	}
	return nil
}

// Get retrieves a password from the OS keyring
func Get(backendName, username string) (string, error) {
	if err := checkKey(backendName, username); err != nil {
		return "", err
	}

	password, err := keyring.Get(getServiceName(backendName), username)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("backend %q, user %q: %w", backendName, username, ErrNotFound)
		}
		return "", fmt.Errorf("failed to retrieve credentials from keyring: %w", err)
	}
	return password, nil
}

// Delete removes credentials from the OS keyring
func Delete(backendName, username string) error {
	if err := checkKey(backendName, username); err != nil {
		return err
	}

	if err := keyring.Delete(getServiceName(backendName), username); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("backend %q, user %q: %w", backendName, username, ErrNotFound)
		}
		return fmt.Errorf("failed to delete credentials from keyring: %w", err)
	}
	return nil
}

// IsAvailable checks if the keyring is accessible
func IsAvailable() bool {
	// A missing entry proves the keyring answered
	_, err := keyring.Get(KeyringServicePrefix+"-keyring-test", "test")
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}

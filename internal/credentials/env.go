package credentials

import (
	"os"
	"strings"
)

// EnvPrefix is the prefix of every credential environment variable
const EnvPrefix = "EXCHANGESYNC_"

// normalizeBackendName converts a backend name to the format used in environment variables
// Example: "exchange-work" becomes "EXCHANGE_WORK"
func normalizeBackendName(backendName string) string {
	normalized := strings.ToUpper(backendName)
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, ".", "_")
	return normalized
}

// getEnvVarName returns the environment variable name for a backend field
func getEnvVarName(backendName, field string) string {
	return EnvPrefix + normalizeBackendName(backendName) + "_" + strings.ToUpper(field)
}

func getEnv(backendName, field string) string {
	if backendName == "" {
		return ""
	}
	return os.Getenv(getEnvVarName(backendName, field))
}

// GetUsername retrieves the username from environment variables
// Looks for: EXCHANGESYNC_{BACKEND_NAME}_USERNAME
func GetUsername(backendName string) string {
	return getEnv(backendName, "USERNAME")
}

// GetPassword retrieves the password from environment variables
// Looks for: EXCHANGESYNC_{BACKEND_NAME}_PASSWORD
func GetPassword(backendName string) string {
	return getEnv(backendName, "PASSWORD")
}

// GetHost retrieves the host from environment variables
// Looks for: EXCHANGESYNC_{BACKEND_NAME}_HOST
func GetHost(backendName string) string {
	return getEnv(backendName, "HOST")
}

// GetClientSecret retrieves the OAuth2 client secret from environment variables
// Looks for: EXCHANGESYNC_{BACKEND_NAME}_CLIENT_SECRET
func GetClientSecret(backendName string) string {
	return getEnv(backendName, "CLIENT_SECRET")
}

// HasCredentials checks if credentials exist in environment variables
func HasCredentials(backendName string) bool {
	return GetUsername(backendName) != "" && GetPassword(backendName) != ""
}

package credentials

import (
	"fmt"
)

// Source indicates where credentials were found
type Source string

const (
	SourceKeyring Source = "keyring"
	SourceEnv     Source = "env"
	SourceConfig  Source = "config"
	SourceNone    Source = "none"
)

// Credentials represents resolved authentication credentials
type Credentials struct {
	Username string
	Password string
	Host     string
	Source   Source
}

// ConfigValues are the credential fields a backend config may carry
type ConfigValues struct {
	Username string
	Password string
	Host     string
}

// Resolver handles credential resolution from multiple sources with priority order
// Keyring > Environment Variables > Config file
type Resolver struct {
	keyringGet func(backendName, username string) (string, error)
	available  func() bool
}

// NewResolver creates a new credential resolver
func NewResolver() *Resolver {
	return &Resolver{keyringGet: Get, available: IsAvailable}
}

// Resolve attempts to find credentials using the priority order:
// 1. Keyring (if a username is known from config or environment)
// 2. Environment variables
// 3. Config file values
//
// Returns credentials with Source indicating where they were found
func (r *Resolver) Resolve(backendName string, config ConfigValues) (*Credentials, error) {
	if backendName == "" {
		return nil, fmt.Errorf("backend name is required for credential resolution")
	}

	host := config.Host
	if envHost := GetHost(backendName); envHost != "" && host == "" {
		host = envHost
	}

	username := config.Username
	if username == "" {
		username = GetUsername(backendName)
	}

	// Priority 1: keyring
	if username != "" && r.available() {
		if password, err := r.keyringGet(backendName, username); err == nil {
			return &Credentials{Username: username, Password: password, Host: host, Source: SourceKeyring}, nil
		}
	}

	// Priority 2: environment variables
	envUsername := GetUsername(backendName)
	envPassword := GetPassword(backendName)
	if envUsername != "" && envPassword != "" {
		return &Credentials{Username: envUsername, Password: envPassword, Host: host, Source: SourceEnv}, nil
	}

	// Priority 3: config file
	if config.Username != "" && config.Password != "" {
		return &Credentials{Username: config.Username, Password: config.Password, Host: host, Source: SourceConfig}, nil
	}

	return nil, fmt.Errorf("no credentials found for backend %q (tried: keyring, environment variables, config file)", backendName)
}

// ResolveClientSecret finds an OAuth2 client secret.
// The keyring entry is stored under the client id as username.
func (r *Resolver) ResolveClientSecret(backendName, clientID, configSecret string) (string, Source, error) {
	if clientID != "" && r.available() {
		if secret, err := r.keyringGet(backendName, clientID); err == nil {
			return secret, SourceKeyring, nil
		}
	}
	if secret := GetClientSecret(backendName); secret != "" {
		return secret, SourceEnv, nil
	}
	if configSecret != "" {
		return configSecret, SourceConfig, nil
	}
	return "", SourceNone, fmt.Errorf("no client secret found for backend %q", backendName)
}

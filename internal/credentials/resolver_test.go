package credentials

import (
	"errors"
	"testing"
)

// newTestResolver returns a resolver backed by an in-memory keyring
func newTestResolver(entries map[string]string) *Resolver {
	return &Resolver{
		keyringGet: func(backendName, username string) (string, error) {
			if pw, ok := entries[backendName+"/"+username]; ok {
				return pw, nil
			}
			return "", ErrNotFound
		},
		available: func() bool { return true },
	}
}

func TestResolver_Resolve(t *testing.T) {
	tests := []struct {
		name       string
		keyring    map[string]string
		env        map[string]string
		config     ConfigValues
		wantUser   string
		wantPass   string
		wantHost   string
		wantSource Source
		wantErr    bool
	}{
		{
			name:       "keyring with config username",
			keyring:    map[string]string{"work/alice": "kr-pass"},
			config:     ConfigValues{Username: "alice", Password: "cfg-pass", Host: "mail.example.com"},
			wantUser:   "alice",
			wantPass:   "kr-pass",
			wantHost:   "mail.example.com",
			wantSource: SourceKeyring,
		},
		{
			name:       "keyring with env username",
			keyring:    map[string]string{"work/bob": "kr-pass"},
			env:        map[string]string{"EXCHANGESYNC_WORK_USERNAME": "bob"},
			wantUser:   "bob",
			wantPass:   "kr-pass",
			wantSource: SourceKeyring,
		},
		{
			name: "env over config",
			env: map[string]string{
				"EXCHANGESYNC_WORK_USERNAME": "envuser",
				"EXCHANGESYNC_WORK_PASSWORD": "envpass",
				"EXCHANGESYNC_WORK_HOST":     "env.example.com",
			},
			config:     ConfigValues{Username: "cfguser", Password: "cfgpass"},
			wantUser:   "envuser",
			wantPass:   "envpass",
			wantHost:   "env.example.com",
			wantSource: SourceEnv,
		},
		{
			name:       "config host wins over env host",
			env:        map[string]string{"EXCHANGESYNC_WORK_HOST": "env.example.com"},
			config:     ConfigValues{Username: "cfguser", Password: "cfgpass", Host: "cfg.example.com"},
			wantUser:   "cfguser",
			wantPass:   "cfgpass",
			wantHost:   "cfg.example.com",
			wantSource: SourceConfig,
		},
		{
			name:    "nothing found",
			config:  ConfigValues{Username: "alice"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"EXCHANGESYNC_WORK_USERNAME", "EXCHANGESYNC_WORK_PASSWORD", "EXCHANGESYNC_WORK_HOST"} {
				t.Setenv(key, tt.env[key])
			}

			creds, err := newTestResolver(tt.keyring).Resolve("work", tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if creds.Username != tt.wantUser {
				t.Errorf("Username = %q, want %q", creds.Username, tt.wantUser)
			}
			if creds.Password != tt.wantPass {
				t.Errorf("Password = %q, want %q", creds.Password, tt.wantPass)
			}
			if creds.Host != tt.wantHost {
				t.Errorf("Host = %q, want %q", creds.Host, tt.wantHost)
			}
			if creds.Source != tt.wantSource {
				t.Errorf("Source = %q, want %q", creds.Source, tt.wantSource)
			}
		})
	}
}

func TestResolver_Resolve_EmptyBackendName(t *testing.T) {
	if _, err := newTestResolver(nil).Resolve("", ConfigValues{}); err == nil {
		t.Error("Resolve() with empty backend name should return error")
	}
}

func TestResolver_Resolve_KeyringUnavailable(t *testing.T) {
	r := newTestResolver(map[string]string{"work/alice": "kr-pass"})
	r.available = func() bool { return false }

	creds, err := r.Resolve("work", ConfigValues{Username: "alice", Password: "cfg-pass"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if creds.Source != SourceConfig {
		t.Errorf("Source = %q, want %q", creds.Source, SourceConfig)
	}
}

func TestResolver_ResolveClientSecret(t *testing.T) {
	r := newTestResolver(map[string]string{"online/app-id": "kr-secret"})

	secret, source, err := r.ResolveClientSecret("online", "app-id", "cfg-secret")
	if err != nil || secret != "kr-secret" || source != SourceKeyring {
		t.Errorf("ResolveClientSecret() = %q, %q, %v; want kr-secret from keyring", secret, source, err)
	}

	t.Setenv("EXCHANGESYNC_ONLINE_CLIENT_SECRET", "env-secret")
	secret, source, err = r.ResolveClientSecret("online", "other-id", "cfg-secret")
	if err != nil || secret != "env-secret" || source != SourceEnv {
		t.Errorf("ResolveClientSecret() = %q, %q, %v; want env-secret from env", secret, source, err)
	}

	t.Setenv("EXCHANGESYNC_ONLINE_CLIENT_SECRET", "")
	secret, source, err = r.ResolveClientSecret("online", "other-id", "cfg-secret")
	if err != nil || secret != "cfg-secret" || source != SourceConfig {
		t.Errorf("ResolveClientSecret() = %q, %q, %v; want cfg-secret from config", secret, source, err)
	}

	_, _, err = r.ResolveClientSecret("online", "other-id", "")
	if err == nil {
		t.Error("ResolveClientSecret() without any source should fail")
	}
}

func TestErrNotFoundWrapping(t *testing.T) {
	_, err := newTestResolver(nil).keyringGet("work", "nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("keyringGet() error = %v, want ErrNotFound", err)
	}
}

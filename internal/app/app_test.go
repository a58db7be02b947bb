package app

import (
	"bytes"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"

	"exchangesync/backend"
	"exchangesync/internal/config"
	"exchangesync/internal/utils"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Backends: map[string]backend.BackendConfig{
			"work": {
				Type:     "exchange",
				Enabled:  true,
				Host:     "mail.example.com",
				Username: "jane@example.com",
				Password: "secret",
			},
			"old": {
				Type:    "exchange",
				Enabled: false,
				URL:     "https://legacy.example.com/EWS/Exchange.asmx",
			},
			"mirror": {
				Type:    "sqlite",
				Enabled: true,
				DBPath:  filepath.Join(t.TempDir(), "mirror.db"),
			},
		},
		DefaultBackend: "work",
		MirrorBackend:  "mirror",
	}
}

func TestNewAppWithConfig(t *testing.T) {
	tests := []struct {
		name     string
		explicit string
		want     string
		wantErr  bool
	}{
		{name: "default backend", want: "work"},
		{name: "explicit backend", explicit: "mirror", want: "mirror"},
		{name: "unknown backend", explicit: "missing", wantErr: true},
		{name: "disabled backend", explicit: "old", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAppWithConfig(testConfig(t), tt.explicit)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewAppWithConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got := a.SelectedBackend(); got != tt.want {
				t.Errorf("SelectedBackend() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewAppDisabledBackendSuggestion(t *testing.T) {
	_, err := NewAppWithConfig(testConfig(t), "old")
	var ews *utils.ErrorWithSuggestion
	if !errors.As(err, &ews) {
		t.Fatalf("NewAppWithConfig() error = %T, want *utils.ErrorWithSuggestion", err)
	}
	if !strings.Contains(ews.Suggestion, "enabled: true") {
		t.Errorf("Suggestion = %q", ews.Suggestion)
	}
}

func TestBackends(t *testing.T) {
	a, err := NewAppWithConfig(testConfig(t), "")
	if err != nil {
		t.Fatalf("NewAppWithConfig() error = %v", err)
	}

	infos := a.Backends()
	if len(infos) != 3 {
		t.Fatalf("Backends() returned %d entries, want 3", len(infos))
	}

	wantNames := []string{"mirror", "old", "work"}
	for i, name := range wantNames {
		if infos[i].Name != name {
			t.Errorf("Backends()[%d].Name = %q, want %q", i, infos[i].Name, name)
		}
	}
	if !infos[0].Mirror || infos[0].Selected {
		t.Errorf("mirror info = %+v", infos[0])
	}
	if infos[1].Detail != "https://legacy.example.com/EWS/Exchange.asmx" {
		t.Errorf("old detail = %q", infos[1].Detail)
	}
	if !infos[2].Selected || infos[2].Detail != "jane@example.com @ mail.example.com" {
		t.Errorf("work info = %+v", infos[2])
	}
}

func TestListBackends(t *testing.T) {
	a, err := NewAppWithConfig(testConfig(t), "")
	if err != nil {
		t.Fatalf("NewAppWithConfig() error = %v", err)
	}

	var buf bytes.Buffer
	a.ListBackends(&buf)
	out := buf.String()

	for _, want := range []string{
		"=== Configured Backends ===",
		"work | exchange | enabled",
		"old | exchange | disabled",
		"✓ Currently selected",
		"↺ Mirror",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("ListBackends() output missing %q:\n%s", want, out)
		}
	}
}

func TestMirrorAsSource(t *testing.T) {
	a, err := NewAppWithConfig(testConfig(t), "mirror")
	if err != nil {
		t.Fatalf("NewAppWithConfig() error = %v", err)
	}
	defer a.Close()

	mirror, err := a.Mirror()
	if err != nil {
		t.Fatalf("Mirror() error = %v", err)
	}
	source, err := a.Source()
	if err != nil {
		t.Fatalf("Source() error = %v", err)
	}
	if source != backend.Backend(mirror) {
		t.Error("Source() should reuse the opened mirror when it is selected")
	}

	if _, err := a.Exchange(); err == nil {
		t.Error("Exchange() on a sqlite backend should fail")
	}

	if err := a.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestExchangeSource(t *testing.T) {
	keyring.MockInit()
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	a, err := NewAppWithConfig(testConfig(t), "")
	if err != nil {
		t.Fatalf("NewAppWithConfig() error = %v", err)
	}
	defer a.Close()

	eb, err := a.Exchange()
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if eb.Type() != "exchange" {
		t.Errorf("Type() = %q, want exchange", eb.Type())
	}

	c, err := a.Coordinator()
	if err != nil {
		t.Fatalf("Coordinator() error = %v", err)
	}
	if !c.Shutdown(time.Second) {
		t.Error("Shutdown() timed out with an empty queue")
	}
}

func TestCoordinatorWithoutMirror(t *testing.T) {
	cfg := testConfig(t)
	cfg.MirrorBackend = ""

	a, err := NewAppWithConfig(cfg, "mirror")
	if err != nil {
		t.Fatalf("NewAppWithConfig() error = %v", err)
	}
	defer a.Close()

	if a.HasMirror() {
		t.Error("HasMirror() = true without mirror_backend")
	}
	c, err := a.Coordinator()
	if err != nil {
		t.Fatalf("Coordinator() error = %v", err)
	}
	defer c.Shutdown(time.Second)

	if _, err := c.Pull(t.Context()); err == nil {
		t.Error("Pull() without a mirror should fail")
	}
}

func TestStartMetrics(t *testing.T) {
	cfg := testConfig(t)

	a, err := NewAppWithConfig(cfg, "")
	if err != nil {
		t.Fatalf("NewAppWithConfig() error = %v", err)
	}
	if err := a.StartMetrics(); err != nil {
		t.Fatalf("StartMetrics() without addr error = %v", err)
	}
	if a.MetricsAddr() != "" {
		t.Error("MetricsAddr() should be empty when metrics are disabled")
	}

	cfg.Metrics.Addr = "127.0.0.1:0"
	if err := a.StartMetrics(); err != nil {
		t.Fatalf("StartMetrics() error = %v", err)
	}
	addr := a.MetricsAddr()
	if addr == "" {
		t.Fatal("MetricsAddr() is empty after StartMetrics()")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /healthz status = %d, want 200", resp.StatusCode)
	}

	if err := a.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if a.MetricsAddr() != "" {
		t.Error("MetricsAddr() should be empty after Close()")
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"exchangesync/backend"
	"exchangesync/backend/exchange"
	"exchangesync/backend/sqlite"
	"exchangesync/internal/cache"
	"exchangesync/internal/config"
	"exchangesync/internal/metrics"
	appsync "exchangesync/internal/sync"
	"exchangesync/internal/utils"
)

const shutdownTimeout = 5 * time.Second

// App holds the application state shared by all commands. Backends are
// opened lazily so commands only connect to what they use.
type App struct {
	config          *config.Config
	selectedBackend string
	metrics         *metrics.Metrics

	mu            sync.Mutex
	source        backend.Backend
	mirror        *sqlite.SQLiteBackend
	metricsServer *metrics.Server
}

// NewApp loads the configuration and selects a backend.
// explicitBackend can be empty (default backend is used).
func NewApp(explicitBackend string) (*App, error) {
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, err
	}
	return NewAppWithConfig(cfg, explicitBackend)
}

// NewAppWithConfig creates an App from an already loaded configuration
func NewAppWithConfig(cfg *config.Config, explicitBackend string) (*App, error) {
	var (
		selected *backend.BackendConfig
		err      error
	)
	if explicitBackend != "" {
		selected, err = cfg.GetBackend(explicitBackend)
	} else {
		selected, err = cfg.GetDefaultBackend()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select backend: %w", err)
	}
	if !selected.Enabled {
		return nil, utils.WrapWithSuggestion(
			fmt.Errorf("backend %q is disabled", selected.Name),
			fmt.Sprintf("Set 'enabled: true' for %q in the config file", selected.Name),
		)
	}

	return &App{
		config:          cfg,
		selectedBackend: selected.Name,
		metrics:         metrics.Default(),
	}, nil
}

// Config returns the loaded configuration
func (a *App) Config() *config.Config {
	return a.config
}

// SelectedBackend returns the name of the backend commands operate on
func (a *App) SelectedBackend() string {
	return a.selectedBackend
}

// Source opens the selected backend
func (a *App) Source() (backend.Backend, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sourceLocked()
}

func (a *App) sourceLocked() (backend.Backend, error) {
	if a.source != nil {
		return a.source, nil
	}

	bc, err := a.config.GetBackend(a.selectedBackend)
	if err != nil {
		return nil, err
	}

	switch {
	case bc.Type == "exchange":
		var opts []exchange.Option
		opts = append(opts, exchange.WithMetrics(a.metrics))
		if fc, err := cache.NewFolderCache(cache.DefaultTTL); err == nil {
			opts = append(opts, exchange.WithFolderCache(fc))
		} else {
			utils.Debugf("Folder cache disabled: %v", err)
		}
		eb, err := exchange.NewExchangeBackend(*bc, opts...)
		if err != nil {
			return nil, err
		}
		a.source = eb
	case a.selectedBackend == a.config.MirrorBackend:
		mirror, err := a.mirrorLocked()
		if err != nil {
			return nil, err
		}
		a.source = mirror
	default:
		b, err := backend.New(*bc)
		if err != nil {
			return nil, err
		}
		a.source = b
	}
	return a.source, nil
}

// Exchange returns the selected backend when it is an Exchange connector
func (a *App) Exchange() (*exchange.ExchangeBackend, error) {
	source, err := a.Source()
	if err != nil {
		return nil, err
	}
	eb, ok := source.(*exchange.ExchangeBackend)
	if !ok {
		return nil, fmt.Errorf("backend %q is of type %s, this command needs an exchange backend", a.selectedBackend, source.Type())
	}
	return eb, nil
}

// Mirror opens the configured mirror backend
func (a *App) Mirror() (*sqlite.SQLiteBackend, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mirrorLocked()
}

func (a *App) mirrorLocked() (*sqlite.SQLiteBackend, error) {
	if a.mirror != nil {
		return a.mirror, nil
	}
	bc, err := a.config.GetMirrorBackend()
	if err != nil {
		return nil, err
	}
	mirror, err := sqlite.NewSQLiteBackend(*bc)
	if err != nil {
		return nil, err
	}
	a.mirror = mirror
	return mirror, nil
}

// HasMirror reports whether a mirror backend is configured
func (a *App) HasMirror() bool {
	return a.config.MirrorBackend != ""
}

// Coordinator connects the selected backend to the mirror. Without a
// configured mirror the coordinator only forwards changes.
func (a *App) Coordinator() (*appsync.Coordinator, error) {
	source, err := a.Source()
	if err != nil {
		return nil, err
	}
	if !a.HasMirror() {
		return appsync.NewCoordinator(source, nil, appsync.DefaultEventBuffer)
	}
	mirror, err := a.Mirror()
	if err != nil {
		return nil, err
	}
	return appsync.NewCoordinator(source, mirror, appsync.DefaultEventBuffer)
}

// StartMetrics serves Prometheus metrics when metrics.addr is configured
func (a *App) StartMetrics() error {
	addr := a.config.Metrics.Addr
	if addr == "" {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.metricsServer != nil {
		return nil
	}
	server, err := metrics.NewServer(addr, a.metrics)
	if err != nil {
		return fmt.Errorf("failed to start metrics server on %s: %w", addr, err)
	}
	server.Start()
	a.metricsServer = server
	return nil
}

// MetricsAddr returns the bound metrics address, empty when not serving
func (a *App) MetricsAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.metricsServer == nil {
		return ""
	}
	return a.metricsServer.Addr()
}

// BackendInfo describes a configured backend for display
type BackendInfo struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Selected bool   `json:"selected" yaml:"selected"`
	Mirror   bool   `json:"mirror" yaml:"mirror"`
	Detail   string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

func (i BackendInfo) String() string {
	status := "disabled"
	if i.Enabled {
		status = "enabled"
	}
	s := fmt.Sprintf("%s | %s | %s", i.Name, i.Type, status)
	if i.Detail != "" {
		s += " | " + i.Detail
	}
	return s
}

// Backends lists every configured backend sorted by name
func (a *App) Backends() []BackendInfo {
	infos := make([]BackendInfo, 0, len(a.config.Backends))
	for name, bc := range a.config.Backends {
		info := BackendInfo{
			Name:     name,
			Type:     bc.Type,
			Enabled:  bc.Enabled,
			Selected: name == a.selectedBackend,
			Mirror:   name == a.config.MirrorBackend,
		}
		switch bc.Type {
		case "exchange":
			switch {
			case bc.URL != "":
				info.Detail = bc.URL
			case bc.Host != "":
				info.Detail = bc.Host
			}
			if bc.Username != "" {
				info.Detail = bc.Username + " @ " + info.Detail
			}
		case "sqlite":
			info.Detail = bc.DBPath
			if info.Detail == "" {
				info.Detail = "default data directory"
			}
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// ListBackends displays all configured backends and their status
func (a *App) ListBackends(w io.Writer) {
	fmt.Fprintln(w, "\n=== Configured Backends ===")

	infos := a.Backends()
	if len(infos) == 0 {
		fmt.Fprintln(w, "No backends configured")
		return
	}

	for _, info := range infos {
		fmt.Fprintln(w, info.String())
		if info.Selected {
			fmt.Fprintln(w, "  ✓ Currently selected")
		}
		if info.Mirror {
			fmt.Fprintln(w, "  ↺ Mirror")
		}
	}
	fmt.Fprintln(w)
}

// Close releases backends and stops the metrics server
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		errs = append(errs, a.metricsServer.Shutdown(ctx))
		cancel()
		a.metricsServer = nil
	}
	if a.source != nil && a.source != backend.Backend(a.mirror) {
		errs = append(errs, a.source.Close())
	}
	a.source = nil
	if a.mirror != nil {
		errs = append(errs, a.mirror.Close())
		a.mirror = nil
	}
	return errors.Join(errs...)
}

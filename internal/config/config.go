package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"exchangesync/backend"
	"exchangesync/internal/utils"
)

var (
	configOnce   sync.Once
	globalConfig *Config
	globalErr    error
)

var customConfigPath string // Custom config path set via --config flag

//go:embed config.sample.yaml
var sampleConfig []byte

const (
	CONFIG_FILE_PATH = "config.yaml"
	CONFIG_DIR_PERM  = 0755
	CONFIG_FILE_PERM = 0600
	ENV_PREFIX       = "EXCHANGESYNC"

	defaultDateFormat = "2006-01-02"
	redacted          = "********"
)

// MetricsConfig controls the optional Prometheus endpoint
type MetricsConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty" mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// Config represents the application configuration
type Config struct {
	Backends       map[string]backend.BackendConfig `json:"backends" yaml:"backends" mapstructure:"backends"`
	DefaultBackend string                           `json:"default_backend,omitempty" yaml:"default_backend,omitempty" mapstructure:"default_backend"`
	MirrorBackend  string                           `json:"mirror_backend,omitempty" yaml:"mirror_backend,omitempty" mapstructure:"mirror_backend"`
	DateFormat     string                           `json:"date_format,omitempty" yaml:"date_format,omitempty" mapstructure:"date_format"` // Go time format string, defaults to "2006-01-02"
	Metrics        MetricsConfig                    `json:"metrics,omitempty" yaml:"metrics,omitempty" mapstructure:"metrics"`
}

// GetBackend returns the backend configuration for the given name
func (c *Config) GetBackend(name string) (*backend.BackendConfig, error) {
	backendConfig, exists := c.Backends[name]
	if !exists {
		return nil, utils.ErrBackendNotConfigured(name)
	}
	backendConfig.Name = name
	return &backendConfig, nil
}

// GetDefaultBackend returns the default backend configuration.
// Without default_backend the first enabled exchange backend by name is used.
func (c *Config) GetDefaultBackend() (*backend.BackendConfig, error) {
	if c.DefaultBackend != "" {
		return c.GetBackend(c.DefaultBackend)
	}

	for _, name := range c.backendNames() {
		bc := c.Backends[name]
		if bc.Enabled && bc.Type == "exchange" {
			return c.GetBackend(name)
		}
	}
	return nil, fmt.Errorf("no default backend specified and no enabled exchange backend found")
}

// GetMirrorBackend returns the sqlite backend used for snapshots and journaling
func (c *Config) GetMirrorBackend() (*backend.BackendConfig, error) {
	if c.MirrorBackend == "" {
		return nil, utils.ErrMirrorNotConfigured()
	}
	return c.GetBackend(c.MirrorBackend)
}

// GetEnabledBackends returns all enabled backend configurations
func (c *Config) GetEnabledBackends() map[string]backend.BackendConfig {
	enabled := make(map[string]backend.BackendConfig)
	for name, backendConfig := range c.Backends {
		if backendConfig.Enabled {
			backendConfig.Name = name
			enabled[name] = backendConfig
		}
	}
	return enabled
}

func (c *Config) backendNames() []string {
	names := make([]string, 0, len(c.Backends))
	for name := range c.Backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the config. Field level failures are reported as
// utils.ErrInvalidConfig naming the YAML key.
func (c Config) Validate() error {
	validate := newValidator()
	if err := validate.Struct(c); err != nil {
		return fieldError("", err)
	}

	if len(c.Backends) == 0 {
		return utils.ErrInvalidConfig("backends", "no backends configured")
	}

	for _, name := range c.backendNames() {
		backendConfig := c.Backends[name]
		prefix := "backends." + name + "."
		if err := validate.Struct(backendConfig); err != nil {
			return fieldError(prefix, err)
		}

		// Type-specific validation
		switch backendConfig.Type {
		case "exchange":
			if backendConfig.Auth == "oauth2" {
				if backendConfig.OAuth2 == nil || backendConfig.OAuth2.ClientID == "" {
					return utils.ErrInvalidConfig(prefix+"oauth2.client_id", "required for oauth2 auth")
				}
				if backendConfig.OAuth2.TenantID == "" && backendConfig.OAuth2.TokenURL == "" {
					return utils.ErrInvalidConfig(prefix+"oauth2.tenant_id", "oauth2.tenant_id or oauth2.token_url is required")
				}
			}
			if _, err := backendConfig.Location(); err != nil {
				return utils.ErrInvalidConfig(prefix+"timezone", err.Error())
			}
		}
	}

	if c.DefaultBackend != "" {
		bc, exists := c.Backends[c.DefaultBackend]
		if !exists {
			return utils.ErrInvalidConfig("default_backend", fmt.Sprintf("backend %q not found in configured backends", c.DefaultBackend))
		}
		if !bc.Enabled {
			return utils.ErrInvalidConfig("default_backend", fmt.Sprintf("backend %q is disabled", c.DefaultBackend))
		}
	}

	if c.MirrorBackend != "" {
		bc, exists := c.Backends[c.MirrorBackend]
		if !exists {
			return utils.ErrInvalidConfig("mirror_backend", fmt.Sprintf("backend %q not found in configured backends", c.MirrorBackend))
		}
		if bc.Type != "sqlite" {
			return utils.ErrInvalidConfig("mirror_backend", fmt.Sprintf("backend %q must be of type sqlite, got %s", c.MirrorBackend, bc.Type))
		}
		if !bc.Enabled {
			return utils.ErrInvalidConfig("mirror_backend", fmt.Sprintf("backend %q is disabled", c.MirrorBackend))
		}
	}

	return nil
}

// newValidator reports fields by their YAML key
func newValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return validate
}

// fieldError converts the first validator failure into ErrInvalidConfig
func fieldError(prefix string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]

	// Namespace starts with the struct type name
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}

	reason := fmt.Sprintf("failed the '%s' check", fe.Tag())
	if fe.Param() != "" {
		reason = fmt.Sprintf("failed the '%s=%s' check", fe.Tag(), fe.Param())
	}
	return utils.ErrInvalidConfig(prefix+field, reason)
}

func (c *Config) GetDateFormat() string {
	if c.DateFormat == "" {
		return defaultDateFormat
	}
	return c.DateFormat
}

// Redacted returns a copy with passwords and client secrets masked
func (c *Config) Redacted() *Config {
	out := *c
	out.Backends = make(map[string]backend.BackendConfig, len(c.Backends))
	for name, bc := range c.Backends {
		if bc.Password != "" {
			bc.Password = redacted
		}
		if bc.OAuth2 != nil {
			oauth := *bc.OAuth2
			if oauth.ClientSecret != "" {
				oauth.ClientSecret = redacted
			}
			bc.OAuth2 = &oauth
		}
		out.Backends[name] = bc
	}
	return &out
}

// SetCustomConfigPath sets a custom config path to use instead of the default user config directory.
// If path is a directory, it looks for "config.yaml" inside it.
// This must be called before GetConfig() is called for the first time.
func SetCustomConfigPath(path string) {
	if path == "" {
		customConfigPath = ""
		return
	}
	if expanded, err := utils.ExpandPath(path); err == nil {
		path = expanded
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		customConfigPath = filepath.Join(path, CONFIG_FILE_PATH)
		return
	}
	customConfigPath = path
}

// GetConfig loads the configuration once per process
func GetConfig() (*Config, error) {
	configOnce.Do(func() {
		configPath, err := GetConfigPath()
		if err != nil {
			globalErr = err
			return
		}
		globalConfig, globalErr = Load(configPath)
	})
	return globalConfig, globalErr
}

func GetConfigPath() (string, error) {
	if customConfigPath != "" {
		return customConfigPath, nil
	}

	dir, err := utils.ConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config dir: %w", err)
	}
	return filepath.Join(dir, CONFIG_FILE_PATH), nil
}

// Load reads a YAML config file, applies EXCHANGESYNC_* environment
// overrides and validates the result.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return nil, utils.ErrConfigFileNotFound(configPath)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(ENV_PREFIX)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("date_format", defaultDateFormat)
	v.SetDefault("default_backend", "")
	v.SetDefault("mirror_backend", "")
	v.SetDefault("metrics.addr", "")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", configPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", configPath, err)
	}

	for name, bc := range cfg.Backends {
		bc.Name = name
		if bc.DBPath != "" {
			expanded, err := utils.ExpandPath(bc.DBPath)
			if err != nil {
				return nil, fmt.Errorf("backend %q: expanding db_path: %w", name, err)
			}
			bc.DBPath = expanded
		}
		cfg.Backends[name] = bc
	}

	if err := cfg.Validate(); err != nil {
		var suggested *utils.ErrorWithSuggestion
		if errors.As(err, &suggested) {
			return nil, &utils.ErrorWithSuggestion{
				Err:        fmt.Errorf("invalid config file %s: %w", configPath, suggested.Err),
				Suggestion: suggested.Suggestion,
			}
		}
		return nil, utils.WrapWithSuggestion(
			fmt.Errorf("invalid config file %s: %w", configPath, err),
			"Fix the reported field or regenerate a sample with 'exchangesync config init --force'",
		)
	}

	utils.Debugf("Loaded config from %s", configPath)
	return &cfg, nil
}

func createConfigDir(configPath string) error {
	return os.MkdirAll(filepath.Dir(configPath), CONFIG_DIR_PERM)
}

func WriteConfigFile(configPath string, data []byte) error {
	if err := createConfigDir(configPath); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(configPath, data, CONFIG_FILE_PERM)
}

// WriteSample writes the bundled sample config. Existing files are only
// replaced with force.
func WriteSample(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return utils.WrapWithSuggestion(
			fmt.Errorf("config file already exists at %s", configPath),
			"Use --force to overwrite it",
		)
	}
	return WriteConfigFile(configPath, sampleConfig)
}

// SampleConfig returns the bundled sample configuration
func SampleConfig() []byte {
	return sampleConfig
}

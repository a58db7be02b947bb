package backend

import (
	"context"
	"fmt"
	"time"
)

// TaskSource is implemented by every backend that stores tasks
type TaskSource interface {
	AddTask(ctx context.Context, task TaskDto) error
	GetAllTasks(ctx context.Context) ([]TaskDto, error)
	UpdateDueDate(ctx context.Context, task TaskDto) error
	UpdateCompletedFlag(ctx context.Context, task TaskDto) error
}

// CalendarSource is implemented by every backend that stores appointments
type CalendarSource interface {
	GetAllAppointments(ctx context.Context) ([]AppointmentDto, error)
	AddAppointment(ctx context.Context, appointment AppointmentDto) error
	UpdateAppointment(ctx context.Context, appointment AppointmentDto) error
	DeleteAppointment(ctx context.Context, appointment AppointmentDto) error
}

// TaskObserver receives tasks that changed on a backend
type TaskObserver interface {
	TaskChanged(task TaskDto)
}

// TaskObserverFunc adapts a plain function to TaskObserver
type TaskObserverFunc func(task TaskDto)

func (f TaskObserverFunc) TaskChanged(task TaskDto) {
	f(task)
}

// EventSource is implemented by backends that push task changes
type EventSource interface {
	AddTaskEventListener(observer TaskObserver)
}

// Backend is the full surface a configured backend exposes
type Backend interface {
	TaskSource
	CalendarSource
	Type() string
	Close() error
}

// OAuth2Config holds client-credential settings for token based auth
type OAuth2Config struct {
	TenantID     string   `json:"tenant_id" yaml:"tenant_id" mapstructure:"tenant_id"`
	ClientID     string   `json:"client_id" yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string   `json:"client_secret,omitempty" yaml:"client_secret,omitempty" mapstructure:"client_secret"`
	TokenURL     string   `json:"token_url,omitempty" yaml:"token_url,omitempty" mapstructure:"token_url"`
	Scopes       []string `json:"scopes,omitempty" yaml:"scopes,omitempty" mapstructure:"scopes"`
}

// BackendConfig is the configuration of a single named backend
type BackendConfig struct {
	Name    string `json:"-" yaml:"-" mapstructure:"-"`
	Type    string `json:"type" yaml:"type" mapstructure:"type" validate:"required,oneof=exchange sqlite"`
	Enabled bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`

	// Exchange
	Host                       string        `json:"host,omitempty" yaml:"host,omitempty" mapstructure:"host" validate:"omitempty,hostname_port|hostname"`
	URL                        string        `json:"url,omitempty" yaml:"url,omitempty" mapstructure:"url" validate:"omitempty,url"` // overrides https://<host>/EWS/Exchange.asmx
	Username                   string        `json:"username,omitempty" yaml:"username,omitempty" mapstructure:"username"`
	Password                   string        `json:"password,omitempty" yaml:"password,omitempty" mapstructure:"password"`
	Auth                       string        `json:"auth,omitempty" yaml:"auth,omitempty" mapstructure:"auth" validate:"omitempty,oneof=basic oauth2"`
	OAuth2                     *OAuth2Config `json:"oauth2,omitempty" yaml:"oauth2,omitempty" mapstructure:"oauth2"`
	InsecureSkipVerify         bool          `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty" mapstructure:"insecure_skip_verify"` // WARNING: Only use for self-signed certificates in dev
	Timeout                    time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" mapstructure:"timeout"`
	ServerVersion              string        `json:"server_version,omitempty" yaml:"server_version,omitempty" mapstructure:"server_version"`
	MaxResults                 int           `json:"max_results,omitempty" yaml:"max_results,omitempty" mapstructure:"max_results" validate:"omitempty,min=1,max=10000"`
	CalendarWindowMonths       int           `json:"calendar_window_months,omitempty" yaml:"calendar_window_months,omitempty" mapstructure:"calendar_window_months" validate:"omitempty,min=1,max=60"`
	SubscriptionTimeoutMinutes int           `json:"subscription_timeout_minutes,omitempty" yaml:"subscription_timeout_minutes,omitempty" mapstructure:"subscription_timeout_minutes" validate:"omitempty,min=1,max=30"`
	Timezone                   string        `json:"timezone,omitempty" yaml:"timezone,omitempty" mapstructure:"timezone"`
	CompensateUTCOffset        bool          `json:"compensate_utc_offset,omitempty" yaml:"compensate_utc_offset,omitempty" mapstructure:"compensate_utc_offset"`

	// SQLite
	DBPath string `json:"db_path,omitempty" yaml:"db_path,omitempty" mapstructure:"db_path"`
}

// Location resolves the configured timezone, defaulting to the local zone
func (c BackendConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

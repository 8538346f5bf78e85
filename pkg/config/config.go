// Package config provides configuration management for errsink.
// Supports TOML configuration files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/armorclaw/errsink/pkg/errchain"
	"github.com/armorclaw/errsink/pkg/triage"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingValue  = errors.New("missing required configuration value")
)

// Config holds all errsink configuration
type Config struct {
	Reporting ReportingConfig `toml:"reporting"`
	Store     StoreConfig     `toml:"store"`
	Notify    NotifyConfig    `toml:"notify"`
	Server    ServerConfig    `toml:"server"`
	Runtime   RuntimeConfig   `toml:"runtime"`
	Logging   LoggingConfig   `toml:"logging"`
}

// ReportingConfig controls how undeliverable errors are triaged
type ReportingConfig struct {
	// Debug escalates errors that match neither rule list instead of
	// logging them
	Debug bool `toml:"debug" env:"ERRSINK_DEBUG"`

	// IgnorableKinds are dropped silently when found anywhere in a chain
	IgnorableKinds []string `toml:"ignorable_kinds"`

	// CriticalKinds are always escalated
	CriticalKinds []string `toml:"critical_kinds"`
}

// StoreConfig holds crash report storage configuration
type StoreConfig struct {
	// Path is the SQLite database file
	Path string `toml:"path" env:"ERRSINK_STORE_PATH"`

	// RetentionDays is how long resolved reports are kept
	RetentionDays int `toml:"retention_days" env:"ERRSINK_RETENTION_DAYS"`

	// CleanupSchedule is a cron spec for the retention sweep (empty = never)
	CleanupSchedule string `toml:"cleanup_schedule"`
}

// NotifyConfig holds webhook notification configuration
type NotifyConfig struct {
	// WebhookURL receives a JSON POST per notified report (empty = disabled)
	WebhookURL string `toml:"webhook_url" env:"ERRSINK_WEBHOOK_URL"`

	// Timeout bounds a single webhook request (e.g. "5s")
	Timeout string `toml:"timeout"`

	// RateLimit is the sustained notifications per second
	RateLimit float64 `toml:"rate_limit"`

	// Burst is the notification burst size
	Burst int `toml:"burst"`

	// SampleWindow suppresses repeats of one fingerprint (e.g. "5m")
	SampleWindow string `toml:"sample_window"`
}

// ServerConfig holds HTTP ingest server configuration
type ServerConfig struct {
	// Listen is the address the HTTP server binds to
	Listen string `toml:"listen" env:"ERRSINK_LISTEN"`

	// IngestRate is the sustained accepted submissions per second
	IngestRate float64 `toml:"ingest_rate"`

	// IngestBurst is the submission burst size
	IngestBurst int `toml:"ingest_burst"`
}

// RuntimeConfig holds async runtime configuration
type RuntimeConfig struct {
	// MaxConcurrency caps concurrently running detached tasks (0 = unlimited)
	MaxConcurrency int `toml:"max_concurrency"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `toml:"level" env:"ERRSINK_LOG_LEVEL"`

	// Format is the log format (json, text)
	Format string `toml:"format" env:"ERRSINK_LOG_FORMAT"`

	// Output is the log output (stdout, stderr, or a file path)
	Output string `toml:"output" env:"ERRSINK_LOG_OUTPUT"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return &Config{
		Reporting: ReportingConfig{
			Debug:          false,
			IgnorableKinds: kindNames(triage.DefaultIgnorableKinds...),
			CriticalKinds:  kindNames(triage.DefaultCriticalKinds...),
		},
		Store: StoreConfig{
			Path:            filepath.Join(homeDir, ".errsink", "reports.db"),
			RetentionDays:   30,
			CleanupSchedule: "@daily",
		},
		Notify: NotifyConfig{
			WebhookURL:   "",
			Timeout:      "5s",
			RateLimit:    1,
			Burst:        5,
			SampleWindow: "5m",
		},
		Server: ServerConfig{
			Listen:      "127.0.0.1:7070",
			IngestRate:  50,
			IngestBurst: 100,
		},
		Runtime: RuntimeConfig{
			MaxConcurrency: 0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

func kindNames(kinds ...errchain.Kind) []string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return names
}

// ConfigPaths returns the list of default configuration file paths to check
func ConfigPaths() []string {
	homeDir, _ := os.UserHomeDir()
	return []string{
		filepath.Join(homeDir, ".errsink", "config.toml"),
		filepath.Join("/etc", "errsink", "config.toml"),
		"./config.toml",
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validateKinds("reporting.ignorable_kinds", c.Reporting.IgnorableKinds); err != nil {
		return err
	}
	if err := validateKinds("reporting.critical_kinds", c.Reporting.CriticalKinds); err != nil {
		return err
	}

	if c.Store.Path == "" {
		return fmt.Errorf("%w: store.path is required", ErrInvalidConfig)
	}
	if c.Store.RetentionDays < 0 {
		return fmt.Errorf("%w: store.retention_days cannot be negative", ErrInvalidConfig)
	}
	if c.Store.CleanupSchedule != "" {
		if _, err := cron.ParseStandard(c.Store.CleanupSchedule); err != nil {
			return fmt.Errorf("%w: store.cleanup_schedule: %v", ErrInvalidConfig, err)
		}
	}

	if _, err := parseDuration(c.Notify.Timeout); err != nil {
		return fmt.Errorf("%w: notify.timeout: %v", ErrInvalidConfig, err)
	}
	if _, err := parseDuration(c.Notify.SampleWindow); err != nil {
		return fmt.Errorf("%w: notify.sample_window: %v", ErrInvalidConfig, err)
	}
	if c.Notify.RateLimit < 0 {
		return fmt.Errorf("%w: notify.rate_limit cannot be negative", ErrInvalidConfig)
	}
	if c.Notify.Burst < 0 {
		return fmt.Errorf("%w: notify.burst cannot be negative", ErrInvalidConfig)
	}
	if c.Notify.WebhookURL != "" && !strings.HasPrefix(c.Notify.WebhookURL, "http://") && !strings.HasPrefix(c.Notify.WebhookURL, "https://") {
		return fmt.Errorf("%w: notify.webhook_url must be an http(s) URL", ErrInvalidConfig)
	}

	if c.Server.Listen == "" {
		return fmt.Errorf("%w: server.listen is required", ErrInvalidConfig)
	}
	if c.Server.IngestRate < 0 || c.Server.IngestBurst < 0 {
		return fmt.Errorf("%w: server ingest limits cannot be negative", ErrInvalidConfig)
	}

	if c.Runtime.MaxConcurrency < 0 {
		return fmt.Errorf("%w: runtime.max_concurrency cannot be negative", ErrInvalidConfig)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("%w: logging.level must be one of: debug, info, warn, error", ErrInvalidConfig)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("%w: logging.format must be one of: json, text", ErrInvalidConfig)
	}

	if c.Logging.Output == "" {
		return fmt.Errorf("%w: logging.output is required", ErrMissingValue)
	}

	return nil
}

func validateKinds(field string, names []string) error {
	for _, name := range names {
		if !errchain.IsRegistered(errchain.Kind(name)) {
			return fmt.Errorf("%w: %s: unknown error kind %q", ErrInvalidConfig, field, name)
		}
	}
	return nil
}

// Rules converts the rule lists to classifier rules
func (r ReportingConfig) Rules() triage.Rules {
	return triage.NewRules(toKinds(r.IgnorableKinds), toKinds(r.CriticalKinds))
}

func toKinds(names []string) []errchain.Kind {
	kinds := make([]errchain.Kind, 0, len(names))
	for _, name := range names {
		kinds = append(kinds, errchain.Kind(name))
	}
	return kinds
}

// NotifyTimeout returns the webhook timeout as a Duration
func (c *Config) NotifyTimeout() time.Duration {
	d, _ := parseDuration(c.Notify.Timeout)
	return d
}

// SampleWindow returns the notification sampling window as a Duration
func (c *Config) SampleWindow() time.Duration {
	d, _ := parseDuration(c.Notify.SampleWindow)
	return d
}

// Retention returns the report retention period
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Store.RetentionDays) * 24 * time.Hour
}

// parseDuration accepts Go duration strings; empty means zero
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q cannot be negative", s)
	}
	return d, nil
}

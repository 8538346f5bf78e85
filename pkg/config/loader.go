package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load loads configuration from a file path
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// If path is empty, search for default config files
	if path == "" {
		for _, p := range ConfigPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else {
		slog.Warn("no configuration file found, using defaults",
			"checked", ConfigPaths(),
			"hint", "create one with: errsink init",
		)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadOrDie loads configuration or exits on error
func LoadOrDie(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) error {
	// Reporting overrides
	if v := os.Getenv("ERRSINK_DEBUG"); v != "" {
		cfg.Reporting.Debug = v == "true" || v == "1"
	}
	if v := os.Getenv("ERRSINK_IGNORABLE_KINDS"); v != "" {
		cfg.Reporting.IgnorableKinds = splitList(v)
	}
	if v := os.Getenv("ERRSINK_CRITICAL_KINDS"); v != "" {
		cfg.Reporting.CriticalKinds = splitList(v)
	}

	// Store overrides
	if v := os.Getenv("ERRSINK_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("ERRSINK_RETENTION_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ERRSINK_RETENTION_DAYS: %w", err)
		}
		cfg.Store.RetentionDays = days
	}

	// Notify overrides
	if v := os.Getenv("ERRSINK_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}

	// Server overrides
	if v := os.Getenv("ERRSINK_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}

	// Logging overrides
	if v := os.Getenv("ERRSINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ERRSINK_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("ERRSINK_LOG_OUTPUT"); v != "" {
		cfg.Logging.Output = v
	}

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Save saves the configuration to a file
func Save(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("cannot save invalid configuration: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Forward slashes keep Windows paths from being read as TOML escapes
	cfgCopy := *cfg
	cfgCopy.Store.Path = filepath.ToSlash(cfg.Store.Path)
	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr" {
		cfgCopy.Logging.Output = filepath.ToSlash(cfg.Logging.Output)
	}

	data, err := toml.Marshal(&cfgCopy)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GenerateExampleConfig generates an example configuration file
func GenerateExampleConfig(path string) error {
	cfg := DefaultConfig()

	cfg.Notify.WebhookURL = "https://hooks.example.com/errsink"
	cfg.Logging.Format = "json"

	return Save(cfg, path)
}

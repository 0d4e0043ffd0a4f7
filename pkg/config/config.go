package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kerbaras/mfdl/pkg/integrations"
	"github.com/pelletier/go-toml/v2"
)

const (
	MinWorkers = 1
	MaxWorkers = 16
)

// Config holds every tunable of a download run. Zero-valued fields in the
// file keep their defaults; command-line flags are applied on top by the
// caller.
type Config struct {
	BaseURL        string `toml:"base_url"`
	OutputDir      string `toml:"output_dir"`
	Workers        int    `toml:"workers"`
	MaxAttempts    int    `toml:"max_attempts"`
	RequestTimeout int    `toml:"request_timeout"` // seconds
	ThrottleMS     int    `toml:"throttle_ms"`
	Format         string `toml:"format"`
	LedgerPath     string `toml:"ledger_path"` // empty disables the ledger
	LogLevel       string `toml:"log_level"`
	LogFormat      string `toml:"log_format"`
	Force          bool   `toml:"force"`
}

// Default returns the built-in configuration.
func Default() Config {
	ledger := ""
	if home, err := os.UserHomeDir(); err == nil {
		ledger = filepath.Join(home, ".mfdl", "library.db")
	}
	return Config{
		BaseURL:        "http://mangafox.me",
		OutputDir:      ".",
		Workers:        4,
		MaxAttempts:    5,
		RequestTimeout: 30,
		Format:         integrations.FormatCBZ,
		LedgerPath:     ledger,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/mfdl/config.toml")
}

// Load parses the file at path over the defaults and validates the result.
// An empty path falls back to DefaultConfigPath; a missing default file is
// not an error, a missing explicit file is. The resolved path and whether
// it existed are returned alongside the config.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}
	if path != "" && !exists {
		return nil, "", false, fmt.Errorf("config file %s: %w", resolvedPath, fs.ErrNotExist)
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("base_url must be set")
	}
	if c.Workers < MinWorkers || c.Workers > MaxWorkers {
		return fmt.Errorf("workers must be between %d and %d, got %d", MinWorkers, MaxWorkers, c.Workers)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.RequestTimeout < 1 {
		return fmt.Errorf("request_timeout must be a positive number of seconds, got %d", c.RequestTimeout)
	}
	if c.ThrottleMS < 0 {
		return fmt.Errorf("throttle_ms must not be negative, got %d", c.ThrottleMS)
	}
	switch c.Format {
	case integrations.FormatCBZ, integrations.FormatEPUB:
	default:
		return fmt.Errorf("format must be %q or %q, got %q", integrations.FormatCBZ, integrations.FormatEPUB, c.Format)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}
	return nil
}

// Timeout is the per-request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// Throttle is the minimum spacing between remote requests.
func (c *Config) Throttle() time.Duration {
	return time.Duration(c.ThrottleMS) * time.Millisecond
}

func (c *Config) normalize() error {
	c.Format = strings.ToLower(strings.TrimSpace(c.Format))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")

	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	var err error
	if c.OutputDir, err = expandPath(c.OutputDir); err != nil {
		return err
	}
	if c.LedgerPath, err = expandPath(strings.TrimSpace(c.LedgerPath)); err != nil {
		return err
	}
	return nil
}

// Normalize applies the same cleanup Load does. Callers that mutate a
// loaded config from flags should call it before Validate.
func (c *Config) Normalize() error {
	return c.normalize()
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", false, err
		}
		path = defaultPath
	}

	expanded, err := expandPath(path)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("config path %s is a directory", expanded)
	}
	return expanded, true, nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

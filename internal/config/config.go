package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	LogDir    string `toml:"log_dir"`
	ExportDir string `toml:"export_dir"`
	APIBind   string `toml:"api_bind"`
	APIToken  string `toml:"api_token"`
}

// Batch contains the in-process controller's concurrency and retry settings.
type Batch struct {
	Concurrency               int     `toml:"concurrency"`
	MaxConcurrency            int     `toml:"max_concurrency"`
	MaxRetries                int     `toml:"max_retries"`
	BackoffBaseSeconds        float64 `toml:"backoff_base_seconds"`
	BackoffCapSeconds         float64 `toml:"backoff_cap_seconds"`
	BurstThreshold            int     `toml:"burst_threshold"`
	CheckpointIntervalSeconds int     `toml:"checkpoint_interval_seconds"`
	CheckpointEveryItems      int     `toml:"checkpoint_every_items"`
	RateLimitPerSecond        float64 `toml:"rate_limit_per_second"`
}

// Source controls how items are enumerated beneath a job's root directory.
type Source struct {
	Extensions []string `toml:"extensions"`
	Recursive  bool     `toml:"recursive"`
	SkipHidden bool     `toml:"skip_hidden"`
}

// Extractor selects and configures the extraction backend.
type Extractor struct {
	Backend        string `toml:"backend"`
	URL            string `toml:"url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Monitor configures the completion monitor for dispatched jobs.
type Monitor struct {
	Enabled            bool    `toml:"enabled"`
	Schedule           string  `toml:"schedule"`
	SettleDelaySeconds float64 `toml:"settle_delay_seconds"`
}

// Store selects the job store backend.
type Store struct {
	Driver      string `toml:"driver"`
	PostgresDSN string `toml:"postgres_dsn"`
	MaxConns    int    `toml:"max_conns"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	OnPause        bool   `toml:"on_pause"`
	OnComplete     bool   `toml:"on_complete"`
	OnError        bool   `toml:"on_error"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for docbatch.
//
// Configuration sections by subsystem:
//   - Paths: data, log and export directories plus the API bind address
//   - Batch: worker pool size, retry policy and checkpoint cadence
//   - Source: item enumeration filters
//   - Extractor: extraction backend selection
//   - Monitor: completion monitor schedule for dispatched jobs
//   - Store: SQLite or Postgres job store
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Batch         Batch         `toml:"batch"`
	Source        Source        `toml:"source"`
	Extractor     Extractor     `toml:"extractor"`
	Monitor       Monitor       `toml:"monitor"`
	Store         Store         `toml:"store"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/docbatch/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
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

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		if value, ok := os.LookupEnv("DOCBATCH_CONFIG"); ok {
			path = strings.TrimSpace(value)
		}
	}
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("docbatch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.ExportDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite job store location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "docbatch.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "docbatchd.lock")
}

// DerivedDir returns the directory where later pipeline stages attach per-item
// artifacts for a job.
func (c *Config) DerivedDir(jobID string) string {
	return filepath.Join(c.Paths.DataDir, "derived", jobID)
}

// BackoffBase returns the retry backoff base as a duration.
func (c *Config) BackoffBase() time.Duration {
	return seconds(c.Batch.BackoffBaseSeconds)
}

// BackoffCap returns the maximum retry backoff as a duration.
func (c *Config) BackoffCap() time.Duration {
	return seconds(c.Batch.BackoffCapSeconds)
}

// CheckpointInterval returns the maximum time between checkpoints.
func (c *Config) CheckpointInterval() time.Duration {
	return time.Duration(c.Batch.CheckpointIntervalSeconds) * time.Second
}

// SettleDelay returns the pause between the monitor's readiness check and its re-read.
func (c *Config) SettleDelay() time.Duration {
	return seconds(c.Monitor.SettleDelaySeconds)
}

// ExtractorTimeout returns the per-request timeout for HTTP extraction backends.
func (c *Config) ExtractorTimeout() time.Duration {
	return time.Duration(c.Extractor.TimeoutSeconds) * time.Second
}

func seconds(value float64) time.Duration {
	return time.Duration(value * float64(time.Second))
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
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateBatch(); err != nil {
		return err
	}
	if err := c.validateSource(); err != nil {
		return err
	}
	if err := c.validateExtractor(); err != nil {
		return err
	}
	if err := c.validateMonitor(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateBatch() error {
	if err := ensurePositiveMap(map[string]int{
		"batch.concurrency":                 c.Batch.Concurrency,
		"batch.max_concurrency":             c.Batch.MaxConcurrency,
		"batch.checkpoint_interval_seconds": c.Batch.CheckpointIntervalSeconds,
		"batch.checkpoint_every_items":      c.Batch.CheckpointEveryItems,
	}); err != nil {
		return err
	}
	if c.Batch.MaxConcurrency > hardConcurrencyCeiling {
		return fmt.Errorf("batch.max_concurrency must be at most %d", hardConcurrencyCeiling)
	}
	if c.Batch.MaxRetries < 0 {
		return errors.New("batch.max_retries must be zero or positive")
	}
	if c.Batch.BurstThreshold < 0 {
		return errors.New("batch.burst_threshold must be zero (disabled) or positive")
	}
	if c.Batch.BackoffBaseSeconds < 0 || c.Batch.BackoffCapSeconds < 0 {
		return errors.New("batch backoff values must not be negative")
	}
	if c.Batch.BackoffCapSeconds < c.Batch.BackoffBaseSeconds {
		return errors.New("batch.backoff_cap_seconds must be at least batch.backoff_base_seconds")
	}
	if c.Batch.RateLimitPerSecond < 0 {
		return errors.New("batch.rate_limit_per_second must be zero (unlimited) or positive")
	}
	return nil
}

func (c *Config) validateSource() error {
	if len(c.Source.Extensions) == 0 {
		return errors.New("source.extensions must include at least one extension")
	}
	return nil
}

func (c *Config) validateExtractor() error {
	switch c.Extractor.Backend {
	case "text":
	case "http":
		if c.Extractor.URL == "" {
			return errors.New("extractor.url must be set when extractor.backend is \"http\"")
		}
		if !strings.HasPrefix(c.Extractor.URL, "http://") && !strings.HasPrefix(c.Extractor.URL, "https://") {
			return fmt.Errorf("extractor.url must be an http(s) URL, got %q", c.Extractor.URL)
		}
	default:
		return fmt.Errorf("extractor.backend must be \"text\" or \"http\", got %q", c.Extractor.Backend)
	}
	if c.Extractor.TimeoutSeconds <= 0 {
		return errors.New("extractor.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateMonitor() error {
	if c.Monitor.SettleDelaySeconds < 0 {
		return errors.New("monitor.settle_delay_seconds must not be negative")
	}
	if !c.Monitor.Enabled {
		return nil
	}
	if _, err := ScheduleParser().Parse(c.Monitor.Schedule); err != nil {
		return fmt.Errorf("monitor.schedule %q: %w", c.Monitor.Schedule, err)
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn must be set when store.driver is \"postgres\" (or set DOCBATCH_POSTGRES_DSN)")
		}
	default:
		return fmt.Errorf("store.driver must be \"sqlite\" or \"postgres\", got %q", c.Store.Driver)
	}
	if c.Store.MaxConns <= 0 {
		return errors.New("store.max_conns must be positive")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be \"console\" or \"json\", got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not recognized", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must not be negative")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

// ScheduleParser accepts five- or six-field cron specs and descriptors such as "@every 10s".
func ScheduleParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

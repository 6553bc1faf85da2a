package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"docbatch/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("DOCBATCH_CONFIG", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "docbatch")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.ExportDir != filepath.Join(tempHome, "docbatch", "exports") {
		t.Fatalf("unexpected export dir: %q", cfg.Paths.ExportDir)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7490" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "docbatch.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.Batch.MaxRetries != 3 {
		t.Fatalf("expected 3 retries by default, got %d", cfg.Batch.MaxRetries)
	}
	if cfg.Batch.BurstThreshold != 5 {
		t.Fatalf("expected burst threshold 5 by default, got %d", cfg.Batch.BurstThreshold)
	}
	if cfg.BackoffCap() != 30*time.Second {
		t.Fatalf("expected 30s backoff cap, got %s", cfg.BackoffCap())
	}
	if cfg.Monitor.Schedule != "@every 10s" {
		t.Fatalf("unexpected monitor schedule %q", cfg.Monitor.Schedule)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Fatalf("expected sqlite store by default, got %q", cfg.Store.Driver)
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "docbatch.toml")

	type payload struct {
		Batch struct {
			Concurrency    int `toml:"concurrency"`
			BurstThreshold int `toml:"burst_threshold"`
		} `toml:"batch"`
		Source struct {
			Extensions []string `toml:"extensions"`
		} `toml:"source"`
		Logging struct {
			Format string `toml:"format"`
		} `toml:"logging"`
	}
	custom := payload{}
	custom.Batch.Concurrency = 12
	custom.Batch.BurstThreshold = 8
	custom.Source.Extensions = []string{"PDF", ".txt", "pdf", " "}
	custom.Logging.Format = "JSON"
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Batch.Concurrency != 12 {
		t.Fatalf("expected concurrency 12, got %d", cfg.Batch.Concurrency)
	}
	if cfg.Batch.BurstThreshold != 8 {
		t.Fatalf("expected burst threshold 8, got %d", cfg.Batch.BurstThreshold)
	}
	if got := strings.Join(cfg.Source.Extensions, ","); got != ".pdf,.txt" {
		t.Fatalf("unexpected normalized extensions: %q", got)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected lowercased log format, got %q", cfg.Logging.Format)
	}
}

func TestEnvVarFallbacks(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "docbatch.toml")
	if err := os.WriteFile(configPath, []byte("[store]\ndriver = \"postgres\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DOCBATCH_POSTGRES_DSN", "postgres://docbatch@localhost/docbatch")
	t.Setenv("DOCBATCH_API_TOKEN", "secret")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Store.PostgresDSN != "postgres://docbatch@localhost/docbatch" {
		t.Fatalf("expected DSN from env, got %q", cfg.Store.PostgresDSN)
	}
	if cfg.Paths.APIToken != "secret" {
		t.Fatalf("expected API token from env, got %q", cfg.Paths.APIToken)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "burst_threshold") {
		t.Fatalf("sample config missing burst threshold: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if !strings.Contains(cfg.Paths.DataDir, "docbatch") {
		t.Fatalf("expected data dir to contain docbatch, got %q", cfg.Paths.DataDir)
	}
	if cfg.Batch.BackoffCapSeconds != 30 {
		t.Fatalf("expected sample backoff cap 30, got %v", cfg.Batch.BackoffCapSeconds)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero concurrency", func(c *config.Config) { c.Batch.Concurrency = 0 }},
		{"ceiling too high", func(c *config.Config) { c.Batch.MaxConcurrency = 10000 }},
		{"negative retries", func(c *config.Config) { c.Batch.MaxRetries = -1 }},
		{"cap below base", func(c *config.Config) { c.Batch.BackoffBaseSeconds = 10; c.Batch.BackoffCapSeconds = 5 }},
		{"http without url", func(c *config.Config) { c.Extractor.Backend = "http" }},
		{"unknown backend", func(c *config.Config) { c.Extractor.Backend = "ocr" }},
		{"bad schedule", func(c *config.Config) { c.Monitor.Schedule = "every ten seconds" }},
		{"postgres without dsn", func(c *config.Config) { c.Store.Driver = "postgres" }},
		{"no extensions", func(c *config.Config) { c.Source.Extensions = nil }},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"docbatch/internal/api"
	"docbatch/internal/config"
	"docbatch/internal/daemon"
	"docbatch/internal/extract"
	"docbatch/internal/testsupport"
)

const testToken = "cli-token"

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	configPath string
}

func writeTestConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithAPIToken(testToken), testsupport.WithConcurrency(2))
	cfg.Monitor.Enabled = false
	configPath := writeTestConfig(t, cfg)

	store := testsupport.MustOpenStore(t, cfg)
	d, err := daemon.New(cfg, store, extract.NewTextExtractor(), nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)

	return &cliTestEnv{cfg: cfg, daemon: d, configPath: configPath}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--config", env.configPath}
	if env.daemon != nil {
		flags = append(flags, "--api", env.daemon.Addr())
	}
	cmd.SetArgs(append(flags, args...))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), err
}

func TestCLIStatus(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, env, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"Running (pid", "sqlite", "Disabled", "checks"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output missing %q:\n%s", want, out)
		}
	}

	out, err = runCLI(t, env, "status", "--json")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var status api.DaemonStatus
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status json: %v\n%s", err, out)
	}
	if !status.Running || status.Backend != "text" {
		t.Fatalf("status = %+v", status)
	}
}

func TestCLIRejectsWrongToken(t *testing.T) {
	env := setupCLITestEnv(t)

	_, err := runCLI(t, env, "--token", "wrong", "status")
	if err == nil || !strings.Contains(err.Error(), "api_token") {
		t.Fatalf("err = %v, want token hint", err)
	}
}

func TestCLISubmitWatchAndInspect(t *testing.T) {
	env := setupCLITestEnv(t)
	root := t.TempDir()
	testsupport.WriteFiles(t, root, map[string]string{
		"a.txt":       "alpha document",
		"nested/b.md": "beta document",
		"skip.bin":    "ignored",
	})

	out, err := runCLI(t, env, "job", "submit", root, "--name", "letters", "--watch")
	if err != nil {
		t.Fatalf("submit: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Submitted job") || !strings.Contains(out, "completed") {
		t.Fatalf("submit output:\n%s", out)
	}

	out, err = runCLI(t, env, "job", "list", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var jobs []api.Job
	if err := json.Unmarshal([]byte(out), &jobs); err != nil {
		t.Fatalf("decode list: %v\n%s", err, out)
	}
	if len(jobs) != 1 || jobs[0].Name != "letters" || jobs[0].Progress.Total != 2 {
		t.Fatalf("jobs = %+v", jobs)
	}
	id := jobs[0].ID

	out, err = runCLI(t, env, "job", "list", "--status", "completed")
	if err != nil {
		t.Fatalf("list table: %v", err)
	}
	if !strings.Contains(out, id) || !strings.Contains(out, "2/2") {
		t.Fatalf("list table output:\n%s", out)
	}

	out, err = runCLI(t, env, "job", "show", id)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "letters") || !strings.Contains(out, "Export:") {
		t.Fatalf("show output:\n%s", out)
	}

	out, err = runCLI(t, env, "job", "checkpoint", id)
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if !strings.Contains(out, "Processed") {
		t.Fatalf("checkpoint output:\n%s", out)
	}

	if _, err := runCLI(t, env, "job", "pause", id); err == nil {
		t.Fatal("expected pause of a completed job to fail")
	}
}

func TestCLIListStatusValidation(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := runCLI(t, env, "job", "list", "--status", "bogus"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestCLIAggregateRequiresJobForRetrigger(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, err := runCLI(t, env, "aggregate", "--retrigger"); err == nil {
		t.Fatal("expected --retrigger without a job id to fail")
	}
	out, err := runCLI(t, env, "aggregate")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if !strings.Contains(out, "Ready 0") {
		t.Fatalf("aggregate output: %q", out)
	}
}

func TestCLITestNotifyWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := runCLI(t, env, "test-notify")
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	if !strings.Contains(out, "not configured") {
		t.Fatalf("test-notify output: %q", out)
	}
}

func TestCLIRunForeground(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithConcurrency(2))
	env := &cliTestEnv{cfg: cfg, configPath: writeTestConfig(t, cfg)}
	root := t.TempDir()
	testsupport.WriteFiles(t, root, map[string]string{
		"one.txt": "first",
		"two.txt": "second",
	})

	out, err := runCLI(t, env, "run", root, "--quiet")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "2 items") || !strings.Contains(out, "completed") {
		t.Fatalf("run output:\n%s", out)
	}
	entries, err := os.ReadDir(cfg.Paths.ExportDir)
	if err != nil || len(entries) == 0 {
		t.Fatalf("export dir entries = %v, err = %v", entries, err)
	}
}

func TestCLIRunRefusesWhileDaemonHoldsLock(t *testing.T) {
	env := setupCLITestEnv(t)
	root := t.TempDir()
	testsupport.WriteFiles(t, root, map[string]string{"one.txt": "first"})

	_, err := runCLI(t, env, "run", root)
	if err == nil || !strings.Contains(err.Error(), "job submit") {
		t.Fatalf("err = %v, want lock refusal", err)
	}
}

func TestCLIConfigInitAndValidate(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "docbatch", "config.toml")

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}

	cmd = newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected second init without --overwrite to fail")
	}

	cfg := testsupport.NewConfig(t)
	env := &cliTestEnv{cfg: cfg, configPath: writeTestConfig(t, cfg)}
	text, err := runCLI(t, env, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(text, "Configuration valid") || !strings.Contains(text, env.configPath) {
		t.Fatalf("validate output: %q", text)
	}
}

func TestCLILogs(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteFiles(t, env.cfg.Paths.LogDir, map[string]string{
		daemon.LogFileName: "line one\nline two job-7\nline three\n",
	})

	out, err := runCLI(t, env, "logs", "-n", "2")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if out != "line two job-7\nline three\n" {
		t.Fatalf("logs output = %q", out)
	}

	out, err = runCLI(t, env, "logs", "--job", "job-7")
	if err != nil {
		t.Fatalf("logs --job: %v", err)
	}
	if strings.TrimSpace(out) != "line two job-7" {
		t.Fatalf("filtered output = %q", out)
	}
}

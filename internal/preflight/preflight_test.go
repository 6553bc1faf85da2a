package preflight_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"docbatch/internal/extract"
	"docbatch/internal/preflight"
	"docbatch/internal/services"
	"docbatch/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := preflight.CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := preflight.CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := preflight.CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckSource(t *testing.T) {
	if err := preflight.CheckSource(t.TempDir()); err != nil {
		t.Fatalf("CheckSource on temp dir failed: %v", err)
	}
	err := preflight.CheckSource(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

type failingChecker struct{ err error }

func (f failingChecker) HealthCheck(context.Context) error { return f.err }

func TestCheckBackend(t *testing.T) {
	if got := preflight.CheckBackend(context.Background(), failingChecker{}); !got.Passed {
		t.Fatalf("expected pass, got %s", got.Detail)
	}
	got := preflight.CheckBackend(context.Background(), failingChecker{err: context.DeadlineExceeded})
	if got.Passed || got.Detail != "health check timed out (backend unresponsive)" {
		t.Fatalf("result = %+v", got)
	}
}

func TestRunAllProbesHTTPBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	backend, err := extract.NewHTTPExtractor(extract.HTTPConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("NewHTTPExtractor failed: %v", err)
	}

	results := preflight.RunAll(context.Background(), cfg, backend)
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	failed := preflight.Failed(results)
	if len(failed) != 1 || failed[0].Name != "Extraction backend" {
		t.Fatalf("failed = %+v, want only the backend", failed)
	}

	if got := preflight.RunAll(context.Background(), cfg, extract.NewTextExtractor()); len(got) != 2 {
		t.Fatalf("text backend results = %d, want 2 (no probe)", len(got))
	}
}

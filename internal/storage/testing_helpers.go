package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kyleking/finance-qa/internal/config"
)

// NewTestExecutor creates a migrated and seeded temporary DuckDB store.
// Returns the executor and a cleanup function that should be deferred.
func NewTestExecutor(t *testing.T, opts ...ExecutorOption) (*Executor, func()) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "finance_qa_db_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	cfg := config.DefaultConfig().Database
	cfg.Driver = DriverDuckDB
	cfg.DSN = filepath.Join(tempDir, "test.duckdb")

	exec, err := Open(cfg, nil)
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("failed to open test database: %v", err)
	}

	for _, opt := range opts {
		opt(exec)
	}

	if err := exec.Initialize(context.Background()); err != nil {
		exec.Close()
		os.RemoveAll(tempDir)
		t.Fatalf("failed to initialize test database: %v", err)
	}

	cleanup := func() {
		if err := exec.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
		if err := os.RemoveAll(tempDir); err != nil {
			t.Errorf("failed to remove temp dir: %v", err)
		}
	}

	return exec, cleanup
}

package core

import (
	"context"
	"path/filepath"
	"testing"

	"trafficcore/internal/infra/persistence/memory"
	"trafficcore/internal/infra/persistence/sqlite"
)

func TestOpenLedgerMemory(t *testing.T) {
	t.Setenv(EnvStorageDriver, "memory")
	ledger, driver, err := OpenLedger(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if driver != StorageMemory {
		t.Fatalf("unexpected driver %s", driver)
	}
	if _, ok := ledger.(*memory.Store); !ok {
		t.Fatalf("expected *memory.Store, got %T", ledger)
	}
}

func TestOpenLedgerDefaultsToSQLite(t *testing.T) {
	t.Setenv(EnvStorageDriver, "")
	t.Setenv(EnvSQLitePath, filepath.Join(t.TempDir(), "custom.db"))
	ledger, driver, err := OpenLedger(context.Background())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = ledger.Close() })
	if driver != StorageSQLite {
		t.Fatalf("unexpected driver %s", driver)
	}
	store, ok := ledger.(*sqlite.Store)
	if !ok {
		t.Fatalf("expected *sqlite.Store, got %T", ledger)
	}
	if filepath.Base(store.Path()) != "custom.db" {
		t.Fatalf("expected custom path, got %s", store.Path())
	}
}

func TestOpenLedgerUnknownDriver(t *testing.T) {
	t.Setenv(EnvStorageDriver, "mongo")
	if _, _, err := OpenLedger(context.Background()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestOpenLedgerPostgresUnreachable(t *testing.T) {
	t.Setenv(EnvStorageDriver, "postgres")
	t.Setenv(EnvPostgresDSN, "postgres://127.0.0.1:1/trafficcore?sslmode=disable&connect_timeout=1")
	if _, driver, err := OpenLedger(context.Background()); err == nil || driver != StoragePostgres {
		t.Fatalf("expected postgres ping failure, got driver=%s err=%v", driver, err)
	}
}

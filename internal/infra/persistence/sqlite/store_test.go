package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"trafficcore/internal/infra/persistence/ledgertest"
	"trafficcore/pkg/domain"
)

func TestLedgerContract(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) domain.Ledger {
		store, err := NewStore(filepath.Join(t.TempDir(), "ledger.db"))
		if err != nil {
			t.Skipf("sqlite unavailable: %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestInMemoryDatabase(t *testing.T) {
	store, err := NewStore(MemoryPath)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.SetThreshold(context.Background(), "Alkapuri", 90); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, _ := store.GetThreshold(context.Background(), "Alkapuri"); got != 90 {
		t.Fatalf("expected 90, got %d", got)
	}
}

func TestPersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")
	store, err := NewStore(path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	ctx := context.Background()
	id, err := store.CreateChallan(ctx, ledgertest.Draft("Akota Bridge", "Lane B", 7))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.SetThreshold(ctx, "Akota Bridge", 75); err != nil {
		t.Fatalf("set threshold: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewStore(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })
	got, err := reloaded.GetChallan(ctx, id)
	if err != nil {
		t.Fatalf("get after reload: %v", err)
	}
	if got.ChallanNumber != ledgertest.Draft("Akota Bridge", "Lane B", 7).ChallanNumber {
		t.Fatalf("unexpected challan %+v", got)
	}
	if v, _ := reloaded.GetThreshold(ctx, "Akota Bridge"); v != 75 {
		t.Fatalf("expected threshold 75 after reload, got %d", v)
	}
	if reloaded.Path() != path {
		t.Fatalf("unexpected path %s", reloaded.Path())
	}
}

func TestSchemaTables(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	for _, table := range []string{"traffic_samples", "alert_thresholds", "challans"} {
		var name string
		if err := store.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&name); err != nil {
			t.Fatalf("lookup %s: %v", table, err)
		}
	}
}

func TestDSNPragmas(t *testing.T) {
	if got := dsn(MemoryPath); got != "file::memory:?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)" {
		t.Fatalf("unexpected memory dsn %s", got)
	}
	if got := dsn("x.db?cache=shared"); got != "file:x.db?cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)" {
		t.Fatalf("unexpected file dsn %s", got)
	}
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"trafficcore/internal/infra/persistence/ledgertest"
	"trafficcore/pkg/domain"
)

const testDSNEnv = "TRAFFICCORE_TEST_POSTGRES_DSN"

func TestLedgerContract(t *testing.T) {
	dsn := os.Getenv(testDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", testDSNEnv)
	}
	ledgertest.Run(t, func(t *testing.T) domain.Ledger {
		store, err := NewStore(context.Background(), dsn)
		if err != nil {
			t.Fatalf("NewStore: %v", err)
		}
		if _, err := store.DB().Exec(`TRUNCATE traffic_samples, alert_thresholds, challans RESTART IDENTITY`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestNewStoreReportsOpenError(t *testing.T) {
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) {
		return nil, errors.New("boom")
	})
	defer restore()
	if _, err := NewStore(context.Background(), ""); err == nil || !strings.Contains(err.Error(), "open postgres") {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestNewStoreReportsPingError(t *testing.T) {
	var gotDSN string
	restore := OverrideSQLOpen(func(driver, dsn string) (*sql.DB, error) {
		gotDSN = dsn
		// nothing listens on port 1
		return sql.Open(driver, "postgres://127.0.0.1:1/trafficcore?sslmode=disable&connect_timeout=1")
	})
	defer restore()
	if _, err := NewStore(context.Background(), ""); err == nil || !strings.Contains(err.Error(), "ping postgres") {
		t.Fatalf("expected ping error, got %v", err)
	}
	if gotDSN != defaultDSN {
		t.Fatalf("expected default dsn, got %s", gotDSN)
	}
}

func TestDialect(t *testing.T) {
	d := Dialect()
	if !d.Numbered || d.Name != "postgres" || len(d.Schema) == 0 {
		t.Fatalf("unexpected dialect %+v", d)
	}
	if !d.IsUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatalf("expected unique violation classification")
	}
	if d.IsUniqueViolation(&pgconn.PgError{Code: "23503"}) || d.IsUniqueViolation(errors.New("x")) {
		t.Fatalf("unexpected unique violation classification")
	}
}

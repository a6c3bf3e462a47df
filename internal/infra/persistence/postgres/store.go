// Package postgres provides the PostgreSQL ledger, using pgx through database/sql.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"trafficcore/internal/infra/persistence/sqlstore"
)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with the storage factory defaults while allowing overrides via env.
	defaultDSN = "postgres://localhost/trafficcore?sslmode=disable"

	uniqueViolation = "23505"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS traffic_samples (
		id BIGSERIAL PRIMARY KEY,
		area TEXT NOT NULL,
		lane_id TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		two_wheelers BIGINT NOT NULL,
		four_wheelers BIGINT NOT NULL,
		density BIGINT NOT NULL,
		is_emergency BOOLEAN NOT NULL DEFAULT FALSE,
		is_vip BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_traffic_samples_area_time ON traffic_samples (area, lane_id, recorded_at)`,
	`CREATE TABLE IF NOT EXISTS alert_thresholds (
		area TEXT PRIMARY KEY,
		max_density BIGINT NOT NULL CHECK (max_density >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS challans (
		id BIGSERIAL PRIMARY KEY,
		issued_at TEXT NOT NULL,
		area TEXT NOT NULL,
		lane_id TEXT NOT NULL,
		violation_type TEXT NOT NULL,
		vehicle_number TEXT NOT NULL,
		owner_name TEXT NOT NULL,
		owner_phone TEXT NOT NULL DEFAULT '',
		vehicle_type TEXT NOT NULL DEFAULT '',
		challan_number TEXT NOT NULL UNIQUE,
		transaction_id TEXT NOT NULL,
		state_code TEXT NOT NULL DEFAULT '',
		fine_amount BIGINT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending', 'paid', 'disputed'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_challans_area_status ON challans (area, status, issued_at)`,
}

// Store is the PostgreSQL ledger. Connections come from the database/sql pool.
type Store struct {
	*sqlstore.Store
}

// NewStore opens a pool for dsn (falls back to defaultDSN), verifies the
// server is reachable and applies the schema.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store, err := sqlstore.Open(ctx, db, Dialect())
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: store}, nil
}

// Dialect describes PostgreSQL to the shared SQL ledger.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:              "postgres",
		Schema:            schema,
		Numbered:          true,
		IsUniqueViolation: isUniqueViolation,
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}

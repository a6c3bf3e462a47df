// Package sqlite provides the embedded SQLite ledger backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"trafficcore/internal/infra/persistence/sqlstore"
)

// DefaultPath is used when NewStore receives an empty path.
const DefaultPath = "trafficcore.db"

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS traffic_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		area TEXT NOT NULL,
		lane_id TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		two_wheelers INTEGER NOT NULL,
		four_wheelers INTEGER NOT NULL,
		density INTEGER NOT NULL,
		is_emergency INTEGER NOT NULL DEFAULT 0,
		is_vip INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_traffic_samples_area_time ON traffic_samples (area, lane_id, recorded_at)`,
	`CREATE TABLE IF NOT EXISTS alert_thresholds (
		area TEXT PRIMARY KEY,
		max_density INTEGER NOT NULL CHECK (max_density >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS challans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
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
		fine_amount INTEGER NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending', 'paid', 'disputed'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_challans_area_status ON challans (area, status, issued_at)`,
}

// Store is the SQLite ledger.
type Store struct {
	*sqlstore.Store
	path string
}

// NewStore opens (creating if needed) the database at path and applies the schema.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	inMemory := path == MemoryPath
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if inMemory {
		// each connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	store, err := sqlstore.Open(context.Background(), db, sqlstore.Dialect{
		Name:              "sqlite",
		Schema:            schema,
		IsUniqueViolation: isUniqueViolation,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: store, path: path}, nil
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

func dsn(path string) string {
	pragmas := "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if path != MemoryPath {
		pragmas += "&_pragma=journal_mode(WAL)"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + path + sep + pragmas
}

func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || serr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

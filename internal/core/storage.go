package core

import (
	"context"
	"fmt"
	"os"

	"trafficcore/internal/infra/persistence/memory"
	"trafficcore/internal/infra/persistence/postgres"
	"trafficcore/internal/infra/persistence/sqlite"
	"trafficcore/pkg/domain"
)

// StorageDriver identifies a concrete ledger implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// Environment variables read by OpenLedger.
const (
	EnvStorageDriver = "TRAFFICCORE_STORAGE_DRIVER"
	EnvSQLitePath    = "TRAFFICCORE_SQLITE_PATH"
	EnvPostgresDSN   = "TRAFFICCORE_POSTGRES_DSN"
)

// Ledger aliases the domain storage contract for callers of this package.
type Ledger = domain.Ledger

// NewMemoryLedger returns an empty in-memory ledger.
func NewMemoryLedger() Ledger { return memory.NewStore() }

// OpenLedger selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	TRAFFICCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	TRAFFICCORE_SQLITE_PATH: path to sqlite file (default ./trafficcore.db)
//	TRAFFICCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenLedger(ctx context.Context) (Ledger, StorageDriver, error) {
	driver := StorageDriver(os.Getenv(EnvStorageDriver))
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(), driver, nil
	case StorageSQLite:
		store, err := sqlite.NewStore(os.Getenv(EnvSQLitePath))
		if err != nil {
			return nil, driver, err
		}
		return store, driver, nil
	case StoragePostgres:
		store, err := postgres.NewStore(ctx, os.Getenv(EnvPostgresDSN))
		if err != nil {
			return nil, driver, err
		}
		return store, driver, nil
	default:
		return nil, driver, fmt.Errorf("unknown storage driver %s", driver)
	}
}

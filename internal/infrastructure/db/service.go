package db

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ark-network/dlc/internal/core/domain"
	"github.com/ark-network/dlc/internal/core/ports"
	badgerdb "github.com/ark-network/dlc/internal/infrastructure/db/badger"
	sqlitedb "github.com/ark-network/dlc/internal/infrastructure/db/sqlite"
	"github.com/ark-network/dlc/internal/infrastructure/db/sqlite/migration"
	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

var (
	contractStoreTypes = map[string]func(...interface{}) (domain.ContractRepository, error){
		"badger": badgerdb.NewContractRepository,
		"sqlite": sqlitedb.NewContractRepository,
	}
)

const (
	sqliteDbFile = "sqlite.db"
)

// ServiceConfig selects the data store. Badger expects the base directory
// (empty for in-memory) and an optional badger.Logger, sqlite expects the
// base directory only.
type ServiceConfig struct {
	DataStoreType   string
	DataStoreConfig []interface{}
}

type service struct {
	contractStore domain.ContractRepository
}

func NewService(config ServiceConfig) (ports.RepoManager, error) {
	contractStoreFactory, ok := contractStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid data store type: %s", config.DataStoreType)
	}

	storeConfig := config.DataStoreConfig
	if config.DataStoreType == "sqlite" {
		db, err := openSqlite(config.DataStoreConfig)
		if err != nil {
			return nil, err
		}
		if err := migrateSqlite(db); err != nil {
			return nil, fmt.Errorf("failed to migrate sqlite: %w", err)
		}
		storeConfig = []interface{}{db}
	}

	contractStore, err := contractStoreFactory(storeConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to create contract store: %w", err)
	}

	return &service{contractStore}, nil
}

func (s *service) Contracts() domain.ContractRepository {
	return s.contractStore
}

func (s *service) Close() {
	s.contractStore.Close()
}

func openSqlite(config []interface{}) (*sql.DB, error) {
	if len(config) != 1 {
		return nil, errors.New("invalid config")
	}
	baseDir, ok := config[0].(string)
	if !ok || len(baseDir) <= 0 {
		return nil, errors.New("invalid config, expected base directory at 0")
	}
	return sqlitedb.OpenDb(filepath.Join(baseDir, sqliteDbFile))
}

func migrateSqlite(db *sql.DB) error {
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	source, err := iofs.New(migration.Files, ".")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate up: %w", err)
	}

	return nil
}

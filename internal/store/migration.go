package store

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/segw-project/segw/pkg/log"
)

//go:embed migrations/*
var migrationFiles embed.FS

// applyMigrations brings the schema up to date idempotently (§6: "Schema
// is created idempotently; existing rows survive upgrade").
func applyMigrations(backend string, db *sql.DB) error {
	m, err := newMigrate(backend, db)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("store: applying migrations: %w", err)
	}

	v, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return err
	}
	if dirty {
		log.Warnf("store: schema at version %d is marked dirty", v)
	} else {
		log.Infof("store: schema at version %d", v)
	}
	return nil
}

func newMigrate(backend string, db *sql.DB) (*migrate.Migrate, error) {
	switch backend {
	case "sqlite3":
		driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
		if err != nil {
			return nil, err
		}
		d, err := iofs.New(migrationFiles, "migrations/sqlite3")
		if err != nil {
			return nil, err
		}
		return migrate.NewWithInstance("iofs", d, "sqlite3", driver)
	case "mysql":
		driver, err := mysql.WithInstance(db, &mysql.Config{})
		if err != nil {
			return nil, err
		}
		d, err := iofs.New(migrationFiles, "migrations/mysql")
		if err != nil {
			return nil, err
		}
		return migrate.NewWithInstance("iofs", d, "mysql", driver)
	default:
		return nil, fmt.Errorf("store: unsupported database driver %q", backend)
	}
}

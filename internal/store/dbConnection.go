// Package store implements the relational mirror (C8): a synchronous
// write-through of the configuration cache to a SQL database, and the
// profile/meta tables the readout dispatcher and push scheduler operate on.
package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	"github.com/segw-project/segw/pkg/log"
)

var (
	dbConnOnce     sync.Once
	dbConnInstance *DBConnection
)

// DBConnection wraps the single process-wide database handle.
type DBConnection struct {
	Driver string
	DB     *sqlx.DB
}

// Connect opens (once) the database named by dsn using driver, which is
// either "sqlite3" (default, per spec §6) or "mysql". It applies pending
// migrations before returning.
func Connect(driver string, dsn string) (*DBConnection, error) {
	var err error
	var dbHandle *sqlx.DB

	dbConnOnce.Do(func() {
		switch driver {
		case "sqlite3":
			sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &Hooks{}))
			dbHandle, err = sqlx.Open("sqlite3WithHooks", fmt.Sprintf("%s?_foreign_keys=on", dsn))
			if err != nil {
				return
			}
			// SQLite does not multiplex writers; a single connection avoids
			// lock-contention retries.
			dbHandle.SetMaxOpenConns(1)
		case "mysql":
			dbHandle, err = sqlx.Open("mysql", fmt.Sprintf("%s?multiStatements=true", dsn))
			if err != nil {
				return
			}
			dbHandle.SetConnMaxLifetime(3 * time.Minute)
			dbHandle.SetMaxOpenConns(10)
			dbHandle.SetMaxIdleConns(10)
		default:
			err = fmt.Errorf("store: unsupported database driver %q", driver)
			return
		}

		if migErr := applyMigrations(driver, dbHandle.DB); migErr != nil {
			err = migErr
			return
		}

		dbConnInstance = &DBConnection{Driver: driver, DB: dbHandle}
	})

	if err != nil {
		return nil, err
	}
	if dbConnInstance == nil {
		return nil, fmt.Errorf("store: connection already attempted and failed")
	}
	return dbConnInstance, nil
}

// GetConnection returns the process-wide connection established by Connect.
func GetConnection() *DBConnection {
	if dbConnInstance == nil {
		log.Fatalf("store: database connection not initialized")
	}
	return dbConnInstance
}

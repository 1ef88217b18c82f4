// database/connection.go
//
// Package database is the relational index of ingested files and per-feed
// download progress. MySQL/MariaDB is the production backend; SQLite serves
// single-host deployments and tests.
package database

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/config"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_mysql.sql
var mysqlSchema string

type Dialect string

const (
	DialectMySQL  Dialect = "mysql"
	DialectSQLite Dialect = "sqlite"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrTransactionRolledBack wraps any failure inside an index mutation;
	// nothing from that operation was committed.
	ErrTransactionRolledBack = errors.New("transaction rolled back")
)

// DB is a connection pool plus the SQL dialect it speaks.
type DB struct {
	*sql.DB
	Dialect Dialect
	logger  *slog.Logger
}

// Open connects to the configured backend and verifies the connection.
func Open(cfg config.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	logger = utils.Component(logger, "Database")

	var (
		conn *sql.DB
		err  error
	)
	switch Dialect(cfg.Driver) {
	case DialectMySQL:
		// DSN: username:password@protocol(address)/dbname?param=value
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC",
			cfg.User,
			cfg.Password,
			cfg.Host,
			cfg.Port,
			cfg.DBName,
		)
		conn, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database connection: %w", err)
		}
		maxOpen := cfg.MaxOpenConns
		if maxOpen == 0 {
			maxOpen = 25
		}
		conn.SetMaxOpenConns(maxOpen)
		conn.SetMaxIdleConns(maxOpen)
		conn.SetConnMaxLifetime(5 * time.Minute)

	case DialectSQLite:
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		conn, err = sql.Open("sqlite", cfg.Path+
			"?_pragma=journal_mode(WAL)"+
			"&_pragma=busy_timeout(5000)"+
			"&_pragma=synchronous(NORMAL)")
		if err != nil {
			return nil, fmt.Errorf("failed to open database connection: %w", err)
		}
		conn.SetMaxOpenConns(2)
		conn.SetMaxIdleConns(1)
		conn.SetConnMaxLifetime(time.Hour)

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{DB: conn, Dialect: Dialect(cfg.Driver), logger: logger}
	logger.Info("connected to database", "driver", cfg.Driver)

	if cfg.AutoMigrate {
		if err := db.Migrate(context.Background()); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return db, nil
}

// Migrate creates the tables if they do not exist.
func (db *DB) Migrate(ctx context.Context) error {
	schema := sqliteSchema
	if db.Dialect == DialectMySQL {
		schema = mysqlSchema
	}
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	db.logger.Info("schema up to date", "driver", string(db.Dialect))
	return nil
}

// Close closes the pool. Typically called on application shutdown.
func (db *DB) Close() error {
	if db == nil || db.DB == nil {
		return nil
	}
	err := db.DB.Close()
	db.logger.Info("database connection closed")
	return err
}

// withTx runs fn inside one transaction, committing only if fn succeeds.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return fmt.Errorf("%w: %w", ErrTransactionRolledBack, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit: %w", ErrTransactionRolledBack, err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"student-sandbox/internal/config"

	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// MemoryDSN is an ephemeral SQLite database that lives as long as its connection.
const MemoryDSN = ":memory:"

// New opens the backing store selected by cfg.Driver.
func New(cfg config.DatabaseConfig, logger *slog.Logger) (*bun.DB, error) {
	var (
		db  *bun.DB
		err error
	)
	switch cfg.Driver {
	case config.DriverPostgres:
		db, err = newPostgres(cfg, logger)
	case config.DriverSQLite, "":
		db, err = NewSQLite(cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.LogQueries {
		db.AddQueryHook(NewQueryLogger(logger))
	}
	return db, nil
}

// NewSQLite opens a SQLite database through mattn/go-sqlite3.
// The pool is pinned to a single connection: every connection to ":memory:"
// is a separate database, so a second one would see no tables.
func NewSQLite(dsn string, logger *slog.Logger) (*bun.DB, error) {
	if dsn == "" {
		dsn = MemoryDSN
	}

	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetConnMaxLifetime(0)
	sqldb.SetConnMaxIdleTime(0)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	logger.Debug("database connected successfully", "driver", config.DriverSQLite, "dsn", dsn)
	return db, nil
}

func newPostgres(cfg config.DatabaseConfig, logger *slog.Logger) (*bun.DB, error) {
	dsn := cfg.DSN
	if dsn == "" {
		sslMode := cfg.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}

		dsn = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=%s",
			cfg.User,
			cfg.Password,
			cfg.Host,
			cfg.Port,
			cfg.DBName,
			sslMode,
		)
	}

	db, err := NewPostgresWithDSN(dsn, logger)
	if err != nil {
		return nil, err
	}
	configurePool(db, cfg, logger)
	return db, nil
}

// NewPostgresWithDSN creates a postgres connection with a custom DSN (useful for testing)
func NewPostgresWithDSN(dsn string, logger *slog.Logger) (*bun.DB, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Debug("database connected successfully", "driver", config.DriverPostgres)
	return db, nil
}

// configurePool sizes the postgres pool. Zero fields fall back to the
// config package defaults.
func configurePool(db *bun.DB, cfg config.DatabaseConfig, logger *slog.Logger) PoolSettings {
	pool := PoolSettings{
		MaxOpenConns:    orDefault(cfg.MaxOpenConns, config.DefaultMaxOpenConns),
		MaxIdleConns:    orDefault(cfg.MaxIdleConns, config.DefaultMaxIdleConns),
		ConnMaxLifetime: time.Duration(orDefault(cfg.ConnMaxLifetime, config.DefaultConnMaxLifetimeSeconds)) * time.Second,
		ConnMaxIdleTime: time.Duration(orDefault(cfg.ConnMaxIdleTime, config.DefaultConnMaxIdleTimeSeconds)) * time.Second,
	}

	db.DB.SetMaxOpenConns(pool.MaxOpenConns)
	db.DB.SetMaxIdleConns(pool.MaxIdleConns)
	db.DB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.DB.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	logger.Debug("database pool configured",
		"max_open_conns", pool.MaxOpenConns,
		"max_idle_conns", pool.MaxIdleConns,
		"conn_max_lifetime", pool.ConnMaxLifetime,
		"conn_max_idle_time", pool.ConnMaxIdleTime,
	)
	return pool
}

// PoolSettings are the connection pool limits applied to a postgres database.
type PoolSettings struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func Close(db *bun.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

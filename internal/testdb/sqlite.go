// Package testdb provides databases for tests: an in-memory SQLite store for
// unit tests and a shared PostgreSQL container for integration tests.
package testdb

import (
	"context"
	"testing"

	"student-sandbox/internal/db"
	"student-sandbox/internal/logger"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// NewSQLite opens a fresh in-memory database, creates the tables of models
// and closes the database when the test ends. Every call gets its own store.
func NewSQLite(t *testing.T, models ...interface{}) *bun.DB {
	t.Helper()

	database, err := db.NewSQLite(db.MemoryDSN, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(database) })

	RunMigrations(t, database, models...)
	return database
}

func RunMigrations(t *testing.T, database *bun.DB, models ...interface{}) {
	t.Helper()

	err := db.RunMigrations(context.Background(), database, logger.Discard(), models...)
	require.NoError(t, err, "failed to run migrations")
}

// CleanupTables removes every row from tables. IDs restart only on postgres.
func CleanupTables(t *testing.T, database *bun.DB, tables ...string) {
	t.Helper()

	ctx := context.Background()

	for _, table := range tables {
		query := "DELETE FROM " + table
		if database.Dialect().Name() == dialect.PG {
			query = "TRUNCATE " + table + " RESTART IDENTITY CASCADE"
		}
		_, err := database.ExecContext(ctx, query)
		require.NoError(t, err, "failed to clean table: %s", table)
	}
}

package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"
)

// Index describes a secondary index created alongside a model's table.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// Indexed is implemented by models that declare secondary indexes.
type Indexed interface {
	Indexes() []Index
}

// RunMigrations creates the table of every model, then its declared indexes.
// Both steps are idempotent.
func RunMigrations(ctx context.Context, db *bun.DB, logger *slog.Logger, models ...interface{}) error {
	for _, model := range models {
		_, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create table for model: %w", err)
		}

		indexed, ok := model.(Indexed)
		if !ok {
			continue
		}
		for _, idx := range indexed.Indexes() {
			q := db.NewCreateIndex().
				Model(model).
				Index(idx.Name).
				Column(idx.Columns...).
				IfNotExists()
			if idx.Unique {
				q = q.Unique()
			}
			if _, err := q.Exec(ctx); err != nil {
				return fmt.Errorf("failed to create index %s: %w", idx.Name, err)
			}
		}
	}
	logger.Debug("database migrations completed successfully")
	return nil
}

package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mdao/lm-indexer/internal/infrastructure/migrate"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies every embedded migration not yet recorded. It returns the
// names of the files applied by this call.
func Migrate(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	files, err := migrate.Files(migrationFS, "migrations")
	if err != nil {
		return nil, err
	}

	const createSQL = `
		CREATE TABLE IF NOT EXISTS ` + migrate.Table + ` (
			name TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := pool.Exec(ctx, createSQL); err != nil {
		return nil, wrap("ensure migration table", err)
	}

	var applied []string
	for _, file := range files {
		done, err := isApplied(ctx, pool, file.Name)
		if err != nil {
			return applied, wrap("check migration "+file.Name, err)
		}
		if done {
			continue
		}

		err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			return applyMigration(ctx, tx, file)
		})
		if err != nil {
			return applied, wrap("apply migration", err)
		}
		applied = append(applied, file.Name)
	}
	return applied, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// applyMigration runs one file and records it. Any DDL error fails the file:
// Postgres aborts the transaction on the first failed statement, so the
// migrations use IF NOT EXISTS instead.
func applyMigration(ctx context.Context, tx execer, file migrate.File) error {
	if _, err := tx.Exec(ctx, file.Up); err != nil {
		return fmt.Errorf("exec migration %s: %w", file.Name, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO `+migrate.Table+` (name) VALUES ($1) ON CONFLICT DO NOTHING`, file.Name); err != nil {
		return fmt.Errorf("record migration %s: %w", file.Name, err)
	}
	return nil
}

func isApplied(ctx context.Context, pool *pgxpool.Pool, name string) (bool, error) {
	var found int
	err := pool.QueryRow(ctx, `SELECT 1 FROM `+migrate.Table+` WHERE name = $1`, name).Scan(&found)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

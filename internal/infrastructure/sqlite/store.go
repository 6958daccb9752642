// Package sqlite keeps subscription cursors in a local SQLite file for
// single-host deployments where the projection lives elsewhere.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mdao/lm-indexer/internal/domain/cursor"
	"github.com/mdao/lm-indexer/internal/infrastructure/migrate"
	"github.com/mdao/lm-indexer/internal/storage"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

var _ storage.CursorStore = (*Store)(nil)

// Store provides SQLite-backed cursor persistence.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Open opens the cursor database at path and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer keeps the guarded upsert serialised.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB, now: func() time.Time { return time.Now().UTC() }}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) applyMigrations(ctx context.Context) error {
	files, err := migrate.Files(migrationFS, "migrations")
	if err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+migrate.Table+` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var found int
		err := s.sqlDB.QueryRowContext(ctx, "SELECT 1 FROM "+migrate.Table+" WHERE name = ?", file.Name).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", file.Name, err)
		}

		tx, err := s.sqlDB.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration transaction %s: %w", file.Name, err)
		}
		if _, err := tx.ExecContext(ctx, file.Up); err != nil && !migrate.IsAlreadyExists(err) {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO "+migrate.Table+" (name, applied_at) VALUES (?, ?)",
			file.Name, s.now().UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file.Name, err)
		}
	}
	return nil
}

func (s *Store) EnsureSubscription(ctx context.Context, sub cursor.Subscription) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO subscription_cursors (name, namespace, version, position, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (name, namespace, version) DO NOTHING
`, sub.Name, sub.Namespace, sub.Version, int64(cursor.Beginning), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("ensure subscription: %w", err)
	}
	return nil
}

func (s *Store) LoadCheckpoint(ctx context.Context, sub cursor.Subscription) (*cursor.Checkpoint, error) {
	var (
		pos       int64
		txHash    string
		updatedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT position, tx_hash, updated_at
FROM subscription_cursors
WHERE name = ? AND namespace = ? AND version = ?
`, sub.Name, sub.Namespace, sub.Version).Scan(&pos, &txHash, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return &cursor.Checkpoint{
		Subscription: sub,
		Position:     cursor.Position(pos),
		TxHash:       txHash,
		UpdatedAt:    time.UnixMilli(updatedAt).UTC(),
	}, nil
}

// SavePosition only ever raises the stored position. A locked database is
// reported as transient.
func (s *Store) SavePosition(ctx context.Context, sub cursor.Subscription, pos cursor.Position, txHash string) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO subscription_cursors (name, namespace, version, position, tx_hash, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (name, namespace, version) DO UPDATE SET
    position = excluded.position,
    tx_hash = excluded.tx_hash,
    updated_at = excluded.updated_at
WHERE subscription_cursors.position < excluded.position
`, sub.Name, sub.Namespace, sub.Version, int64(pos), txHash, s.now().UnixMilli())
	if err != nil {
		err = fmt.Errorf("save position: %w", err)
		if isBusy(err) {
			return storage.Transient(err)
		}
		return err
	}
	return nil
}

// ListCheckpoints returns every stored subscription, most recently updated
// first.
func (s *Store) ListCheckpoints(ctx context.Context) ([]cursor.Checkpoint, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT name, namespace, version, position, tx_hash, updated_at
FROM subscription_cursors
ORDER BY updated_at DESC
`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []cursor.Checkpoint
	for rows.Next() {
		var (
			cp        cursor.Checkpoint
			pos       int64
			updatedAt int64
		)
		if err := rows.Scan(&cp.Subscription.Name, &cp.Subscription.Namespace, &cp.Subscription.Version, &pos, &cp.TxHash, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp.Position = cursor.Position(pos)
		cp.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return out, nil
}

func isBusy(err error) bool {
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "database is locked") || strings.Contains(value, "sqlite_busy")
}

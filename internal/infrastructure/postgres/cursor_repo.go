package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mdao/lm-indexer/internal/domain/cursor"
	"github.com/mdao/lm-indexer/internal/storage"
)

var _ storage.CursorStore = (*CursorRepository)(nil)

type CursorRepository struct {
	pool *pgxpool.Pool
}

func NewCursorRepository(pool *pgxpool.Pool) *CursorRepository {
	return &CursorRepository{pool: pool}
}

func (r *CursorRepository) EnsureSubscription(ctx context.Context, sub cursor.Subscription) error {
	const sql = `
		INSERT INTO subscription_cursors (name, namespace, version, position)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name, namespace, version) DO NOTHING
	`
	_, err := conn(ctx, r.pool).Exec(ctx, sql, sub.Name, sub.Namespace, sub.Version, int64(cursor.Beginning))
	return wrap("ensure subscription", err)
}

func (r *CursorRepository) LoadCheckpoint(ctx context.Context, sub cursor.Subscription) (*cursor.Checkpoint, error) {
	const sql = `
		SELECT position, COALESCE(tx_hash, ''), updated_at
		FROM subscription_cursors
		WHERE name = $1 AND namespace = $2 AND version = $3
	`
	cp := cursor.Checkpoint{Subscription: sub}
	var pos int64
	err := conn(ctx, r.pool).QueryRow(ctx, sql, sub.Name, sub.Namespace, sub.Version).Scan(&pos, &cp.TxHash, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, wrap("load checkpoint", err)
	}
	cp.Position = cursor.Position(pos)
	return &cp, nil
}

// SavePosition is a guarded upsert: a stored position is only ever raised.
func (r *CursorRepository) SavePosition(ctx context.Context, sub cursor.Subscription, pos cursor.Position, txHash string) error {
	const sql = `
		INSERT INTO subscription_cursors (name, namespace, version, position, tx_hash, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (name, namespace, version) DO UPDATE SET
			position = EXCLUDED.position,
			tx_hash = EXCLUDED.tx_hash,
			updated_at = EXCLUDED.updated_at
		WHERE subscription_cursors.position < EXCLUDED.position
	`
	_, err := conn(ctx, r.pool).Exec(ctx, sql, sub.Name, sub.Namespace, sub.Version, int64(pos), nullIfEmptyText(txHash))
	return wrap("save position", err)
}

// ListCheckpoints returns every stored subscription, most recently updated
// first.
func (r *CursorRepository) ListCheckpoints(ctx context.Context) ([]cursor.Checkpoint, error) {
	const sql = `
		SELECT name, namespace, version, position, COALESCE(tx_hash, ''), updated_at
		FROM subscription_cursors
		ORDER BY updated_at DESC
	`
	rows, err := conn(ctx, r.pool).Query(ctx, sql)
	if err != nil {
		return nil, wrap("list checkpoints", err)
	}
	defer rows.Close()

	var out []cursor.Checkpoint
	for rows.Next() {
		var (
			cp  cursor.Checkpoint
			pos int64
		)
		if err := rows.Scan(&cp.Subscription.Name, &cp.Subscription.Namespace, &cp.Subscription.Version, &pos, &cp.TxHash, &cp.UpdatedAt); err != nil {
			return nil, wrap("scan checkpoint", err)
		}
		cp.Position = cursor.Position(pos)
		out = append(out, cp)
	}
	return out, wrap("list checkpoints", rows.Err())
}

// Stats counts the projected rows.
func (r *CursorRepository) Stats(ctx context.Context) (storage.Stats, error) {
	const sql = `
		SELECT
			(SELECT COUNT(*) FROM labor_markets),
			(SELECT COUNT(*) FROM service_requests),
			(SELECT COUNT(*) FROM submissions),
			(SELECT COUNT(*) FROM reviews)
	`
	var s storage.Stats
	err := conn(ctx, r.pool).QueryRow(ctx, sql).Scan(&s.LaborMarkets, &s.ServiceRequests, &s.Submissions, &s.Reviews)
	if err != nil {
		return storage.Stats{}, wrap("count rows", err)
	}
	return s, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdao/lm-indexer/internal/domain/labormarket"
	"github.com/mdao/lm-indexer/internal/infrastructure/migrate"
	"github.com/mdao/lm-indexer/internal/storage"
)

func TestWrapClassifiesTransientErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{name: "serialization failure", err: &pgconn.PgError{Code: "40001"}, transient: true},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, transient: true},
		{name: "connection failure", err: &pgconn.PgError{Code: "08006"}, transient: true},
		{name: "too many connections", err: &pgconn.PgError{Code: "53300"}, transient: true},
		{name: "admin shutdown", err: &pgconn.PgError{Code: "57P01"}, transient: true},
		{name: "deadline", err: context.DeadlineExceeded, transient: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, transient: false},
		{name: "syntax error", err: &pgconn.PgError{Code: "42601"}, transient: false},
		{name: "plain error", err: errors.New("boom"), transient: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrap("op", fmt.Errorf("inner: %w", tt.err))
			require.Error(t, err)
			assert.Equal(t, tt.transient, storage.IsTransient(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.NoError(t, wrap("op", nil))
}

func TestLaborMarketFilter(t *testing.T) {
	where, args := laborMarketFilter(labormarket.Search{
		Q:       "50%_off",
		Type:    labormarket.TypeAnalyze,
		Token:   []string{"USDC"},
		Project: []string{"ethereum"},
	})

	assert.Contains(t, where, "lm.type = $1")
	assert.Contains(t, where, "(lm.title ILIKE $2 OR lm.description ILIKE $2)")
	assert.Contains(t, where, "t.symbol = ANY($3)")
	assert.Contains(t, where, "p.slug = ANY($4)")
	assert.Equal(t, []any{"analyze", `%50\%\_off%`, []string{"USDC"}, []string{"ethereum"}}, args)

	where, args = laborMarketFilter(labormarket.Search{})
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestLaborMarketOrder(t *testing.T) {
	assert.Equal(t, "COALESCE(lm.title, '') DESC, lm.address ASC", laborMarketOrder(labormarket.Search{SortBy: labormarket.SortByTitle, Order: labormarket.OrderDesc}))
	assert.Equal(t, "service_request_count ASC, lm.address ASC", laborMarketOrder(labormarket.Search{SortBy: labormarket.SortByServiceRequests, Order: labormarket.OrderAsc}))
}

func TestDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: "5432", User: "indexer", Password: "p@ss", DBName: "labor_markets"}
	assert.Equal(t, "postgres://indexer:p%40ss@db:5432/labor_markets", cfg.DSN())
}

func TestEmbeddedMigrations(t *testing.T) {
	files, err := migrate.Files(migrationFS, "migrations")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "0001_init.sql", files[0].Name)
	assert.Contains(t, files[0].Up, "CREATE TABLE IF NOT EXISTS labor_markets")
	assert.NotContains(t, files[0].Up, "DROP TABLE")
	assert.Contains(t, files[1].Up, "subscription_cursors")
}

type recordingExecer struct {
	errs  []error
	stmts []string
}

func (r *recordingExecer) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	r.stmts = append(r.stmts, sql)
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return pgconn.CommandTag{}, err
	}
	return pgconn.CommandTag{}, nil
}

func TestApplyMigrationRecordsFile(t *testing.T) {
	tx := &recordingExecer{}
	file := migrate.File{Name: "0001_init.sql", Up: "CREATE TABLE IF NOT EXISTS t (id INT)"}

	require.NoError(t, applyMigration(context.Background(), tx, file))
	require.Len(t, tx.stmts, 2)
	assert.Equal(t, file.Up, tx.stmts[0])
	assert.Contains(t, tx.stmts[1], "INSERT INTO "+migrate.Table)
}

func TestApplyMigrationFailsOnDDLError(t *testing.T) {
	tx := &recordingExecer{errs: []error{&pgconn.PgError{Code: "42P07", Message: `relation "t" already exists`}}}
	file := migrate.File{Name: "0001_init.sql", Up: "CREATE TABLE t (id INT)"}

	err := applyMigration(context.Background(), tx, file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exec migration 0001_init.sql")
	assert.Len(t, tx.stmts, 1, "nothing may run after a failed statement")
}

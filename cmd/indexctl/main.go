package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mdao/lm-indexer/internal/application/factories/infrastructure"
	"github.com/mdao/lm-indexer/internal/cli"
	"github.com/mdao/lm-indexer/internal/config"
	"github.com/mdao/lm-indexer/internal/domain/cursor"
	"github.com/mdao/lm-indexer/internal/infrastructure/postgres"
	"github.com/mdao/lm-indexer/internal/storage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := cli.NewRootCommand(openBackend)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}

type backend struct {
	factory *infrastructure.Factory
	stores  *infrastructure.Stores
	cursors infrastructure.CheckpointStore
}

func openBackend(ctx context.Context, cfg *config.Config) (cli.Backend, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	factory := infrastructure.NewFactory(cfg, logger)

	stores, err := factory.Stores(ctx)
	if err != nil {
		factory.Close()
		return nil, err
	}
	cursors, err := factory.CursorStore(ctx)
	if err != nil {
		factory.Close()
		return nil, err
	}
	return &backend{factory: factory, stores: stores, cursors: cursors}, nil
}

func (b *backend) Migrate(ctx context.Context) ([]string, error) {
	pool, err := b.factory.Postgres(ctx)
	if err != nil {
		return nil, err
	}
	return postgres.Migrate(ctx, pool)
}

func (b *backend) Stats(ctx context.Context) (storage.Stats, error) {
	return b.stores.Cursors.Stats(ctx)
}

func (b *backend) LoadCheckpoint(ctx context.Context, sub cursor.Subscription) (*cursor.Checkpoint, error) {
	return b.cursors.LoadCheckpoint(ctx, sub)
}

func (b *backend) ListCheckpoints(ctx context.Context) ([]cursor.Checkpoint, error) {
	return b.cursors.ListCheckpoints(ctx)
}

func (b *backend) Close() {
	b.factory.Close()
}

package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pgxpool "github.com/jackc/pgx/v5/pgxpool"
	go_redis "github.com/redis/go-redis/v9"

	"github.com/mdao/lm-indexer/internal/config"
	"github.com/mdao/lm-indexer/internal/domain/cursor"
	"github.com/mdao/lm-indexer/internal/infrastructure/kafka"
	"github.com/mdao/lm-indexer/internal/infrastructure/postgres"
	"github.com/mdao/lm-indexer/internal/infrastructure/redis"
	"github.com/mdao/lm-indexer/internal/infrastructure/sqlite"
	"github.com/mdao/lm-indexer/internal/storage"
)

const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

// Factory lazily builds the infrastructure clients of one process and closes
// whatever it built.
type Factory struct {
	cfg    *config.Config
	logger *slog.Logger

	pgPool   *pgxpool.Pool
	redisCli *go_redis.Client
	sqlite   *sqlite.Store
	producer *kafka.Producer
}

func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		cfg:    cfg,
		logger: logger,
	}
}

func (f *Factory) Postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if f.pgPool != nil {
		return f.pgPool, nil
	}

	var pool *pgxpool.Pool
	var err error

	for i := 0; i < connectAttempts; i++ {
		pool, err = postgres.NewClient(ctx, postgres.Config{
			Host:     f.cfg.Postgres.Host,
			Port:     f.cfg.Postgres.Port,
			User:     f.cfg.Postgres.User,
			Password: f.cfg.Postgres.Password,
			DBName:   f.cfg.Postgres.DBName,
			MaxConns: f.cfg.Postgres.MaxConns,
		})
		if err == nil {
			break
		}
		f.logger.Warn("failed to connect to postgres, retrying",
			"attempt", i+1, "max", connectAttempts, "backoff", connectBackoff, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectBackoff):
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to init postgres after retries: %w", err)
	}

	f.pgPool = pool
	return pool, nil
}

// Stores are the Postgres-backed projection repositories.
type Stores struct {
	Tx              *postgres.TxManager
	LaborMarkets    *postgres.LaborMarketRepository
	ServiceRequests *postgres.ServiceRequestRepository
	Submissions     *postgres.SubmissionRepository
	Cursors         *postgres.CursorRepository
}

func (f *Factory) Stores(ctx context.Context) (*Stores, error) {
	pool, err := f.Postgres(ctx)
	if err != nil {
		return nil, err
	}
	return &Stores{
		Tx:              postgres.NewTxManager(pool),
		LaborMarkets:    postgres.NewLaborMarketRepository(pool),
		ServiceRequests: postgres.NewServiceRequestRepository(pool),
		Submissions:     postgres.NewSubmissionRepository(pool),
		Cursors:         postgres.NewCursorRepository(pool),
	}, nil
}

// CheckpointStore is a cursor store that can also list every subscription.
type CheckpointStore interface {
	storage.CursorStore
	ListCheckpoints(ctx context.Context) ([]cursor.Checkpoint, error)
}

// CursorStore returns the cursor backend selected by Cursor.Backend.
func (f *Factory) CursorStore(ctx context.Context) (CheckpointStore, error) {
	switch f.cfg.Cursor.Backend {
	case "sqlite":
		if f.sqlite != nil {
			return f.sqlite, nil
		}
		store, err := sqlite.Open(f.cfg.Cursor.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite cursor store: %w", err)
		}
		f.sqlite = store
		return store, nil
	default:
		pool, err := f.Postgres(ctx)
		if err != nil {
			return nil, err
		}
		return postgres.NewCursorRepository(pool), nil
	}
}

func (f *Factory) Redis(ctx context.Context) (*go_redis.Client, error) {
	if f.redisCli != nil {
		return f.redisCli, nil
	}

	client, err := redis.NewClient(ctx, redis.Config{
		Addr:     f.cfg.Redis.Addr,
		Password: f.cfg.Redis.Password,
		DB:       f.cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init redis: %w", err)
	}

	f.redisCli = client
	return client, nil
}

func (f *Factory) Subscription() cursor.Subscription {
	return cursor.Subscription{
		Name:      f.cfg.Feed.Name,
		Namespace: f.cfg.Feed.Namespace,
		Version:   f.cfg.Feed.Version,
	}
}

func (f *Factory) Source() *kafka.Source {
	return kafka.NewSource(kafka.SourceConfig{
		Brokers:   f.cfg.Kafka.Brokers,
		Topic:     f.cfg.Kafka.Topic,
		Partition: f.cfg.Kafka.Partition,
		Limit:     f.cfg.Feed.Limit,
	}, f.logger)
}

func (f *Factory) Producer() *kafka.Producer {
	if f.producer == nil {
		f.producer = kafka.NewProducer(kafka.Config{
			Brokers:   f.cfg.Kafka.Brokers,
			Topic:     f.cfg.Kafka.Topic,
			Partition: f.cfg.Kafka.Partition,
		})
	}
	return f.producer
}

func (f *Factory) Close() {
	if f.producer != nil {
		if err := f.producer.Close(); err != nil {
			f.logger.Warn("failed to close kafka producer", "error", err)
		}
	}
	if f.sqlite != nil {
		if err := f.sqlite.Close(); err != nil {
			f.logger.Warn("failed to close sqlite cursor store", "error", err)
		}
	}
	if f.pgPool != nil {
		f.pgPool.Close()
	}
	if f.redisCli != nil {
		f.redisCli.Close()
	}
}

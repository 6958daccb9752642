package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mdao/lm-indexer/internal/domain/labormarket"
	"github.com/mdao/lm-indexer/internal/domain/validation"
)

// Commander is the subset of *redis.Client used by this package.
type Commander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

var _ Commander = (*redis.Client)(nil)

// LaborMarketCache keeps recently read labor markets for a short TTL. Cache
// failures are logged and treated as misses.
type LaborMarketCache struct {
	client Commander
	ttl    time.Duration
	logger *slog.Logger
}

func NewLaborMarketCache(client Commander, ttl time.Duration, logger *slog.Logger) *LaborMarketCache {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &LaborMarketCache{client: client, ttl: ttl, logger: logger}
}

func laborMarketKey(address string) string {
	return fmt.Sprintf("labor-market:%s", validation.NormalizeAddress(address))
}

func (c *LaborMarketCache) Get(ctx context.Context, address string) (*labormarket.LaborMarket, bool) {
	val, err := c.client.Get(ctx, laborMarketKey(address)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("labor market cache read failed", "address", address, "error", err)
		}
		return nil, false
	}
	var lm labormarket.LaborMarket
	if err := json.Unmarshal([]byte(val), &lm); err != nil {
		c.logger.Warn("labor market cache entry is corrupt", "address", address, "error", err)
		return nil, false
	}
	return &lm, true
}

func (c *LaborMarketCache) Set(ctx context.Context, lm *labormarket.LaborMarket) {
	data, err := json.Marshal(lm)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, laborMarketKey(lm.Address), data, c.ttl).Err(); err != nil {
		c.logger.Warn("labor market cache write failed", "address", lm.Address, "error", err)
	}
}

func (c *LaborMarketCache) Invalidate(ctx context.Context, address string) {
	if err := c.client.Del(ctx, laborMarketKey(address)).Err(); err != nil {
		c.logger.Warn("labor market cache invalidate failed", "address", address, "error", err)
	}
}

package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/types"
)

const weightsCacheKey = "memflow:router_weights:latest"

// WeightsCache keeps the active router weight set in Redis so that
// multiple engine instances pick up adjustments without hitting the
// database. The cache is best effort: every method is safe to call with
// a nil client and degrades to a miss.
type WeightsCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewWeightsCache wraps the Redis client. A nil client produces a cache
// that always misses.
func NewWeightsCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *WeightsCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &WeightsCache{
		client: client,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "weights_cache")),
	}
}

// Get returns the cached weight set, or (nil, nil) on a miss. Decode
// failures are treated as misses so a corrupt cache entry never blocks
// loading from the store.
func (c *WeightsCache) Get(ctx context.Context) (*types.RouterWeights, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	payload, err := c.client.Get(ctx, weightsCacheKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var w types.RouterWeights
	if err := json.Unmarshal(payload, &w); err != nil {
		c.logger.Warn("corrupt cached weights, treating as miss", zap.Error(err))
		return nil, nil
	}
	if err := w.Validate(); err != nil {
		c.logger.Warn("invalid cached weights, treating as miss", zap.Error(err))
		return nil, nil
	}
	return &w, nil
}

// Set stores the weight set with the configured TTL.
func (c *WeightsCache) Set(ctx context.Context, w *types.RouterWeights) error {
	if c == nil || c.client == nil {
		return nil
	}
	payload, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, weightsCacheKey, payload, c.ttl).Err()
}

// Invalidate drops the cached entry.
func (c *WeightsCache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, weightsCacheKey).Err()
}

package affiliate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/radiusdt/affiliate-ledger/internal/models"
	"github.com/redis/go-redis/v9"
)

// StatsCache caches stats summaries. Key resolves the current versioned key
// for a window; it must be taken before the summary is computed so a write
// racing the computation leaves the entry unreachable. Invalidate is called
// after every write that can change an affiliate's summary.
type StatsCache interface {
	Key(ctx context.Context, affiliateID string, days int, day string) (string, error)
	Get(ctx context.Context, key string) (*models.AffiliateStatsSummary, bool, error)
	Set(ctx context.Context, key string, summary *models.AffiliateStatsSummary) error
	Invalidate(ctx context.Context, affiliateID string) error
}

// RedisStatsCache keys summaries by a per-affiliate version counter so an
// invalidation is a single INCR and stale entries simply expire.
type RedisStatsCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStatsCache(client *redis.Client, ttl time.Duration) *RedisStatsCache {
	return &RedisStatsCache{client: client, ttl: ttl}
}

func versionKey(affiliateID string) string {
	return fmt.Sprintf("stats:affiliate:%s:version", affiliateID)
}

func (c *RedisStatsCache) Key(ctx context.Context, affiliateID string, days int, day string) (string, error) {
	v, err := c.client.Get(ctx, versionKey(affiliateID)).Result()
	if errors.Is(err, redis.Nil) {
		v = "0"
	} else if err != nil {
		return "", err
	}
	return fmt.Sprintf("stats:affiliate:%s:v%s:%d:%s", affiliateID, v, days, day), nil
}

func (c *RedisStatsCache) Get(ctx context.Context, key string) (*models.AffiliateStatsSummary, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var summary models.AffiliateStatsSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, false, err
	}
	return &summary, true, nil
}

func (c *RedisStatsCache) Set(ctx context.Context, key string, summary *models.AffiliateStatsSummary) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

func (c *RedisStatsCache) Invalidate(ctx context.Context, affiliateID string) error {
	return c.client.Incr(ctx, versionKey(affiliateID)).Err()
}

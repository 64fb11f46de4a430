package database

import (
	"context"
	"fmt"

	"github.com/radiusdt/affiliate-ledger/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisDB holds the client used by the stats summary cache.
type RedisDB struct {
	Client *redis.Client
	logger *zap.Logger
}

func redisOptions(cfg config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ClientName:   applicationName,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

// NewRedisDB connects and pings. Callers treat an error as "run without the
// stats cache".
func NewRedisDB(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*RedisDB, error) {
	client := redis.NewClient(redisOptions(cfg))

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("connected to Redis",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
		zap.Duration("stats_ttl", cfg.StatsTTL),
	)
	return &RedisDB{Client: client, logger: logger}, nil
}

func (r *RedisDB) Close() error {
	if r.Client == nil {
		return nil
	}
	r.logger.Info("stats cache client closed")
	return r.Client.Close()
}

// Health backs the "redis" entry of /health.
func (r *RedisDB) Health(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

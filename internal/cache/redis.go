// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/frontlogic/taqbridge/internal/metrics"
	"github.com/frontlogic/taqbridge/internal/worker"
)

// keyPrefix namespaces check results in a possibly shared database.
const keyPrefix = "check:"

func redisKey(reportID string) string {
	return keyPrefix + reportID
}

// RedisCache is a Redis-backed implementation of Cache.
type RedisCache struct {
	client *redis.Client
	logger zerolog.Logger
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
}

// NewRedisCache creates a new Redis-backed cache.
func NewRedisCache(config RedisConfig, logger zerolog.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", config.Addr).
		Int("db", config.DB).
		Msg("connected to Redis cache")

	return &RedisCache{
		client: client,
		logger: logger,
	}, nil
}

// Get retrieves a cached check result from Redis.
func (c *RedisCache) Get(reportID string) (worker.Message, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	val, err := c.client.Get(ctx, redisKey(reportID)).Bytes()
	if err == redis.Nil {
		metrics.CheckCacheOpsTotal.WithLabelValues("redis", "miss").Inc()
		return worker.Message{}, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("reportId", reportID).Msg("redis get failed")
		metrics.CheckCacheOpsTotal.WithLabelValues("redis", "miss").Inc()
		return worker.Message{}, false
	}

	var msg worker.Message
	if err := json.Unmarshal(val, &msg); err != nil {
		c.logger.Warn().Err(err).Str("reportId", reportID).Msg("cached check result unreadable")
		metrics.CheckCacheOpsTotal.WithLabelValues("redis", "miss").Inc()
		return worker.Message{}, false
	}

	metrics.CheckCacheOpsTotal.WithLabelValues("redis", "hit").Inc()
	return msg, true
}

// Set stores a check result in Redis with TTL.
func (c *RedisCache) Set(reportID string, msg worker.Message, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Warn().Err(err).Str("reportId", reportID).Msg("check result not serializable")
		return
	}
	if err := c.client.Set(ctx, redisKey(reportID), data, ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("reportId", reportID).Msg("redis set failed")
		return
	}
	metrics.CheckCacheOpsTotal.WithLabelValues("redis", "set").Inc()
}

// Delete removes a report's cached result.
func (c *RedisCache) Delete(reportID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, redisKey(reportID)).Err(); err != nil {
		c.logger.Warn().Err(err).Str("reportId", reportID).Msg("redis delete failed")
	}
}

// Clear removes every cached check result. Only keys under the check
// prefix are touched; the database may be shared.
func (c *RedisCache) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Warn().Err(err).Str("key", iter.Val()).Msg("redis delete failed")
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn().Err(err).Msg("redis scan failed")
	}
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// HealthCheck checks if Redis is available.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

var _ Cache = (*RedisCache)(nil)

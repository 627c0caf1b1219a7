package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"carinspect/internal/config"

	"github.com/redis/go-redis/v9"
)

// DefaultPresenceTTL bounds how long a connection that never said goodbye is considered online.
const DefaultPresenceTTL = 2 * time.Hour

// RedisPresenceRepository keeps live connection ids per user in Redis sets so
// every API instance sees the same presence.
type RedisPresenceRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient builds a client from configuration without connecting.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	client := redis.NewClient(options)

	return client
}

func NewRedisPresenceRepository(client *redis.Client, ttl time.Duration) *RedisPresenceRepository {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &RedisPresenceRepository{
		client: client,
		ttl:    ttl,
	}
}

func presenceKey(userID int64) string {
	return "presence:" + strconv.FormatInt(userID, 10)
}

func (r *RedisPresenceRepository) AddConnection(ctx context.Context, userID int64, connID string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	key := presenceKey(userID)
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, key, connID)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add connection to redis: %w", err)
	}
	return nil
}

func (r *RedisPresenceRepository) RemoveConnection(ctx context.Context, userID int64, connID string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.SRem(ctx, presenceKey(userID), connID).Err(); err != nil {
		return fmt.Errorf("failed to remove connection from redis: %w", err)
	}
	return nil
}

func (r *RedisPresenceRepository) IsOnline(ctx context.Context, userID int64) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	n, err := r.client.SCard(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read presence from redis: %w", err)
	}
	return n > 0, nil
}

func (r *RedisPresenceRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	redisKey := "rate_limit:" + key
	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	if count == 1 {
		r.client.Expire(ctx, redisKey, window)
	}

	return count <= int64(limit), nil
}

// Ping checks that Redis answers.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close is safe on a nil client.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}

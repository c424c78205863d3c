package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mwcooley99/cbl-lti-app/internal/config"

	"github.com/go-redis/redis/v8"
)

type RedisClient struct {
	client *redis.Client
	cfg    *config.Config
}

func NewRedisClient(cfg *config.Config) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return NewRedisClientFrom(rdb, cfg), nil
}

// NewRedisClientFrom wraps an existing client, as tests do with miniredis.
func NewRedisClientFrom(rdb *redis.Client, cfg *config.Config) *RedisClient {
	return &RedisClient{client: rdb, cfg: cfg}
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}

func (r *RedisClient) Client() *redis.Client {
	return r.client
}

// Key namespaces a key under the configured prefix.
func (r *RedisClient) Key(parts ...string) string {
	return strings.Join(append([]string{r.cfg.Redis.KeyPrefix}, parts...), ":")
}

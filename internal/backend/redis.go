package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agatticelli/ssm-parameter-cache/internal/parameter"
)

// redisGetter is the subset of the go-redis client used by RedisBackend.
type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisConfig configures a Redis parameter source.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // prepended to every parameter name
}

// RedisBackend reads parameters stored as plain Redis strings. It is meant
// for local development and tests, where Parameter Store is not available.
type RedisBackend struct {
	client redisGetter
	closer func() error
	prefix string
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBackend{
		client: client,
		closer: client.Close,
		prefix: cfg.Prefix,
	}, nil
}

// Fetch returns the string stored at prefix+key.
func (b *RedisBackend) Fetch(ctx context.Context, key string) (string, error) {
	val, err := b.client.Get(ctx, b.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", parameter.NewNotFoundError(key, err)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", parameter.NewTransientError(key, err)
		}
		var replyErr redis.Error
		if errors.As(err, &replyErr) {
			// The server answered, e.g. WRONGTYPE.
			return "", parameter.NewBackendError(key, err)
		}
		return "", parameter.NewTransientError(key, fmt.Errorf("redis get error: %w", err))
	}
	return val, nil
}

// Name implements Named.
func (b *RedisBackend) Name() string {
	return "redis"
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}

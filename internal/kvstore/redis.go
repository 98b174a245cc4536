package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/helixir/research-session-service/internal/config"
	"github.com/helixir/research-session-service/internal/domain"
)

// redisConnectTimeout bounds the connectivity check at construction time.
const redisConnectTimeout = 5 * time.Second

// RedisStore persists session state in Redis. Values are plain strings and
// writes are last-write-wins. An optional TTL expires abandoned sessions.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// Compile-time check that *RedisStore implements Store.
var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg *config.RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Address(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Int("db", cfg.DB).
		Dur("key_ttl", cfg.KeyTTL).
		Msg("redis store connected")

	return &RedisStore{
		client: client,
		ttl:    cfg.KeyTTL,
		logger: logger,
	}, nil
}

// Get returns the value stored under key, or domain.ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.NewNotFoundError("session key", key)
		}
		return "", domain.NewStorageError("get", key, err)
	}
	return value, nil
}

// Set stores value under key, refreshing the configured TTL.
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, s.ttl).Err(); err != nil {
		return domain.NewStorageError("set", key, err)
	}
	return nil
}

// SetMulti stores every entry of kv atomically via MULTI/EXEC.
func (s *RedisStore) SetMulti(ctx context.Context, kv map[string]string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range sortedKeys(kv) {
			pipe.Set(ctx, k, kv[k], s.ttl)
		}
		return nil
	})
	if err != nil {
		return domain.NewStorageError("set_multi", "", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return domain.NewStorageError("delete", key, err)
	}
	return nil
}

// Ping verifies the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Name identifies the backend.
func (s *RedisStore) Name() string {
	return "redis"
}

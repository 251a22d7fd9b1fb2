package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to Redis and verifies the connection with a ping
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return client, nil
}

// RedisStore keeps settings in Redis so several processes share one selection.
// Keys that were never written fall back to the configured defaults.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	defaults map[string]string
}

// NewRedisStore creates a store on an existing client
func NewRedisStore(client *redis.Client, prefix string, overrides map[string]string) *RedisStore {
	return &RedisStore{
		client:   client,
		prefix:   prefix,
		defaults: DefaultSettings(overrides),
	}
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + key
}

// Get returns the stored value for key or its default
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	if !IsKnownKey(key) {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	value, err := s.client.Get(ctx, s.redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return s.defaults[key], nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, nil
}

// Set writes value under key with no expiry
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if !IsKnownKey(key) {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	if err := s.client.Set(ctx, s.redisKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

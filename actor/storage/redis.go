package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/teilomillet/plexity/config"
	"github.com/teilomillet/plexity/errors"
	"go.uber.org/zap"
)

const defaultRedisPrefix = "plexity:kv:"

// RedisKeyValueStore stores each value as a JSON string under prefix+key.
type RedisKeyValueStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisKeyValueStore connects and pings the server.
func NewRedisKeyValueStore(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*RedisKeyValueStore, error) {
	if cfg.Address == "" {
		return nil, errors.NewConfigError("redis address must not be empty", nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.NewStorageError(config.StoreRedis, fmt.Sprintf("connect to %s", cfg.Address), err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisKeyValueStore{client: client, prefix: prefix, logger: logger}, nil
}

// Key returns the Redis key a store key is written to.
func (s *RedisKeyValueStore) Key(key string) string {
	return s.prefix + key
}

// SetValue implements KeyValueStore.
func (s *RedisKeyValueStore) SetValue(ctx context.Context, key string, value any) error {
	if err := ValidateKey(key); err != nil {
		return errors.NewStorageError(config.StoreRedis, "set value", err)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return errors.NewStorageError(config.StoreRedis, "encode value", err)
	}

	if err := s.client.Set(ctx, s.Key(key), data, 0).Err(); err != nil {
		return errors.NewStorageError(config.StoreRedis, "set value", err)
	}
	s.logger.Debug("stored value in redis",
		zap.String("key", s.Key(key)),
		zap.Int("bytes", len(data)),
		zap.String("run_id", RunIDFrom(ctx)),
	)
	return nil
}

func (s *RedisKeyValueStore) Close() error {
	return s.client.Close()
}

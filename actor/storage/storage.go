// Package storage provides the two result stores a run writes to:
//
//   - Dataset: append-only, one record per run
//   - KeyValueStore: named values, used for the raw completion
//
// Backends are chosen by configuration: a local directory layout (the
// default), SQLite or MySQL tables, Redis keys, or an AMQP exchange for
// the dataset.
package storage

import (
	"context"
	"fmt"
	"regexp"

	"github.com/teilomillet/plexity/config"
	"github.com/teilomillet/plexity/errors"
	"go.uber.org/zap"
)

// Dataset receives one record per run.
type Dataset interface {
	PushData(ctx context.Context, item any) error
	Close() error
}

// KeyValueStore stores JSON-serializable values under a key.
type KeyValueStore interface {
	SetValue(ctx context.Context, key string, value any) error
	Close() error
}

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9!\-_.'()]{1,256}$`)

// ValidateKey rejects keys that cannot be used as a file name or table key.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("invalid key %q: use 1-256 characters from a-zA-Z0-9!-_.'()", key)
	}
	return nil
}

type runIDKey struct{}

// WithRunID tags ctx with the run identifier. Backends that keep metadata
// next to the record store it alongside.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFrom returns the run identifier set by WithRunID, or "".
func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// NewDataset opens the dataset selected in cfg.
func NewDataset(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Dataset, error) {
	ds := cfg.Storage.Dataset
	switch ds.Type {
	case config.StoreLocal:
		return NewLocalDataset(cfg.Actor.StorageDir)
	case config.StoreSQLite, config.StoreMySQL:
		return OpenSQLStore(ctx, ds.Type, ds.DSN)
	case config.StoreAMQP:
		if ds.AMQP == nil {
			return nil, errors.NewConfigError("amqp dataset selected without an amqp section", nil)
		}
		return NewAMQPDataset(*ds.AMQP, logger)
	default:
		return nil, errors.NewConfigError(fmt.Sprintf("unknown dataset type %q", ds.Type), nil)
	}
}

// NewKeyValueStore opens the key-value store selected in cfg.
func NewKeyValueStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (KeyValueStore, error) {
	kv := cfg.Storage.KeyValue
	switch kv.Type {
	case config.StoreLocal:
		return NewLocalKeyValueStore(cfg.Actor.StorageDir)
	case config.StoreSQLite, config.StoreMySQL:
		return OpenSQLStore(ctx, kv.Type, kv.DSN)
	case config.StoreRedis:
		if kv.Redis == nil {
			return nil, errors.NewConfigError("redis key-value store selected without a redis section", nil)
		}
		return NewRedisKeyValueStore(ctx, *kv.Redis, logger)
	default:
		return nil, errors.NewConfigError(fmt.Sprintf("unknown key-value type %q", kv.Type), nil)
	}
}

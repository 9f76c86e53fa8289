package hostbridge

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// Store is a small string key/value store for launcher settings.
type Store interface {
	// Get returns ok=false when key has never been set.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

type StoreKind string

const (
	StoreYAML   StoreKind = "yaml"
	StoreSQLite StoreKind = "sqlite"
	StoreRedis  StoreKind = "redis"
)

// StoreSettings selects and configures a Store backend.
type StoreSettings struct {
	Kind      StoreKind `mapstructure:"kind"`
	YAMLPath  string    `mapstructure:"yaml-path"`
	SQLiteDSN string    `mapstructure:"sqlite-dsn"`
	RedisAddr string    `mapstructure:"redis-addr"`
	RedisKey  string    `mapstructure:"redis-key"`
	RedisDB   int       `mapstructure:"redis-db"`
	RedisPass string    `mapstructure:"redis-password"`
}

func OpenStore(ctx context.Context, s StoreSettings) (Store, error) {
	switch StoreKind(strings.ToLower(string(s.Kind))) {
	case StoreYAML, "":
		return NewYAMLStore(s.YAMLPath)
	case StoreSQLite:
		return NewSQLiteStore(s.SQLiteDSN)
	case StoreRedis:
		return NewRedisStore(ctx, RedisStoreOptions{
			Addr:     s.RedisAddr,
			Password: s.RedisPass,
			DB:       s.RedisDB,
			Key:      s.RedisKey,
		})
	default:
		return nil, errors.Errorf("unknown settings store %q", s.Kind)
	}
}

package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

// Config selects and configures a backend
type Config struct {
	Backend string // sqlite, redis or memory

	// SQLite
	Path string // database file, ":memory:" allowed

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Namespace     string // key prefix, usually the collection ID
}

// Open creates the store described by cfg
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case BackendSQLite, "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("%w: sqlite store path is required", types.ErrConfiguration)
		}
		if cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				return nil, types.StorageErr("create data dir", err)
			}
		}
		return NewSQLiteStorage(cfg.Path)

	case BackendRedis:
		addr := cfg.RedisAddr
		if addr == "" {
			addr = "localhost:6379"
		}
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, types.StorageErr("connect redis "+addr, err)
		}
		return NewRedisStore(client, cfg.Namespace), nil

	case BackendMemory:
		return NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
}

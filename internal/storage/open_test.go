package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("sqlite creates data dir", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "dir", "index.db")
		s, err := Open(ctx, Config{Backend: "sqlite", Path: path})
		require.NoError(t, err)
		defer s.Close()
		assert.Equal(t, BackendSQLite, s.Backend())
	})

	t.Run("sqlite requires path", func(t *testing.T) {
		_, err := Open(ctx, Config{Backend: "sqlite"})
		assert.ErrorIs(t, err, types.ErrConfiguration)
	})

	t.Run("memory", func(t *testing.T) {
		s, err := Open(ctx, Config{Backend: "memory"})
		require.NoError(t, err)
		assert.Equal(t, BackendMemory, s.Backend())
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		s, err := Open(ctx, Config{Backend: "redis", RedisAddr: mr.Addr(), Namespace: "ns"})
		require.NoError(t, err)
		defer s.Close()
		assert.Equal(t, BackendRedis, s.Backend())
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := Open(ctx, Config{Backend: "qdrant"})
		assert.ErrorIs(t, err, ErrUnknownBackend)
		assert.ErrorIs(t, err, types.ErrConfiguration)
	})
}

package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/fingerprint"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

func TestRedisKeyLayout(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "vault1")
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, testDoc("a.md", baseTime), testChunks("a.md", "x", "y"), [][]float32{{1}, {2}}, "m"))
	require.NoError(t, s.SetMarkers(ctx, baseTime, "m"))

	fp := fingerprint.Fingerprint("a.md")
	assert.True(t, mr.Exists("vault1:rec:"+fingerprint.RecordID(fp, 0)))
	assert.True(t, mr.Exists("vault1:rec:"+fingerprint.RecordID(fp, 1)))

	members, err := mr.SMembers("vault1:fp:" + fp)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	assert.Equal(t, "a.md", mr.HGet("vault1:docs", fp))

	model, err := mr.Get("vault1:marker:embedding_model")
	require.NoError(t, err)
	assert.Equal(t, "m", model)
}

func TestRedisNamespacesAreIsolated(t *testing.T) {
	mr := miniredis.RunT(t)
	a := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "a")
	b := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "b")
	defer a.Close()
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, a.Upsert(ctx, testDoc("x.md", baseTime), testChunks("x.md", "x"), [][]float32{{1}}, "m"))
	require.NoError(t, b.Upsert(ctx, testDoc("y.md", baseTime), testChunks("y.md", "y"), [][]float32{{1}}, "m"))

	require.NoError(t, a.DestroyAndRecreate(ctx))

	n, err := b.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "destroying one namespace leaves others alone")
}

func TestRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}), "x")
	defer s.Close()
	mr.Close()

	_, err := s.Count(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrStorage)
}

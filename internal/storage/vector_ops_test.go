package storage

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

func TestSerializeVector(t *testing.T) {
	vec := []float32{0, 1.5, -2.25, float32(math.Pi)}

	blob := SerializeVector(vec)
	assert.Len(t, blob, len(vec)*4)
	assert.Equal(t, vec, DeserializeVector(blob))

	assert.Empty(t, DeserializeVector(nil))
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"scaled", []float32{1, 1}, []float32{5, 5}, 1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1}, []float32{1, 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestSortCandidates(t *testing.T) {
	now := time.Now()
	rec := func(path string, idx int, mtime time.Time) types.VectorRecord {
		return types.VectorRecord{DocumentPath: path, ChunkIndex: idx, ModifiedAt: mtime}
	}

	candidates := []candidate{
		{record: rec("z.md", 0, now), score: 0.5},
		{record: rec("b.md", 1, now), score: 0.9},
		{record: rec("b.md", 0, now), score: 0.9},
		{record: rec("a.md", 0, now), score: 0.9},
		{record: rec("c.md", 0, now.Add(time.Minute)), score: 0.9},
	}
	sortCandidates(candidates)

	got := make([]string, len(candidates))
	for i, c := range candidates {
		got[i] = fmt.Sprintf("%s#%d", c.record.DocumentPath, c.record.ChunkIndex)
	}
	assert.Equal(t, []string{"c.md#0", "a.md#0", "b.md#0", "b.md#1", "z.md#0"}, got)
}

func TestTopK(t *testing.T) {
	candidates := []candidate{{score: 0.1}, {score: 0.3}, {score: 0.2}}

	results := topK(candidates, 2)
	require.Len(t, results, 2)
	assert.Equal(t, 0.3, results[0].Score)
	assert.Equal(t, 0.2, results[1].Score)

	assert.Len(t, topK(candidates, 10), 3)
	assert.Empty(t, topK(candidates, 0))
}

func TestMtimeMarkerFormat(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)

	parsed, err := parseMtime(formatMtime(ts))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts))

	_, err = parseMtime("yesterday")
	assert.Error(t, err)
}

// TestVectorSearchOptimization verifies that the optimized vector search produces
// the same ranking as the fallback implementation
func TestVectorSearchOptimization(t *testing.T) {
	if !VectorExtensionAvailable {
		t.Skip("Skipping test: sqlite-vec extension not available")
	}

	s := setupTestDB(t)
	defer s.Close()
	ctx := context.Background()
	seedVectors(t, s, 50, 16)

	query := make([]float32, 16)
	for i := range query {
		query[i] = float32(i) * 0.01
	}

	optimized, err := searchVectorOptimized(ctx, s.db, query, 10)
	if err != nil && isMissingFunction(err) {
		t.Skip("Skipping test: sqlite-vec extension not loaded")
	}
	require.NoError(t, err)

	fallback, err := searchVectorFallback(ctx, s.db, query, 10)
	require.NoError(t, err)

	require.Len(t, optimized, len(fallback))
	for i := range optimized {
		assert.InDelta(t, fallback[i].Score, optimized[i].Score, 1e-4)
	}
}

func seedVectors(tb testing.TB, s Store, docs, dim int) {
	tb.Helper()
	ctx := context.Background()
	for d := 0; d < docs; d++ {
		path := fmt.Sprintf("doc-%03d.md", d)
		vec := make([]float32, dim)
		for i := range vec {
			vec[i] = float32(math.Sin(float64(d*dim + i)))
		}
		err := s.Upsert(ctx, testDoc(path, baseTime.Add(time.Duration(d)*time.Second)),
			testChunks(path, path), [][]float32{vec}, "bench-model")
		require.NoError(tb, err)
	}
}

func BenchmarkVectorSearchFallback(b *testing.B) {
	s, err := NewSQLiteStorage(":memory:")
	require.NoError(b, err)
	defer s.Close()

	seedVectors(b, s, 1000, 384)
	query := make([]float32, 384)
	for i := range query {
		query[i] = float32(i) * 0.01
	}

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := searchVectorFallback(ctx, s.db, query, 10); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMemoryQuery(b *testing.B) {
	s := NewMemoryStore()
	seedVectors(b, s, 1000, 384)
	query := make([]float32, 384)
	for i := range query {
		query[i] = float32(i) * 0.01
	}

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Query(ctx, query, 10); err != nil {
			b.Fatal(err)
		}
	}
}

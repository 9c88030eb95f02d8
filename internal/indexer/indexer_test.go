package indexer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/embedder"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/exclusion"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/source"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/storage"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

var baseTime = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

// fakeEmbedder returns deterministic vectors and can be told to fail on
// texts containing a marker string
type fakeEmbedder struct {
	model string

	mu     sync.Mutex
	calls  int
	texts  []string
	failOn string
}

func newFakeEmbedder(model string) *fakeEmbedder {
	return &fakeEmbedder{model: model}
}

func (f *fakeEmbedder) ModelName() string { return f.model }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if f.failOn != "" && strings.Contains(text, f.failOn) {
			return nil, fmt.Errorf("%w: quota exceeded", types.ErrEmbeddingProvider)
		}
		f.texts = append(f.texts, text)
		vectors[i] = []float32{float32(len(text)), 1, float32(i)}
	}
	return vectors, nil
}

func (f *fakeEmbedder) setFailOn(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn = s
}

func (f *fakeEmbedder) embeddedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

func (f *fakeEmbedder) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = 0
	f.texts = nil
}

func note(path, content string, mtime time.Time) types.Document {
	return types.Document{
		Path:       path,
		Title:      strings.TrimSuffix(filepath.Base(path), ".md"),
		Content:    content,
		ModifiedAt: mtime,
	}
}

func setupVault() *source.Memory {
	return source.NewMemory("test-vault",
		note("daily/2024-05-01.md", "Went hiking. Saw a heron.", baseTime),
		note("projects/index.md", "Vector search project notes.", baseTime.Add(time.Hour)),
		note("reading/books.md", "读书笔记。第二句。", baseTime.Add(2*time.Hour)),
	)
}

func latestMtime(t *testing.T, store storage.Store) time.Time {
	t.Helper()
	m, err := store.LatestMtime(context.Background())
	require.NoError(t, err)
	require.NotNil(t, m)
	return *m
}

func TestIndexAll_FirstPass(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	emb := newFakeEmbedder("text-embedding-3-small")
	idx := New(store, emb, setupVault())

	result, err := idx.IndexAll(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, 3, result.IndexedCount)
	assert.Equal(t, 3, result.Total)
	assert.Empty(t, result.Errors)
	assert.False(t, result.Rebuilt)

	markers, err := store.Markers(ctx)
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-small", markers.ActiveEmbeddingModel)
	require.NotNil(t, markers.LatestMtime)
	assert.True(t, markers.LatestMtime.Equal(baseTime.Add(2*time.Hour)))
	assert.False(t, markers.RebuildPending)

	paths, err := store.AllDocumentPaths(ctx)
	require.NoError(t, err)
	assert.Len(t, paths, 3)

	records, err := store.DocumentRecords(ctx, "projects/index.md")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "index", records[0].Title)
	assert.Equal(t, "text-embedding-3-small", records[0].EmbeddingModel)
}

func TestIndexAll_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	emb := newFakeEmbedder("m")
	idx := New(store, emb, setupVault())

	_, err := idx.IndexAll(ctx, false)
	require.NoError(t, err)
	before, err := store.Count(ctx)
	require.NoError(t, err)
	emb.reset()

	result, err := idx.IndexAll(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 0, result.IndexedCount)
	assert.Equal(t, 0, result.Total)
	assert.Equal(t, 0, emb.embeddedCount())

	after, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestIndexAll_ChangedDocumentReplacesOldChunks(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	emb := newFakeEmbedder("m")
	vault := setupVault()

	long := strings.Repeat("A long paragraph about embeddings. ", 40)
	vault.Put(note("long.md", long, baseTime))

	idx := New(store, emb, vault)
	_, err := idx.IndexAll(ctx, false)
	require.NoError(t, err)

	records, err := store.DocumentRecords(ctx, "long.md")
	require.NoError(t, err)
	require.Greater(t, len(records), 1)

	vault.Put(note("long.md", "Now it is short.", baseTime.Add(3*time.Hour)))
	emb.reset()

	result, err := idx.IndexAll(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.IndexedCount)
	assert.Equal(t, 1, emb.embeddedCount())

	records, err = store.DocumentRecords(ctx, "long.md")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Now it is short.", records[0].Text)
	assert.True(t, latestMtime(t, store).Equal(baseTime.Add(3*time.Hour)))
}

func TestIndexAll_ModelChangeRebuilds(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	vault := setupVault()

	_, err := New(store, newFakeEmbedder("model-a"), vault).IndexAll(ctx, false)
	require.NoError(t, err)

	embB := newFakeEmbedder("model-b")
	result, err := New(store, embB, vault).IndexAll(ctx, false)
	require.NoError(t, err)

	assert.True(t, result.Rebuilt)
	assert.Equal(t, 3, result.IndexedCount)
	assert.Equal(t, 3, embB.embeddedCount())

	markers, err := store.Markers(ctx)
	require.NoError(t, err)
	assert.Equal(t, "model-b", markers.ActiveEmbeddingModel)
	assert.False(t, markers.RebuildPending)

	for path := range map[string]struct{}{"daily/2024-05-01.md": {}, "projects/index.md": {}, "reading/books.md": {}} {
		records, err := store.DocumentRecords(ctx, path)
		require.NoError(t, err)
		for _, r := range records {
			assert.Equal(t, "model-b", r.EmbeddingModel)
		}
	}
}

func TestIndexAll_CompatibleModelDoesNotRebuild(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	vault := setupVault()

	_, err := New(store, newFakeEmbedder("nomic-embed-text"), vault).IndexAll(ctx, false)
	require.NoError(t, err)

	emb := newFakeEmbedder("nomic-embed-text:latest")
	result, err := New(store, emb, vault).IndexAll(ctx, false)
	require.NoError(t, err)
	assert.False(t, result.Rebuilt)
	assert.Equal(t, 0, result.Total)
	assert.Equal(t, 0, emb.embeddedCount())
}

func TestIndexAll_PartialFailure(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	emb := newFakeEmbedder("m")
	emb.setFailOn("Vector search")
	idx := New(store, emb, setupVault())

	result, err := idx.IndexAll(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, 2, result.IndexedCount)
	assert.Equal(t, 3, result.Total)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "projects/index.md", result.Errors[0].Path)
	assert.Equal(t, types.StageEmbed, result.Errors[0].Stage)
	assert.ErrorIs(t, &result.Errors[0], types.ErrEmbeddingProvider)
	assert.Len(t, result.ErrorMessages(5), 1)

	// The marker covers every observed document; the failure is remembered
	assert.True(t, latestMtime(t, store).Equal(baseTime.Add(2*time.Hour)))
	markers, err := store.Markers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"projects/index.md"}, markers.FailedPaths)

	records, err := store.DocumentRecords(ctx, "projects/index.md")
	require.NoError(t, err)
	assert.Empty(t, records)

	// Next pass retries only the failed document
	emb.setFailOn("")
	emb.reset()
	result, err = idx.IndexAll(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.IndexedCount)
	assert.Equal(t, 1, emb.embeddedCount())

	records, err = store.DocumentRecords(ctx, "projects/index.md")
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.True(t, latestMtime(t, store).Equal(baseTime.Add(2*time.Hour)))

	markers, err = store.Markers(ctx)
	require.NoError(t, err)
	assert.Empty(t, markers.FailedPaths)
}

func TestIndexAll_PermanentFailureDoesNotReembedOthers(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	emb := newFakeEmbedder("m")
	emb.setFailOn("Went hiking") // the oldest document
	idx := New(store, emb, setupVault())

	result, err := idx.IndexAll(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, result.IndexedCount)
	require.Len(t, result.Errors, 1)

	for pass := 2; pass <= 4; pass++ {
		emb.reset()
		result, err = idx.IndexAll(ctx, false)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Total, "pass %d", pass)
		assert.Equal(t, 0, result.IndexedCount, "pass %d", pass)
		assert.Equal(t, 0, emb.embeddedCount(), "pass %d re-embedded unchanged documents", pass)
		require.Len(t, result.Errors, 1)
		assert.Equal(t, "daily/2024-05-01.md", result.Errors[0].Path)
	}
	assert.True(t, latestMtime(t, store).Equal(baseTime.Add(2*time.Hour)))
}

func TestIndexAll_ForgetsFailedDocumentRemovedFromSource(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	emb := newFakeEmbedder("m")
	emb.setFailOn("Vector search")
	vault := setupVault()
	idx := New(store, emb, vault)

	_, err := idx.IndexAll(ctx, false)
	require.NoError(t, err)

	vault.Remove("projects/index.md")
	result, err := idx.IndexAll(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total)

	markers, err := store.Markers(ctx)
	require.NoError(t, err)
	assert.Empty(t, markers.FailedPaths)
}

func TestIndexAll_Overwrite(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	emb := newFakeEmbedder("m")
	idx := New(store, emb, setupVault())

	_, err := idx.IndexAll(ctx, false)
	require.NoError(t, err)
	emb.reset()

	result, err := idx.IndexAll(ctx, true)
	require.NoError(t, err)
	assert.False(t, result.Rebuilt)
	assert.Equal(t, 3, result.IndexedCount)
	assert.Equal(t, 3, emb.embeddedCount())

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestIndexAll_Exclusions(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	vault := setupVault()
	secret := note("private/diary.md", "Secret thoughts.", baseTime.Add(4*time.Hour))
	secret.Metadata = map[string]any{"tags": []any{"personal"}}
	vault.Put(secret)
	vault.Put(note("archive/old.md", "Old stuff.", baseTime))

	idx := New(store, newFakeEmbedder("m"), vault,
		WithExclusions(exclusion.Parse("archive, #personal")))

	result, err := idx.IndexAll(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.IndexedCount)

	paths, err := store.AllDocumentPaths(ctx)
	require.NoError(t, err)
	assert.NotContains(t, paths, "archive/old.md")
	assert.NotContains(t, paths, "private/diary.md")

	// Newly excluded documents keep their records until garbage collection
	idx.SetExclusions(exclusion.Parse("reading"))
	_, err = idx.IndexAll(ctx, true)
	require.NoError(t, err)
	paths, err = store.AllDocumentPaths(ctx)
	require.NoError(t, err)
	assert.Contains(t, paths, "reading/books.md")
}

func TestIndexAll_NoEmbedder(t *testing.T) {
	store := storage.NewMemoryStore()
	idx := New(store, nil, setupVault())

	_, err := idx.IndexAll(context.Background(), false)
	assert.ErrorIs(t, err, types.ErrConfiguration)

	err = idx.IndexOne(context.Background(), "projects/index.md")
	assert.ErrorIs(t, err, types.ErrConfiguration)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIndexAll_ResumesUnfinishedRebuild(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	emb := newFakeEmbedder("m")
	idx := New(store, emb, setupVault())

	_, err := idx.IndexAll(ctx, false)
	require.NoError(t, err)

	// Simulate a crash after the destroy step of a rebuild
	require.NoError(t, store.SetRebuildPending(ctx))
	emb.reset()

	result, err := idx.IndexAll(ctx, false)
	require.NoError(t, err)
	assert.True(t, result.Rebuilt)
	assert.Equal(t, 3, result.IndexedCount)

	markers, err := store.Markers(ctx)
	require.NoError(t, err)
	assert.False(t, markers.RebuildPending)
}

func TestIndexAll_RebuildWithEmptySourceRecordsModel(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	vault := setupVault()

	_, err := New(store, newFakeEmbedder("model-a"), vault).IndexAll(ctx, false)
	require.NoError(t, err)

	empty := source.NewMemory("empty")
	result, err := New(store, newFakeEmbedder("model-b"), empty).IndexAll(ctx, false)
	require.NoError(t, err)
	assert.True(t, result.Rebuilt)
	assert.Equal(t, 0, result.Total)

	markers, err := store.Markers(ctx)
	require.NoError(t, err)
	assert.Equal(t, "model-b", markers.ActiveEmbeddingModel)
	assert.False(t, markers.RebuildPending)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIndexAll_EmptyDocument(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	vault := source.NewMemory("v", note("blank.md", "   \n\n ", baseTime))

	result, err := New(store, newFakeEmbedder("m"), vault).IndexAll(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.IndexedCount)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIndexAll_InvalidDocument(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	vault := setupVault()
	vault.Put(types.Document{Path: "no-mtime.md", Content: "text"})

	result, err := New(store, newFakeEmbedder("m"), vault).IndexAll(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.IndexedCount)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, types.StageChunk, result.Errors[0].Stage)
	assert.ErrorIs(t, &result.Errors[0], types.ErrMissingModTime)
}

func TestIndexAll_Progress(t *testing.T) {
	var mu sync.Mutex
	var calls [][2]int
	idx := New(storage.NewMemoryStore(), newFakeEmbedder("m"), setupVault(),
		WithProgress(func(done, total int) {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, [2]int{done, total})
		}))

	_, err := idx.IndexAll(context.Background(), false)
	require.NoError(t, err)

	require.Len(t, calls, 3)
	for i, c := range calls {
		assert.Equal(t, i+1, c[0])
		assert.Equal(t, 3, c[1])
	}
}

func TestIndexAll_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := storage.NewMemoryStore()
	_, err := New(store, newFakeEmbedder("m"), setupVault()).IndexAll(ctx, false)
	assert.ErrorIs(t, err, context.Canceled)

	markers, err := store.Markers(context.Background())
	require.NoError(t, err)
	assert.Nil(t, markers.LatestMtime)
}

// faultyStore injects failures into a working store
type faultyStore struct {
	storage.Store
	failUpsert  string
	failMarkers bool
	failDestroy bool
}

func (s *faultyStore) Upsert(ctx context.Context, doc *types.Document, chunks []types.Chunk, vectors [][]float32, model string) error {
	if doc.Path == s.failUpsert {
		return types.StorageErr("upsert", errors.New("disk full"))
	}
	return s.Store.Upsert(ctx, doc, chunks, vectors, model)
}

func (s *faultyStore) SetMarkers(ctx context.Context, mtime time.Time, model string) error {
	if s.failMarkers {
		return types.StorageErr("set markers", errors.New("disk full"))
	}
	return s.Store.SetMarkers(ctx, mtime, model)
}

func (s *faultyStore) DestroyAndRecreate(ctx context.Context) error {
	if s.failDestroy {
		return types.StorageErr("destroy", errors.New("locked"))
	}
	return s.Store.DestroyAndRecreate(ctx)
}

func TestIndexAll_PersistFailureIsPerDocument(t *testing.T) {
	ctx := context.Background()
	store := &faultyStore{Store: storage.NewMemoryStore(), failUpsert: "reading/books.md"}

	result, err := New(store, newFakeEmbedder("m"), setupVault()).IndexAll(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, result.IndexedCount)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, types.StagePersist, result.Errors[0].Stage)
	assert.ErrorIs(t, &result.Errors[0], types.ErrStorage)

	markers, err := store.Markers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"reading/books.md"}, markers.FailedPaths)
	assert.True(t, latestMtime(t, store).Equal(baseTime.Add(2*time.Hour)))
}

func TestIndexAll_MarkerFailureIsFatal(t *testing.T) {
	store := &faultyStore{Store: storage.NewMemoryStore(), failMarkers: true}

	_, err := New(store, newFakeEmbedder("m"), setupVault()).IndexAll(context.Background(), false)
	assert.ErrorIs(t, err, types.ErrStorage)
}

func TestIndexAll_RebuildFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	inner := storage.NewMemoryStore()
	_, err := New(inner, newFakeEmbedder("model-a"), setupVault()).IndexAll(ctx, false)
	require.NoError(t, err)

	store := &faultyStore{Store: inner, failDestroy: true}
	_, err = New(store, newFakeEmbedder("model-b"), setupVault()).IndexAll(ctx, false)
	assert.ErrorIs(t, err, types.ErrStorage)

	model, err := inner.ActiveEmbeddingModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, "model-a", model)
}

func TestIndexOne(t *testing.T) {
	ctx := context.Background()

	t.Run("indexes and records model on empty store", func(t *testing.T) {
		store := storage.NewMemoryStore()
		idx := New(store, newFakeEmbedder("m"), setupVault())

		require.NoError(t, idx.IndexOne(ctx, "projects/index.md"))

		markers, err := store.Markers(ctx)
		require.NoError(t, err)
		assert.Equal(t, "m", markers.ActiveEmbeddingModel)
		assert.Nil(t, markers.LatestMtime)

		records, err := store.DocumentRecords(ctx, "projects/index.md")
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})

	t.Run("does not move the mtime marker", func(t *testing.T) {
		store := storage.NewMemoryStore()
		vault := setupVault()
		idx := New(store, newFakeEmbedder("m"), vault)
		_, err := idx.IndexAll(ctx, false)
		require.NoError(t, err)
		before := latestMtime(t, store)

		vault.Put(note("projects/index.md", "Edited.", baseTime.Add(10*time.Hour)))
		require.NoError(t, idx.IndexOne(ctx, "projects/index.md"))
		assert.True(t, latestMtime(t, store).Equal(before))
	})

	t.Run("refuses incompatible model", func(t *testing.T) {
		store := storage.NewMemoryStore()
		vault := setupVault()
		_, err := New(store, newFakeEmbedder("model-a"), vault).IndexAll(ctx, false)
		require.NoError(t, err)

		err = New(store, newFakeEmbedder("model-b"), vault).IndexOne(ctx, "projects/index.md")
		assert.ErrorIs(t, err, types.ErrStaleIndex)
	})

	t.Run("missing document", func(t *testing.T) {
		idx := New(storage.NewMemoryStore(), newFakeEmbedder("m"), setupVault())
		assert.ErrorIs(t, idx.IndexOne(ctx, "nope.md"), types.ErrDocumentNotFound)
	})

	t.Run("excluded document", func(t *testing.T) {
		idx := New(storage.NewMemoryStore(), newFakeEmbedder("m"), setupVault(),
			WithExclusions(exclusion.Parse("daily")))
		assert.ErrorIs(t, idx.IndexOne(ctx, "daily/2024-05-01.md"), ErrExcluded)
	})

	t.Run("clears a recorded failure", func(t *testing.T) {
		store := storage.NewMemoryStore()
		emb := newFakeEmbedder("m")
		emb.setFailOn("heron")
		idx := New(store, emb, setupVault())
		_, err := idx.IndexAll(ctx, false)
		require.NoError(t, err)

		emb.setFailOn("")
		require.NoError(t, idx.IndexOne(ctx, "daily/2024-05-01.md"))

		markers, err := store.Markers(ctx)
		require.NoError(t, err)
		assert.Empty(t, markers.FailedPaths)
	})

	t.Run("embed failure", func(t *testing.T) {
		emb := newFakeEmbedder("m")
		emb.setFailOn("heron")
		idx := New(storage.NewMemoryStore(), emb, setupVault())

		err := idx.IndexOne(ctx, "daily/2024-05-01.md")
		var docErr *types.DocumentError
		require.ErrorAs(t, err, &docErr)
		assert.Equal(t, types.StageEmbed, docErr.Stage)
		assert.ErrorIs(t, err, types.ErrEmbeddingProvider)
	})
}

func TestDeleteDocument(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	idx := New(store, newFakeEmbedder("m"), setupVault())
	_, err := idx.IndexAll(ctx, false)
	require.NoError(t, err)

	n, err := idx.DeleteDocument(ctx, "projects/index.md")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = idx.DeleteDocument(ctx, "projects/index.md")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestNextMarker(t *testing.T) {
	prev := baseTime
	tests := []struct {
		name     string
		previous *time.Time
		observed time.Time
		want     time.Time
	}{
		{"advances", &prev, baseTime.Add(time.Hour), baseTime.Add(time.Hour)},
		{"first pass", nil, baseTime, baseTime},
		{"never below previous", &prev, baseTime.Add(-time.Hour), baseTime},
		{"nothing observed keeps previous", &prev, time.Time{}, baseTime},
		{"nothing observed first pass", nil, time.Time{}, epoch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextMarker(tt.previous, tt.observed)
			assert.True(t, got.Equal(tt.want), "got %s want %s", got, tt.want)
		})
	}
}

func TestIndexAll_WithGatewayAndSQLite(t *testing.T) {
	ctx := context.Background()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer store.Close()

	provider, err := embedder.NewLocalProvider("")
	require.NoError(t, err)
	gw, err := embedder.NewGateway(provider, embedder.GatewayConfig{})
	require.NoError(t, err)
	defer gw.Close()

	idx := New(store, gw, setupVault())
	result, err := idx.IndexAll(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.IndexedCount)

	vec, err := gw.EmbedQuery(ctx, "hiking heron")
	require.NoError(t, err)
	hits, err := store.Query(ctx, vec, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "daily/2024-05-01.md", hits[0].Record.DocumentPath)
}

func TestIndexLock(t *testing.T) {
	var l IndexLock
	assert.True(t, l.TryAcquire())
	assert.True(t, l.Held())
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.False(t, l.Held())
	assert.True(t, l.TryAcquire())
}

package indexer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/chunker"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/embedder"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/exclusion"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/logger"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/source"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/storage"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

// ErrExcluded is returned by IndexOne for a document matched by the
// exclusion rules
var ErrExcluded = errors.New("document is excluded from indexing")

// errNoEmbedder is returned before any work when no provider is configured
var errNoEmbedder = fmt.Errorf("%w: no embedding provider configured", types.ErrConfiguration)

// epoch is the mtime marker written when a pass indexed nothing newer
var epoch = time.Unix(0, 0)

// Embedder turns texts into vectors. *embedder.Gateway implements it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

// ProgressFunc is called as documents finish, with the number done so far
// and the number selected for the pass. Calls are serialized.
type ProgressFunc func(done, total int)

// Indexer coordinates the indexing pipeline: select -> chunk -> embed -> store
type Indexer struct {
	store      storage.Store
	embedder   Embedder
	source     source.Source
	chunker    *chunker.Chunker
	exclusions exclusion.Rules
	progress   ProgressFunc
}

// Option configures an Indexer
type Option func(*Indexer)

// WithChunker replaces the default chunker
func WithChunker(c *chunker.Chunker) Option {
	return func(idx *Indexer) {
		if c != nil {
			idx.chunker = c
		}
	}
}

// WithExclusions sets the rules evaluated on every pass
func WithExclusions(rules exclusion.Rules) Option {
	return func(idx *Indexer) {
		idx.exclusions = rules
	}
}

// WithProgress sets the progress callback
func WithProgress(fn ProgressFunc) Option {
	return func(idx *Indexer) {
		idx.progress = fn
	}
}

// Result summarises one indexing pass
type Result struct {
	IndexedCount int                   `json:"indexed_count"`
	Total        int                   `json:"total"`
	Errors       []types.DocumentError `json:"-"`
	Rebuilt      bool                  `json:"rebuilt"`
	Duration     time.Duration         `json:"duration"`
}

// ErrorCount returns the number of documents that failed
func (r *Result) ErrorCount() int {
	return len(r.Errors)
}

// ErrorMessages returns at most limit error messages; limit <= 0 means all
func (r *Result) ErrorMessages(limit int) []string {
	n := len(r.Errors)
	if limit > 0 && limit < n {
		n = limit
	}
	msgs := make([]string, n)
	for i := 0; i < n; i++ {
		msgs[i] = r.Errors[i].Error()
	}
	return msgs
}

// New creates an Indexer. A nil embedder is accepted; every pass then fails
// with types.ErrConfiguration.
func New(store storage.Store, emb Embedder, src source.Source, opts ...Option) *Indexer {
	idx := &Indexer{
		store:    store,
		embedder: emb,
		source:   src,
		chunker:  chunker.New(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// SetExclusions replaces the exclusion rules used by later passes
func (idx *Indexer) SetExclusions(rules exclusion.Rules) {
	idx.exclusions = rules
}

// embedded is the outcome of chunking and embedding one document
type embedded struct {
	doc     *types.Document
	chunks  []types.Chunk
	vectors [][]float32
	err     *types.DocumentError
}

// IndexAll runs one indexing pass. Documents modified after the latest
// indexed mtime are re-embedded, along with those that failed in the
// previous pass; overwrite selects every document. When the
// stored vectors belong to an incompatible model, or a previous rebuild
// never finished, the store is destroyed and rebuilt from scratch.
//
// Per-document failures are collected in Result.Errors and do not abort the
// pass. Rebuild and marker failures do, wrapped with types.ErrStorage.
func (idx *Indexer) IndexAll(ctx context.Context, overwrite bool) (*Result, error) {
	if idx.embedder == nil {
		return nil, errNoEmbedder
	}

	start := time.Now()
	model := idx.embedder.ModelName()
	result := &Result{}
	logger.Section("Index " + idx.source.Name())

	// CHECK_MODEL_COMPATIBILITY
	markers, err := idx.store.Markers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read index markers: %w", err)
	}
	count, err := idx.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	stale := markers.RebuildPending || !embedder.ModelsCompatible(markers.ActiveEmbeddingModel, model)
	logger.Debug("Model check: stored=%q current=%q records=%d rebuild_pending=%t",
		markers.ActiveEmbeddingModel, model, count, markers.RebuildPending)

	if stale {
		overwrite = true

		// REBUILD
		if count > 0 || markers.LatestMtime != nil || markers.RebuildPending {
			logger.Info("Embedding model changed (%q -> %q), rebuilding index", markers.ActiveEmbeddingModel, model)
			if err := idx.store.DestroyAndRecreate(ctx); err != nil {
				return nil, fmt.Errorf("failed to clear index for rebuild: %w", err)
			}
			if err := idx.store.SetRebuildPending(ctx); err != nil {
				return nil, fmt.Errorf("failed to mark rebuild: %w", err)
			}
			result.Rebuilt = true
			markers = &types.Markers{RebuildPending: true}
		}
	}

	// DIFF
	var previous *time.Time
	var retry []string
	if !overwrite {
		previous = markers.LatestMtime
		retry = markers.FailedPaths
	}
	selected, err := idx.selectDocuments(ctx, previous, retry)
	if err != nil {
		return nil, err
	}
	result.Total = len(selected)
	logger.Info("Selected %d documents (overwrite=%t, retrying=%d)", len(selected), overwrite, len(retry))

	if len(selected) == 0 {
		if len(markers.FailedPaths) > 0 {
			if err := idx.store.SetFailedPaths(ctx, nil); err != nil {
				return nil, fmt.Errorf("failed to write index markers: %w", err)
			}
		}
		if result.Rebuilt {
			if err := idx.store.SetMarkers(ctx, epoch, model); err != nil {
				return nil, fmt.Errorf("failed to write index markers: %w", err)
			}
		}
		result.Duration = time.Since(start)
		return result, nil
	}

	// CHUNK_AND_EMBED
	outcomes, err := idx.embedDocuments(ctx, selected)
	if err != nil {
		return nil, err
	}

	// PERSIST
	var observed time.Time
	var failed []string
	for i := range outcomes {
		out := &outcomes[i]
		if out.doc.ModifiedAt.After(observed) {
			observed = out.doc.ModifiedAt
		}
		if out.err == nil {
			if err := idx.store.Upsert(ctx, out.doc, out.chunks, out.vectors, model); err != nil {
				out.err = &types.DocumentError{Path: out.doc.Path, Stage: types.StagePersist, Err: err}
			}
		}

		if out.err != nil {
			logger.Warn("Failed to index %s: %v", out.doc.Path, out.err.Err)
			result.Errors = append(result.Errors, *out.err)
			failed = append(failed, out.doc.Path)
			continue
		}
		result.IndexedCount++
	}

	// DONE
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := idx.store.SetFailedPaths(ctx, failed); err != nil {
		return nil, fmt.Errorf("failed to write index markers: %w", err)
	}
	if err := idx.store.SetMarkers(ctx, nextMarker(markers.LatestMtime, observed), model); err != nil {
		return nil, fmt.Errorf("failed to write index markers: %w", err)
	}

	sort.Slice(result.Errors, func(i, j int) bool { return result.Errors[i].Path < result.Errors[j].Path })
	result.Duration = time.Since(start)
	logger.Info("Indexed %d/%d documents in %s (%d errors)",
		result.IndexedCount, result.Total, result.Duration.Round(time.Millisecond), len(result.Errors))
	return result, nil
}

// selectDocuments lists the source and keeps the non-excluded documents
// modified after since, plus those named in retry. A nil since selects
// everything.
func (idx *Indexer) selectDocuments(ctx context.Context, since *time.Time, retry []string) ([]types.Document, error) {
	docs, err := idx.source.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	retrySet := make(map[string]struct{}, len(retry))
	for _, p := range retry {
		retrySet[p] = struct{}{}
	}

	selected := make([]types.Document, 0, len(docs))
	skipped := 0
	for _, doc := range docs {
		if _, again := retrySet[doc.Path]; !again && since != nil && !doc.ModifiedAt.After(*since) {
			continue
		}
		if idx.exclusions.Excludes(&doc) {
			skipped++
			continue
		}
		selected = append(selected, doc)
	}
	if skipped > 0 {
		logger.Debug("Excluded %d documents", skipped)
	}
	return selected, nil
}

// embedDocuments chunks and embeds every document concurrently. Failures
// are recorded per document; only cancellation aborts.
func (idx *Indexer) embedDocuments(ctx context.Context, docs []types.Document) ([]embedded, error) {
	outcomes := make([]embedded, len(docs))

	var mu sync.Mutex
	done := 0
	report := func() {
		if idx.progress == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		done++
		idx.progress(done, len(docs))
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range docs {
		g.Go(func() error {
			outcomes[i] = idx.embedOne(gctx, &docs[i])
			report()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (idx *Indexer) embedOne(ctx context.Context, doc *types.Document) embedded {
	out := embedded{doc: doc}

	if err := doc.Validate(); err != nil {
		out.err = &types.DocumentError{Path: doc.Path, Stage: types.StageChunk, Err: err}
		return out
	}

	out.chunks = idx.chunker.ChunkDocument(doc)
	if len(out.chunks) == 0 {
		return out
	}

	texts := make([]string, len(out.chunks))
	for i := range out.chunks {
		texts[i] = out.chunks[i].Text
	}

	vectors, err := idx.embedder.Embed(ctx, texts)
	if err == nil && len(vectors) != len(texts) {
		err = fmt.Errorf("%w: got %d vectors for %d chunks", types.ErrEmbeddingProvider, len(vectors), len(texts))
	}
	if err != nil {
		out.err = &types.DocumentError{Path: doc.Path, Stage: types.StageEmbed, Err: err}
		return out
	}
	out.vectors = vectors
	return out
}

// nextMarker returns the newest mtime seen by a pass, never below the
// previous marker. Failed documents are retried through the failed paths
// marker.
func nextMarker(previous *time.Time, observed time.Time) time.Time {
	mtime := observed
	if previous != nil && mtime.Before(*previous) {
		mtime = *previous
	}
	if mtime.Before(epoch) {
		mtime = epoch
	}
	return mtime
}

// IndexOne re-indexes a single document without moving the mtime marker.
// It refuses with types.ErrStaleIndex when the store holds vectors of an
// incompatible model.
func (idx *Indexer) IndexOne(ctx context.Context, path string) error {
	if idx.embedder == nil {
		return errNoEmbedder
	}
	model := idx.embedder.ModelName()

	doc, err := idx.source.ReadDocument(ctx, path)
	if err != nil {
		return err
	}
	if idx.exclusions.Excludes(doc) {
		return fmt.Errorf("%w: %s", ErrExcluded, path)
	}

	markers, err := idx.store.Markers(ctx)
	if err != nil {
		return fmt.Errorf("failed to read index markers: %w", err)
	}
	if markers.RebuildPending {
		return fmt.Errorf("%w: a rebuild has not finished", types.ErrStaleIndex)
	}
	if markers.ActiveEmbeddingModel == "" {
		count, err := idx.store.Count(ctx)
		if err != nil {
			return fmt.Errorf("failed to count records: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("%w: stored vectors have no recorded model", types.ErrStaleIndex)
		}
	} else if !embedder.ModelsCompatible(markers.ActiveEmbeddingModel, model) {
		return fmt.Errorf("%w: index built with %q, current model is %q",
			types.ErrStaleIndex, markers.ActiveEmbeddingModel, model)
	}

	out := idx.embedOne(ctx, doc)
	if out.err != nil {
		return out.err
	}
	if err := idx.store.Upsert(ctx, doc, out.chunks, out.vectors, model); err != nil {
		return &types.DocumentError{Path: doc.Path, Stage: types.StagePersist, Err: err}
	}

	if markers.ActiveEmbeddingModel == "" {
		if err := idx.store.SetActiveEmbeddingModel(ctx, model); err != nil {
			return fmt.Errorf("failed to write embedding model marker: %w", err)
		}
	}
	if slices.Contains(markers.FailedPaths, doc.Path) {
		remaining := slices.DeleteFunc(slices.Clone(markers.FailedPaths), func(p string) bool { return p == doc.Path })
		if err := idx.store.SetFailedPaths(ctx, remaining); err != nil {
			return fmt.Errorf("failed to write index markers: %w", err)
		}
	}
	logger.Debug("Indexed %s (%d chunks)", doc.Path, len(out.chunks))
	return nil
}

// DeleteDocument removes every record of the document at path
func (idx *Indexer) DeleteDocument(ctx context.Context, path string) (int, error) {
	n, err := idx.store.DeleteDocument(ctx, path)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Debug("Deleted %d records of %s", n, path)
	}
	return n, nil
}

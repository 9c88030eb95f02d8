package qa

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/chunker"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/collector"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/embedder"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/exclusion"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/indexer"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/logger"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/retriever"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/source"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/storage"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

// ErrWatchUnsupported is returned by WatchDeletions for sources that cannot
// report deletions
var ErrWatchUnsupported = errors.New("source does not support watching")

// Options wires a Service. Gateway may be nil when no embedding provider is
// configured; indexing and retrieval then fail with types.ErrConfiguration
// while status, garbage collection and clearing keep working.
type Options struct {
	Store      storage.Store
	Gateway    *embedder.Gateway
	Source     source.Source
	Chunker    *chunker.Chunker
	Exclusions exclusion.Rules
	Strategy   Strategy
	Progress   indexer.ProgressFunc

	// MaxSourceChunks is the default k for Retrieve (default 3)
	MaxSourceChunks int
	Retriever       retriever.Config
}

// Service is the command-layer facade over the indexing subsystem
type Service struct {
	store      storage.Store
	gateway    *embedder.Gateway
	source     source.Source
	exclusions exclusion.Rules
	strategy   Strategy
	k          int

	indexer   *indexer.Indexer
	retriever *retriever.Retriever
	collector *collector.Collector

	lock indexer.IndexLock

	modeMu  sync.Mutex
	entered bool
}

// Status describes the index and its configuration
type Status struct {
	Source        string         `json:"source"`
	Store         *storage.Stats `json:"store"`
	Provider      string         `json:"provider,omitempty"`
	Model         string         `json:"model,omitempty"`
	Configured    bool           `json:"configured"`
	Stale         bool           `json:"stale"`
	Indexing      bool           `json:"indexing"`
	Strategy      Strategy       `json:"strategy"`
	ExcludedPaths []string       `json:"excluded_paths,omitempty"`
}

// New creates a Service
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: store is required", types.ErrConfiguration)
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("%w: source is required", types.ErrConfiguration)
	}
	if opts.Strategy == "" {
		opts.Strategy = DefaultStrategy
	}
	if opts.MaxSourceChunks <= 0 {
		opts.MaxSourceChunks = retriever.DefaultK
	}

	// Keep the interfaces nil rather than holding a typed nil pointer
	var emb indexer.Embedder
	var qemb retriever.QueryEmbedder
	if opts.Gateway != nil {
		emb = opts.Gateway
		qemb = opts.Gateway
	}

	r, err := retriever.New(opts.Store, qemb, opts.Retriever)
	if err != nil {
		return nil, err
	}

	idxOpts := []indexer.Option{
		indexer.WithChunker(opts.Chunker),
		indexer.WithExclusions(opts.Exclusions),
	}
	if opts.Progress != nil {
		idxOpts = append(idxOpts, indexer.WithProgress(opts.Progress))
	}

	return &Service{
		store:      opts.Store,
		gateway:    opts.Gateway,
		source:     opts.Source,
		exclusions: opts.Exclusions,
		strategy:   opts.Strategy,
		k:          opts.MaxSourceChunks,
		indexer:    indexer.New(opts.Store, emb, opts.Source, idxOpts...),
		retriever:  r,
		collector:  collector.New(opts.Store),
	}, nil
}

// acquire takes the indexing lock or reports a pass in progress
func (s *Service) acquire() error {
	if !s.lock.TryAcquire() {
		return types.ErrIndexingInProgress
	}
	return nil
}

// Startup runs the ON_STARTUP auto-index. It returns a nil result when the
// strategy does not index at startup.
func (s *Service) Startup(ctx context.Context) (*indexer.Result, error) {
	if s.strategy != StrategyOnStartup {
		return nil, nil
	}
	logger.Info("Auto-indexing %s on startup", s.source.Name())
	return s.IndexAll(ctx, false)
}

// EnterQAMode runs the ON_MODE_SWITCH auto-index the first time QA mode is
// entered since the service started or ResetQAMode was last called. It
// returns a nil result when nothing ran.
func (s *Service) EnterQAMode(ctx context.Context) (*indexer.Result, error) {
	if s.strategy != StrategyOnModeSwitch {
		return nil, nil
	}

	s.modeMu.Lock()
	defer s.modeMu.Unlock()
	if s.entered {
		return nil, nil
	}

	logger.Info("Auto-indexing %s on entering QA mode", s.source.Name())
	result, err := s.IndexAll(ctx, false)
	if err != nil {
		return nil, err
	}
	s.entered = true
	return result, nil
}

// ResetQAMode re-arms the ON_MODE_SWITCH auto-index: the next QA request
// runs a pass again. Callers invoke it when a client switches into QA mode
// anew, such as a new MCP session.
func (s *Service) ResetQAMode() {
	s.ResetQAMode()
}

// IndexAll runs an indexing pass, refusing with types.ErrIndexingInProgress
// while another pass runs
func (s *Service) IndexAll(ctx context.Context, overwrite bool) (*indexer.Result, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.lock.Release()
	defer s.retriever.InvalidateCache()

	return s.indexer.IndexAll(ctx, overwrite)
}

// IndexOne re-indexes a single document
func (s *Service) IndexOne(ctx context.Context, path string) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.lock.Release()
	defer s.retriever.InvalidateCache()

	return s.indexer.IndexOne(ctx, path)
}

// Retrieve returns the k chunks most relevant to query; k <= 0 uses
// MaxSourceChunks
func (s *Service) Retrieve(ctx context.Context, query string, k int) ([]types.RankedChunk, error) {
	resp, err := s.Search(ctx, retriever.Request{Query: query, K: k})
	if err != nil {
		return nil, err
	}
	return resp.Chunks, nil
}

// Search is Retrieve with the full request and response. Entering QA mode
// triggers the ON_MODE_SWITCH auto-index; a pass already running does not
// block the query.
func (s *Service) Search(ctx context.Context, req retriever.Request) (*retriever.Response, error) {
	if req.K <= 0 {
		req.K = s.k
	}

	if _, err := s.EnterQAMode(ctx); err != nil {
		if !errors.Is(err, types.ErrIndexingInProgress) {
			return nil, err
		}
		logger.Debug("Indexing in progress, searching the current index")
	}

	return s.retriever.Search(ctx, req)
}

// CollectGarbage removes documents missing from live. A nil live set is
// built from the source with the current exclusion rules applied.
func (s *Service) CollectGarbage(ctx context.Context, live map[string]struct{}) (*collector.Result, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.lock.Release()
	defer s.retriever.InvalidateCache()

	if live == nil {
		return s.collector.CollectFromSource(ctx, s.source, s.exclusions)
	}
	return s.collector.Collect(ctx, live)
}

// ClearAndReset empties the index. The next ON_MODE_SWITCH query indexes
// again from scratch.
func (s *Service) ClearAndReset(ctx context.Context) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.lock.Release()
	defer s.retriever.InvalidateCache()

	if err := s.store.DestroyAndRecreate(ctx); err != nil {
		return fmt.Errorf("failed to clear index: %w", err)
	}

	s.ResetQAMode()

	logger.Info("Cleared index of %s", s.source.Name())
	return nil
}

// Status reports store statistics and whether the index matches the
// configured model
func (s *Service) Status(ctx context.Context) (*Status, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read store stats: %w", err)
	}

	st := &Status{
		Source:        s.source.Name(),
		Store:         stats,
		Configured:    s.gateway != nil,
		Indexing:      s.lock.Held(),
		Strategy:      s.strategy,
		ExcludedPaths: s.exclusions.Paths(),
	}
	if s.gateway != nil {
		st.Provider = s.gateway.Provider()
		st.Model = s.gateway.ModelName()
		st.Stale = stats.Records > 0 &&
			(stats.Markers.RebuildPending || !embedder.ModelsCompatible(stats.Markers.ActiveEmbeddingModel, st.Model))
	}
	return st, nil
}

// WatchDeletions removes documents from the index as the source reports
// them deleted, until ctx is done
func (s *Service) WatchDeletions(ctx context.Context) error {
	w, ok := s.source.(source.Watcher)
	if !ok {
		return fmt.Errorf("%w: %s", ErrWatchUnsupported, s.source.Name())
	}

	return w.Watch(ctx, func(path string) {
		n, err := s.indexer.DeleteDocument(ctx, path)
		if err != nil {
			logger.Warn("Failed to remove deleted note %s: %v", path, err)
			return
		}
		if n > 0 {
			s.retriever.InvalidateCache()
			logger.Info("Removed deleted note %s (%d records)", path, n)
		}
	})
}

// Close releases the store and the embedding gateway
func (s *Service) Close() error {
	var errs []error
	if s.gateway != nil {
		errs = append(errs, s.gateway.Close())
	}
	errs = append(errs, s.store.Close())
	return errors.Join(errs...)
}

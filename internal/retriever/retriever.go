package retriever

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/embedder"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/storage"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

const (
	// DefaultK is the number of chunks returned when k is not set
	DefaultK = 3

	// MaxK caps the number of chunks per query
	MaxK = 100

	// DefaultCandidateFactor is how many candidates per requested chunk are
	// fetched from the store before per-document deduplication
	DefaultCandidateFactor = 4

	// DefaultCacheTTL is how long a cached response stays valid
	DefaultCacheTTL = 5 * time.Minute
)

var (
	// ErrEmptyQuery is returned for a blank query
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrInvalidK is returned for a negative k
	ErrInvalidK = errors.New("k must be >= 1")

	errNoEmbedder = fmt.Errorf("%w: no embedding provider configured", types.ErrConfiguration)
)

// QueryEmbedder embeds a single query. *embedder.Gateway implements it.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

// Config tunes a Retriever
type Config struct {
	CandidateFactor int           // Candidates fetched per requested chunk (default 4)
	CacheSize       int           // Cached responses; 0 disables the cache
	CacheTTL        time.Duration // default 5m
}

// Request contains parameters for a retrieval
type Request struct {
	Query    string
	K        int     // default DefaultK
	MinScore float64 // When > 0, drop chunks scoring below this
	UseCache bool
}

// Response contains ranked chunks and retrieval metadata
type Response struct {
	Chunks     []types.RankedChunk `json:"chunks"`
	Candidates int                 `json:"candidates"`
	Duration   time.Duration       `json:"duration"`
	CacheHit   bool                `json:"cache_hit"`
}

// cacheEntry is a cached response with its expiration time
type cacheEntry struct {
	response  *Response
	expiresAt time.Time
}

// Retriever answers similarity queries against the vector store
type Retriever struct {
	store    storage.Store
	embedder QueryEmbedder
	factor   int
	ttl      time.Duration

	cacheMu sync.Mutex
	cache   *lru.Cache[[32]byte, *cacheEntry]
}

// New creates a Retriever. A nil embedder is accepted; every retrieval then
// fails with types.ErrConfiguration.
func New(store storage.Store, emb QueryEmbedder, cfg Config) (*Retriever, error) {
	r := &Retriever{
		store:    store,
		embedder: emb,
		factor:   cfg.CandidateFactor,
		ttl:      cfg.CacheTTL,
	}
	if r.factor <= 0 {
		r.factor = DefaultCandidateFactor
	}
	if r.ttl <= 0 {
		r.ttl = DefaultCacheTTL
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[[32]byte, *cacheEntry](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create response cache: %w", err)
		}
		r.cache = cache
	}
	return r, nil
}

// Retrieve returns the k chunks most relevant to query
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]types.RankedChunk, error) {
	resp, err := r.Search(ctx, Request{Query: query, K: k})
	if err != nil {
		return nil, err
	}
	return resp.Chunks, nil
}

// Search embeds the query, fetches k*CandidateFactor candidates, keeps the best
// chunk of each document first and fills the remaining slots with the next
// best chunks. Results are in descending score order.
func (r *Retriever) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	if r.embedder == nil {
		return nil, errNoEmbedder
	}

	count, err := r.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	if count == 0 {
		return &Response{Chunks: []types.RankedChunk{}, Duration: time.Since(start)}, nil
	}

	model := r.embedder.ModelName()
	markers, err := r.checkModel(ctx, model)
	if err != nil {
		return nil, err
	}

	// Keyed by generation so writes from other processes sharing the
	// store are never answered from the cache
	key := cacheKey(req, model, markers.Generation)
	if req.UseCache {
		if cached := r.lookup(key); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(start)
			return cached, nil
		}
	}

	vector, err := r.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	candidates, err := r.store.Query(ctx, vector, req.K*r.factor)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Chunks:     rank(candidates, req.K, req.MinScore),
		Candidates: len(candidates),
		Duration:   time.Since(start),
	}
	if req.UseCache {
		r.remember(key, resp)
	}
	return resp, nil
}

// checkModel refuses to search vectors of an incompatible model and
// returns the markers it read
func (r *Retriever) checkModel(ctx context.Context, model string) (*types.Markers, error) {
	markers, err := r.store.Markers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read index markers: %w", err)
	}
	if markers.RebuildPending {
		return nil, fmt.Errorf("%w: a rebuild has not finished", types.ErrStaleIndex)
	}
	if !embedder.ModelsCompatible(markers.ActiveEmbeddingModel, model) {
		return nil, fmt.Errorf("%w: index built with %q, current model is %q",
			types.ErrStaleIndex, markers.ActiveEmbeddingModel, model)
	}
	return markers, nil
}

// rank keeps the best chunk per document, then fills up to k with the
// remaining candidates. candidates must be in store order.
func rank(candidates []types.ScoredRecord, k int, minScore float64) []types.RankedChunk {
	eligible := make([]int, 0, len(candidates))
	for i, c := range candidates {
		if minScore <= 0 || c.Score >= minScore {
			eligible = append(eligible, i)
		}
	}

	picked := make([]int, 0, k)
	taken := make(map[int]bool, k)
	seenDoc := make(map[string]bool)

	for _, i := range eligible {
		if len(picked) == k {
			break
		}
		path := candidates[i].Record.DocumentPath
		if seenDoc[path] {
			continue
		}
		seenDoc[path] = true
		taken[i] = true
		picked = append(picked, i)
	}
	for _, i := range eligible {
		if len(picked) == k {
			break
		}
		if !taken[i] {
			taken[i] = true
			picked = append(picked, i)
		}
	}

	// Store order is already score order with ties broken
	sort.Ints(picked)

	chunks := make([]types.RankedChunk, len(picked))
	for n, i := range picked {
		rec := candidates[i].Record
		chunks[n] = types.RankedChunk{
			Text:         rec.Text,
			DocumentPath: rec.DocumentPath,
			Title:        rec.Title,
			ChunkIndex:   rec.ChunkIndex,
			Score:        candidates[i].Score,
			Rank:         n + 1,
		}
	}
	return chunks
}

// validateRequest ensures the request is valid and fills defaults
func validateRequest(req *Request) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return ErrEmptyQuery
	}
	if req.K < 0 {
		return ErrInvalidK
	}
	if req.K == 0 {
		req.K = DefaultK
	}
	if req.K > MaxK {
		req.K = MaxK
	}
	return nil
}

// lookup returns a copy of a live cached response
func (r *Retriever) lookup(key [32]byte) *Response {
	if r.cache == nil {
		return nil
	}
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	entry, ok := r.cache.Get(key)
	if !ok {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		r.cache.Remove(key)
		return nil
	}
	return copyResponse(entry.response)
}

func (r *Retriever) remember(key [32]byte, resp *Response) {
	if r.cache == nil || len(resp.Chunks) == 0 {
		return
	}
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	r.cache.Add(key, &cacheEntry{response: copyResponse(resp), expiresAt: time.Now().Add(r.ttl)})
}

// InvalidateCache drops every cached response. Call after the index changes.
func (r *Retriever) InvalidateCache() {
	if r.cache == nil {
		return
	}
	r.cacheMu.Lock()
	r.cache.Purge()
	r.cacheMu.Unlock()
}

// CacheLen returns the number of cached responses
func (r *Retriever) CacheLen() int {
	if r.cache == nil {
		return 0
	}
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	return r.cache.Len()
}

func copyResponse(src *Response) *Response {
	dst := *src
	dst.Chunks = append([]types.RankedChunk(nil), src.Chunks...)
	return &dst
}

func cacheKey(req Request, model string, generation int64) [32]byte {
	var b strings.Builder
	b.WriteString(model)
	b.WriteString("|")
	b.WriteString(strconv.FormatInt(generation, 10))
	b.WriteString("|")
	b.WriteString(req.Query)
	b.WriteString("|")
	b.WriteString(strconv.Itoa(req.K))
	b.WriteString("|")
	b.WriteString(strconv.FormatFloat(req.MinScore, 'f', 4, 64))
	return sha256.Sum256([]byte(b.String()))
}

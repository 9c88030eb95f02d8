package embedder

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

// GatewayConfig tunes batching, caching and rate limiting
type GatewayConfig struct {
	BatchSize         int     // Texts per provider call, capped at MaxBatchSize
	CacheSize         int     // LRU entries; 0 disables the cache
	RequestsPerSecond float64 // Provider calls per second; 0 means unlimited
	Burst             int
}

// Gateway batches texts into a Provider, preserving input order. Provider
// failures are returned wrapped in types.ErrEmbeddingProvider and are not
// retried here.
type Gateway struct {
	provider  Provider
	batchSize int
	cache     *Cache
	limiter   *rate.Limiter
}

// NewGateway wraps p. A nil provider is a configuration error.
func NewGateway(p Provider, cfg GatewayConfig) (*Gateway, error) {
	if p == nil {
		return nil, ErrNoProviderEnabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}

	g := &Gateway{
		provider:  p,
		batchSize: batchSize,
	}
	if cfg.CacheSize > 0 {
		g.cache = NewCache(cfg.CacheSize)
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return g, nil
}

// ModelName is the model recorded with every vector this gateway produces
func (g *Gateway) ModelName() string {
	return g.provider.Model()
}

// Provider returns the wrapped provider's name
func (g *Gateway) Provider() string {
	return g.provider.Provider()
}

// Dimension returns the wrapped provider's vector size
func (g *Gateway) Dimension() int {
	return g.provider.Dimension()
}

// BatchSize returns the effective batch size
func (g *Gateway) BatchSize() int {
	return g.batchSize
}

// Embed returns one vector per text, in input order
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := ValidateTexts(texts); err != nil {
		return nil, err
	}

	model := g.provider.Model()
	out := make([][]float32, len(texts))

	// Cache misses, as positions into texts
	missing := make([]int, 0, len(texts))
	for i, text := range texts {
		if g.cache != nil {
			if vec, ok := g.cache.Get(CacheKey(model, text)); ok {
				out[i] = vec
				continue
			}
		}
		missing = append(missing, i)
	}

	dim := 0
	for start := 0; start < len(missing); start += g.batchSize {
		end := start + g.batchSize
		if end > len(missing) {
			end = len(missing)
		}
		positions := missing[start:end]

		batch := make([]string, len(positions))
		for j, pos := range positions {
			batch[j] = texts[pos]
		}

		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%w: rate limit wait: %w", types.ErrEmbeddingProvider, err)
			}
		}

		vectors, err := g.provider.Embed(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrEmbeddingProvider, err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("%w: provider returned %d vectors for %d texts",
				types.ErrEmbeddingProvider, len(vectors), len(batch))
		}

		for j, vec := range vectors {
			if len(vec) == 0 {
				return nil, fmt.Errorf("%w: empty vector for text %d", types.ErrEmbeddingProvider, positions[j])
			}
			if dim == 0 {
				dim = len(vec)
			} else if len(vec) != dim {
				return nil, fmt.Errorf("%w: %w: %d != %d", types.ErrEmbeddingProvider, ErrDimensionChanged, len(vec), dim)
			}

			out[positions[j]] = vec
			if g.cache != nil {
				g.cache.Set(CacheKey(model, batch[j]), vec)
			}
		}
	}

	return out, nil
}

// EmbedQuery embeds a single query text
func (g *Gateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	vectors, err := g.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// CacheSize returns the number of cached vectors, 0 when caching is off
func (g *Gateway) CacheSize() int {
	if g.cache == nil {
		return 0
	}
	return g.cache.Size()
}

// Close closes the wrapped provider
func (g *Gateway) Close() error {
	return g.provider.Close()
}

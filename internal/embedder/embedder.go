package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

// Common errors
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrProviderFailed   = errors.New("embedding provider failed")
	ErrUnsupportedModel = errors.New("unsupported model")
	ErrEmptyText        = errors.New("text cannot be empty")
	ErrBatchTooLarge    = errors.New("batch size exceeds limit")
	ErrDimensionChanged = errors.New("embedding dimension mismatch")

	// ErrNoProviderEnabled unwraps to types.ErrConfiguration
	ErrNoProviderEnabled = fmt.Errorf("%w: no embedding provider configured", types.ErrConfiguration)
)

// Provider turns texts into vectors. It is the only contract the indexer and
// retriever have with an embedding backend: one vector per input text, in
// input order.
type Provider interface {
	// Embed returns one vector per text, same order as texts
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding dimension for this provider
	Dimension() int

	// Provider returns the provider name
	Provider() string

	// Model returns the model name recorded with every stored vector
	Model() string

	// Close releases any resources held by the provider
	Close() error
}

// Cache provides in-memory LRU caching of embeddings keyed by model and
// content hash
type Cache struct {
	cache *lru.Cache[string, []float32]
}

// NewCache creates a new embedding cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 10000 // Default: cache 10k embeddings
	}
	cache, err := lru.New[string, []float32](maxLen)
	if err != nil {
		cache, _ = lru.New[string, []float32](10000)
	}
	return &Cache{
		cache: cache,
	}
}

// Get retrieves a copy of a cached vector
// Returns a copy to prevent caller mutations from affecting cached values
func (c *Cache) Get(key string) ([]float32, bool) {
	vec, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}

	vectorCopy := make([]float32, len(vec))
	copy(vectorCopy, vec)
	return vectorCopy, true
}

// Set stores a copy of vec under key
func (c *Cache) Set(key string, vec []float32) {
	stored := make([]float32, len(vec))
	copy(stored, vec)
	c.cache.Add(key, stored)
}

// Size returns the current cache size
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	c.cache.Purge()
}

// ComputeHash computes SHA-256 hash of text for caching
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// CacheKey scopes a content hash to the model that embedded it
func CacheKey(model, text string) string {
	return model + "|" + ComputeHash(text)
}

// ValidateTexts rejects empty batches and empty texts
func ValidateTexts(texts []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}

	for i, text := range texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}

	return nil
}

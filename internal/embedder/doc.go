// Package embedder turns note chunks into vector embeddings.
//
// It has two layers. A Provider is the opaque texts-to-vectors function
// (OpenAI and OpenAI-compatible endpoints, Jina AI, Ollama, and a local
// hashing provider for offline use). The Gateway wraps one Provider and adds
// bounded batching, an LRU cache and an optional rate limit.
//
// # Basic Usage
//
//	p, err := embedder.New(embedder.ConfigFromModelKey("text-embedding-3-small|openai"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	gw, err := embedder.NewGateway(p, embedder.GatewayConfig{
//	    BatchSize: 50,
//	    CacheSize: 10000,
//	})
//	defer gw.Close()
//
//	vectors, err := gw.Embed(ctx, []string{chunk1.Text, chunk2.Text})
//	// vectors[i] belongs to texts[i]
//
// # Provider Selection
//
// NewFromEnv selects a provider from the environment:
//
//  1. If COPILOT_EMBEDDING_PROVIDER is set → use specified provider
//  2. Else if COPILOT_EMBEDDING_MODEL_KEY is set → use its provider part
//  3. Else if OPENAI_API_KEY is set → use OpenAI
//  4. Else if JINA_API_KEY is set → use Jina AI
//  5. Else → fallback to local provider (offline mode)
//
// # Model Compatibility
//
// ModelsCompatible decides whether stored vectors can be compared with
// vectors from the current model. Exact names match, and a small table of
// aliases matches across spellings:
//
//	embedder.ModelsCompatible("nomic-embed-text", "nomic-embed-text:latest") // true
//	embedder.ModelsCompatible("text-embedding-3-small", "text-embedding-3-large") // false
//
// # Error Handling
//
// HTTP providers retry transient failures (network errors, 429, 5xx) with
// exponential backoff. The gateway does not retry; every failure it returns
// wraps types.ErrEmbeddingProvider:
//
//	vectors, err := gw.Embed(ctx, texts)
//	if errors.Is(err, types.ErrEmbeddingProvider) {
//	    // record a per-document failure and move on
//	}
package embedder

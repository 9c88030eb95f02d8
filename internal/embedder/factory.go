package embedder

import (
	"fmt"
	"os"
	"strings"
)

// ProviderOpenAIFormat is the model-key provider name of OpenAI-compatible
// third-party endpoints
const ProviderOpenAIFormat = "3rd party (openai-format)"

// Environment variables read by NewFromEnv
const (
	EnvProvider  = "COPILOT_EMBEDDING_PROVIDER"
	EnvModel     = "COPILOT_EMBEDDING_MODEL"
	EnvModelKey  = "COPILOT_EMBEDDING_MODEL_KEY"
	EnvBaseURL   = "COPILOT_EMBEDDING_BASE_URL"
	EnvOllamaURL = "OLLAMA_HOST"
)

// Config holds embedder configuration
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// ConfigFromModelKey builds a Config from a "name|provider" model key
func ConfigFromModelKey(key string) Config {
	name, provider := ParseModelKey(key)
	return Config{Provider: provider, Model: name}
}

// NewFromEnv creates a provider based on environment variables
// Priority:
// 1. COPILOT_EMBEDDING_PROVIDER / COPILOT_EMBEDDING_MODEL_KEY
// 2. Check for API keys: OPENAI_API_KEY, JINA_API_KEY
// 3. Default to local if no API keys found
func NewFromEnv() (Provider, error) {
	cfg := Config{
		Provider: os.Getenv(EnvProvider),
		Model:    os.Getenv(EnvModel),
		BaseURL:  os.Getenv(EnvBaseURL),
	}
	if key := os.Getenv(EnvModelKey); key != "" && cfg.Provider == "" {
		fromKey := ConfigFromModelKey(key)
		cfg.Provider = fromKey.Provider
		if cfg.Model == "" {
			cfg.Model = fromKey.Model
		}
	}
	if cfg.Provider == "" {
		cfg.Provider = DetectProvider()
	}
	return New(cfg)
}

// New creates a provider with explicit configuration. API keys fall back to
// the provider's environment variable.
func New(cfg Config) (Provider, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	apiKey := cfg.APIKey

	switch provider {
	case ProviderOpenAI, "azure_openai":
		if apiKey == "" {
			apiKey = os.Getenv(EnvOpenAIAPIKey)
		}
		return NewOpenAIProvider(apiKey, cfg.Model, cfg.BaseURL)
	case ProviderOpenAIFormat:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("%w: base URL required for %s", ErrNoProviderEnabled, ProviderOpenAIFormat)
		}
		if apiKey == "" {
			apiKey = os.Getenv(EnvOpenAIAPIKey)
		}
		return NewOpenAIProvider(apiKey, cfg.Model, cfg.BaseURL)
	case ProviderJina:
		if apiKey == "" {
			apiKey = os.Getenv(EnvJinaAPIKey)
		}
		return NewJinaProvider(apiKey, cfg.Model, cfg.BaseURL)
	case ProviderOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = os.Getenv(EnvOllamaURL)
		}
		return NewOllamaProvider(baseURL, cfg.Model)
	case ProviderLocal:
		return NewLocalProvider(cfg.Model)
	case "":
		return nil, ErrNoProviderEnabled
	default:
		return nil, fmt.Errorf("%w: %w: unknown provider %s", ErrNoProviderEnabled, ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	provider := os.Getenv(EnvProvider)
	if provider != "" {
		return strings.ToLower(provider)
	}

	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}

	return ProviderLocal
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/embedder"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/qa"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/storage"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

// isolate points HOME at a temp dir and runs from an empty working directory
// so no real config or .env leaks into the test
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())

	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "COPILOT_") {
			key, _, _ := strings.Cut(kv, "=")
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
	return home
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDefault(t *testing.T) {
	home := isolate(t)
	cfg := Default()

	assert.Equal(t, filepath.Join(home, ".copilot-index", "data"), cfg.DataDir)
	assert.Equal(t, storage.BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, embedder.DefaultBatchSize, cfg.Embedding.BatchSize)
	assert.Equal(t, 3, cfg.MaxSourceChunks)
	assert.Equal(t, string(qa.StrategyOnModeSwitch), cfg.AutoIndex)
	assert.False(t, cfg.Debug)
}

func TestLoad_MissingDefaultFileIsFine(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	isolate(t)

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_YAML(t *testing.T) {
	home := isolate(t)
	path, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".copilot-index", "config.yaml"), path)

	writeFile(t, path, `
vault_path: ~/Notes
vault_name: Notes
store:
  backend: redis
  redis_addr: localhost:6380
embedding:
  model_key: "text-embedding-3-small|openai"
  batch_size: 20
chunking:
  size: 500
  overlap: 50
qa_exclusion_paths: "archive, #private"
max_source_chunks: 5
auto_index: ON STARTUP
`)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "Notes"), cfg.VaultPath)
	assert.Equal(t, "Notes", cfg.VaultName)
	assert.Equal(t, storage.BackendRedis, cfg.Store.Backend)
	assert.Equal(t, "localhost:6380", cfg.Store.RedisAddr)
	assert.Equal(t, 20, cfg.Embedding.BatchSize)
	assert.Equal(t, 500, cfg.Chunking.Size)
	assert.Equal(t, 50, cfg.Chunking.Overlap)
	assert.Equal(t, 5, cfg.MaxSourceChunks)

	// Unset fields keep their defaults
	assert.Equal(t, 1000, cfg.Embedding.CacheSize)

	strategy, err := cfg.Strategy()
	require.NoError(t, err)
	assert.Equal(t, qa.StrategyOnStartup, strategy)

	rules := cfg.Exclusions()
	assert.Equal(t, []string{"archive"}, rules.Paths())
	require.NoError(t, cfg.Validate())
}

func TestLoad_TOML(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, `
vault_path = "/vault"
max_source_chunks = 7

[store]
backend = "memory"

[chunking]
size = 300
overlap = 30
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/vault", cfg.VaultPath)
	assert.Equal(t, storage.BackendMemory, cfg.Store.Backend)
	assert.Equal(t, 7, cfg.MaxSourceChunks)
	assert.Equal(t, 300, cfg.Chunking.Size)
}

func TestLoad_InvalidFile(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "bad.yaml")
	writeFile(t, yamlPath, "vault_path: [unclosed")
	_, err := Load(yamlPath)
	assert.ErrorIs(t, err, types.ErrConfiguration)

	tomlPath := filepath.Join(dir, "bad.toml")
	writeFile(t, tomlPath, "vault_path = ")
	_, err = Load(tomlPath)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "vault_path: /from-file\nmax_source_chunks: 5\n")

	t.Setenv(EnvVaultPath, "/from-env")
	t.Setenv(EnvMaxSourceChunks, "9")
	t.Setenv(EnvDebug, "true")
	t.Setenv(EnvRateLimit, "2.5")
	t.Setenv(embedder.EnvModelKey, "nomic-embed-text|ollama")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from-env", cfg.VaultPath)
	assert.Equal(t, 9, cfg.MaxSourceChunks)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 2.5, cfg.Embedding.RequestsPerSecond)
	assert.Equal(t, "nomic-embed-text|ollama", cfg.Embedding.ModelKey)
}

func TestLoad_DotEnv(t *testing.T) {
	isolate(t)
	writeFile(t, ".env", EnvVaultPath+"=/from-dotenv\n")
	t.Cleanup(func() { os.Unsetenv(EnvVaultPath) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/from-dotenv", cfg.VaultPath)
}

func TestLoad_InvalidEnv(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{EnvMaxSourceChunks, "three"},
		{EnvRedisDB, "x"},
		{EnvRateLimit, "fast"},
		{EnvDebug, "sometimes"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			isolate(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load("")
			assert.ErrorIs(t, err, types.ErrConfiguration)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.VaultPath = "/vault"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults with vault", func(*Config) {}, true},
		{"missing vault", func(c *Config) { c.VaultPath = "" }, false},
		{"unknown backend", func(c *Config) { c.Store.Backend = "mongo" }, false},
		{"redis backend", func(c *Config) { c.Store.Backend = storage.BackendRedis }, true},
		{"sqlite without data dir", func(c *Config) { c.DataDir = "" }, false},
		{"batch too large", func(c *Config) { c.Embedding.BatchSize = embedder.MaxBatchSize + 1 }, false},
		{"batch zero", func(c *Config) { c.Embedding.BatchSize = 0 }, false},
		{"negative cache", func(c *Config) { c.Embedding.CacheSize = -1 }, false},
		{"zero chunk size", func(c *Config) { c.Chunking.Size = 0 }, false},
		{"overlap too big", func(c *Config) { c.Chunking.Overlap = c.Chunking.Size }, false},
		{"zero k", func(c *Config) { c.MaxSourceChunks = 0 }, false},
		{"bad strategy", func(c *Config) { c.AutoIndex = "SOMETIMES" }, false},
		{"never strategy", func(c *Config) { c.AutoIndex = "never" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, types.ErrConfiguration)
			}
		})
	}
}

func TestCollectionPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/data"
	cfg.VaultPath = "/home/me/My Vault/"

	assert.Equal(t, "My Vault", cfg.Collection())
	id := cfg.CollectionID()
	assert.NotEmpty(t, id)

	assert.Equal(t, filepath.Join("/data", "copilot_vector_stores_"+id+".db"), cfg.StorePath())
	assert.Equal(t, filepath.Join("/data", "copilot_vector_stores_"+id+".lock"), cfg.LockPath())

	sc := cfg.StorageConfig()
	assert.Equal(t, cfg.StorePath(), sc.Path)
	assert.Equal(t, "copilot:"+id, sc.Namespace)

	// An explicit name wins over the directory name
	cfg.VaultName = "Work"
	assert.Equal(t, "Work", cfg.Collection())
	assert.NotEqual(t, id, cfg.CollectionID())
}

func TestEmbedderConfig(t *testing.T) {
	isolate(t)

	cfg := Default()
	cfg.Embedding.ModelKey = "jina-embeddings-v2-base-zh|jina"
	ec := cfg.EmbedderConfig()
	assert.Equal(t, embedder.ProviderJina, ec.Provider)
	assert.Equal(t, "jina-embeddings-v2-base-zh", ec.Model)

	// Explicit settings win over the model key
	cfg.Embedding.Provider = embedder.ProviderLocal
	cfg.Embedding.Model = "custom"
	ec = cfg.EmbedderConfig()
	assert.Equal(t, embedder.ProviderLocal, ec.Provider)
	assert.Equal(t, "custom", ec.Model)

	// Nothing configured falls back to environment detection
	cfg = Default()
	assert.Equal(t, embedder.DetectProvider(), cfg.EmbedderConfig().Provider)
}

func TestChunkerAndGateway(t *testing.T) {
	cfg := Default()
	cfg.Chunking.Size = 120
	cfg.Chunking.Overlap = 12
	cfg.Embedding.BatchSize = 8

	c := cfg.Chunker()
	assert.Equal(t, 120, c.MaxChunkChars)
	assert.Equal(t, 12, c.OverlapChars)
	assert.Equal(t, 8, cfg.GatewayConfig().BatchSize)
}

func TestSaveRoundTrip(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	cfg := Default()
	cfg.VaultPath = "/vault"
	cfg.QAExclusionPaths = "archive"

	for _, name := range []string{"config.yaml", "config.toml"} {
		path := filepath.Join(dir, "nested", name)
		require.NoError(t, Save(cfg, path))

		loaded, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, cfg, loaded, name)
	}
}

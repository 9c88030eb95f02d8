// Package config loads copilot-index settings.
//
// Settings are layered: built-in defaults, then a YAML (or TOML, by file
// extension) config file, then a .env file, then COPILOT_* environment
// variables. Later layers win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/chunker"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/embedder"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/exclusion"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/fingerprint"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/qa"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/storage"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

// Environment variables applied over the config file
const (
	EnvVaultPath       = "COPILOT_VAULT_PATH"
	EnvVaultName       = "COPILOT_VAULT_NAME"
	EnvDataDir         = "COPILOT_DATA_DIR"
	EnvStoreBackend    = "COPILOT_STORE_BACKEND"
	EnvRedisAddr       = "COPILOT_REDIS_ADDR"
	EnvRedisPassword   = "COPILOT_REDIS_PASSWORD"
	EnvRedisDB         = "COPILOT_REDIS_DB"
	EnvAPIKey          = "COPILOT_EMBEDDING_API_KEY"
	EnvBatchSize       = "COPILOT_EMBEDDING_BATCH_SIZE"
	EnvRateLimit       = "COPILOT_EMBEDDING_RATE_LIMIT"
	EnvCacheSize       = "COPILOT_EMBEDDING_CACHE_SIZE"
	EnvChunkSize       = "COPILOT_CHUNK_SIZE"
	EnvChunkOverlap    = "COPILOT_CHUNK_OVERLAP"
	EnvExclusions      = "COPILOT_QA_EXCLUSION_PATHS"
	EnvMaxSourceChunks = "COPILOT_MAX_SOURCE_CHUNKS"
	EnvAutoIndex       = "COPILOT_AUTO_INDEX"
	EnvDebug           = "COPILOT_DEBUG"
)

// DefaultConfigFile is the config file name inside DefaultDir
const DefaultConfigFile = "config.yaml"

// storePrefix names per-collection store files and namespaces
const storePrefix = "copilot_vector_stores_"

// StoreConfig selects the vector store backend
type StoreConfig struct {
	Backend       string `yaml:"backend" toml:"backend"`
	RedisAddr     string `yaml:"redis_addr,omitempty" toml:"redis_addr,omitempty"`
	RedisPassword string `yaml:"redis_password,omitempty" toml:"redis_password,omitempty"`
	RedisDB       int    `yaml:"redis_db,omitempty" toml:"redis_db,omitempty"`
}

// EmbeddingConfig selects the embedding provider and gateway limits
type EmbeddingConfig struct {
	// ModelKey is "model|provider", e.g. "text-embedding-3-small|openai"
	ModelKey  string `yaml:"model_key,omitempty" toml:"model_key,omitempty"`
	Provider  string `yaml:"provider,omitempty" toml:"provider,omitempty"`
	Model     string `yaml:"model,omitempty" toml:"model,omitempty"`
	APIKey    string `yaml:"api_key,omitempty" toml:"api_key,omitempty"`
	BaseURL   string `yaml:"base_url,omitempty" toml:"base_url,omitempty"`
	BatchSize int    `yaml:"batch_size" toml:"batch_size"`

	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty" toml:"requests_per_second,omitempty"`
	Burst             int     `yaml:"burst,omitempty" toml:"burst,omitempty"`
	CacheSize         int     `yaml:"cache_size" toml:"cache_size"`
}

// ChunkingConfig sizes chunks in characters
type ChunkingConfig struct {
	Size    int `yaml:"size" toml:"size"`
	Overlap int `yaml:"overlap" toml:"overlap"`
}

// Config is the in-memory representation of the config file
type Config struct {
	VaultPath string          `yaml:"vault_path" toml:"vault_path"`
	VaultName string          `yaml:"vault_name,omitempty" toml:"vault_name,omitempty"`
	DataDir   string          `yaml:"data_dir" toml:"data_dir"`
	Store     StoreConfig     `yaml:"store" toml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding" toml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking" toml:"chunking"`

	// QAExclusionPaths is a comma separated list of folders, notes and #tags
	QAExclusionPaths string `yaml:"qa_exclusion_paths,omitempty" toml:"qa_exclusion_paths,omitempty"`
	MaxSourceChunks  int    `yaml:"max_source_chunks" toml:"max_source_chunks"`
	AutoIndex        string `yaml:"auto_index" toml:"auto_index"`
	Debug            bool   `yaml:"debug" toml:"debug"`
}

// DefaultDir returns ~/.copilot-index
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".copilot-index"), nil
}

// DefaultPath returns ~/.copilot-index/config.yaml
func DefaultPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// ExpandPath expands a leading ~ to the user's home directory
func ExpandPath(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot expand ~: %w", err)
	}
	return filepath.Join(home, p[1:]), nil
}

// Default returns the built-in settings
func Default() *Config {
	dataDir := filepath.Join(".copilot-index", "data")
	if dir, err := DefaultDir(); err == nil {
		dataDir = filepath.Join(dir, "data")
	}

	return &Config{
		DataDir: dataDir,
		Store: StoreConfig{
			Backend: storage.BackendSQLite,
		},
		Embedding: EmbeddingConfig{
			BatchSize: embedder.DefaultBatchSize,
			CacheSize: 1000,
		},
		Chunking: ChunkingConfig{
			Size:    chunker.DefaultChunkSize,
			Overlap: chunker.DefaultChunkOverlap,
		},
		MaxSourceChunks: 3,
		AutoIndex:       string(qa.DefaultStrategy),
	}
}

// Load builds a Config from defaults, the file at path, .env and the
// environment. An empty path loads the default config file when present. A
// missing explicit path is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: invalid .env: %w", types.ErrConfiguration, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	var err error
	if cfg.VaultPath, err = ExpandPath(cfg.VaultPath); err != nil {
		return nil, err
	}
	if cfg.DataDir, err = ExpandPath(cfg.DataDir); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read config %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("%w: invalid TOML in %s: %w", types.ErrConfiguration, path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: invalid YAML in %s: %w", types.ErrConfiguration, path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s must be an integer: %q", types.ErrConfiguration, key, v)
		}
		*dst = n
		return nil
	}

	setString(EnvVaultPath, &c.VaultPath)
	setString(EnvVaultName, &c.VaultName)
	setString(EnvDataDir, &c.DataDir)
	setString(EnvStoreBackend, &c.Store.Backend)
	setString(EnvRedisAddr, &c.Store.RedisAddr)
	setString(EnvRedisPassword, &c.Store.RedisPassword)
	setString(embedder.EnvModelKey, &c.Embedding.ModelKey)
	setString(embedder.EnvProvider, &c.Embedding.Provider)
	setString(embedder.EnvModel, &c.Embedding.Model)
	setString(embedder.EnvBaseURL, &c.Embedding.BaseURL)
	setString(EnvAPIKey, &c.Embedding.APIKey)
	setString(EnvExclusions, &c.QAExclusionPaths)
	setString(EnvAutoIndex, &c.AutoIndex)

	for key, dst := range map[string]*int{
		EnvRedisDB:         &c.Store.RedisDB,
		EnvBatchSize:       &c.Embedding.BatchSize,
		EnvCacheSize:       &c.Embedding.CacheSize,
		EnvChunkSize:       &c.Chunking.Size,
		EnvChunkOverlap:    &c.Chunking.Overlap,
		EnvMaxSourceChunks: &c.MaxSourceChunks,
	} {
		if err := setInt(key, dst); err != nil {
			return err
		}
	}

	if v := strings.TrimSpace(os.Getenv(EnvRateLimit)); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s must be a number: %q", types.ErrConfiguration, EnvRateLimit, v)
		}
		c.Embedding.RequestsPerSecond = rps
	}
	if v := strings.TrimSpace(os.Getenv(EnvDebug)); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s must be a boolean: %q", types.ErrConfiguration, EnvDebug, v)
		}
		c.Debug = debug
	}
	return nil
}

// Validate reports settings that cannot work, wrapped with
// types.ErrConfiguration
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.VaultPath == "" {
		add("vault_path is required")
	}

	switch strings.ToLower(c.Store.Backend) {
	case storage.BackendSQLite, "":
		if c.DataDir == "" {
			add("data_dir is required for the sqlite backend")
		}
	case storage.BackendRedis, storage.BackendMemory:
	default:
		add("unknown store backend %q", c.Store.Backend)
	}

	if c.Embedding.BatchSize < 1 || c.Embedding.BatchSize > embedder.MaxBatchSize {
		add("embedding batch_size must be between 1 and %d", embedder.MaxBatchSize)
	}
	if c.Embedding.CacheSize < 0 {
		add("embedding cache_size must not be negative")
	}
	if c.Embedding.RequestsPerSecond < 0 {
		add("embedding requests_per_second must not be negative")
	}
	if c.Chunking.Size < 1 {
		add("chunking size must be positive")
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		add("chunking overlap must be between 0 and size-1")
	}
	if c.MaxSourceChunks < 1 {
		add("max_source_chunks must be at least 1")
	}
	if _, err := qa.ParseStrategy(c.AutoIndex); err != nil {
		add("unknown auto_index strategy %q", c.AutoIndex)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", types.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// Collection returns the vault name used to identify the index
func (c *Config) Collection() string {
	if c.VaultName != "" {
		return c.VaultName
	}
	return filepath.Base(filepath.Clean(c.VaultPath))
}

// CollectionID returns the stable identifier of the vault's index
func (c *Config) CollectionID() string {
	return fingerprint.CollectionID(c.Collection())
}

// StorePath returns the SQLite database file of the vault's index
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, storePrefix+c.CollectionID()+".db")
}

// LockPath returns the file guarding indexing passes across processes
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, storePrefix+c.CollectionID()+".lock")
}

// StorageConfig returns the storage.Open configuration
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Backend:       c.Store.Backend,
		Path:          c.StorePath(),
		RedisAddr:     c.Store.RedisAddr,
		RedisPassword: c.Store.RedisPassword,
		RedisDB:       c.Store.RedisDB,
		Namespace:     "copilot:" + c.CollectionID(),
	}
}

// EmbedderConfig resolves the provider from the model key, the explicit
// provider setting or the environment, in that order
func (c *Config) EmbedderConfig() embedder.Config {
	cfg := embedder.Config{
		Provider: c.Embedding.Provider,
		Model:    c.Embedding.Model,
		APIKey:   c.Embedding.APIKey,
		BaseURL:  c.Embedding.BaseURL,
	}
	if c.Embedding.ModelKey != "" {
		fromKey := embedder.ConfigFromModelKey(c.Embedding.ModelKey)
		if cfg.Provider == "" {
			cfg.Provider = fromKey.Provider
		}
		if cfg.Model == "" {
			cfg.Model = fromKey.Model
		}
	}
	if cfg.Provider == "" {
		cfg.Provider = embedder.DetectProvider()
	}
	return cfg
}

// GatewayConfig returns the embedding gateway limits
func (c *Config) GatewayConfig() embedder.GatewayConfig {
	return embedder.GatewayConfig{
		BatchSize:         c.Embedding.BatchSize,
		CacheSize:         c.Embedding.CacheSize,
		RequestsPerSecond: c.Embedding.RequestsPerSecond,
		Burst:             c.Embedding.Burst,
	}
}

// Chunker returns a chunker sized by the chunking settings
func (c *Config) Chunker() *chunker.Chunker {
	return chunker.New(chunker.WithChunkSize(c.Chunking.Size), chunker.WithOverlap(c.Chunking.Overlap))
}

// Exclusions parses the exclusion list
func (c *Config) Exclusions() exclusion.Rules {
	return exclusion.Parse(c.QAExclusionPaths)
}

// Strategy parses the auto-index strategy
func (c *Config) Strategy() (qa.Strategy, error) {
	return qa.ParseStrategy(c.AutoIndex)
}

// Save writes cfg as YAML, or TOML when path ends in .toml
func Save(cfg *Config, path string) error {
	var data []byte
	var err error
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		data, err = toml.Marshal(cfg)
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("cannot create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config %s: %w", path, err)
	}
	return nil
}

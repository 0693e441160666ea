package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/repoqa/repoqa/internal/embedder"
	"github.com/repoqa/repoqa/internal/vectorindex"
)

// DefaultConfigFile is the config file name looked up in the data dir
const DefaultConfigFile = "repoqa.yaml"

// Config is the full service configuration
type Config struct {
	// DataDir holds the metadata database, the embedded vector index
	// and optional snapshots
	DataDir string `yaml:"data_dir"`

	LogLevel string `yaml:"log_level"`

	Indexing    IndexingConfig    `yaml:"indexing"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Completion  CompletionConfig  `yaml:"completion"`
}

// IndexingConfig controls index runs
type IndexingConfig struct {
	Workers   int  `yaml:"workers"`
	BatchSize int  `yaml:"batch_size"`
	Snapshot  bool `yaml:"snapshot"`
}

// EmbeddingConfig selects the embedding provider
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Dimension int    `yaml:"dimension"`
	CacheSize int    `yaml:"cache_size"`
}

// VectorStoreConfig selects the vector index backend
type VectorStoreConfig struct {
	Backend    string `yaml:"backend"`
	Addr       string `yaml:"addr"`
	Collection string `yaml:"collection"`
}

// CompletionConfig selects the completion provider
type CompletionConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
}

// Default returns the configuration used when nothing is specified
func Default() *Config {
	return &Config{
		DataDir:  ".repoqa",
		LogLevel: "info",
		Indexing: IndexingConfig{
			BatchSize: embedder.MaxBatchSize,
		},
		Embedding: EmbeddingConfig{
			Provider:  embedder.ProviderLocal,
			Dimension: embedder.LocalDimension,
			CacheSize: 1024,
		},
		VectorStore: VectorStoreConfig{
			Backend:    vectorindex.BackendEmbedded,
			Collection: "repoqa",
		},
		Completion: CompletionConfig{
			Provider: "ollama",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file,
// and REPOQA_* environment variables, in that order of precedence.
// path may be empty, in which case only the default file location is
// tried.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = filepath.Join(cfg.DataDir, DefaultConfigFile)
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if explicit || !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the configuration
func (c *Config) applyEnv() {
	setString(&c.DataDir, "REPOQA_DATA_DIR")
	setString(&c.LogLevel, "REPOQA_LOG_LEVEL")

	setInt(&c.Indexing.Workers, "REPOQA_INDEX_WORKERS")
	setInt(&c.Indexing.BatchSize, "REPOQA_INDEX_BATCH_SIZE")

	setString(&c.Embedding.Provider, "REPOQA_EMBEDDING_PROVIDER")
	setString(&c.Embedding.Model, "REPOQA_EMBEDDING_MODEL")
	setString(&c.Embedding.BaseURL, "REPOQA_EMBEDDING_BASE_URL")
	setString(&c.Embedding.APIKey, "REPOQA_EMBEDDING_API_KEY")
	setInt(&c.Embedding.Dimension, "REPOQA_EMBEDDING_DIMENSION")

	setString(&c.VectorStore.Backend, "REPOQA_VECTOR_BACKEND")
	setString(&c.VectorStore.Addr, "REPOQA_VECTOR_ADDR")
	setString(&c.VectorStore.Collection, "REPOQA_VECTOR_COLLECTION")

	setString(&c.Completion.Provider, "REPOQA_COMPLETION_PROVIDER")
	setString(&c.Completion.Model, "REPOQA_COMPLETION_MODEL")
	setString(&c.Completion.BaseURL, "REPOQA_COMPLETION_BASE_URL")
	setString(&c.Completion.APIKey, "REPOQA_COMPLETION_API_KEY")

	// Conventional fallback shared with other OpenAI tooling
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Completion.APIKey == "" {
		c.Completion.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.Embedding.Dimension)
	}

	switch c.VectorStore.Backend {
	case vectorindex.BackendEmbedded:
	case vectorindex.BackendQdrant:
		if c.VectorStore.Addr == "" {
			return fmt.Errorf("vector_store.addr is required for the %s backend", vectorindex.BackendQdrant)
		}
	default:
		return fmt.Errorf("unknown vector store backend %q", c.VectorStore.Backend)
	}

	if c.Indexing.BatchSize < 0 || c.Indexing.BatchSize > embedder.MaxBatchSize {
		return fmt.Errorf("indexing batch_size must be between 0 and %d", embedder.MaxBatchSize)
	}
	return nil
}

// MetadataPath is the location of the artifact metadata database
func (c *Config) MetadataPath() string {
	return filepath.Join(c.DataDir, "metadata.db")
}

// VectorPath is the location of the embedded vector index
func (c *Config) VectorPath() string {
	return filepath.Join(c.DataDir, "vectors.db")
}

// SnapshotPath is the location of the Parquet snapshot, or empty when
// snapshots are disabled
func (c *Config) SnapshotPath() string {
	if !c.Indexing.Snapshot {
		return ""
	}
	return filepath.Join(c.DataDir, "embeddings.parquet")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repoqa/repoqa/internal/embedder"
	"github.com/repoqa/repoqa/internal/vectorindex"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ".repoqa", cfg.DataDir)
	assert.Equal(t, embedder.ProviderLocal, cfg.Embedding.Provider)
	assert.Equal(t, embedder.LocalDimension, cfg.Embedding.Dimension)
	assert.Equal(t, vectorindex.BackendEmbedded, cfg.VectorStore.Backend)
	assert.Equal(t, "ollama", cfg.Completion.Provider)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "repoqa.yaml")
	content := `
data_dir: /var/lib/repoqa
log_level: debug
embedding:
  provider: ollama
  model: nomic-embed-text
  dimension: 768
vector_store:
  backend: qdrant
  addr: localhost:6334
  collection: code
completion:
  provider: openai
  model: gpt-4
  api_key: sk-test
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/repoqa", cfg.DataDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, 768, cfg.Embedding.Dimension)
	assert.Equal(t, vectorindex.BackendQdrant, cfg.VectorStore.Backend)
	assert.Equal(t, "localhost:6334", cfg.VectorStore.Addr)
	assert.Equal(t, "code", cfg.VectorStore.Collection)
	assert.Equal(t, "openai", cfg.Completion.Provider)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadMissingDefaultFileIsFine(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().DataDir, cfg.DataDir)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REPOQA_DATA_DIR", "/tmp/override")
	t.Setenv("REPOQA_EMBEDDING_PROVIDER", "ollama")
	t.Setenv("REPOQA_EMBEDDING_DIMENSION", "768")
	t.Setenv("REPOQA_VECTOR_BACKEND", "qdrant")
	t.Setenv("REPOQA_VECTOR_ADDR", "qdrant:6334")
	t.Setenv("REPOQA_INDEX_WORKERS", "4")

	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/override", cfg.DataDir)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, 768, cfg.Embedding.Dimension)
	assert.Equal(t, "qdrant", cfg.VectorStore.Backend)
	assert.Equal(t, "qdrant:6334", cfg.VectorStore.Addr)
	assert.Equal(t, 4, cfg.Indexing.Workers)
}

func TestOpenAIKeyFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sk-from-env", cfg.Embedding.APIKey)
	assert.Equal(t, "sk-from-env", cfg.Completion.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(c *Config) {}, false},
		{"empty data dir", func(c *Config) { c.DataDir = "" }, true},
		{"zero dimension", func(c *Config) { c.Embedding.Dimension = 0 }, true},
		{"qdrant without addr", func(c *Config) { c.VectorStore.Backend = vectorindex.BackendQdrant }, true},
		{"qdrant with addr", func(c *Config) {
			c.VectorStore.Backend = vectorindex.BackendQdrant
			c.VectorStore.Addr = "localhost:6334"
		}, false},
		{"unknown backend", func(c *Config) { c.VectorStore.Backend = "pinecone" }, true},
		{"oversized batch", func(c *Config) { c.Indexing.BatchSize = embedder.MaxBatchSize + 1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/data"

	assert.Equal(t, filepath.Join("/data", "metadata.db"), cfg.MetadataPath())
	assert.Equal(t, filepath.Join("/data", "vectors.db"), cfg.VectorPath())
	assert.Equal(t, "", cfg.SnapshotPath())

	cfg.Indexing.Snapshot = true
	assert.Equal(t, filepath.Join("/data", "embeddings.parquet"), cfg.SnapshotPath())
}

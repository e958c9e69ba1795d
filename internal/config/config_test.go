package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "milvus", cfg.VectorStore.Backend)
	assert.Equal(t, "L2", cfg.VectorStore.Metric)
	assert.Equal(t, 1024, cfg.VectorStore.IndexNList)
	assert.Equal(t, 100, cfg.VectorStore.InsertBatchSize)
	assert.Equal(t, 2*time.Second, cfg.VectorStore.ConnectDelay)
	assert.Equal(t, 3*time.Second, cfg.VectorStore.CreateDelay)
	assert.Equal(t, 64, cfg.Embedding.BatchSize)
	assert.Equal(t, 512, cfg.Embedding.MaxTokens)
	assert.Equal(t, 2, cfg.Ingest.MaxConcurrent)
	assert.Equal(t, 4, cfg.Ingest.Workers)
	assert.Equal(t, 1000, cfg.Ingest.ChunkSize)
	assert.Equal(t, 100, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, "beaglemind_col", cfg.Retrieval.DefaultCollection)
	assert.Equal(t, "localhost:19530", cfg.Milvus.MilvusAddress())

	require.NoError(t, cfg.Validate())
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("MILVUS_URI", "https://milvus.example:443")
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("INGEST_WORKERS", "8")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "https://milvus.example:443", cfg.Milvus.MilvusAddress())
	assert.Equal(t, "ghp_test", cfg.GitHub.Token)
	assert.Equal(t, 8, cfg.Ingest.Workers)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("vectorstore:\n  backend: qdrant\n  metric: COSINE\nqdrant:\n  port: 7000\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "qdrant", cfg.VectorStore.Backend)
	assert.Equal(t, "COSINE", cfg.VectorStore.Metric)
	assert.Equal(t, 7000, cfg.Qdrant.Port)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"unknown backend", func(c *Config) { c.VectorStore.Backend = "faiss" }},
		{"unknown metric", func(c *Config) { c.VectorStore.Metric = "HAMMING" }},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "openai" }},
		{"zero workers", func(c *Config) { c.Ingest.Workers = 0 }},
		{"overlap too large", func(c *Config) { c.Ingest.ChunkOverlap = c.Ingest.ChunkSize }},
		{"startup without collection", func(c *Config) { c.Startup.SourceURL = "https://github.com/a/b" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	VectorStore VectorStoreConfig `mapstructure:"vectorstore"`
	Milvus      MilvusConfig      `mapstructure:"milvus"`
	Qdrant      QdrantConfig      `mapstructure:"qdrant"`
	ChromaDB    ChromaDBConfig    `mapstructure:"chromadb"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	Rerank      RerankConfig      `mapstructure:"rerank"`
	ONNX        ONNXConfig        `mapstructure:"onnx"`
	GitHub      GitHubConfig      `mapstructure:"github"`
	Ingest      IngestConfig      `mapstructure:"ingest"`
	Forum       ForumConfig       `mapstructure:"forum"`
	Retrieval   RetrievalConfig   `mapstructure:"retrieval"`
	Jobs        JobsConfig        `mapstructure:"jobs"`
	Startup     StartupConfig     `mapstructure:"startup"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
}

// ServerConfig holds server related configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	Debug           bool          `mapstructure:"debug"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig selects the zerolog level and output format ("console" or "json").
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// VectorStoreConfig holds settings shared by every vector store backend
type VectorStoreConfig struct {
	Backend         string        `mapstructure:"backend"`
	Metric          string        `mapstructure:"metric"`
	IndexNList      int           `mapstructure:"index_nlist"`
	InsertBatchSize int           `mapstructure:"insert_batch_size"`
	ConnectAttempts int           `mapstructure:"connect_attempts"`
	ConnectDelay    time.Duration `mapstructure:"connect_delay"`
	CreateAttempts  int           `mapstructure:"create_attempts"`
	CreateDelay     time.Duration `mapstructure:"create_delay"`
}

// MilvusConfig holds Milvus connection settings. URI wins over Host/Port when set.
type MilvusConfig struct {
	URI      string `mapstructure:"uri"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Token    string `mapstructure:"token"`
}

// QdrantConfig holds Qdrant connection settings
type QdrantConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
	UseTLS bool   `mapstructure:"use_tls"`
}

// ChromaDBConfig holds ChromaDB related configuration
type ChromaDBConfig struct {
	URL string `mapstructure:"url"`
}

// EmbeddingConfig holds embedding related configuration
type EmbeddingConfig struct {
	Provider      string `mapstructure:"provider"`
	ModelPath     string `mapstructure:"model_path"`
	TokenizerPath string `mapstructure:"tokenizer_path"`
	MaxTokens     int    `mapstructure:"max_tokens"`
	BatchSize     int    `mapstructure:"batch_size"`
	OllamaHost    string `mapstructure:"ollama_host"`
	OllamaModel   string `mapstructure:"ollama_model"`
}

// RerankConfig holds cross-encoder settings
type RerankConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ModelPath     string `mapstructure:"model_path"`
	TokenizerPath string `mapstructure:"tokenizer_path"`
	MaxTokens     int    `mapstructure:"max_tokens"`
}

// ONNXConfig points at the onnxruntime shared library
type ONNXConfig struct {
	LibraryPath string `mapstructure:"library_path"`
}

// GitHubConfig holds GitHub API settings
type GitHubConfig struct {
	Token     string        `mapstructure:"token"`
	APIURL    string        `mapstructure:"api_url"`
	RawURL    string        `mapstructure:"raw_url"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// IngestConfig holds repository ingestion settings
type IngestConfig struct {
	MaxConcurrent  int `mapstructure:"max_concurrent"`
	Workers        int `mapstructure:"workers"`
	ChunkSize      int `mapstructure:"chunk_size"`
	ChunkOverlap   int `mapstructure:"chunk_overlap"`
	MinChunkSize   int `mapstructure:"min_chunk_size"`
	MinContentSize int `mapstructure:"min_content_size"`
}

// ForumConfig holds forum thread ingestion settings
type ForumConfig struct {
	RepoName     string `mapstructure:"repo_name"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
	MinChunkSize int    `mapstructure:"min_chunk_size"`
	MinPostSize  int    `mapstructure:"min_post_size"`
}

// RetrievalConfig holds search defaults
type RetrievalConfig struct {
	DefaultCollection string `mapstructure:"default_collection"`
	DefaultResults    int    `mapstructure:"default_results"`
	OverFetchFactor   int    `mapstructure:"over_fetch_factor"`
}

// JobsConfig holds the job store location. An empty path keeps jobs in memory.
type JobsConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// StartupConfig describes the optional one-shot ingestion run at process start.
type StartupConfig struct {
	Collection string `mapstructure:"collection"`
	SourceURL  string `mapstructure:"source_url"`
	Branch     string `mapstructure:"branch"`
}

// TracingConfig holds OpenTelemetry settings. An empty endpoint disables export.
type TracingConfig struct {
	ServiceName  string  `mapstructure:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// LoadConfig loads configuration from file, .env and environment variables
func LoadConfig(configPath string) (*Config, error) {
	// A missing .env is the normal case outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// MILVUS_URI -> milvus.uri, GITHUB_TOKEN -> github.token, ...
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.debug", false)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Vector store defaults
	v.SetDefault("vectorstore.backend", "milvus")
	v.SetDefault("vectorstore.metric", "L2")
	v.SetDefault("vectorstore.index_nlist", 1024)
	v.SetDefault("vectorstore.insert_batch_size", 100)
	v.SetDefault("vectorstore.connect_attempts", 3)
	v.SetDefault("vectorstore.connect_delay", "2s")
	v.SetDefault("vectorstore.create_attempts", 3)
	v.SetDefault("vectorstore.create_delay", "3s")

	v.SetDefault("milvus.uri", "")
	v.SetDefault("milvus.host", "localhost")
	v.SetDefault("milvus.port", 19530)
	v.SetDefault("milvus.user", "")
	v.SetDefault("milvus.password", "")
	v.SetDefault("milvus.token", "")

	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.api_key", "")
	v.SetDefault("qdrant.use_tls", false)

	v.SetDefault("chromadb.url", "http://localhost:8000")

	// Embedding defaults
	v.SetDefault("embedding.provider", "onnx")
	v.SetDefault("embedding.model_path", "onnx/model.onnx")
	v.SetDefault("embedding.tokenizer_path", "onnx/tokenizer.json")
	v.SetDefault("embedding.max_tokens", 512)
	v.SetDefault("embedding.batch_size", 64)
	v.SetDefault("embedding.ollama_host", "http://localhost:11434")
	v.SetDefault("embedding.ollama_model", "nomic-embed-text")

	v.SetDefault("rerank.enabled", true)
	v.SetDefault("rerank.model_path", "onnx/cross_encoder.onnx")
	v.SetDefault("rerank.tokenizer_path", "onnx/cross_encoder_tokenizer.json")
	v.SetDefault("rerank.max_tokens", 512)

	v.SetDefault("onnx.library_path", "")

	v.SetDefault("github.token", "")
	v.SetDefault("github.api_url", "https://api.github.com")
	v.SetDefault("github.raw_url", "https://raw.githubusercontent.com")
	v.SetDefault("github.user_agent", "rag-ingest")
	v.SetDefault("github.timeout", "30s")

	// Ingestion defaults
	v.SetDefault("ingest.max_concurrent", 2)
	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.chunk_size", 1000)
	v.SetDefault("ingest.chunk_overlap", 100)
	v.SetDefault("ingest.min_chunk_size", 30)
	v.SetDefault("ingest.min_content_size", 50)

	v.SetDefault("forum.repo_name", "beagleboard_forum")
	v.SetDefault("forum.chunk_size", 1024)
	v.SetDefault("forum.chunk_overlap", 50)
	v.SetDefault("forum.min_chunk_size", 10)
	v.SetDefault("forum.min_post_size", 20)

	v.SetDefault("retrieval.default_collection", "beaglemind_col")
	v.SetDefault("retrieval.default_results", 10)
	v.SetDefault("retrieval.over_fetch_factor", 3)

	v.SetDefault("jobs.db_path", "data/jobs.db")

	v.SetDefault("startup.collection", "")
	v.SetDefault("startup.source_url", "")
	v.SetDefault("startup.branch", "main")

	v.SetDefault("tracing.service_name", "rag-ingest")
	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.sample_rate", 1.0)
}

// MilvusAddress returns the address the Milvus client dials
func (c *MilvusConfig) MilvusAddress() string {
	if c.URI != "" {
		return c.URI
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.VectorStore.Backend {
	case "milvus", "qdrant", "chroma", "memory":
	default:
		return fmt.Errorf("unknown vector store backend: %q", c.VectorStore.Backend)
	}

	switch strings.ToUpper(c.VectorStore.Metric) {
	case "L2", "COSINE", "IP":
	default:
		return fmt.Errorf("unknown vector metric: %q", c.VectorStore.Metric)
	}

	switch c.Embedding.Provider {
	case "onnx", "ollama":
	default:
		return fmt.Errorf("unknown embedding provider: %q", c.Embedding.Provider)
	}

	if c.VectorStore.InsertBatchSize <= 0 {
		return fmt.Errorf("insert batch size must be positive, got %d", c.VectorStore.InsertBatchSize)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding batch size must be positive, got %d", c.Embedding.BatchSize)
	}
	if c.Ingest.MaxConcurrent <= 0 {
		return fmt.Errorf("ingest max_concurrent must be positive, got %d", c.Ingest.MaxConcurrent)
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest workers must be positive, got %d", c.Ingest.Workers)
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	if c.Forum.ChunkOverlap >= c.Forum.ChunkSize {
		return fmt.Errorf("forum chunk overlap %d must be smaller than chunk size %d", c.Forum.ChunkOverlap, c.Forum.ChunkSize)
	}

	if c.Startup.SourceURL != "" && c.Startup.Collection == "" {
		return fmt.Errorf("startup.collection is required when startup.source_url is set")
	}

	return nil
}

// GetConfigPath returns the path to the config file, or "" when none exists
func GetConfigPath() (string, error) {
	// Look for config in the following locations:
	// 1. Current directory
	// 2. ./configs/
	// 3. /etc/rag-ingest/

	configName := "config"
	configType := "yaml"
	configPaths := []string{
		".",
		"./configs",
		"/etc/rag-ingest",
	}

	for _, path := range configPaths {
		configPath := filepath.Join(path, configName+"."+configType)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
	}

	return "", fmt.Errorf("config file not found in any of the default locations")
}

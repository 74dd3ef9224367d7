package factextract

import (
	"os"
	"path/filepath"
)

// Config holds all configuration for the FactExtract engine.
type Config struct {
	// DataDir is the root for tabular stores (SQLite file) and the
	// vector index. The store lives at <DataDir>/factextract.db.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// LLM providers. Chat drives extraction and verification prompts;
	// Embedding drives VectorIndex insertion and search.
	Chat      LLMConfig `json:"chat" yaml:"chat"`
	Embedding LLMConfig `json:"embedding" yaml:"embedding"`

	// Chunking.
	ChunkSizeWords    int `json:"chunk_size_words" yaml:"chunk_size_words"`
	ChunkOverlapWords int `json:"chunk_overlap_words" yaml:"chunk_overlap_words"`

	// Pipeline concurrency and retry policy.
	MaxConcurrentChunks int     `json:"max_concurrent_chunks" yaml:"max_concurrent_chunks"`
	LLMTimeoutS         float64 `json:"llm_timeout_s" yaml:"llm_timeout_s"`
	MaxRetries          int     `json:"max_retries" yaml:"max_retries"`
	BackoffBaseS        float64 `json:"backoff_base_s" yaml:"backoff_base_s"`

	// EmbeddingModel records the embedding model name. New does not read
	// it; the model actually used is Embedding.Model.
	EmbeddingModel string `json:"embedding_model" yaml:"embedding_model"`

	// EmbeddingDim must match the dimensionality produced by Embedding.Model.
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`

	// LogLevel records a log level name (debug, info, warn, error). It is
	// filled by the defaults but not read by the engine or the binaries,
	// which log at info level.
	LogLevel string `json:"log_level" yaml:"log_level"`

	// ExportOnSubmit, when true, re-writes the three reference columnar
	// files (all_chunks, all_facts, rejected_facts) after every submit.
	ExportOnSubmit bool `json:"export_on_submit" yaml:"export_on_submit"`

	// VectorCollection is the stable name of the vec0 virtual table
	// holding fact embeddings.
	VectorCollection string `json:"vector_collection" yaml:"vector_collection"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, lmstudio, openrouter, xai, gemini, groq, openai, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// DefaultConfig returns a Config with sensible defaults for local inference.
// The store lives under ./data by default.
func DefaultConfig() Config {
	return Config{
		DataDir: "./data",
		Chat: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: LLMConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		ChunkSizeWords:      750,
		ChunkOverlapWords:   50,
		MaxConcurrentChunks: 5,
		LLMTimeoutS:         60,
		MaxRetries:          5,
		BackoffBaseS:        2,
		EmbeddingModel:      "nomic-embed-text",
		EmbeddingDim:        768,
		LogLevel:            "info",
		ExportOnSubmit:      false,
		VectorCollection:    "fact_embeddings",
	}
}

// resolveDBPath computes the path to the SQLite database file from DataDir.
func (c *Config) resolveDBPath() string {
	dir := c.DataDir
	if dir == "" {
		dir = "./data"
	}
	return filepath.Join(dir, "factextract.db")
}

// ensureDataDir creates DataDir (and parents) if it does not already exist.
func (c *Config) ensureDataDir() error {
	dir := c.DataDir
	if dir == "" {
		dir = "./data"
	}
	return os.MkdirAll(dir, 0o755)
}

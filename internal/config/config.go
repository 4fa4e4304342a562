// Package config provides configuration loading for tradebank.
//
// Configuration is loaded from a YAML file with environment variable
// overrides. There is no process-wide config singleton: callers load a
// Config once and pass the relevant sections down to each service.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete tradebank configuration.
type Config struct {
	Logging     LoggingConfig     `koanf:"logging"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	Learning    LearningConfig    `koanf:"learning"`
	Reasoner    ReasonerConfig    `koanf:"reasoner"`
	Store       StoreConfig       `koanf:"store"`
}

// LoggingConfig holds zap logger configuration.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is the output encoding: json or console.
	Format string `koanf:"format"`
}

// EmbeddingsConfig holds configuration for the TEI-compatible embedding endpoint.
type EmbeddingsConfig struct {
	BaseURL string        `koanf:"base_url"`
	Model   string        `koanf:"model"`
	Timeout time.Duration `koanf:"timeout"`

	// MaxRetries bounds retry attempts on transient embed failures.
	MaxRetries int `koanf:"max_retries"`
}

// VectorStoreConfig selects and configures the evidence index backend.
type VectorStoreConfig struct {
	// Provider selects the backend: "chromem" (embedded, default) or "qdrant".
	Provider string `koanf:"provider"`

	// Collection is the evidence collection name.
	Collection string `koanf:"collection"`

	// VectorSize is the embedding dimensionality. Must match the embedder.
	VectorSize int `koanf:"vector_size"`

	Chromem ChromemConfig `koanf:"chromem"`
	Qdrant  QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig holds settings for the embedded chromem-go index.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	Path string `koanf:"path"`

	// Compress enables gzip compression for stored data.
	Compress bool `koanf:"compress"`
}

// QdrantConfig holds settings for the Qdrant gRPC index.
type QdrantConfig struct {
	Host string `koanf:"host"`

	// Port is the Qdrant gRPC port (6334), not the HTTP REST port.
	Port   int  `koanf:"port"`
	UseTLS bool `koanf:"use_tls"`

	// MaxRetries bounds retry attempts on transient gRPC failures.
	MaxRetries int `koanf:"max_retries"`

	// RetryBackoff is the initial backoff, doubled per attempt.
	RetryBackoff time.Duration `koanf:"retry_backoff"`
}

// RetrievalConfig holds the scoring and filtering knobs for evidence retrieval.
//
// The composite weights are an operational tuning lever; defaults follow the
// 0.5/0.25/0.25 split between similarity, recency and outcome quality.
type RetrievalConfig struct {
	// TopK is the number of evidence records returned after re-ranking.
	TopK int `koanf:"top_k"`

	// FetchMultiplier controls over-fetch before re-ranking: the index is
	// asked for max(FetchMultiplier*TopK, MinFetch) candidates.
	FetchMultiplier int `koanf:"fetch_multiplier"`
	MinFetch        int `koanf:"min_fetch"`

	// SimilarityThreshold discards raw matches below this cosine similarity.
	SimilarityThreshold float64 `koanf:"similarity_threshold"`

	SimilarityWeight float64 `koanf:"similarity_weight"`
	RecencyWeight    float64 `koanf:"recency_weight"`
	OutcomeWeight    float64 `koanf:"outcome_weight"`

	// RecencyHorizonDays is the age at which recency decays to zero.
	RecencyHorizonDays int `koanf:"recency_horizon_days"`

	// DTEWindow is the ± window on days-to-expiry for the hard filter.
	DTEWindow int `koanf:"dte_window"`

	// VolatilityWindow is the ± window on the volatility-regime indicator.
	VolatilityWindow float64 `koanf:"volatility_window"`
}

// LearningConfig holds the trust-weight adaptation parameters.
type LearningConfig struct {
	// Delta is the per-outcome trust-weight step.
	Delta float64 `koanf:"delta"`

	// Alpha is the EWMA factor for accuracy_rate updates.
	Alpha float64 `koanf:"alpha"`

	MinTrust float64 `koanf:"min_trust"`
	MaxTrust float64 `koanf:"max_trust"`

	// UpdateRetries bounds immediate retries on index update conflicts.
	UpdateRetries int `koanf:"update_retries"`
}

// ReasonerConfig holds configuration for the generative reasoning provider.
type ReasonerConfig struct {
	Model   string `koanf:"model"`
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`

	// Timeout bounds a single provider call.
	Timeout time.Duration `koanf:"timeout"`

	MaxTokens  int `koanf:"max_tokens"`
	MaxRetries int `koanf:"max_retries"`
}

// StoreConfig holds the recommendation store configuration.
type StoreConfig struct {
	// Path is the sqlite database file.
	Path string `koanf:"path"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = "http://localhost:8080"
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if c.Embeddings.Timeout == 0 {
		c.Embeddings.Timeout = 30 * time.Second
	}
	if c.Embeddings.MaxRetries == 0 {
		c.Embeddings.MaxRetries = 2
	}

	if c.VectorStore.Provider == "" {
		c.VectorStore.Provider = "chromem"
	}
	if c.VectorStore.Collection == "" {
		c.VectorStore.Collection = "trade_evidence"
	}
	if c.VectorStore.VectorSize == 0 {
		c.VectorStore.VectorSize = 384 // bge-small-en-v1.5 dimensions
	}
	if c.VectorStore.Chromem.Path == "" {
		c.VectorStore.Chromem.Path = "~/.config/tradebank/vectorstore"
	}
	if c.VectorStore.Qdrant.Host == "" {
		c.VectorStore.Qdrant.Host = "localhost"
	}
	if c.VectorStore.Qdrant.Port == 0 {
		c.VectorStore.Qdrant.Port = 6334
	}
	if c.VectorStore.Qdrant.MaxRetries == 0 {
		c.VectorStore.Qdrant.MaxRetries = 3
	}
	if c.VectorStore.Qdrant.RetryBackoff == 0 {
		c.VectorStore.Qdrant.RetryBackoff = time.Second
	}

	if c.Retrieval.TopK == 0 {
		c.Retrieval.TopK = 5
	}
	if c.Retrieval.FetchMultiplier == 0 {
		c.Retrieval.FetchMultiplier = 2
	}
	if c.Retrieval.MinFetch == 0 {
		c.Retrieval.MinFetch = 10
	}
	if c.Retrieval.SimilarityThreshold == 0 {
		c.Retrieval.SimilarityThreshold = 0.7
	}
	if c.Retrieval.SimilarityWeight == 0 && c.Retrieval.RecencyWeight == 0 && c.Retrieval.OutcomeWeight == 0 {
		c.Retrieval.SimilarityWeight = 0.5
		c.Retrieval.RecencyWeight = 0.25
		c.Retrieval.OutcomeWeight = 0.25
	}
	if c.Retrieval.RecencyHorizonDays == 0 {
		c.Retrieval.RecencyHorizonDays = 365
	}
	if c.Retrieval.DTEWindow == 0 {
		c.Retrieval.DTEWindow = 7
	}
	if c.Retrieval.VolatilityWindow == 0 {
		c.Retrieval.VolatilityWindow = 5
	}

	if c.Learning.Delta == 0 {
		c.Learning.Delta = 0.05
	}
	if c.Learning.Alpha == 0 {
		c.Learning.Alpha = 0.2
	}
	if c.Learning.MinTrust == 0 {
		c.Learning.MinTrust = 0.1
	}
	if c.Learning.MaxTrust == 0 {
		c.Learning.MaxTrust = 3.0
	}
	if c.Learning.UpdateRetries == 0 {
		c.Learning.UpdateRetries = 5
	}

	if c.Reasoner.Model == "" {
		c.Reasoner.Model = "claude-3-5-haiku-20241022"
	}
	if c.Reasoner.BaseURL == "" {
		c.Reasoner.BaseURL = "https://api.anthropic.com"
	}
	if c.Reasoner.Timeout == 0 {
		c.Reasoner.Timeout = 30 * time.Second
	}
	if c.Reasoner.MaxTokens == 0 {
		c.Reasoner.MaxTokens = 2048
	}
	if c.Reasoner.MaxRetries == 0 {
		c.Reasoner.MaxRetries = 2
	}

	if c.Store.Path == "" {
		c.Store.Path = "~/.config/tradebank/recommendations.db"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format: %q (must be json or console)", c.Logging.Format)
	}

	if c.VectorStore.Provider != "chromem" && c.VectorStore.Provider != "qdrant" {
		return fmt.Errorf("invalid vectorstore provider: %q (must be chromem or qdrant)", c.VectorStore.Provider)
	}
	if c.VectorStore.VectorSize <= 0 {
		return errors.New("vector size must be positive")
	}
	if c.VectorStore.Provider == "qdrant" {
		if c.VectorStore.Qdrant.Port < 1 || c.VectorStore.Qdrant.Port > 65535 {
			return fmt.Errorf("invalid qdrant port: %d", c.VectorStore.Qdrant.Port)
		}
	}

	if c.Retrieval.TopK <= 0 {
		return errors.New("retrieval top_k must be positive")
	}
	if c.Retrieval.SimilarityThreshold < 0 || c.Retrieval.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold %v out of range [0,1]", c.Retrieval.SimilarityThreshold)
	}
	sum := c.Retrieval.SimilarityWeight + c.Retrieval.RecencyWeight + c.Retrieval.OutcomeWeight
	if sum <= 0 {
		return errors.New("composite score weights must sum to a positive value")
	}

	if c.Learning.Delta <= 0 {
		return errors.New("learning delta must be positive")
	}
	if c.Learning.Alpha <= 0 || c.Learning.Alpha > 1 {
		return fmt.Errorf("learning alpha %v out of range (0,1]", c.Learning.Alpha)
	}
	if c.Learning.MinTrust >= c.Learning.MaxTrust {
		return fmt.Errorf("min trust %v must be below max trust %v", c.Learning.MinTrust, c.Learning.MaxTrust)
	}

	if c.Reasoner.Timeout <= 0 {
		return errors.New("reasoner timeout must be positive")
	}

	return nil
}

// Package main implements the tradebank CLI: evidence ingestion, candidate
// recommendation, outcome feedback and analytics over the evidence base.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tradebank/internal/analytics"
	"github.com/fyrsmithlabs/tradebank/internal/config"
	"github.com/fyrsmithlabs/tradebank/internal/embeddings"
	"github.com/fyrsmithlabs/tradebank/internal/evidence"
	"github.com/fyrsmithlabs/tradebank/internal/feedback"
	"github.com/fyrsmithlabs/tradebank/internal/logging"
	"github.com/fyrsmithlabs/tradebank/internal/recstore"
	"github.com/fyrsmithlabs/tradebank/internal/retrieval"
	"github.com/fyrsmithlabs/tradebank/internal/synthesis"
	"github.com/fyrsmithlabs/tradebank/internal/vectorstore"
)

var (
	// configPath is the optional YAML config file.
	configPath string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tradebank",
	Short: "Evidence-based trade recommendation engine",
	Long: `tradebank maintains a searchable evidence base of closed trades and uses
it to evaluate new trade candidates: retrieval over the vector index,
recommendation synthesis via a reasoning provider, and a feedback loop that
adjusts evidence trust weights from realized outcomes.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: TRADEBANK_* env vars only)")
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(recommendCmd)
	rootCmd.AddCommand(outcomeCmd)
	rootCmd.AddCommand(statsCmd)
}

// app bundles the wired services behind the CLI commands.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	index     vectorstore.Index
	store     *recstore.Store
	ingester  *evidence.Service
	retriever *retrieval.Retriever
	feedback  *feedback.Service
	analytics *analytics.Service
}

// newApp loads config and wires everything except the reasoning provider,
// which only the recommend command needs (and which requires an API key).
func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	embedSvc, err := embeddings.NewService(embeddings.Config{
		BaseURL:    cfg.Embeddings.BaseURL,
		Model:      cfg.Embeddings.Model,
		Timeout:    cfg.Embeddings.Timeout,
		MaxRetries: cfg.Embeddings.MaxRetries,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating embedding service: %w", err)
	}

	index, err := newIndex(cfg, embedSvc.Embedder(), logger)
	if err != nil {
		return nil, fmt.Errorf("creating vector index: %w", err)
	}

	storePath, err := expandHome(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("resolving store path: %w", err)
	}
	store, err := recstore.New(storePath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening recommendation store: %w", err)
	}

	retriever := retrieval.NewRetriever(index, retrieval.Config{
		TopK:                cfg.Retrieval.TopK,
		FetchMultiplier:     cfg.Retrieval.FetchMultiplier,
		MinFetch:            cfg.Retrieval.MinFetch,
		SimilarityThreshold: float32(cfg.Retrieval.SimilarityThreshold),
		Weights: retrieval.Weights{
			Similarity: cfg.Retrieval.SimilarityWeight,
			Recency:    cfg.Retrieval.RecencyWeight,
			Outcome:    cfg.Retrieval.OutcomeWeight,
		},
		RecencyHorizonDays: cfg.Retrieval.RecencyHorizonDays,
		DTEWindow:          cfg.Retrieval.DTEWindow,
		VolatilityWindow:   cfg.Retrieval.VolatilityWindow,
	}, logger)

	return &app{
		cfg:       cfg,
		logger:    logger,
		index:     index,
		store:     store,
		ingester:  evidence.NewService(index, logger),
		retriever: retriever,
		feedback: feedback.NewService(store, index, feedback.Config{
			Delta:         cfg.Learning.Delta,
			Alpha:         cfg.Learning.Alpha,
			MinTrust:      cfg.Learning.MinTrust,
			MaxTrust:      cfg.Learning.MaxTrust,
			UpdateRetries: cfg.Learning.UpdateRetries,
		}, logger),
		analytics: analytics.NewService(store, index, logger),
	}, nil
}

// synthesizer wires the reasoning provider on demand.
func (a *app) synthesizer() (*synthesis.Service, error) {
	reasoner, err := synthesis.NewAnthropicReasoner(synthesis.ReasonerConfig{
		Model:      a.cfg.Reasoner.Model,
		APIKey:     a.cfg.Reasoner.APIKey,
		BaseURL:    a.cfg.Reasoner.BaseURL,
		Timeout:    a.cfg.Reasoner.Timeout,
		MaxTokens:  a.cfg.Reasoner.MaxTokens,
		MaxRetries: a.cfg.Reasoner.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("creating reasoner (set TRADEBANK_REASONER_API_KEY): %w", err)
	}

	return synthesis.NewService(a.retriever, reasoner, a.store, a.index, synthesis.Config{
		TopK:          a.cfg.Retrieval.TopK,
		MaxTokens:     a.cfg.Reasoner.MaxTokens,
		UpdateRetries: a.cfg.Learning.UpdateRetries,
	}, a.logger), nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing recommendation store", zap.Error(err))
	}
	if err := a.index.Close(); err != nil {
		a.logger.Warn("closing vector index", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func newIndex(cfg *config.Config, embedder vectorstore.Embedder, logger *zap.Logger) (vectorstore.Index, error) {
	switch cfg.VectorStore.Provider {
	case "qdrant":
		return vectorstore.NewQdrantIndex(vectorstore.QdrantConfig{
			Host:         cfg.VectorStore.Qdrant.Host,
			Port:         cfg.VectorStore.Qdrant.Port,
			Collection:   cfg.VectorStore.Collection,
			VectorSize:   uint64(cfg.VectorStore.VectorSize),
			UseTLS:       cfg.VectorStore.Qdrant.UseTLS,
			MaxRetries:   cfg.VectorStore.Qdrant.MaxRetries,
			RetryBackoff: cfg.VectorStore.Qdrant.RetryBackoff,
		}, embedder, logger)
	default:
		return vectorstore.NewChromemIndex(vectorstore.ChromemConfig{
			Path:       cfg.VectorStore.Chromem.Path,
			Compress:   cfg.VectorStore.Chromem.Compress,
			Collection: cfg.VectorStore.Collection,
			VectorSize: cfg.VectorStore.VectorSize,
		}, embedder, logger)
	}
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

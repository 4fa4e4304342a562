// Package retrieval answers "what happened the last times we did this" by
// running filtered similarity search over the evidence index and re-ranking
// the hits with a composite of similarity, recency and outcome quality.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tradebank/internal/evidence"
	"github.com/fyrsmithlabs/tradebank/internal/trade"
	"github.com/fyrsmithlabs/tradebank/internal/vectorstore"
)

var retrievalTracer = otel.Tracer("tradebank.retrieval")

// Config holds retrieval tuning parameters.
type Config struct {
	// TopK is the default result count when the caller passes k <= 0.
	TopK int

	// FetchMultiplier over-fetches before re-ranking: the index is asked for
	// FetchMultiplier*k results, at least MinFetch.
	FetchMultiplier int
	MinFetch        int

	// SimilarityThreshold discards matches below this raw cosine similarity.
	SimilarityThreshold float32

	Weights Weights

	// RecencyHorizonDays is the age at which the recency score reaches zero.
	RecencyHorizonDays int

	// DTEWindow is the ± range filter on days-to-expiry.
	DTEWindow int

	// VolatilityWindow is the ± range filter on the volatility indicator.
	VolatilityWindow float64
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.FetchMultiplier == 0 {
		c.FetchMultiplier = 2
	}
	if c.MinFetch == 0 {
		c.MinFetch = 10
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 0.7
	}
	if c.Weights == (Weights{}) {
		c.Weights = DefaultWeights()
	}
	if c.RecencyHorizonDays == 0 {
		c.RecencyHorizonDays = 365
	}
	if c.DTEWindow == 0 {
		c.DTEWindow = 7
	}
	if c.VolatilityWindow == 0 {
		c.VolatilityWindow = 5
	}
}

// Result is one re-ranked retrieval hit. Ephemeral, never persisted.
type Result struct {
	Record evidence.Record

	Similarity     float64
	Recency        float64
	OutcomeQuality float64
	CompositeScore float64
}

// Retriever runs filtered, re-ranked evidence retrieval.
type Retriever struct {
	index  vectorstore.Index
	config Config
	logger *zap.Logger

	// now is swappable for deterministic tests.
	now func() time.Time
}

// NewRetriever creates a Retriever over the given index.
func NewRetriever(index vectorstore.Index, config Config, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	return &Retriever{
		index:  index,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// buildFilter assembles the hard filter for a candidate. Symbol and strategy
// always match exactly; cross-instrument or cross-strategy evidence is not
// comparable in this domain. Range filters are omitted when the candidate
// lacks the field.
func (r *Retriever) buildFilter(c *trade.Candidate) *vectorstore.Filter {
	filter := &vectorstore.Filter{
		Match: map[string]string{
			evidence.KeySymbol:   c.Symbol,
			evidence.KeyStrategy: c.Strategy,
		},
	}
	if c.DTE != nil {
		filter.Ranges = append(filter.Ranges, vectorstore.RangeCondition{
			Key: evidence.KeyDTEAtEntry,
			Min: float64(*c.DTE - r.config.DTEWindow),
			Max: float64(*c.DTE + r.config.DTEWindow),
		})
	}
	if c.VolatilityLevel != nil {
		filter.Ranges = append(filter.Ranges, vectorstore.RangeCondition{
			Key: evidence.KeyVolatilityLevel,
			Min: *c.VolatilityLevel - r.config.VolatilityWindow,
			Max: *c.VolatilityLevel + r.config.VolatilityWindow,
		})
	}
	return filter
}

// Retrieve returns the top k re-ranked evidence records for a candidate.
//
// Fewer than k results is normal: matches below the similarity threshold are
// discarded entirely, never padded back in. An empty result is not an error.
func (r *Retriever) Retrieve(ctx context.Context, candidate *trade.Candidate, k int) ([]Result, error) {
	ctx, span := retrievalTracer.Start(ctx, "retrieval.Retrieve")
	defer span.End()

	if err := candidate.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("invalid candidate: %w", err)
	}
	if k <= 0 {
		k = r.config.TopK
	}
	span.SetAttributes(
		attribute.String("symbol", candidate.Symbol),
		attribute.String("strategy", candidate.Strategy),
		attribute.Int("k", k),
	)

	fetch := r.config.FetchMultiplier * k
	if fetch < r.config.MinFetch {
		fetch = r.config.MinFetch
	}

	query := evidence.RenderCandidate(candidate)
	hits, err := r.index.Search(ctx, query, fetch, r.buildFilter(candidate), r.config.SimilarityThreshold)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching evidence for %s/%s: %w", candidate.Symbol, candidate.Strategy, err)
	}

	now := r.now()
	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		rec := evidence.RecordFromMetadata(hit.ID, hit.Metadata)
		similarity := float64(hit.Score)
		recency := recencyScore(rec.EntryDate, now, r.config.RecencyHorizonDays)
		outcome := outcomeQuality(rec.PnLPercent)
		results = append(results, Result{
			Record:         rec,
			Similarity:     similarity,
			Recency:        recency,
			OutcomeQuality: outcome,
			CompositeScore: compositeScore(r.config.Weights, similarity, recency, outcome),
		})
	}

	// Deterministic ordering: composite descending, then most recent entry
	// date, then lowest ID.
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.CompositeScore != b.CompositeScore {
			return a.CompositeScore > b.CompositeScore
		}
		if !a.Record.EntryDate.Equal(b.Record.EntryDate) {
			return a.Record.EntryDate.After(b.Record.EntryDate)
		}
		return a.Record.ID < b.Record.ID
	})

	if len(results) > k {
		results = results[:k]
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	r.logger.Debug("retrieved evidence",
		zap.String("symbol", candidate.Symbol),
		zap.String("strategy", candidate.Strategy),
		zap.Int("fetched", len(hits)),
		zap.Int("returned", len(results)),
	)
	return results, nil
}

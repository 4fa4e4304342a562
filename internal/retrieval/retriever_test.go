package retrieval

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/tradebank/internal/evidence"
	"github.com/fyrsmithlabs/tradebank/internal/trade"
	"github.com/fyrsmithlabs/tradebank/internal/vectorstore"
)

// fakeIndex serves canned hits with per-document similarity scores, honoring
// the filter and threshold contract of vectorstore.Index.
type fakeIndex struct {
	docs   map[string]vectorstore.Document
	scores map[string]float32
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		docs:   make(map[string]vectorstore.Document),
		scores: make(map[string]float32),
	}
}

func (f *fakeIndex) add(id string, score float32, metadata map[string]any) {
	f.docs[id] = vectorstore.Document{ID: id, Content: id, Metadata: metadata}
	f.scores[id] = score
}

func (f *fakeIndex) Upsert(ctx context.Context, docs []vectorstore.Document) ([]string, error) {
	ids := make([]string, len(docs))
	for i, d := range docs {
		f.docs[d.ID] = d
		ids[i] = d.ID
	}
	return ids, nil
}

func (f *fakeIndex) Search(ctx context.Context, query string, limit int, filter *vectorstore.Filter, scoreThreshold float32) ([]vectorstore.SearchResult, error) {
	var results []vectorstore.SearchResult
	for id, doc := range f.docs {
		score := f.scores[id]
		if score < scoreThreshold {
			continue
		}
		if !filter.Matches(doc.Metadata) {
			continue
		}
		results = append(results, vectorstore.SearchResult{
			ID:       id,
			Content:  doc.Content,
			Score:    score,
			Metadata: doc.Metadata,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (f *fakeIndex) Get(ctx context.Context, id string) (*vectorstore.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, vectorstore.ErrNotFound
	}
	return &doc, nil
}

func (f *fakeIndex) UpdateMetadata(ctx context.Context, id string, mutate func(map[string]any) map[string]any) error {
	doc, ok := f.docs[id]
	if !ok {
		return vectorstore.ErrNotFound
	}
	doc.Metadata = mutate(doc.Metadata)
	f.docs[id] = doc
	return nil
}

func (f *fakeIndex) Count(ctx context.Context) (int, error) { return len(f.docs), nil }
func (f *fakeIndex) Close() error                           { return nil }

var _ vectorstore.Index = (*fakeIndex)(nil)

var testNow = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func evidenceMetadata(symbol, strategy string, dte int, entryDate time.Time, pnlPercent, volatility float64) map[string]any {
	return map[string]any{
		evidence.KeySymbol:          symbol,
		evidence.KeyStrategy:        strategy,
		evidence.KeyDTEAtEntry:      dte,
		evidence.KeyEntryDate:       entryDate.Format(time.RFC3339),
		evidence.KeyPnLPercent:      pnlPercent,
		evidence.KeyPnL:             pnlPercent * 10,
		evidence.KeyWin:             pnlPercent > 0,
		evidence.KeyVolatilityLevel: volatility,
		evidence.KeyTrustWeight:     1.0,
		evidence.KeyTimesReferenced: 0,
		evidence.KeyAccuracyRate:    0.0,
	}
}

func newTestRetriever(idx vectorstore.Index) *Retriever {
	r := NewRetriever(idx, Config{}, nil)
	r.now = func() time.Time { return testNow }
	return r
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestRetrieveFilterCorrectness(t *testing.T) {
	idx := newFakeIndex()
	entry := testNow.AddDate(0, 0, -30)
	idx.add("match-1", 0.9, evidenceMetadata("XYZ", "CSP", 30, entry, 10, 42))
	idx.add("wrong-symbol", 0.95, evidenceMetadata("ABC", "CSP", 30, entry, 10, 42))
	idx.add("wrong-strategy", 0.95, evidenceMetadata("XYZ", "PCS", 30, entry, 10, 42))
	idx.add("dte-out-of-window", 0.95, evidenceMetadata("XYZ", "CSP", 45, entry, 10, 42))
	idx.add("vol-out-of-window", 0.95, evidenceMetadata("XYZ", "CSP", 30, entry, 10, 60))

	r := newTestRetriever(idx)
	results, err := r.Retrieve(context.Background(), &trade.Candidate{
		Symbol:          "XYZ",
		Strategy:        "CSP",
		DTE:             intPtr(30),
		VolatilityLevel: floatPtr(42),
	}, 5)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "match-1", results[0].Record.ID)
}

func TestRetrieveOmitsFiltersForAbsentFields(t *testing.T) {
	idx := newFakeIndex()
	entry := testNow.AddDate(0, 0, -30)
	idx.add("far-dte", 0.9, evidenceMetadata("XYZ", "CSP", 90, entry, 10, 80))

	r := newTestRetriever(idx)
	// No DTE, no volatility: only symbol and strategy constrain the search.
	results, err := r.Retrieve(context.Background(), &trade.Candidate{Symbol: "XYZ", Strategy: "CSP"}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestRetrieveThresholdCorrectness(t *testing.T) {
	idx := newFakeIndex()
	entry := testNow.AddDate(0, 0, -30)
	idx.add("strong", 0.85, evidenceMetadata("XYZ", "CSP", 30, entry, 10, 42))
	idx.add("weak", 0.55, evidenceMetadata("XYZ", "CSP", 30, entry, 10, 42))

	r := newTestRetriever(idx)
	results, err := r.Retrieve(context.Background(), &trade.Candidate{Symbol: "XYZ", Strategy: "CSP"}, 5)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "strong", results[0].Record.ID)
	// Fewer than k is fine; low-quality matches are never padded back in.
}

func TestRetrieveScenarioOutcomeOrdering(t *testing.T) {
	idx := newFakeIndex()
	entry := testNow.AddDate(0, 0, -60)
	idx.add("trade-big-win", 0.9, evidenceMetadata("XYZ", "CSP", 30, entry, 40, 42))
	idx.add("trade-small-win", 0.9, evidenceMetadata("XYZ", "CSP", 32, entry, 5, 42))
	idx.add("trade-loss", 0.9, evidenceMetadata("XYZ", "CSP", 28, entry, -20, 42))

	r := newTestRetriever(idx)
	results, err := r.Retrieve(context.Background(), &trade.Candidate{
		Symbol:   "XYZ",
		Strategy: "CSP",
		DTE:      intPtr(30),
	}, 5)
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, "trade-big-win", results[0].Record.ID)
	assert.Equal(t, "trade-small-win", results[1].Record.ID)
	assert.Equal(t, "trade-loss", results[2].Record.ID)
	assert.Greater(t, results[0].CompositeScore, results[2].CompositeScore)
}

func TestRetrieveDeterministicOrdering(t *testing.T) {
	idx := newFakeIndex()
	// Identical scores all the way down: ties break by entry date then ID.
	older := testNow.AddDate(0, 0, -90)
	newer := testNow.AddDate(0, 0, -90)
	idx.add("b-record", 0.9, evidenceMetadata("XYZ", "CSP", 30, older, 10, 42))
	idx.add("a-record", 0.9, evidenceMetadata("XYZ", "CSP", 30, newer, 10, 42))

	r := newTestRetriever(idx)
	candidate := &trade.Candidate{Symbol: "XYZ", Strategy: "CSP"}

	first, err := r.Retrieve(context.Background(), candidate, 5)
	require.NoError(t, err)
	second, err := r.Retrieve(context.Background(), candidate, 5)
	require.NoError(t, err)

	require.Len(t, first, 2)
	assert.Equal(t, "a-record", first[0].Record.ID)
	for i := range first {
		assert.Equal(t, first[i].Record.ID, second[i].Record.ID)
	}
}

func TestRetrieveTieBreakByID(t *testing.T) {
	idx := newFakeIndex()
	// Identical similarity, outcome and entry date: the lower ID wins.
	sameDay := testNow.AddDate(0, 0, -40)
	idx.add("z-record", 0.9, evidenceMetadata("XYZ", "CSP", 30, sameDay, 0, 42))
	idx.add("a-record", 0.9, evidenceMetadata("XYZ", "CSP", 30, sameDay, 0, 42))

	r := newTestRetriever(idx)
	results, err := r.Retrieve(context.Background(), &trade.Candidate{Symbol: "XYZ", Strategy: "CSP"}, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a-record", results[0].Record.ID)
}

func TestRetrieveTruncatesToK(t *testing.T) {
	idx := newFakeIndex()
	entry := testNow.AddDate(0, 0, -10)
	for _, id := range []string{"r1", "r2", "r3", "r4", "r5", "r6"} {
		idx.add(id, 0.9, evidenceMetadata("XYZ", "CSP", 30, entry, 10, 42))
	}

	r := newTestRetriever(idx)
	results, err := r.Retrieve(context.Background(), &trade.Candidate{Symbol: "XYZ", Strategy: "CSP"}, 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestRetrieveInvalidCandidate(t *testing.T) {
	r := newTestRetriever(newFakeIndex())
	_, err := r.Retrieve(context.Background(), &trade.Candidate{Symbol: "XYZ"}, 5)
	assert.ErrorIs(t, err, trade.ErrEmptyStrategy)
}

func TestRetrieveEmptyIndex(t *testing.T) {
	r := newTestRetriever(newFakeIndex())
	results, err := r.Retrieve(context.Background(), &trade.Candidate{Symbol: "XYZ", Strategy: "CSP"}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

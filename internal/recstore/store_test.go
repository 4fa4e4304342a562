package recstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/tradebank/internal/synthesis"
	"github.com/fyrsmithlabs/tradebank/internal/trade"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "recommendations.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleRecommendation(id string, action synthesis.Action, confidence int) *synthesis.Recommendation {
	dte := 30
	return &synthesis.Recommendation{
		ID:        id,
		CreatedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		CandidateSnapshot: trade.Candidate{
			Symbol:   "XYZ",
			Strategy: "CSP",
			DTE:      &dte,
		},
		Action:      action,
		Confidence:  confidence,
		Rationale:   "historical win rate supports entry",
		RiskFactors: []string{"earnings next week"},
		EvidenceUsed: []synthesis.EvidenceRef{
			{EvidenceID: "ev-a", CompositeScore: 0.82},
			{EvidenceID: "ev-b", CompositeScore: 0.74},
		},
	}
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecommendation("rec-1", synthesis.ActionTake, 78)
	require.NoError(t, store.Save(ctx, rec))

	got, err := store.Get(ctx, "rec-1")
	require.NoError(t, err)

	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.CreatedAt, got.CreatedAt)
	assert.Equal(t, rec.Action, got.Action)
	assert.Equal(t, rec.Confidence, got.Confidence)
	assert.Equal(t, rec.Rationale, got.Rationale)
	assert.Equal(t, rec.RiskFactors, got.RiskFactors)
	assert.Equal(t, rec.EvidenceUsed, got.EvidenceUsed)
	assert.Equal(t, "XYZ", got.CandidateSnapshot.Symbol)
	require.NotNil(t, got.CandidateSnapshot.DTE)
	assert.Equal(t, 30, *got.CandidateSnapshot.DTE)
	assert.Nil(t, got.ActualOutcome)
	assert.Nil(t, got.Correct)
	assert.False(t, got.Degraded)
}

func TestGetNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveDuplicateID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleRecommendation("rec-1", synthesis.ActionTake, 78)))
	assert.Error(t, store.Save(ctx, sampleRecommendation("rec-1", synthesis.ActionPass, 60)))
}

func TestSetOutcomeWriteOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleRecommendation("rec-1", synthesis.ActionTake, 78)))

	correct := false
	outcome := trade.RealizedOutcome{PnL: -120, PnLPercent: -12, ClosedAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, store.SetOutcome(ctx, "rec-1", outcome, &correct))

	got, err := store.Get(ctx, "rec-1")
	require.NoError(t, err)
	require.NotNil(t, got.ActualOutcome)
	assert.InDelta(t, -120, got.ActualOutcome.PnL, 1e-9)
	assert.Equal(t, outcome.ClosedAt, got.ActualOutcome.ClosedAt)
	require.NotNil(t, got.Correct)
	assert.False(t, *got.Correct)

	// Second application must be rejected, not overwritten.
	win := true
	err = store.SetOutcome(ctx, "rec-1", trade.RealizedOutcome{PnL: 500, ClosedAt: time.Now()}, &win)
	assert.ErrorIs(t, err, ErrOutcomeAlreadyApplied)

	got, err = store.Get(ctx, "rec-1")
	require.NoError(t, err)
	assert.InDelta(t, -120, got.ActualOutcome.PnL, 1e-9, "first outcome wins")
}

func TestSetOutcomeNotFound(t *testing.T) {
	store := newTestStore(t)
	correct := true
	err := store.SetOutcome(context.Background(), "missing", trade.RealizedOutcome{ClosedAt: time.Now()}, &correct)
	assert.ErrorIs(t, err, ErrNotFound)
}

func seedDecided(t *testing.T, store *Store, id string, action synthesis.Action, confidence int, correct bool) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, sampleRecommendation(id, action, confidence)))
	pnl := 100.0
	if !correct && action == synthesis.ActionTake {
		pnl = -100
	}
	require.NoError(t, store.SetOutcome(ctx, id, trade.RealizedOutcome{PnL: pnl, ClosedAt: time.Now().UTC()}, &correct))
}

func TestDecidedCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleRecommendation("open-1", synthesis.ActionTake, 70)))
	seedDecided(t, store, "done-1", synthesis.ActionTake, 80, true)
	seedDecided(t, store, "done-2", synthesis.ActionPass, 60, false)

	count, err := store.DecidedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestAccuracyByAction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedDecided(t, store, "t1", synthesis.ActionTake, 80, true)
	seedDecided(t, store, "t2", synthesis.ActionTake, 75, true)
	seedDecided(t, store, "t3", synthesis.ActionTake, 70, false)
	seedDecided(t, store, "p1", synthesis.ActionPass, 65, true)
	seedDecided(t, store, "m1", synthesis.ActionMonitor, 50, true)

	acc, err := store.AccuracyByAction(ctx)
	require.NoError(t, err)

	assert.Equal(t, ActionAccuracy{Total: 3, Correct: 2}, acc[synthesis.ActionTake])
	assert.Equal(t, ActionAccuracy{Total: 1, Correct: 1}, acc[synthesis.ActionPass])
	assert.Equal(t, ActionAccuracy{Total: 1, Correct: 1}, acc[synthesis.ActionMonitor])
}

func TestCalibrationBucketsExcludeMonitor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedDecided(t, store, "t1", synthesis.ActionTake, 78, true) // decile 8
	seedDecided(t, store, "t2", synthesis.ActionTake, 82, false)
	seedDecided(t, store, "m1", synthesis.ActionMonitor, 80, true)

	buckets, err := store.CalibrationBuckets(ctx)
	require.NoError(t, err)

	require.Len(t, buckets, 1)
	assert.Equal(t, 8, buckets[0].Decile)
	assert.Equal(t, 2, buckets[0].Total)
	assert.Equal(t, 1, buckets[0].Correct)
}

func TestCitedEvidenceIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := sampleRecommendation("rec-1", synthesis.ActionTake, 78)
	second := sampleRecommendation("rec-2", synthesis.ActionPass, 60)
	second.CreatedAt = first.CreatedAt.Add(time.Hour)
	second.EvidenceUsed = []synthesis.EvidenceRef{
		{EvidenceID: "ev-b", CompositeScore: 0.7}, // duplicate
		{EvidenceID: "ev-c", CompositeScore: 0.71},
	}
	require.NoError(t, store.Save(ctx, first))
	require.NoError(t, store.Save(ctx, second))

	ids, err := store.CitedEvidenceIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ev-a", "ev-b", "ev-c"}, ids)
}

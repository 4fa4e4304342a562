package trade

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validTrade() ClosedTrade {
	pnl := 340.0
	return ClosedTrade{
		ID:         "trade-1",
		Symbol:     "XYZ",
		Strategy:   "CSP",
		Status:     StatusClosed,
		EntryDate:  time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		ExitDate:   time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC),
		PnL:        &pnl,
		PnLPercent: 40,
	}
}

func TestClosedTradeValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ClosedTrade)
		wantErr error
	}{
		{"valid", func(tr *ClosedTrade) {}, nil},
		{"empty id", func(tr *ClosedTrade) { tr.ID = "" }, ErrEmptyTradeID},
		{"empty symbol", func(tr *ClosedTrade) { tr.Symbol = "" }, ErrEmptySymbol},
		{"empty strategy", func(tr *ClosedTrade) { tr.Strategy = "" }, ErrEmptyStrategy},
		{"bad status", func(tr *ClosedTrade) { tr.Status = "pending" }, ErrInvalidStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := validTrade()
			tt.mutate(&tr)
			err := tr.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestWin(t *testing.T) {
	tr := validTrade()
	assert.True(t, tr.Win())

	loss := -120.0
	tr.PnL = &loss
	assert.False(t, tr.Win())

	zero := 0.0
	tr.PnL = &zero
	assert.False(t, tr.Win(), "break-even is not a win")

	tr.PnL = nil
	assert.False(t, tr.Win())
}

func TestHoldDays(t *testing.T) {
	tr := validTrade()
	assert.Equal(t, 28, tr.HoldDays())

	tr.ExitDate = tr.EntryDate
	assert.Equal(t, 0, tr.HoldDays())

	tr.ExitDate = tr.EntryDate.AddDate(0, 0, -5)
	assert.Equal(t, 0, tr.HoldDays(), "never negative")
}

func TestCandidateValidate(t *testing.T) {
	assert.NoError(t, (&Candidate{Symbol: "XYZ", Strategy: "CSP"}).Validate())
	assert.ErrorIs(t, (&Candidate{Strategy: "CSP"}).Validate(), ErrEmptySymbol)
	assert.ErrorIs(t, (&Candidate{Symbol: "XYZ"}).Validate(), ErrEmptyStrategy)
}

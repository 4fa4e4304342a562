package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterMatches(t *testing.T) {
	metadata := map[string]any{
		"symbol":       "XYZ",
		"strategy":     "CSP",
		"dte_at_entry": 30,
		"volatility":   "42.5",
	}

	tests := []struct {
		name   string
		filter *Filter
		want   bool
	}{
		{"nil filter matches everything", nil, true},
		{"empty filter matches everything", &Filter{}, true},
		{
			"equality match",
			&Filter{Match: map[string]string{"symbol": "XYZ", "strategy": "CSP"}},
			true,
		},
		{
			"equality mismatch",
			&Filter{Match: map[string]string{"symbol": "ABC"}},
			false,
		},
		{
			"missing key",
			&Filter{Match: map[string]string{"trend": "uptrend"}},
			false,
		},
		{
			"range inside window",
			&Filter{Ranges: []RangeCondition{{Key: "dte_at_entry", Min: 23, Max: 37}}},
			true,
		},
		{
			"range below window",
			&Filter{Ranges: []RangeCondition{{Key: "dte_at_entry", Min: 35, Max: 45}}},
			false,
		},
		{
			"range on string-encoded number",
			&Filter{Ranges: []RangeCondition{{Key: "volatility", Min: 40, Max: 45}}},
			true,
		},
		{
			"range on missing key",
			&Filter{Ranges: []RangeCondition{{Key: "entry_price", Min: 0, Max: 10}}},
			false,
		},
		{
			"combined match and range",
			&Filter{
				Match:  map[string]string{"symbol": "XYZ"},
				Ranges: []RangeCondition{{Key: "dte_at_entry", Min: 25, Max: 35}},
			},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(metadata))
		})
	}
}

func TestMetadataFloat(t *testing.T) {
	metadata := map[string]any{
		"f64":     1.5,
		"f32":     float32(2.5),
		"int":     3,
		"int64":   int64(4),
		"string":  "5.5",
		"garbage": "not a number",
	}

	for key, want := range map[string]float64{"f64": 1.5, "f32": 2.5, "int": 3, "int64": 4, "string": 5.5} {
		v, ok := MetadataFloat(metadata, key)
		assert.True(t, ok, key)
		assert.InDelta(t, want, v, 1e-9, key)
	}

	_, ok := MetadataFloat(metadata, "garbage")
	assert.False(t, ok)
	_, ok = MetadataFloat(metadata, "missing")
	assert.False(t, ok)
}

func TestConvertMetadataRoundTrip(t *testing.T) {
	in := map[string]any{
		"symbol": "XYZ",
		"dte":    30,
		"pnl":    1.5,
		"win":    true,
	}

	flat := convertMetadataToString(in)
	assert.Equal(t, "XYZ", flat["symbol"])
	assert.Equal(t, "30", flat["dte"])
	assert.Equal(t, "1.5", flat["pnl"])
	assert.Equal(t, "true", flat["win"])

	widened := convertMetadataFromString(flat)
	v, ok := MetadataFloat(widened, "dte")
	assert.True(t, ok)
	assert.InDelta(t, 30, v, 1e-9)
}

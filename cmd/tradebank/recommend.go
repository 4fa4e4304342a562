package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/tradebank/internal/trade"
)

var (
	recommendSymbol     string
	recommendStrategy   string
	recommendDTE        int
	recommendEntryPrice float64
	recommendVolatility float64
	recommendTrend      string
)

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Evaluate a candidate trade against the evidence base",
	Long: `Retrieve comparable historical trades for a candidate, synthesize a
TAKE/PASS/MONITOR recommendation via the reasoning provider, and persist it
for later outcome feedback.

Examples:
  tradebank recommend --symbol XYZ --strategy CSP --dte 30 --entry-price 2.50
  tradebank recommend --symbol XYZ --strategy CSP --volatility 42 --trend uptrend`,
	RunE: runRecommend,
}

func init() {
	recommendCmd.Flags().StringVar(&recommendSymbol, "symbol", "", "instrument symbol (required)")
	recommendCmd.Flags().StringVar(&recommendStrategy, "strategy", "", "strategy label (required)")
	recommendCmd.Flags().IntVar(&recommendDTE, "dte", -1, "days to expiry at entry")
	recommendCmd.Flags().Float64Var(&recommendEntryPrice, "entry-price", 0, "planned entry price")
	recommendCmd.Flags().Float64Var(&recommendVolatility, "volatility", -1, "volatility-regime indicator")
	recommendCmd.Flags().StringVar(&recommendTrend, "trend", "", "market trend label")
	_ = recommendCmd.MarkFlagRequired("symbol")
	_ = recommendCmd.MarkFlagRequired("strategy")
}

func runRecommend(cmd *cobra.Command, args []string) error {
	candidate := &trade.Candidate{
		Symbol:   recommendSymbol,
		Strategy: recommendStrategy,
		Trend:    recommendTrend,
	}
	if cmd.Flags().Changed("dte") {
		if recommendDTE < 0 {
			return fmt.Errorf("dte must be non-negative")
		}
		candidate.DTE = &recommendDTE
	}
	if cmd.Flags().Changed("entry-price") {
		candidate.EntryPrice = &recommendEntryPrice
	}
	if cmd.Flags().Changed("volatility") {
		candidate.VolatilityLevel = &recommendVolatility
	}

	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	synth, err := app.synthesizer()
	if err != nil {
		return err
	}

	rec, err := synth.Synthesize(cmd.Context(), candidate)
	if err != nil {
		return err
	}

	return printJSON(rec)
}

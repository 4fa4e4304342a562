package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/tradebank/internal/trade"
)

var (
	outcomePnL        float64
	outcomePnLPercent float64
	outcomeClosedAt   string
)

var outcomeCmd = &cobra.Command{
	Use:   "outcome <recommendation-id>",
	Short: "Record the realized outcome of a recommendation",
	Long: `Record the realized P&L of a recommended trade. This judges the
recommendation, stores the outcome (write-once) and nudges the trust weight
of every cited evidence record.

Examples:
  tradebank outcome 6b911c2e-... --pnl 340 --pnl-percent 40
  tradebank outcome 6b911c2e-... --pnl -120 --pnl-percent -12 --closed-at 2026-08-12`,
	Args: cobra.ExactArgs(1),
	RunE: runOutcome,
}

func init() {
	outcomeCmd.Flags().Float64Var(&outcomePnL, "pnl", 0, "realized P&L in account currency (required)")
	outcomeCmd.Flags().Float64Var(&outcomePnLPercent, "pnl-percent", 0, "realized P&L percent")
	outcomeCmd.Flags().StringVar(&outcomeClosedAt, "closed-at", "", "close date (YYYY-MM-DD, default today)")
	_ = outcomeCmd.MarkFlagRequired("pnl")
}

func runOutcome(cmd *cobra.Command, args []string) error {
	closedAt := time.Now().UTC()
	if outcomeClosedAt != "" {
		t, err := time.Parse(time.DateOnly, outcomeClosedAt)
		if err != nil {
			return fmt.Errorf("parsing --closed-at: %w", err)
		}
		closedAt = t
	}

	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	report, err := app.feedback.ApplyOutcome(cmd.Context(), args[0], trade.RealizedOutcome{
		PnL:        outcomePnL,
		PnLPercent: outcomePnLPercent,
		ClosedAt:   closedAt,
	})
	if err != nil {
		// A partial application still produced a report worth showing.
		if report != nil {
			_ = printJSON(report)
		}
		return err
	}

	return printJSON(report)
}

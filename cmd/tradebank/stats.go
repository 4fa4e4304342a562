package main

import (
	"go.uber.org/zap"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show recommendation accuracy, calibration and top evidence",
	Long: `Aggregate decided recommendations: accuracy per action, confidence
calibration per decile, and the evidence records with the strongest learning
signal. Read-only.`,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	report, err := app.analytics.Report(cmd.Context())
	if err != nil {
		return err
	}

	evidenceCount, err := app.index.Count(cmd.Context())
	if err != nil {
		app.logger.Warn("evidence count unavailable", zap.Error(err))
		evidenceCount = -1
	}

	return printJSON(struct {
		EvidenceCount int `json:"evidence_count"`
		Report        any `json:"report"`
	}{EvidenceCount: evidenceCount, Report: report})
}

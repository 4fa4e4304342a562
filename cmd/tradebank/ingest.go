package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/tradebank/internal/evidence"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest closed trades into the evidence base",
	Long: `Ingest a JSON array of closed trades (with their market context) into
the evidence index. Re-delivering a trade updates its record without
resetting the learned trust weight.

Examples:
  # Ingest from a file
  tradebank ingest trades.json

  # Ingest from stdin
  exporter --closed | tradebank ingest -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	var data []byte
	var err error
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
	} else {
		data, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}
	}

	var inputs []evidence.ClosedTradeInput
	if err := json.Unmarshal(data, &inputs); err != nil {
		return fmt.Errorf("parsing trades: %w", err)
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no trades to ingest")
	}

	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	report, err := app.ingester.IngestBatch(cmd.Context(), inputs)
	if err != nil {
		return err
	}

	return printJSON(report)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

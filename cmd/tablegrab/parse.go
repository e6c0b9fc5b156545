package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/use-agent/tablegrab/drift"
	"github.com/use-agent/tablegrab/models"
	"github.com/use-agent/tablegrab/output"
	"github.com/use-agent/tablegrab/scraper"
)

var parseCmd = &cobra.Command{
	Use:   "parse <file>",
	Short: "Extract the table from a saved HTML file.",
	Long: `parse runs the configured row and cell selectors over a saved document,
such as the error_page.html snapshot of a failed run. No browser is started.`,
	Args: cobra.ExactArgs(1),
	RunE: runParse,
}

func runParse(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	start := time.Now()
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	doc := string(raw)

	table, err := scraper.ExtractHTML(doc, cfg.Scraper.RowSelector, cfg.Scraper.CellSelector)
	if err != nil {
		return err
	}
	slog.Info("parsed saved page",
		"file", args[0],
		"rows", len(table),
		"fingerprint", drift.Format(drift.Fingerprint(doc)),
	)

	timing := models.TimingInfo{
		TotalMs:      time.Since(start).Milliseconds(),
		ExtractionMs: time.Since(start).Milliseconds(),
	}
	report := models.NewReport(args[0], table, timing)
	return output.Write(cmd.OutOrStdout(), report, cfg.Output.Format)
}

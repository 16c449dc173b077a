package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vetcorpus/crawler/internal/corpus"
)

// newCrawlCmd runs one acquisition sweep and exits.
func newCrawlCmd() *cobra.Command {
	var windowHours int
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one acquisition sweep over the enabled sources",
		Long: `Queries every enabled source for documents discovered in the lookback
window, downloads and stores new PDFs, and extracts structured text.
The sweep is bounded by the configured time budget.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, windowHours)
		},
	}
	cmd.Flags().IntVar(&windowHours, "window-hours", 0, "override the configured lookback window")
	return cmd
}

func runCrawl(cmd *cobra.Command, windowHours int) error {
	app, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	lookback := app.Config.Window()
	if windowHours > 0 {
		lookback = time.Duration(windowHours) * time.Hour
	}
	now := time.Now().UTC()
	window := corpus.Window{Start: now.Add(-lookback), End: now}
	policy := corpus.KeywordPolicy{Terms: app.Config.Sources.Keywords}

	ctx, cancel := context.WithTimeout(cmd.Context(), app.Config.SweepBudget())
	defer cancel()

	counters, err := app.Pipeline.Run(ctx, window, policy, app.Config.Sources.Enabled)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run sweep: %w", err)
	}
	app.Logger.Info("crawl finished",
		zap.Int64("discovered", counters.Discovered),
		zap.Int64("fetched", counters.Fetched),
		zap.Int64("extracted", counters.Extracted),
	)
	return nil
}

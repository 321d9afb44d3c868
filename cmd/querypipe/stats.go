package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/querypipe/internal/app"
)

var (
	statsWindow  time.Duration
	statsCache   bool
	statsIntents int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print performance, cache or intent statistics",
	Long: `Prints latency percentiles, cache hit rates, error rate, per-intent
breakdown and slow/low-confidence queries over --window. With --cache the
cache sizes are printed instead; with --intents N the exemplar summary.`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().DurationVarP(&statsWindow, "window", "w", time.Hour, "Aggregation window ending now")
	statsCmd.Flags().BoolVar(&statsCache, "cache", false, "Print cache statistics")
	statsCmd.Flags().IntVar(&statsIntents, "intents", 0, "Print the top N intents of the exemplar corpus")
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	return withApp(ctx, func(a *app.App) error {
		switch {
		case statsCache:
			stats, err := a.Responses.Stats(ctx)
			if err != nil {
				return err
			}
			return printJSON(stats)
		case statsIntents > 0:
			stats, err := a.Classifier.Stats(ctx, statsIntents)
			if err != nil {
				return err
			}
			return printJSON(stats)
		default:
			stats, err := a.Recorder.Aggregate(ctx, statsWindow, a.Thresholds())
			if err != nil {
				return err
			}
			return printJSON(stats)
		}
	})
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/querypipe/internal/app"
	"github.com/dshills/querypipe/internal/indexer"
	"github.com/dshills/querypipe/internal/intent"
)

var (
	exemplarFile string
	seedFile     string
	workers      int
	batchSize    int
	unusedAfter  time.Duration
)

var loadExemplarsCmd = &cobra.Command{
	Use:   "load-exemplars",
	Short: "Embed and store the intent exemplar corpus",
	Long: `Embeds and upserts intent exemplars. Without --file the built-in corpus is
loaded. A file lists exemplars as YAML:

  exemplars:
    - intent: PRODUCT_SEARCH
      phrase: show me dark roast coffee
      confidence_threshold: 0.75`,
	Args: cobra.NoArgs,
	RunE: runLoadExemplars,
}

var embedProductsCmd = &cobra.Command{
	Use:   "embed-products",
	Short: "Seed products and embed those without vectors",
	Long: `Optionally upserts products from a YAML fixture (--seed), then computes
vectors for every product that has none.`,
	Args: cobra.NoArgs,
	RunE: runEmbedProducts,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired responses and stale embeddings and metrics",
	Long: `Runs every retention task once. With --unused-exemplars, exemplars that
were never matched and are older than the given age are also removed.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	loadExemplarsCmd.Flags().StringVarP(&exemplarFile, "file", "f", "", "YAML exemplar file (default: built-in corpus)")
	embedProductsCmd.Flags().StringVar(&seedFile, "seed", "", "YAML product fixture to upsert first")
	for _, c := range []*cobra.Command{loadExemplarsCmd, embedProductsCmd} {
		c.Flags().IntVar(&workers, "workers", 0, "Concurrent embedding batches (default: number of CPUs)")
		c.Flags().IntVar(&batchSize, "batch-size", 0, "Texts per embedding call")
	}
	sweepCmd.Flags().DurationVar(&unusedAfter, "unused-exemplars", 0, "Also delete never-used exemplars older than this")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runLoadExemplars(cmd *cobra.Command, _ []string) error {
	seeds := intent.DefaultCorpus()
	if exemplarFile != "" {
		f, err := os.Open(exemplarFile)
		if err != nil {
			return err
		}
		seeds, err = indexer.ReadExemplarSeeds(f)
		_ = f.Close()
		if err != nil {
			return err
		}
	}

	return withApp(cmd.Context(), func(a *app.App) error {
		stats, err := a.Indexer.LoadExemplars(cmd.Context(), seeds, &indexer.Config{Workers: workers, BatchSize: batchSize})
		if err != nil {
			return err
		}
		return printJSON(stats)
	})
}

func runEmbedProducts(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), func(a *app.App) error {
		if seedFile != "" {
			n, err := a.Indexer.SeedProductsFile(cmd.Context(), seedFile)
			if err != nil {
				return err
			}
			logger.Info("seeded products", zap.Int("count", n), zap.String("file", seedFile))
		}
		stats, err := a.Indexer.EmbedProducts(cmd.Context(), &indexer.Config{Workers: workers, BatchSize: batchSize})
		if err != nil {
			return err
		}
		if err := printJSON(stats); err != nil {
			return err
		}
		if stats.ProductsFailed > 0 {
			return fmt.Errorf("%d products could not be embedded", stats.ProductsFailed)
		}
		return nil
	})
}

func runSweep(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), func(a *app.App) error {
		removed := a.Sweeper.RunOnce(cmd.Context())
		if unusedAfter > 0 {
			n, err := a.Classifier.CleanUnused(cmd.Context(), unusedAfter)
			if err != nil {
				return err
			}
			removed["unused_exemplars"] = n
		}
		return printJSON(removed)
	})
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dshills/querypipe/internal/app"
	"github.com/dshills/querypipe/internal/config"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:          "querypipe",
	Short:        "Query understanding and retrieval pipeline",
	SilenceUsage: true,
	Long: `querypipe answers free-text customer queries. Each query is embedded,
classified against an intent exemplar corpus, matched against the product
catalog with hybrid vector and lexical search, and answered by a generator.
Embeddings and answers are cached and every run is recorded for latency stats.

Configuration is read from ~/.querypipe/config.yaml (or --config) and then
overridden by environment variables such as QUERYPIPE_DB_PATH,
QUERYPIPE_DATABASE_URL, GEMINI_API_KEY and OPENAI_API_KEY.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ~/.querypipe/config.yaml)")

	rootCmd.AddCommand(serveCmd, askCmd, loadExemplarsCmd, embedProductsCmd, sweepCmd, statsCmd, versionCmd)
}

// openApp loads the config and assembles the application.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger)
}

// withApp runs fn against a freshly opened App and closes it afterwards.
func withApp(ctx context.Context, fn func(*app.App) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	runErr := fn(a)
	if err := a.Close(context.WithoutCancel(ctx)); err != nil && runErr == nil {
		return err
	}
	return runErr
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

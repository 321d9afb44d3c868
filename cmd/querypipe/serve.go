package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/querypipe/internal/app"
	"github.com/dshills/querypipe/internal/mcp"
	"github.com/dshills/querypipe/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio",
	Long: `Starts an MCP server on stdin/stdout exposing the ask, performance_stats,
cache_stats, invalidate_cache and intent_stats tools. Logs go to stderr.
Expired responses and stale embeddings and metrics are swept periodically.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("querypipe MCP server starting",
		zap.String("version", version),
		zap.String("build_mode", storage.BuildMode),
		zap.String("sqlite_driver", storage.DriverName),
		zap.Bool("vector_extension", storage.VectorExtensionAvailable))

	return withApp(ctx, func(a *app.App) error {
		err := mcp.NewServer(a).Serve(ctx)
		if ctx.Err() != nil {
			logger.Info("shutting down", zap.Error(context.Cause(ctx)))
			return nil
		}
		return err
	})
}

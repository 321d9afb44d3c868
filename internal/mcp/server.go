package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/querypipe/internal/app"
)

const (
	// ServerName is the MCP server name
	ServerName = "querypipe"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server exposes the query pipeline as MCP tools.
type Server struct {
	mcp    *server.MCPServer
	app    *app.App
	logger *zap.Logger
}

// NewServer creates a new MCP server instance over an assembled App.
func NewServer(a *app.App) *Server {
	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		mcp:    mcpServer,
		app:    a,
		logger: a.Logger.Named("mcp"),
	}
	s.registerTools()
	return s
}

// Serve runs the MCP protocol on stdio until ctx is cancelled or stdin
// closes. The App's sweeper runs for the lifetime of the call.
func (s *Server) Serve(ctx context.Context) error {
	s.app.Sweeper.Start(ctx)
	defer s.app.Sweeper.Stop()

	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger))
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(askTool(), s.handleAsk)
	s.mcp.AddTool(performanceStatsTool(), s.handlePerformanceStats)
	s.mcp.AddTool(cacheStatsTool(), s.handleCacheStats)
	s.mcp.AddTool(invalidateCacheTool(), s.handleInvalidateCache)
	s.mcp.AddTool(intentStatsTool(), s.handleIntentStats)
}

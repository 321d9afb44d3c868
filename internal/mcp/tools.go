package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/dshills/querypipe/internal/intent"
	"github.com/dshills/querypipe/internal/pipeline"
	"github.com/dshills/querypipe/internal/respcache"
	"github.com/dshills/querypipe/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeEmptyQuery    = -32004 // Query parameter is empty
)

// invalidate_cache scopes
const (
	scopeResponse   = "response"
	scopeResponses  = "responses"
	scopeEmbeddings = "embeddings"
	scopeAll        = "all"
)

// handleAsk handles the ask tool invocation
func (s *Server) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	sess := pipeline.SessionContext{SessionID: request.GetString("session_id", "")}
	opts := pipeline.Options{UseCache: request.GetBool("use_cache", true)}

	resp, err := s.app.Pipeline.Handle(ctx, query, sess, opts)
	if errors.Is(err, types.ErrInvalidInput) && resp == nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid query", map[string]interface{}{
			"param":  "query",
			"reason": err.Error(),
		})
	}
	if err != nil && resp == nil {
		return nil, newMCPError(ErrorCodeInternalError, "query failed", map[string]interface{}{
			"error_kind": types.KindOf(err),
		})
	}
	// Aborted runs still carry a user-facing answer and the error kind.
	return mcp.NewToolResultText(formatJSON(resp)), nil
}

// handlePerformanceStats handles the performance_stats tool invocation
func (s *Server) handlePerformanceStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	minutes := request.GetFloat("window_minutes", 60)
	if minutes < 1 {
		return nil, newMCPError(ErrorCodeInvalidParams, "window_minutes must be at least 1", map[string]interface{}{
			"param": "window_minutes",
			"value": minutes,
		})
	}

	th := s.app.Thresholds()
	th.SlowMS = request.GetFloat("slow_ms", th.SlowMS)
	th.LowConfidence = request.GetFloat("low_confidence", th.LowConfidence)

	window := time.Duration(minutes * float64(time.Minute))
	stats, err := s.app.Recorder.Aggregate(ctx, window, th)
	if err != nil {
		return nil, s.internalError("failed to aggregate metrics", err)
	}
	return mcp.NewToolResultText(formatJSON(stats)), nil
}

// handleCacheStats handles the cache_stats tool invocation
func (s *Server) handleCacheStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	persistent, err := s.app.Responses.Stats(ctx)
	if err != nil {
		return nil, s.internalError("failed to get cache stats", err)
	}

	response := map[string]interface{}{
		"persistent": persistent,
		"memory":     s.app.Embeddings.Stats(),
		"metrics":    s.app.Recorder.Stats(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleInvalidateCache handles the invalidate_cache tool invocation
func (s *Server) handleInvalidateCache(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scope := request.GetString("scope", scopeResponse)
	response := map[string]interface{}{"scope": scope}

	switch scope {
	case scopeResponse:
		key := request.GetString("key", "")
		if key == "" {
			query := request.GetString("query", "")
			in, err := intent.Parse(request.GetString("intent", ""))
			if query == "" || err != nil {
				return nil, newMCPError(ErrorCodeInvalidParams, "scope=response needs key, or query and intent", map[string]interface{}{
					"param":  "key",
					"reason": "missing",
				})
			}
			key = respcache.Key(query, in.String())
		}
		removed, err := s.app.Responses.Invalidate(ctx, key)
		if errors.Is(err, types.ErrInvalidInput) {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid key", map[string]interface{}{
				"param":  "key",
				"reason": err.Error(),
			})
		}
		if err != nil {
			return nil, s.internalError("failed to invalidate response", err)
		}
		response["key"] = key
		response["removed"] = removed

	case scopeResponses, scopeEmbeddings, scopeAll:
		if scope != scopeEmbeddings {
			n, err := s.app.Responses.InvalidateAll(ctx)
			if err != nil {
				return nil, s.internalError("failed to clear responses", err)
			}
			response["responses_removed"] = n
		}
		if scope != scopeResponses {
			n, err := s.app.Embeddings.Purge(ctx)
			if err != nil {
				return nil, s.internalError("failed to clear embeddings", err)
			}
			response["embeddings_removed"] = n
		}

	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid scope", map[string]interface{}{
			"param":   "scope",
			"value":   scope,
			"allowed": []string{scopeResponse, scopeResponses, scopeEmbeddings, scopeAll},
		})
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleIntentStats handles the intent_stats tool invocation
func (s *Server) handleIntentStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	top := request.GetInt("top", 5)
	if top < 1 || top > 50 {
		return nil, newMCPError(ErrorCodeInvalidParams, "top must be between 1 and 50", map[string]interface{}{
			"param": "top",
			"value": top,
		})
	}
	stats, err := s.app.Classifier.Stats(ctx, top)
	if err != nil {
		return nil, s.internalError("failed to get intent stats", err)
	}
	return mcp.NewToolResultText(formatJSON(stats)), nil
}

// Helper functions

// internalError logs err and returns an MCP error carrying only its kind.
func (s *Server) internalError(message string, err error) error {
	s.logger.Error(message, zap.Error(err))
	return newMCPError(ErrorCodeInternalError, message, map[string]interface{}{
		"error_kind": types.KindOf(err),
	})
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

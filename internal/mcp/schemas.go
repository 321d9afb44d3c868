package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// askTool returns the tool definition for ask
func askTool() mcp.Tool {
	return mcp.NewTool("ask",
		mcp.WithDescription("Answer a customer query: classify its intent, retrieve matching products and generate a reply"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Free-text customer query (at most 2000 bytes of UTF-8)"),
		),
		mcp.WithString("session_id",
			mcp.Description("Opaque session identifier recorded with the query metrics"),
		),
		mcp.WithBoolean("use_cache",
			mcp.Description("If true, serve and store answers through the response cache"),
			mcp.DefaultBool(true),
		),
	)
}

// performanceStatsTool returns the tool definition for performance_stats
func performanceStatsTool() mcp.Tool {
	return mcp.NewTool("performance_stats",
		mcp.WithDescription("Aggregate latency, cache and intent statistics over a recent time window"),
		mcp.WithNumber("window_minutes",
			mcp.Description("Length of the window ending now, in minutes"),
			mcp.DefaultNumber(60),
			mcp.Min(1),
			mcp.Max(60*24*30),
		),
		mcp.WithNumber("slow_ms",
			mcp.Description("Queries at or above this total time are listed as slow"),
			mcp.Min(0),
		),
		mcp.WithNumber("low_confidence",
			mcp.Description("Queries below this intent confidence are listed as low confidence"),
			mcp.Min(0),
			mcp.Max(1),
		),
	)
}

// cacheStatsTool returns the tool definition for cache_stats
func cacheStatsTool() mcp.Tool {
	return mcp.NewTool("cache_stats",
		mcp.WithDescription("Report embedding and response cache sizes, hit counters and metrics queue health"),
	)
}

// invalidateCacheTool returns the tool definition for invalidate_cache
func invalidateCacheTool() mcp.Tool {
	return mcp.NewTool("invalidate_cache",
		mcp.WithDescription("Remove cached responses or embeddings"),
		mcp.WithString("scope",
			mcp.Description("What to clear: a single response, all responses, all embeddings, or everything"),
			mcp.Enum(scopeResponse, scopeResponses, scopeEmbeddings, scopeAll),
			mcp.DefaultString(scopeResponse),
		),
		mcp.WithString("key",
			mcp.Description("Response cache key (scope=response)"),
		),
		mcp.WithString("query",
			mcp.Description("Query whose cached answer should be removed (scope=response, with intent)"),
		),
		mcp.WithString("intent",
			mcp.Description("Intent the query was answered under (scope=response, with query)"),
		),
	)
}

// intentStatsTool returns the tool definition for intent_stats
func intentStatsTool() mcp.Tool {
	return mcp.NewTool("intent_stats",
		mcp.WithDescription("Summarise the intent exemplar corpus and its usage"),
		mcp.WithNumber("top",
			mcp.Description("Number of intents to list, ordered by usage"),
			mcp.DefaultNumber(5),
			mcp.Min(1),
			mcp.Max(50),
		),
	)
}

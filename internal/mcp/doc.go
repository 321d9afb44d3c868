// Package mcp implements the Model Context Protocol (MCP) server for querypipe.
//
// The server exposes five tools:
//   - ask: Run a query through the pipeline and return the answer
//   - performance_stats: Aggregate latency and intent metrics over a window
//   - cache_stats: Report embedding and response cache counters
//   - invalidate_cache: Remove cached responses or embeddings
//   - intent_stats: Summarise the exemplar corpus
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout carries protocol messages only. Logs go to stderr.
//
// # Basic Usage
//
//	querypipe serve
//
// # Tool: ask
//
//	Request:
//	{
//	  "name": "ask",
//	  "arguments": {
//	    "query": "do you have a dark roast?",
//	    "session_id": "abc123",
//	    "use_cache": true
//	  }
//	}
//
//	Response:
//	{
//	  "query_id": "6f1c...",
//	  "content": "Here's what I found: ...",
//	  "intent": "PRODUCT_SEARCH",
//	  "confidence": 0.91,
//	  "candidates": [{"product": {...}, "source": "vector", "score": 1, "rank": 1}],
//	  "from_cache": false,
//	  "fallback_used": false,
//	  "degraded": false,
//	  "timings": {"embedding_ms": 41.2, "intent_ms": 3.1, ...}
//	}
//
// A run aborted by an embedding or store failure is not a protocol error:
// the result carries an apology in "content" and an "error_kind" such as
// "embedding_unavailable". Invalid queries are rejected with -32602.
//
// # Tool: invalidate_cache
//
// The scope argument selects what is removed:
//
//	response     one entry, by "key" or by "query" and "intent"
//	responses    every response cache entry
//	embeddings   every persisted and in-memory embedding
//	all          both caches
//
// # Error Codes
//
//   - -32602: Invalid parameters
//   - -32603: Internal error (data carries only the error kind)
//   - -32004: Empty query
package mcp

// Package embedder turns text into vector embeddings.
//
// Providers implement the Embedder interface: Gemini (genai SDK, Gemini API or
// Vertex AI), OpenAI, and a deterministic local feature-hashing model for
// offline use. Provider calls retry transient failures with exponential
// backoff; 4xx responses other than 429 fail immediately.
//
// # Provider Selection
//
//  1. If QUERYPIPE_EMBEDDING_PROVIDER is set, use it
//  2. Else if GEMINI_API_KEY or GOOGLE_CLOUD_PROJECT is set, use Gemini
//  3. Else if OPENAI_API_KEY is set, use OpenAI
//  4. Else use the local provider
//
// # Caching
//
// TieredCache fronts an Embedder with two cache tiers:
//
//	tc := embedder.NewTieredCache(emb, store, embedder.TieredCacheConfig{
//	    MemorySize: 10000,
//	    Dimension:  768,
//	    Logger:     logger,
//	})
//	defer tc.Close()
//
//	vec, hit, err := tc.GetOrCompute(ctx, "light roast beans", emb.Model())
//
// Lookups normalize whitespace and hash the text with SHA-256. The memory
// LRU is checked first, then the persistent store, then the provider.
// Concurrent misses for the same text share one provider call. Persistent
// hit counts are updated asynchronously and may lag.
package embedder

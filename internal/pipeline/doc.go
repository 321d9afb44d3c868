// Package pipeline orchestrates one query run: embedding, intent
// classification, optional product retrieval, the response cache and
// answer generation, followed by a fire-and-forget metrics record.
//
// Each run walks a fixed state machine:
//
//	RECEIVED → EMBEDDING → INTENT_CLASSIFIED → (PRODUCT_RETRIEVAL | SKIP)
//	  → RESPONSE_CACHE_CHECK → (CACHED_RETURN | GENERATION)
//	  → METRICS_RECORDED → DONE
//
// Embedding and store failures move the run to FAILED. The caller still gets
// a Response carrying a generic apology and the ErrorKind, and metrics are
// recorded with the error marker. Generation failures never fail a run; the
// answer degrades to generation.FallbackMessage.
//
// Runs are independent and may execute concurrently on one Pipeline.
package pipeline

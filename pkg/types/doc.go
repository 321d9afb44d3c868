// Package types provides shared type definitions for the querypipe pipeline.
//
// # Core Types
//
// Product is a catalog row considered by hybrid retrieval:
//
//	p := &types.Product{
//	    Name:        "Ethiopia Yirgacheffe",
//	    Description: "Floral light roast with citrus notes",
//	    Category:    "coffee",
//	    InStock:     true,
//	}
//
// RankedCandidate is one fused retrieval result. Source records which branch
// (vector or text) produced it and Rank is its 1-based position after fusion.
//
// IntentMatch is a single nearest-neighbor hit against the intent exemplar set.
//
// # Errors
//
// Pipeline failures are classified into a small taxonomy. Components wrap the
// sentinel errors declared here and callers recover the class with KindOf:
//
//	if _, err := p.Handle(ctx, query, sess, opts); err != nil {
//	    switch types.KindOf(err) {
//	    case types.KindEmbeddingUnavailable:
//	        // retry later
//	    }
//	}
package types

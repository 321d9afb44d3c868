// Package retrieval implements hybrid product search combining vector
// similarity and lexical matching.
//
// A search runs up to two branches concurrently:
//   - Vector: in-stock products with a stored vector, scored by cosine
//     similarity to the query vector and filtered by a threshold
//   - Text: in-stock products matching the full-text index, scored by
//     normalized lexical relevance
//
// # Fusion
//
// FusionUnion (default) concatenates both branches without deduplication, so a
// product found by both branches appears twice, once per source. FusionMaxScore
// keeps one entry per product with its higher score. FusionRRF scores each
// product by Reciprocal Rank Fusion:
//
//	RRF(d) = Σ 1/(k + rank(d))
//
// Vector and lexical scores live on different scales. Setting Normalize
// min-max scales each branch to [0,1] before union or max-score fusion.
//
// Results are ordered by score descending, then vector before text, then
// product id ascending.
//
// # Basic Usage
//
//	r := retrieval.NewRetriever(store, logger)
//
//	resp, err := r.Search(ctx, retrieval.Request{
//	    QueryText:           "dark roast",
//	    QueryVector:         vec,
//	    SimilarityThreshold: 0.7,
//	    VectorLimit:         5,
//	    TextLimit:           5,
//	})
//
//	for _, c := range resp.Candidates {
//	    fmt.Printf("[%d] %s (%s %.2f)\n", c.Rank, c.Product.Name, c.Source, c.Score)
//	}
package retrieval

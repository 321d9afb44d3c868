// Package indexer maintains the embedded data the pipeline searches: the
// intent exemplar corpus and product vectors.
//
// # Basic Usage
//
//	idx := indexer.New(store, emb, logger)
//
//	// Embed and upsert the default exemplar corpus
//	stats, err := idx.LoadExemplars(ctx, intent.DefaultCorpus(), nil)
//
//	// Seed products from a YAML fixture, then embed those without vectors
//	n, err := idx.SeedProductsFile(ctx, "products.yaml")
//	stats, err = idx.EmbedProducts(ctx, &indexer.Config{Workers: 4})
//
// # Exemplars
//
// Every seed is validated before anything is embedded: the intent must be one
// of the closed set in package intent, the phrase must be non-empty after
// whitespace normalization and the threshold must lie in [0,1]. A zero
// threshold takes the intent's default from intent.DefaultThresholds. The
// whole corpus is written in one batch, so a load either lands completely or
// not at all.
//
// # Product Backfill
//
// EmbedProducts lists products whose vector is NULL and embeds them in
// batches on a bounded worker pool. A failed batch is recorded in
// Statistics.ErrorMessages and the remaining batches continue.
//
// # Concurrency
//
// Only one maintenance operation runs at a time per Indexer. A concurrent
// call returns ErrIndexingInProgress immediately instead of queuing.
//
// # Fixture Format
//
//	products:
//	  - name: Ethiopia Yirgacheffe
//	    description: Floral light roast with citrus notes
//	    price: 18.5
//	    category: coffee
//	    sku: ETH-YIR-250
//	    in_stock: true
package indexer

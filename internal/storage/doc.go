// Package storage persists the embedding cache, intent exemplars, the product
// catalog, the response cache and search metrics.
//
// Two implementations satisfy Storage:
//   - SQLiteStorage: vectors as little-endian float32 BLOBs, FTS5 for lexical
//     search. Built with -tags sqlite_vec it uses mattn/go-sqlite3 and the
//     sqlite-vec extension (vec_distance_cosine); otherwise modernc.org/sqlite
//     with similarity computed in Go.
//   - PostgresStorage: pgvector columns queried with the <=> cosine distance
//     operator and a generated tsvector column ranked with ts_rank.
//
// # Database Schema
//
// Tables:
//   - embedding_cache: vectors keyed by (content_hash, model_name)
//   - intent_exemplar: labelled phrases keyed by (intent, phrase)
//   - product (+ product_fts): catalog rows for retrieval
//   - response_cache: generated answers with absolute expiry
//   - search_metric: one row per pipeline run
//
// Every vector write is checked against the configured dimension and
// rejected with types.ErrDimensionMismatch on mismatch.
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("~/.querypipe/querypipe.db", 768)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	matches, err := db.SearchExemplars(ctx, vec, 0.6, 5, "")
package storage

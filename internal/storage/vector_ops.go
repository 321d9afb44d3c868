package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/dshills/querypipe/pkg/types"
)

// searchExemplars ranks exemplars by cosine similarity to queryVector.
func searchExemplars(ctx context.Context, db *sql.DB, queryVector []float32, minThreshold float64, limit int, intent string) ([]types.IntentMatch, error) {
	if VectorExtensionAvailable {
		return searchExemplarsOptimized(ctx, db, queryVector, minThreshold, limit, intent)
	}
	return searchExemplarsFallback(ctx, db, queryVector, minThreshold, limit, intent)
}

// searchExemplarsOptimized computes similarity inside SQLite via sqlite-vec.
// vec_distance_cosine returns a distance, so similarity = 1 - distance.
func searchExemplarsOptimized(ctx context.Context, db *sql.DB, queryVector []float32, minThreshold float64, limit int, intent string) ([]types.IntentMatch, error) {
	query := `
		SELECT intent, phrase, similarity, confidence_threshold, usage_count FROM (
			SELECT intent, phrase, confidence_threshold, usage_count,
				1.0 - vec_distance_cosine(vector, ?) AS similarity
			FROM intent_exemplar
			WHERE dimension = ?`
	args := []interface{}{serializeVector(queryVector), len(queryVector)}
	if intent != "" {
		query += " AND intent = ?"
		args = append(args, intent)
	}
	query += `
		) WHERE similarity > ? AND similarity >= 0
		ORDER BY similarity DESC, usage_count DESC, phrase ASC
		LIMIT ?`
	args = append(args, minThreshold, sqlLimit(limit))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute exemplar search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	matches := make([]types.IntentMatch, 0)
	for rows.Next() {
		var m types.IntentMatch
		if err := rows.Scan(&m.Intent, &m.Phrase, &m.Similarity, &m.ConfidenceThreshold, &m.UsageCount); err != nil {
			return nil, fmt.Errorf("failed to scan exemplar: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// searchExemplarsFallback loads candidate vectors and ranks them in Go.
func searchExemplarsFallback(ctx context.Context, db *sql.DB, queryVector []float32, minThreshold float64, limit int, intent string) ([]types.IntentMatch, error) {
	query := "SELECT intent, phrase, vector, confidence_threshold, usage_count FROM intent_exemplar"
	var args []interface{}
	if intent != "" {
		query += " WHERE intent = ?"
		args = append(args, intent)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query exemplars: %w", err)
	}
	defer func() { _ = rows.Close() }()

	matches := make([]types.IntentMatch, 0)
	for rows.Next() {
		var (
			m       types.IntentMatch
			vecBlob []byte
		)
		if err := rows.Scan(&m.Intent, &m.Phrase, &vecBlob, &m.ConfidenceThreshold, &m.UsageCount); err != nil {
			return nil, fmt.Errorf("failed to scan exemplar: %w", err)
		}
		vector := deserializeVector(vecBlob)
		if len(vector) != len(queryVector) {
			continue
		}
		m.Similarity = cosineSimilarity(queryVector, vector)
		if m.Similarity <= minThreshold || m.Similarity < 0 {
			continue
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	SortMatches(matches)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// SortMatches orders matches by similarity desc, usage_count desc, phrase asc.
func SortMatches(matches []types.IntentMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.UsageCount != b.UsageCount {
			return a.UsageCount > b.UsageCount
		}
		return a.Phrase < b.Phrase
	})
}

// searchProducts ranks in-stock products by cosine similarity to queryVector.
func searchProducts(ctx context.Context, db *sql.DB, queryVector []float32, threshold float64, limit int) ([]ProductHit, error) {
	if VectorExtensionAvailable {
		return searchProductsOptimized(ctx, db, queryVector, threshold, limit)
	}
	return searchProductsFallback(ctx, db, queryVector, threshold, limit)
}

func searchProductsOptimized(ctx context.Context, db *sql.DB, queryVector []float32, threshold float64, limit int) ([]ProductHit, error) {
	query := `
		SELECT id, name, description, price, category, sku, in_stock, metadata, vector, created_at, updated_at, similarity
		FROM (
			SELECT ` + productColumns + `, 1.0 - vec_distance_cosine(p.vector, ?) AS similarity
			FROM product p
			WHERE p.in_stock = 1 AND p.vector IS NOT NULL AND length(p.vector) = ?
		)
		WHERE similarity >= ? AND similarity >= 0
		ORDER BY similarity DESC, id ASC
		LIMIT ?`

	rows, err := db.QueryContext(ctx, query, serializeVector(queryVector), len(queryVector)*4, threshold, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to execute product vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]ProductHit, 0)
	for rows.Next() {
		var score float64
		p, err := scanProduct(rows, &score)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		hits = append(hits, ProductHit{Product: *p, Score: score})
	}
	return hits, rows.Err()
}

func searchProductsFallback(ctx context.Context, db *sql.DB, queryVector []float32, threshold float64, limit int) ([]ProductHit, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+productColumns+" FROM product p WHERE p.in_stock = 1 AND p.vector IS NOT NULL")
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]ProductHit, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		if len(p.Vector) != len(queryVector) {
			continue
		}
		score := cosineSimilarity(queryVector, p.Vector)
		if score < threshold || score < 0 {
			continue
		}
		hits = append(hits, ProductHit{Product: *p, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortHits(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// searchProductText runs an FTS5 query and normalizes bm25 into [0, 1).
func searchProductText(ctx context.Context, db *sql.DB, query string, limit int) ([]ProductHit, error) {
	match := buildFTSQuery(query)
	if match == "" {
		return []ProductHit{}, nil
	}

	rows, err := db.QueryContext(ctx, `
		SELECT `+productColumns+`, bm25(product_fts) AS bm25_score
		FROM product_fts
		JOIN product p ON p.id = product_fts.rowid
		WHERE product_fts MATCH ? AND p.in_stock = 1
		ORDER BY bm25_score ASC, p.id ASC
		LIMIT ?
	`, match, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to execute text search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]ProductHit, 0)
	for rows.Next() {
		var rank float64
		p, err := scanProduct(rows, &rank)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		hits = append(hits, ProductHit{Product: *p, Score: normalizeBM25(rank)})
	}
	return hits, rows.Err()
}

// normalizeBM25 maps FTS5 bm25 (negative, more negative is better) to [0, 1),
// increasing with relevance.
func normalizeBM25(rank float64) float64 {
	r := math.Abs(rank)
	return r / (1.0 + r)
}

// sortHits orders hits by score desc then id asc.
func sortHits(hits []ProductHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Product.ID < hits[j].Product.ID
	})
}

// sqlLimit converts a non-positive limit to SQLite's "no limit".
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// queryTerms splits text into letter/digit runs, lowercased.
func queryTerms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

// buildFTSQuery turns free text into an FTS5 OR-query of quoted terms, so no
// user input is interpreted as FTS syntax.
func buildFTSQuery(text string) string {
	terms := queryTerms(text)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

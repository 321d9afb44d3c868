package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dshills/querypipe/pkg/types"
)

// PostgresStorage implements Storage on Postgres with pgvector.
type PostgresStorage struct {
	db        *pgxpool.Pool
	dimension int
}

// NewPostgresStorage connects, applies migrations and fixes the vector dimension.
func NewPostgresStorage(ctx context.Context, connStr string, dimension int) (*PostgresStorage, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", types.ErrInvalidInput, dimension)
	}
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping postgres: %v", types.ErrStoreUnavailable, err)
	}
	if err := applyPostgresMigrations(ctx, db, dimension); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return &PostgresStorage{db: db, dimension: dimension}, nil
}

// Close releases the connection pool.
func (s *PostgresStorage) Close() error {
	s.db.Close()
	return nil
}

// Dimension returns the vector dimension enforced on writes.
func (s *PostgresStorage) Dimension() int {
	return s.dimension
}

func (s *PostgresStorage) checkDimension(vector []float32) error {
	if len(vector) != s.dimension {
		return fmt.Errorf("%w: got %d, want %d", types.ErrDimensionMismatch, len(vector), s.dimension)
	}
	return nil
}

// vectorLiteral renders a pgvector text literal, e.g. "[0.1,0.2]".
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVector parses a pgvector text literal.
func parseVector(text string) []float32 {
	text = strings.Trim(text, "[]")
	if strings.TrimSpace(text) == "" {
		return nil
	}
	parts := strings.Split(text, ",")
	vec := make([]float32, 0, len(parts))
	for _, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			continue
		}
		vec = append(vec, float32(f))
	}
	return vec
}

func pgNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func (s *PostgresStorage) execCount(ctx context.Context, op, query string, args ...any) (int64, error) {
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, storeErr(op, err)
	}
	return tag.RowsAffected(), nil
}

// Embedding cache operations

func (s *PostgresStorage) GetCachedEmbedding(ctx context.Context, hash [32]byte, model string) (*EmbeddingCacheEntry, error) {
	var (
		entry    EmbeddingCacheEntry
		hashBlob []byte
		vecText  string
	)
	err := s.db.QueryRow(ctx, `
		SELECT content_hash, model_name, vector::text, hit_count, last_accessed, created_at
		FROM embedding_cache WHERE content_hash = $1 AND model_name = $2
	`, hash[:], model).Scan(&hashBlob, &entry.ModelName, &vecText, &entry.HitCount, &entry.LastAccessed, &entry.CreatedAt)
	if pgNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get cached embedding", err)
	}
	copy(entry.ContentHash[:], hashBlob)
	entry.Vector = parseVector(vecText)
	return &entry, nil
}

func (s *PostgresStorage) UpsertCachedEmbedding(ctx context.Context, entry *EmbeddingCacheEntry) error {
	if entry.ModelName == "" {
		return fmt.Errorf("%w: model name is required", types.ErrInvalidInput)
	}
	if err := s.checkDimension(entry.Vector); err != nil {
		return err
	}
	now := nowUTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.LastAccessed.IsZero() {
		entry.LastAccessed = now
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO embedding_cache (content_hash, model_name, vector, hit_count, last_accessed, created_at)
		VALUES ($1, $2, $3::vector, $4, $5, $6)
		ON CONFLICT (content_hash, model_name) DO UPDATE SET
			vector = EXCLUDED.vector,
			last_accessed = EXCLUDED.last_accessed
	`, entry.ContentHash[:], entry.ModelName, vectorLiteral(entry.Vector), entry.HitCount, entry.LastAccessed, entry.CreatedAt)
	return storeErr("upsert cached embedding", err)
}

func (s *PostgresStorage) TouchCachedEmbedding(ctx context.Context, hash [32]byte, model string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE embedding_cache SET hit_count = hit_count + 1, last_accessed = $1
		WHERE content_hash = $2 AND model_name = $3
	`, at, hash[:], model)
	return storeErr("touch cached embedding", err)
}

func (s *PostgresStorage) DeleteStaleEmbeddings(ctx context.Context, accessedBefore time.Time) (int64, error) {
	return s.execCount(ctx, "delete stale embeddings", "DELETE FROM embedding_cache WHERE last_accessed < $1", accessedBefore)
}

func (s *PostgresStorage) DeleteAllEmbeddings(ctx context.Context) (int64, error) {
	return s.execCount(ctx, "delete all embeddings", "DELETE FROM embedding_cache")
}

// Intent exemplar operations

const pgUpsertExemplar = `
	INSERT INTO intent_exemplar (intent, phrase, vector, confidence_threshold, usage_count, created_at, updated_at)
	VALUES ($1, $2, $3::vector, $4, $5, $6, $7)
	ON CONFLICT (intent, phrase) DO UPDATE SET
		vector = EXCLUDED.vector,
		confidence_threshold = EXCLUDED.confidence_threshold,
		updated_at = EXCLUDED.updated_at
	RETURNING id, usage_count`

func (s *PostgresStorage) prepareExemplar(ex *Exemplar) error {
	if ex.Intent == "" || ex.Phrase == "" {
		return fmt.Errorf("%w: exemplar intent and phrase are required", types.ErrInvalidInput)
	}
	if err := s.checkDimension(ex.Vector); err != nil {
		return err
	}
	now := nowUTC()
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = now
	}
	ex.UpdatedAt = now
	return nil
}

func (s *PostgresStorage) UpsertExemplar(ctx context.Context, ex *Exemplar) error {
	if err := s.prepareExemplar(ex); err != nil {
		return err
	}
	err := s.db.QueryRow(ctx, pgUpsertExemplar, ex.Intent, ex.Phrase, vectorLiteral(ex.Vector),
		ex.ConfidenceThreshold, ex.UsageCount, ex.CreatedAt, ex.UpdatedAt).Scan(&ex.ID, &ex.UsageCount)
	return storeErr("upsert exemplar", err)
}

func (s *PostgresStorage) UpsertExemplars(ctx context.Context, exs []*Exemplar) (int, error) {
	for _, ex := range exs {
		if err := s.prepareExemplar(ex); err != nil {
			return 0, err
		}
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, storeErr("begin exemplar batch", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, ex := range exs {
		err := tx.QueryRow(ctx, pgUpsertExemplar, ex.Intent, ex.Phrase, vectorLiteral(ex.Vector),
			ex.ConfidenceThreshold, ex.UsageCount, ex.CreatedAt, ex.UpdatedAt).Scan(&ex.ID, &ex.UsageCount)
		if err != nil {
			return 0, storeErr("upsert exemplar", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, storeErr("commit exemplar batch", err)
	}
	return len(exs), nil
}

func (s *PostgresStorage) GetExemplar(ctx context.Context, intent, phrase string) (*Exemplar, error) {
	var (
		ex      Exemplar
		vecText string
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, intent, phrase, vector::text, confidence_threshold, usage_count, created_at, updated_at
		FROM intent_exemplar WHERE intent = $1 AND phrase = $2
	`, intent, phrase).Scan(&ex.ID, &ex.Intent, &ex.Phrase, &vecText, &ex.ConfidenceThreshold,
		&ex.UsageCount, &ex.CreatedAt, &ex.UpdatedAt)
	if pgNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get exemplar", err)
	}
	ex.Vector = parseVector(vecText)
	return &ex, nil
}

// SearchExemplars uses the pgvector cosine distance operator <=>.
func (s *PostgresStorage) SearchExemplars(ctx context.Context, vector []float32, minThreshold float64, limit int, intent string) ([]types.IntentMatch, error) {
	if err := s.checkDimension(vector); err != nil {
		return nil, err
	}
	query := `
		SELECT intent, phrase, similarity, confidence_threshold, usage_count FROM (
			SELECT intent, phrase, confidence_threshold, usage_count,
				1 - (vector <=> $1::vector) AS similarity
			FROM intent_exemplar
			WHERE ($2 = '' OR intent = $2)
		) scored
		WHERE similarity > $3 AND similarity >= 0
		ORDER BY similarity DESC, usage_count DESC, phrase ASC`
	args := []any{vectorLiteral(vector), intent, minThreshold}
	if limit > 0 {
		query += " LIMIT $4"
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("search exemplars", err)
	}
	defer rows.Close()

	matches := make([]types.IntentMatch, 0)
	for rows.Next() {
		var m types.IntentMatch
		if err := rows.Scan(&m.Intent, &m.Phrase, &m.Similarity, &m.ConfidenceThreshold, &m.UsageCount); err != nil {
			return nil, storeErr("search exemplars", err)
		}
		matches = append(matches, m)
	}
	return matches, storeErr("search exemplars", rows.Err())
}

func (s *PostgresStorage) IncrementExemplarUsage(ctx context.Context, intent, phrase string) error {
	n, err := s.execCount(ctx, "increment exemplar usage", `
		UPDATE intent_exemplar SET usage_count = usage_count + 1, updated_at = now()
		WHERE intent = $1 AND phrase = $2
	`, intent, phrase)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStorage) ExemplarStats(ctx context.Context, topN int) (*ExemplarStats, error) {
	stats := &ExemplarStats{TopIntents: []IntentSummary{}}
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT intent), COALESCE(AVG(usage_count), 0)::float8 FROM intent_exemplar
	`).Scan(&stats.TotalExemplars, &stats.IntentCount, &stats.AvgUsage)
	if err != nil {
		return nil, storeErr("exemplar stats", err)
	}

	query := `
		SELECT intent, COUNT(*), COALESCE(SUM(usage_count), 0)::bigint, AVG(confidence_threshold)
		FROM intent_exemplar
		GROUP BY intent
		ORDER BY SUM(usage_count) DESC, COUNT(*) DESC, intent ASC`
	var args []any
	if topN > 0 {
		query += " LIMIT $1"
		args = append(args, topN)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("exemplar stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sum IntentSummary
		if err := rows.Scan(&sum.Intent, &sum.ExemplarCount, &sum.TotalUsage, &sum.AvgThreshold); err != nil {
			return nil, storeErr("exemplar stats", err)
		}
		stats.TopIntents = append(stats.TopIntents, sum)
	}
	return stats, storeErr("exemplar stats", rows.Err())
}

func (s *PostgresStorage) DeleteUnusedExemplars(ctx context.Context, createdBefore time.Time) (int64, error) {
	return s.execCount(ctx, "delete unused exemplars",
		"DELETE FROM intent_exemplar WHERE usage_count = 0 AND created_at < $1", createdBefore)
}

// Product operations

const pgProductColumns = `id, name, description, price, category, COALESCE(sku, ''), in_stock, metadata::text, COALESCE(vector::text, ''), created_at, updated_at`

func scanPgProduct(row pgx.Row, extra ...any) (*types.Product, error) {
	var (
		p        types.Product
		metadata string
		vecText  string
	)
	dest := []any{&p.ID, &p.Name, &p.Description, &p.Price, &p.Category, &p.SKU, &p.InStock,
		&metadata, &vecText, &p.CreatedAt, &p.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &p.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for product %d: %w", p.ID, err)
		}
	}
	p.Vector = parseVector(vecText)
	return &p, nil
}

func (s *PostgresStorage) UpsertProduct(ctx context.Context, p *types.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	var vec *string
	if p.Vector != nil {
		if err := s.checkDimension(p.Vector); err != nil {
			return err
		}
		lit := vectorLiteral(p.Vector)
		vec = &lit
	}
	metadata, err := encodeMetadata(p.Metadata)
	if err != nil {
		return err
	}
	now := nowUTC()
	p.UpdatedAt = now
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}

	if p.ID != 0 {
		n, err := s.execCount(ctx, "update product", `
			UPDATE product SET name = $1, description = $2, price = $3, category = $4, sku = NULLIF($5, ''),
				in_stock = $6, metadata = $7::jsonb, vector = COALESCE($8::vector, vector), updated_at = $9
			WHERE id = $10
		`, p.Name, p.Description, p.Price, p.Category, p.SKU, p.InStock, metadata, vec, now, p.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	}

	err = s.db.QueryRow(ctx, `
		INSERT INTO product (name, description, price, category, sku, in_stock, metadata, vector, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7::jsonb, $8::vector, $9, $10)
		ON CONFLICT (sku) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			price = EXCLUDED.price,
			category = EXCLUDED.category,
			in_stock = EXCLUDED.in_stock,
			metadata = EXCLUDED.metadata,
			vector = COALESCE(EXCLUDED.vector, product.vector),
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`, p.Name, p.Description, p.Price, p.Category, p.SKU, p.InStock, metadata, vec, p.CreatedAt, now).Scan(&p.ID)
	return storeErr("insert product", err)
}

func (s *PostgresStorage) GetProduct(ctx context.Context, id int64) (*types.Product, error) {
	p, err := scanPgProduct(s.db.QueryRow(ctx, "SELECT "+pgProductColumns+" FROM product WHERE id = $1", id))
	if pgNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get product", err)
	}
	return p, nil
}

func (s *PostgresStorage) UpdateProductVector(ctx context.Context, id int64, vector []float32) error {
	if err := s.checkDimension(vector); err != nil {
		return err
	}
	n, err := s.execCount(ctx, "update product vector",
		"UPDATE product SET vector = $1::vector, updated_at = now() WHERE id = $2", vectorLiteral(vector), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStorage) queryProducts(ctx context.Context, op, query string, args ...any) ([]ProductHit, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	hits := make([]ProductHit, 0)
	for rows.Next() {
		var score float64
		p, err := scanPgProduct(rows, &score)
		if err != nil {
			return nil, storeErr(op, err)
		}
		hits = append(hits, ProductHit{Product: *p, Score: score})
	}
	return hits, storeErr(op, rows.Err())
}

func (s *PostgresStorage) ListProductsWithoutVector(ctx context.Context, limit int) ([]*types.Product, error) {
	query := "SELECT " + pgProductColumns + ", 0::float8 FROM product WHERE vector IS NULL ORDER BY id"
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	hits, err := s.queryProducts(ctx, "list products without vector", query, args...)
	if err != nil {
		return nil, err
	}
	products := make([]*types.Product, len(hits))
	for i := range hits {
		products[i] = &hits[i].Product
	}
	return products, nil
}

func (s *PostgresStorage) SearchProductsByVector(ctx context.Context, vector []float32, threshold float64, limit int) ([]ProductHit, error) {
	if err := s.checkDimension(vector); err != nil {
		return nil, err
	}
	query := `
		SELECT ` + pgProductColumns + `, similarity FROM (
			SELECT *, 1 - (vector <=> $1::vector) AS similarity
			FROM product
			WHERE in_stock AND vector IS NOT NULL
		) scored
		WHERE similarity >= $2 AND similarity >= 0
		ORDER BY similarity DESC, id ASC`
	args := []any{vectorLiteral(vector), threshold}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}
	return s.queryProducts(ctx, "search products by vector", query, args...)
}

// SearchProductsByText ORs the query terms into a tsquery and ranks with
// ts_rank normalization 32, which maps rank into [0, 1).
func (s *PostgresStorage) SearchProductsByText(ctx context.Context, query string, limit int) ([]ProductHit, error) {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return []ProductHit{}, nil
	}
	sqlQuery := `
		SELECT ` + pgProductColumns + `, ts_rank(search_tsv, q, 32)::float8 AS score
		FROM product, to_tsquery('english', $1) q
		WHERE search_tsv @@ q AND in_stock
		ORDER BY score DESC, id ASC`
	args := []any{strings.Join(terms, " | ")}
	if limit > 0 {
		sqlQuery += " LIMIT $2"
		args = append(args, limit)
	}
	return s.queryProducts(ctx, "search products by text", sqlQuery, args...)
}

// Response cache operations

func (s *PostgresStorage) GetResponse(ctx context.Context, key string, now time.Time) (*ResponseCacheEntry, error) {
	var (
		entry   ResponseCacheEntry
		payload string
		ttlMS   int64
	)
	err := s.db.QueryRow(ctx, `
		SELECT cache_key, payload::text, ttl_ms, expires_at, created_at
		FROM response_cache WHERE cache_key = $1 AND expires_at > $2
	`, key, now).Scan(&entry.Key, &payload, &ttlMS, &entry.ExpiresAt, &entry.CreatedAt)
	if pgNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get response", err)
	}
	entry.Payload = json.RawMessage(payload)
	entry.TTL = time.Duration(ttlMS) * time.Millisecond
	return &entry, nil
}

func (s *PostgresStorage) PutResponse(ctx context.Context, entry *ResponseCacheEntry) error {
	if err := validateCacheKey(entry.Key); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO response_cache (cache_key, payload, ttl_ms, expires_at, created_at)
		VALUES ($1, $2::jsonb, $3, $4, $5)
		ON CONFLICT (cache_key) DO UPDATE SET
			payload = EXCLUDED.payload,
			ttl_ms = EXCLUDED.ttl_ms,
			expires_at = EXCLUDED.expires_at,
			created_at = EXCLUDED.created_at
	`, entry.Key, string(entry.Payload), entry.TTL.Milliseconds(), entry.ExpiresAt, entry.CreatedAt)
	return storeErr("put response", err)
}

func (s *PostgresStorage) DeleteResponse(ctx context.Context, key string) (bool, error) {
	n, err := s.execCount(ctx, "delete response", "DELETE FROM response_cache WHERE cache_key = $1", key)
	return n > 0, err
}

func (s *PostgresStorage) DeleteExpiredResponses(ctx context.Context, now time.Time) (int64, error) {
	return s.execCount(ctx, "delete expired responses", "DELETE FROM response_cache WHERE expires_at <= $1", now)
}

func (s *PostgresStorage) DeleteAllResponses(ctx context.Context) (int64, error) {
	return s.execCount(ctx, "delete all responses", "DELETE FROM response_cache")
}

// Metrics operations

func (s *PostgresStorage) InsertMetric(ctx context.Context, m *SearchMetric) error {
	if m.QueryID == "" {
		return fmt.Errorf("%w: query id is required", types.ErrInvalidInput)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = nowUTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO search_metric (
			query_id, session_id, query_text, intent, confidence_score,
			vector_search_result_count, vector_search_time_ms, generation_time_ms, total_time_ms,
			embedding_cache_hit, response_cache_hit, exemplar_used, avg_similarity_score, error_kind, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (query_id) DO NOTHING
	`, m.QueryID, m.SessionID, m.QueryText, m.Intent, m.ConfidenceScore,
		m.VectorSearchResultCount, m.VectorSearchTimeMS, m.GenerationTimeMS, m.TotalTimeMS,
		m.EmbeddingCacheHit, m.ResponseCacheHit, m.ExemplarUsed, m.AvgSimilarityScore, m.ErrorKind, m.CreatedAt)
	return storeErr("insert metric", err)
}

func (s *PostgresStorage) ListMetrics(ctx context.Context, since time.Time) ([]*SearchMetric, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, query_id, session_id, query_text, intent, confidence_score,
			vector_search_result_count, vector_search_time_ms, generation_time_ms, total_time_ms,
			embedding_cache_hit, response_cache_hit, exemplar_used, avg_similarity_score, error_kind, created_at
		FROM search_metric WHERE created_at >= $1 ORDER BY created_at, id
	`, since)
	if err != nil {
		return nil, storeErr("list metrics", err)
	}
	defer rows.Close()

	var metrics []*SearchMetric
	for rows.Next() {
		var m SearchMetric
		if err := rows.Scan(&m.ID, &m.QueryID, &m.SessionID, &m.QueryText, &m.Intent, &m.ConfidenceScore,
			&m.VectorSearchResultCount, &m.VectorSearchTimeMS, &m.GenerationTimeMS, &m.TotalTimeMS,
			&m.EmbeddingCacheHit, &m.ResponseCacheHit, &m.ExemplarUsed, &m.AvgSimilarityScore, &m.ErrorKind,
			&m.CreatedAt); err != nil {
			return nil, storeErr("list metrics", err)
		}
		metrics = append(metrics, &m)
	}
	return metrics, storeErr("list metrics", rows.Err())
}

func (s *PostgresStorage) DeleteMetricsBefore(ctx context.Context, before time.Time) (int64, error) {
	return s.execCount(ctx, "delete metrics", "DELETE FROM search_metric WHERE created_at < $1", before)
}

func (s *PostgresStorage) CacheStats(ctx context.Context, now time.Time) (*CacheStats, error) {
	var st CacheStats
	err := s.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM embedding_cache),
			(SELECT COALESCE(SUM(hit_count), 0)::bigint FROM embedding_cache),
			(SELECT COUNT(*) FROM response_cache),
			(SELECT COUNT(*) FROM response_cache WHERE expires_at > $1),
			(SELECT COUNT(*) FROM product),
			(SELECT COUNT(*) FROM product WHERE vector IS NOT NULL),
			(SELECT COUNT(*) FROM intent_exemplar)
	`, now).Scan(&st.EmbeddingEntries, &st.EmbeddingHits, &st.ResponseEntries, &st.LiveResponses,
		&st.Products, &st.ProductsWithVector, &st.Exemplars)
	if err != nil {
		return nil, storeErr("cache stats", err)
	}
	return &st, nil
}

var _ Storage = (*PostgresStorage)(nil)

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/querypipe/pkg/types"
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db        *sql.DB
	dimension int
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Single writer; also keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage opens dbPath, applies migrations and fixes the vector dimension.
func NewSQLiteStorage(dbPath string, dimension int) (*SQLiteStorage, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", types.ErrInvalidInput, dimension)
	}

	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db, dimension: dimension}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Dimension returns the vector dimension enforced on writes.
func (s *SQLiteStorage) Dimension() int {
	return s.dimension
}

func (s *SQLiteStorage) checkDimension(vector []float32) error {
	if len(vector) != s.dimension {
		return fmt.Errorf("%w: got %d, want %d", types.ErrDimensionMismatch, len(vector), s.dimension)
	}
	return nil
}

// storeErr marks driver failures as store unavailability; sentinel errors pass through.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrInvalidInput) ||
		errors.Is(err, types.ErrDimensionMismatch) || errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, types.ErrStoreUnavailable, err)
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// Embedding cache operations

// GetCachedEmbedding returns the entry for (hash, model) or ErrNotFound.
func (s *SQLiteStorage) GetCachedEmbedding(ctx context.Context, hash [32]byte, model string) (*EmbeddingCacheEntry, error) {
	var (
		entry              EmbeddingCacheEntry
		hashBlob, vecBlob  []byte
		lastAccess, create int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT content_hash, model_name, vector, hit_count, last_accessed, created_at
		FROM embedding_cache WHERE content_hash = ? AND model_name = ?
	`, hash[:], model).Scan(&hashBlob, &entry.ModelName, &vecBlob, &entry.HitCount, &lastAccess, &create)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get cached embedding", err)
	}

	copy(entry.ContentHash[:], hashBlob)
	entry.Vector = deserializeVector(vecBlob)
	entry.LastAccessed = fromUnix(lastAccess)
	entry.CreatedAt = fromUnix(create)
	return &entry, nil
}

// UpsertCachedEmbedding stores an entry; an existing row keeps its hit_count.
func (s *SQLiteStorage) UpsertCachedEmbedding(ctx context.Context, entry *EmbeddingCacheEntry) error {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embedding_cache (content_hash, model_name, vector, dimension, hit_count, last_accessed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash, model_name) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			last_accessed = excluded.last_accessed
	`, entry.ContentHash[:], entry.ModelName, serializeVector(entry.Vector), len(entry.Vector),
		entry.HitCount, toUnix(entry.LastAccessed), toUnix(entry.CreatedAt))
	return storeErr("upsert cached embedding", err)
}

// TouchCachedEmbedding increments hit_count and refreshes last_accessed.
func (s *SQLiteStorage) TouchCachedEmbedding(ctx context.Context, hash [32]byte, model string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE embedding_cache SET hit_count = hit_count + 1, last_accessed = ?
		WHERE content_hash = ? AND model_name = ?
	`, toUnix(at), hash[:], model)
	return storeErr("touch cached embedding", err)
}

// DeleteStaleEmbeddings removes entries not accessed since accessedBefore.
func (s *SQLiteStorage) DeleteStaleEmbeddings(ctx context.Context, accessedBefore time.Time) (int64, error) {
	return s.execCount(ctx, "delete stale embeddings",
		"DELETE FROM embedding_cache WHERE last_accessed < ?", toUnix(accessedBefore))
}

// DeleteAllEmbeddings empties the persistent embedding cache.
func (s *SQLiteStorage) DeleteAllEmbeddings(ctx context.Context) (int64, error) {
	return s.execCount(ctx, "delete all embeddings", "DELETE FROM embedding_cache")
}

func (s *SQLiteStorage) execCount(ctx context.Context, op, query string, args ...interface{}) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storeErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr(op, err)
	}
	return n, nil
}

// Intent exemplar operations

// UpsertExemplar inserts or replaces an exemplar keyed by (intent, phrase).
// usage_count survives re-seeding.
func (s *SQLiteStorage) UpsertExemplar(ctx context.Context, ex *Exemplar) error {
	return s.upsertExemplarWithQuerier(ctx, s.db, ex)
}

// UpsertExemplars writes all exemplars in one transaction.
func (s *SQLiteStorage) UpsertExemplars(ctx context.Context, exs []*Exemplar) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr("begin exemplar batch", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, ex := range exs {
		if err := s.upsertExemplarWithQuerier(ctx, tx, ex); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, storeErr("commit exemplar batch", err)
	}
	return len(exs), nil
}

func (s *SQLiteStorage) upsertExemplarWithQuerier(ctx context.Context, q querier, ex *Exemplar) error {
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

	err := q.QueryRowContext(ctx, `
		INSERT INTO intent_exemplar (intent, phrase, vector, dimension, confidence_threshold, usage_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(intent, phrase) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			confidence_threshold = excluded.confidence_threshold,
			updated_at = excluded.updated_at
		RETURNING id, usage_count
	`, ex.Intent, ex.Phrase, serializeVector(ex.Vector), len(ex.Vector), ex.ConfidenceThreshold,
		ex.UsageCount, toUnix(ex.CreatedAt), toUnix(ex.UpdatedAt)).Scan(&ex.ID, &ex.UsageCount)
	return storeErr("upsert exemplar", err)
}

// GetExemplar returns the exemplar for (intent, phrase) or ErrNotFound.
func (s *SQLiteStorage) GetExemplar(ctx context.Context, intent, phrase string) (*Exemplar, error) {
	var (
		ex               Exemplar
		vecBlob          []byte
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, intent, phrase, vector, confidence_threshold, usage_count, created_at, updated_at
		FROM intent_exemplar WHERE intent = ? AND phrase = ?
	`, intent, phrase).Scan(&ex.ID, &ex.Intent, &ex.Phrase, &vecBlob, &ex.ConfidenceThreshold,
		&ex.UsageCount, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get exemplar", err)
	}
	ex.Vector = deserializeVector(vecBlob)
	ex.CreatedAt = fromUnix(created)
	ex.UpdatedAt = fromUnix(updated)
	return &ex, nil
}

// SearchExemplars returns exemplars with similarity strictly above minThreshold.
func (s *SQLiteStorage) SearchExemplars(ctx context.Context, vector []float32, minThreshold float64, limit int, intent string) ([]types.IntentMatch, error) {
	if err := s.checkDimension(vector); err != nil {
		return nil, err
	}
	matches, err := searchExemplars(ctx, s.db, vector, minThreshold, limit, intent)
	return matches, storeErr("search exemplars", err)
}

// IncrementExemplarUsage bumps usage_count for (intent, phrase).
func (s *SQLiteStorage) IncrementExemplarUsage(ctx context.Context, intent, phrase string) error {
	n, err := s.execCount(ctx, "increment exemplar usage", `
		UPDATE intent_exemplar SET usage_count = usage_count + 1, updated_at = ?
		WHERE intent = ? AND phrase = ?
	`, toUnix(nowUTC()), intent, phrase)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ExemplarStats reports table totals and the topN intents by usage.
func (s *SQLiteStorage) ExemplarStats(ctx context.Context, topN int) (*ExemplarStats, error) {
	stats := &ExemplarStats{TopIntents: []IntentSummary{}}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT intent), COALESCE(AVG(usage_count), 0) FROM intent_exemplar
	`).Scan(&stats.TotalExemplars, &stats.IntentCount, &stats.AvgUsage)
	if err != nil {
		return nil, storeErr("exemplar stats", err)
	}

	if topN <= 0 {
		topN = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT intent, COUNT(*), COALESCE(SUM(usage_count), 0), AVG(confidence_threshold)
		FROM intent_exemplar
		GROUP BY intent
		ORDER BY SUM(usage_count) DESC, COUNT(*) DESC, intent ASC
		LIMIT ?
	`, topN)
	if err != nil {
		return nil, storeErr("exemplar stats", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var sum IntentSummary
		if err := rows.Scan(&sum.Intent, &sum.ExemplarCount, &sum.TotalUsage, &sum.AvgThreshold); err != nil {
			return nil, storeErr("exemplar stats", err)
		}
		stats.TopIntents = append(stats.TopIntents, sum)
	}
	return stats, storeErr("exemplar stats", rows.Err())
}

// DeleteUnusedExemplars removes never-matched exemplars created before the cutoff.
func (s *SQLiteStorage) DeleteUnusedExemplars(ctx context.Context, createdBefore time.Time) (int64, error) {
	return s.execCount(ctx, "delete unused exemplars",
		"DELETE FROM intent_exemplar WHERE usage_count = 0 AND created_at < ?", toUnix(createdBefore))
}

// Product operations

const productColumns = `p.id, p.name, p.description, p.price, p.category, p.sku, p.in_stock, p.metadata, p.vector, p.created_at, p.updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row rowScanner, extra ...interface{}) (*types.Product, error) {
	var (
		p                types.Product
		sku              sql.NullString
		metadata         string
		vecBlob          []byte
		created, updated int64
	)
	dest := []interface{}{&p.ID, &p.Name, &p.Description, &p.Price, &p.Category, &sku, &p.InStock,
		&metadata, &vecBlob, &created, &updated}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	p.SKU = sku.String
	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &p.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for product %d: %w", p.ID, err)
		}
	}
	if len(vecBlob) > 0 {
		p.Vector = deserializeVector(vecBlob)
	}
	p.CreatedAt = fromUnix(created)
	p.UpdatedAt = fromUnix(updated)
	return &p, nil
}

func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("%w: encode metadata: %v", types.ErrInvalidInput, err)
	}
	return string(b), nil
}

func nullableSKU(sku string) interface{} {
	if sku == "" {
		return nil
	}
	return sku
}

// UpsertProduct updates by ID when set, otherwise inserts (or updates by SKU).
func (s *SQLiteStorage) UpsertProduct(ctx context.Context, p *types.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	var vecBlob interface{}
	if p.Vector != nil {
		if err := s.checkDimension(p.Vector); err != nil {
			return err
		}
		vecBlob = serializeVector(p.Vector)
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
			UPDATE product SET name = ?, description = ?, price = ?, category = ?, sku = ?,
				in_stock = ?, metadata = ?, vector = COALESCE(?, vector), updated_at = ?
			WHERE id = ?
		`, p.Name, p.Description, p.Price, p.Category, nullableSKU(p.SKU), p.InStock, metadata,
			vecBlob, toUnix(now), p.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO product (name, description, price, category, sku, in_stock, metadata, vector, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sku) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			price = excluded.price,
			category = excluded.category,
			in_stock = excluded.in_stock,
			metadata = excluded.metadata,
			vector = COALESCE(excluded.vector, product.vector),
			updated_at = excluded.updated_at
		RETURNING id
	`, p.Name, p.Description, p.Price, p.Category, nullableSKU(p.SKU), p.InStock, metadata, vecBlob,
		toUnix(p.CreatedAt), toUnix(now)).Scan(&p.ID)
	return storeErr("insert product", err)
}

// GetProduct returns a product by ID or ErrNotFound.
func (s *SQLiteStorage) GetProduct(ctx context.Context, id int64) (*types.Product, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+productColumns+" FROM product p WHERE p.id = ?", id)
	p, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get product", err)
	}
	return p, nil
}

// UpdateProductVector sets the embedding of one product.
func (s *SQLiteStorage) UpdateProductVector(ctx context.Context, id int64, vector []float32) error {
	if err := s.checkDimension(vector); err != nil {
		return err
	}
	n, err := s.execCount(ctx, "update product vector",
		"UPDATE product SET vector = ?, updated_at = ? WHERE id = ?",
		serializeVector(vector), toUnix(nowUTC()), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListProductsWithoutVector returns up to limit products lacking an embedding.
func (s *SQLiteStorage) ListProductsWithoutVector(ctx context.Context, limit int) ([]*types.Product, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+productColumns+" FROM product p WHERE p.vector IS NULL ORDER BY p.id LIMIT ?", limit)
	if err != nil {
		return nil, storeErr("list products without vector", err)
	}
	defer func() { _ = rows.Close() }()

	var products []*types.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, storeErr("list products without vector", err)
		}
		products = append(products, p)
	}
	return products, storeErr("list products without vector", rows.Err())
}

// SearchProductsByVector returns in-stock products with similarity >= threshold.
func (s *SQLiteStorage) SearchProductsByVector(ctx context.Context, vector []float32, threshold float64, limit int) ([]ProductHit, error) {
	if err := s.checkDimension(vector); err != nil {
		return nil, err
	}
	hits, err := searchProducts(ctx, s.db, vector, threshold, limit)
	return hits, storeErr("search products by vector", err)
}

// SearchProductsByText runs a full-text query over in-stock products.
func (s *SQLiteStorage) SearchProductsByText(ctx context.Context, query string, limit int) ([]ProductHit, error) {
	hits, err := searchProductText(ctx, s.db, query, limit)
	return hits, storeErr("search products by text", err)
}

// Response cache operations

// GetResponse returns the unexpired entry for key or ErrNotFound. Expired rows
// are left for the sweeper.
func (s *SQLiteStorage) GetResponse(ctx context.Context, key string, now time.Time) (*ResponseCacheEntry, error) {
	var (
		entry              ResponseCacheEntry
		payload            string
		ttlMS              int64
		expires, createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT cache_key, payload, ttl_ms, expires_at, created_at
		FROM response_cache WHERE cache_key = ? AND expires_at > ?
	`, key, toUnix(now)).Scan(&entry.Key, &payload, &ttlMS, &expires, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get response", err)
	}
	entry.Payload = json.RawMessage(payload)
	entry.TTL = time.Duration(ttlMS) * time.Millisecond
	entry.ExpiresAt = fromUnix(expires)
	entry.CreatedAt = fromUnix(createdAt)
	return &entry, nil
}

// PutResponse inserts or overwrites the entry for its key.
func (s *SQLiteStorage) PutResponse(ctx context.Context, entry *ResponseCacheEntry) error {
	if err := validateCacheKey(entry.Key); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO response_cache (cache_key, payload, ttl_ms, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			payload = excluded.payload,
			ttl_ms = excluded.ttl_ms,
			expires_at = excluded.expires_at,
			created_at = excluded.created_at
	`, entry.Key, string(entry.Payload), entry.TTL.Milliseconds(), toUnix(entry.ExpiresAt), toUnix(entry.CreatedAt))
	return storeErr("put response", err)
}

func validateCacheKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: cache key is required", types.ErrInvalidInput)
	}
	if len(key) > MaxCacheKeyLength {
		return fmt.Errorf("%w: cache key exceeds %d bytes", types.ErrInvalidInput, MaxCacheKeyLength)
	}
	return nil
}

// DeleteResponse removes key and reports whether it existed.
func (s *SQLiteStorage) DeleteResponse(ctx context.Context, key string) (bool, error) {
	n, err := s.execCount(ctx, "delete response", "DELETE FROM response_cache WHERE cache_key = ?", key)
	return n > 0, err
}

// DeleteExpiredResponses removes entries with expires_at <= now.
func (s *SQLiteStorage) DeleteExpiredResponses(ctx context.Context, now time.Time) (int64, error) {
	return s.execCount(ctx, "delete expired responses",
		"DELETE FROM response_cache WHERE expires_at <= ?", toUnix(now))
}

// DeleteAllResponses empties the response cache.
func (s *SQLiteStorage) DeleteAllResponses(ctx context.Context) (int64, error) {
	return s.execCount(ctx, "delete all responses", "DELETE FROM response_cache")
}

// Metrics operations

// InsertMetric stores one run's metrics. A repeated QueryID is ignored.
func (s *SQLiteStorage) InsertMetric(ctx context.Context, m *SearchMetric) error {
	if m.QueryID == "" {
		return fmt.Errorf("%w: query id is required", types.ErrInvalidInput)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = nowUTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_metric (
			query_id, session_id, query_text, intent, confidence_score,
			vector_search_result_count, vector_search_time_ms, generation_time_ms, total_time_ms,
			embedding_cache_hit, response_cache_hit, exemplar_used, avg_similarity_score, error_kind, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(query_id) DO NOTHING
	`, m.QueryID, m.SessionID, m.QueryText, m.Intent, m.ConfidenceScore,
		m.VectorSearchResultCount, m.VectorSearchTimeMS, m.GenerationTimeMS, m.TotalTimeMS,
		m.EmbeddingCacheHit, m.ResponseCacheHit, m.ExemplarUsed, m.AvgSimilarityScore, m.ErrorKind,
		toUnix(m.CreatedAt))
	return storeErr("insert metric", err)
}

// ListMetrics returns metrics created at or after since, oldest first.
func (s *SQLiteStorage) ListMetrics(ctx context.Context, since time.Time) ([]*SearchMetric, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query_id, session_id, query_text, intent, confidence_score,
			vector_search_result_count, vector_search_time_ms, generation_time_ms, total_time_ms,
			embedding_cache_hit, response_cache_hit, exemplar_used, avg_similarity_score, error_kind, created_at
		FROM search_metric WHERE created_at >= ? ORDER BY created_at, id
	`, toUnix(since))
	if err != nil {
		return nil, storeErr("list metrics", err)
	}
	defer func() { _ = rows.Close() }()

	var metrics []*SearchMetric
	for rows.Next() {
		var (
			m                                    SearchMetric
			confidence, vecMS, genMS, total, avg sql.NullFloat64
			resultCount                          sql.NullInt64
			created                              int64
		)
		if err := rows.Scan(&m.ID, &m.QueryID, &m.SessionID, &m.QueryText, &m.Intent, &confidence,
			&resultCount, &vecMS, &genMS, &total, &m.EmbeddingCacheHit, &m.ResponseCacheHit,
			&m.ExemplarUsed, &avg, &m.ErrorKind, &created); err != nil {
			return nil, storeErr("list metrics", err)
		}
		m.ConfidenceScore = nullFloat(confidence)
		m.VectorSearchTimeMS = nullFloat(vecMS)
		m.GenerationTimeMS = nullFloat(genMS)
		m.TotalTimeMS = nullFloat(total)
		m.AvgSimilarityScore = nullFloat(avg)
		if resultCount.Valid {
			n := int(resultCount.Int64)
			m.VectorSearchResultCount = &n
		}
		m.CreatedAt = fromUnix(created)
		metrics = append(metrics, &m)
	}
	return metrics, storeErr("list metrics", rows.Err())
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// DeleteMetricsBefore removes metrics older than before.
func (s *SQLiteStorage) DeleteMetricsBefore(ctx context.Context, before time.Time) (int64, error) {
	return s.execCount(ctx, "delete metrics", "DELETE FROM search_metric WHERE created_at < ?", toUnix(before))
}

// CacheStats reports row counts for the caches and catalog.
func (s *SQLiteStorage) CacheStats(ctx context.Context, now time.Time) (*CacheStats, error) {
	var st CacheStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM embedding_cache),
			(SELECT COALESCE(SUM(hit_count), 0) FROM embedding_cache),
			(SELECT COUNT(*) FROM response_cache),
			(SELECT COUNT(*) FROM response_cache WHERE expires_at > ?),
			(SELECT COUNT(*) FROM product),
			(SELECT COUNT(*) FROM product WHERE vector IS NOT NULL),
			(SELECT COUNT(*) FROM intent_exemplar)
	`, toUnix(now)).Scan(&st.EmbeddingEntries, &st.EmbeddingHits, &st.ResponseEntries, &st.LiveResponses,
		&st.Products, &st.ProductsWithVector, &st.Exemplars)
	if err != nil {
		return nil, storeErr("cache stats", err)
	}
	return &st, nil
}

var _ Storage = (*SQLiteStorage)(nil)

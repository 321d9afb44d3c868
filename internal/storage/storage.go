package storage

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"time"

	"github.com/dshills/querypipe/pkg/types"
)

// Storage defines persistence for the embedding cache, intent exemplars,
// products, the response cache and search metrics.
type Storage interface {
	// Embedding cache operations
	GetCachedEmbedding(ctx context.Context, hash [32]byte, model string) (*EmbeddingCacheEntry, error)
	UpsertCachedEmbedding(ctx context.Context, entry *EmbeddingCacheEntry) error
	TouchCachedEmbedding(ctx context.Context, hash [32]byte, model string, at time.Time) error
	DeleteStaleEmbeddings(ctx context.Context, accessedBefore time.Time) (int64, error)
	DeleteAllEmbeddings(ctx context.Context) (int64, error)

	// Intent exemplar operations
	UpsertExemplar(ctx context.Context, ex *Exemplar) error
	UpsertExemplars(ctx context.Context, exs []*Exemplar) (int, error)
	GetExemplar(ctx context.Context, intent, phrase string) (*Exemplar, error)
	SearchExemplars(ctx context.Context, vector []float32, minThreshold float64, limit int, intent string) ([]types.IntentMatch, error)
	IncrementExemplarUsage(ctx context.Context, intent, phrase string) error
	ExemplarStats(ctx context.Context, topN int) (*ExemplarStats, error)
	DeleteUnusedExemplars(ctx context.Context, createdBefore time.Time) (int64, error)

	// Product operations
	UpsertProduct(ctx context.Context, p *types.Product) error
	GetProduct(ctx context.Context, id int64) (*types.Product, error)
	UpdateProductVector(ctx context.Context, id int64, vector []float32) error
	ListProductsWithoutVector(ctx context.Context, limit int) ([]*types.Product, error)
	SearchProductsByVector(ctx context.Context, vector []float32, threshold float64, limit int) ([]ProductHit, error)
	SearchProductsByText(ctx context.Context, query string, limit int) ([]ProductHit, error)

	// Response cache operations
	GetResponse(ctx context.Context, key string, now time.Time) (*ResponseCacheEntry, error)
	PutResponse(ctx context.Context, entry *ResponseCacheEntry) error
	DeleteResponse(ctx context.Context, key string) (bool, error)
	DeleteExpiredResponses(ctx context.Context, now time.Time) (int64, error)
	DeleteAllResponses(ctx context.Context) (int64, error)

	// Metrics operations
	InsertMetric(ctx context.Context, m *SearchMetric) error
	ListMetrics(ctx context.Context, since time.Time) ([]*SearchMetric, error)
	DeleteMetricsBefore(ctx context.Context, before time.Time) (int64, error)

	// Status operations
	CacheStats(ctx context.Context, now time.Time) (*CacheStats, error)
	Dimension() int
	Close() error
}

// MaxCacheKeyLength bounds response cache keys in bytes.
const MaxCacheKeyLength = 255

// ErrNotFound is returned when a requested entity doesn't exist
var ErrNotFound = types.ErrNotFound

// EmbeddingCacheEntry is a persisted embedding keyed by content hash and model.
type EmbeddingCacheEntry struct {
	ContentHash  [32]byte
	ModelName    string
	Vector       []float32
	HitCount     int64
	LastAccessed time.Time
	CreatedAt    time.Time
}

// HashContent returns the SHA-256 of already normalized text.
func HashContent(normalized string) [32]byte {
	return sha256.Sum256([]byte(normalized))
}

// Exemplar is a labelled phrase with its embedding.
type Exemplar struct {
	ID                  int64
	Intent              string
	Phrase              string
	Vector              []float32
	ConfidenceThreshold float64
	UsageCount          int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ProductHit is a product scored by one retrieval branch.
type ProductHit struct {
	Product types.Product
	Score   float64
}

// ResponseCacheEntry is a generated answer stored under a cache key.
type ResponseCacheEntry struct {
	Key       string
	Payload   json.RawMessage
	TTL       time.Duration
	ExpiresAt time.Time
	CreatedAt time.Time
}

// SearchMetric is one pipeline run's telemetry. Pointer fields are optional.
type SearchMetric struct {
	ID                      int64
	QueryID                 string
	SessionID               string
	QueryText               string
	Intent                  string
	ConfidenceScore         *float64
	VectorSearchResultCount *int
	VectorSearchTimeMS      *float64
	GenerationTimeMS        *float64
	TotalTimeMS             *float64
	EmbeddingCacheHit       bool
	ResponseCacheHit        bool
	ExemplarUsed            string
	AvgSimilarityScore      *float64
	ErrorKind               string
	CreatedAt               time.Time
}

// IntentSummary aggregates the exemplars of one intent.
type IntentSummary struct {
	Intent        string  `json:"intent"`
	ExemplarCount int     `json:"exemplar_count"`
	TotalUsage    int64   `json:"total_usage"`
	AvgThreshold  float64 `json:"avg_threshold"`
}

// ExemplarStats summarises the exemplar table.
type ExemplarStats struct {
	TotalExemplars int             `json:"total_exemplars"`
	IntentCount    int             `json:"intent_count"`
	AvgUsage       float64         `json:"avg_usage"`
	TopIntents     []IntentSummary `json:"top_intents"`
}

// CacheStats summarises both persistent caches.
type CacheStats struct {
	EmbeddingEntries   int64 `json:"embedding_entries"`
	EmbeddingHits      int64 `json:"embedding_hits"`
	ResponseEntries    int64 `json:"response_entries"`
	LiveResponses      int64 `json:"live_responses"`
	Products           int64 `json:"products"`
	ProductsWithVector int64 `json:"products_with_vector"`
	Exemplars          int64 `json:"exemplars"`
}

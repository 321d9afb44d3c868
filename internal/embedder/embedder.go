package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/querypipe/pkg/types"
)

// Common errors
var (
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrEmptyText         = fmt.Errorf("%w: text cannot be empty", types.ErrInvalidInput)
	ErrBatchTooLarge     = fmt.Errorf("%w: batch size exceeds limit", types.ErrInvalidInput)
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
)

// Embedding represents a vector embedding with metadata
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Hash      string // hex SHA-256 of the normalized text
}

// EmbeddingRequest represents a request to generate embeddings
type EmbeddingRequest struct {
	Text  string
	Model string // Optional: override default model
}

// BatchEmbeddingRequest represents a batch request
type BatchEmbeddingRequest struct {
	Texts []string
	Model string // Optional: override default model
}

// BatchEmbeddingResponse represents a batch response
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Embedder interface defines methods for generating embeddings
type Embedder interface {
	// GenerateEmbedding generates a single embedding for the given text
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)

	// GenerateBatch generates embeddings for multiple texts efficiently
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	// Dimension returns the embedding dimension for this provider
	Dimension() int

	// Provider returns the provider name
	Provider() string

	// Model returns the model name
	Model() string

	// Close releases any resources held by the embedder
	Close() error
}

// Cache is the in-memory LRU tier, keyed by content hash and model.
type Cache struct {
	cache *lru.Cache[string, *Embedding]
}

// NewCache creates a new embedding cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = DefaultMemoryCacheSize
	}
	cache, err := lru.New[string, *Embedding](maxLen)
	if err != nil {
		cache, _ = lru.New[string, *Embedding](DefaultMemoryCacheSize)
	}
	return &Cache{
		cache: cache,
	}
}

// Get retrieves a deep copy of an embedding from cache
func (c *Cache) Get(key string) (*Embedding, bool) {
	emb, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	return copyEmbedding(emb), true
}

// Set stores a copy of emb, evicting the least recently used entry at capacity.
func (c *Cache) Set(key string, emb *Embedding) {
	c.cache.Add(key, copyEmbedding(emb))
}

// Size returns the current cache size
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	c.cache.Purge()
}

func copyEmbedding(emb *Embedding) *Embedding {
	vectorCopy := make([]float32, len(emb.Vector))
	copy(vectorCopy, emb.Vector)
	return &Embedding{
		Vector:    vectorCopy,
		Dimension: emb.Dimension,
		Provider:  emb.Provider,
		Model:     emb.Model,
		Hash:      emb.Hash,
	}
}

// NormalizeText trims the text and collapses internal whitespace runs to one space.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ComputeHash returns the hex SHA-256 of text.
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// cacheKey identifies an entry in the memory tier.
func cacheKey(hash [32]byte, model string) string {
	return hex.EncodeToString(hash[:]) + ":" + model
}

// ValidateRequest validates an embedding request
func ValidateRequest(req EmbeddingRequest) error {
	if strings.TrimSpace(req.Text) == "" {
		return ErrEmptyText
	}
	return nil
}

// ValidateBatchRequest validates a batch embedding request
func ValidateBatchRequest(req BatchEmbeddingRequest) error {
	if len(req.Texts) == 0 {
		return fmt.Errorf("%w: no texts provided", types.ErrInvalidInput)
	}
	if len(req.Texts) > MaxBatchSize {
		return fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(req.Texts), MaxBatchSize)
	}

	for i, text := range req.Texts {
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("%w: text at index %d is empty", types.ErrInvalidInput, i)
		}
	}

	return nil
}

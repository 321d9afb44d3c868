package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"unicode"
)

// Provider configuration
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default models
	DefaultGeminiModel = "text-embedding-004"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultLocalModel  = "local-hashing"

	// DefaultDimension is the vector dimension of a deployment unless configured.
	DefaultDimension = 768

	// DefaultMemoryCacheSize bounds the in-memory embedding tier.
	DefaultMemoryCacheSize = 10000

	// Batch limits
	DefaultBatchSize = 50
	MaxBatchSize     = 100
)

// LocalProvider is a deterministic feature-hashing embedder. Each lowercased
// word is hashed to a signed bucket, so texts sharing words have high cosine
// similarity. It needs no network and is used for offline runs and tests.
type LocalProvider struct {
	model     string
	dimension int
}

// NewLocalProvider creates a local embedder producing vectors of dimension.
func NewLocalProvider(dimension int) (*LocalProvider, error) {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &LocalProvider{
		model:     DefaultLocalModel,
		dimension: dimension,
	}, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vector := make([]float32, l.dimension)
	for _, word := range localTokens(req.Text) {
		sum := sha256.Sum256([]byte(word))
		bucket := binary.LittleEndian.Uint64(sum[:8]) % uint64(l.dimension)
		if sum[8]&1 == 0 {
			vector[bucket] += 1
		} else {
			vector[bucket] -= 1
		}
	}

	model := l.model
	if req.Model != "" {
		model = req.Model
	}
	return &Embedding{
		Vector:    NormalizeVector(vector),
		Dimension: l.dimension,
		Provider:  ProviderLocal,
		Model:     model,
		Hash:      ComputeHash(NormalizeText(req.Text)),
	}, nil
}

func localTokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := l.GenerateEmbedding(ctx, EmbeddingRequest{Text: text, Model: req.Model})
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      l.model,
	}, nil
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}

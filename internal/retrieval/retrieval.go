package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/querypipe/internal/storage"
	"github.com/dshills/querypipe/pkg/types"
)

// Fusion selects how the two branches are merged.
type Fusion string

const (
	FusionUnion    Fusion = "union"     // concatenate, no dedup
	FusionMaxScore Fusion = "max_score" // dedup by id, keep the higher score
	FusionRRF      Fusion = "rrf"       // reciprocal rank fusion
)

// Defaults applied to zero-valued request fields.
const (
	DefaultLimit       = 5
	MaxLimit           = 100
	DefaultRRFConstant = 60
)

// ParseFusion returns the Fusion named by s; empty selects FusionUnion.
func ParseFusion(s string) (Fusion, error) {
	switch f := Fusion(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FusionUnion, nil
	case FusionUnion, FusionMaxScore, FusionRRF:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unknown fusion %q", types.ErrInvalidInput, s)
	}
}

// Store is the product search surface the retriever needs.
type Store interface {
	SearchProductsByVector(ctx context.Context, vector []float32, threshold float64, limit int) ([]storage.ProductHit, error)
	SearchProductsByText(ctx context.Context, query string, limit int) ([]storage.ProductHit, error)
}

// Request contains parameters for a hybrid search.
type Request struct {
	QueryText           string
	QueryVector         []float32
	SimilarityThreshold float64
	VectorLimit         int
	TextLimit           int
	Fusion              Fusion
	Normalize           bool    // min-max scale each branch before fusing
	RRFConstant         float64 // k for FusionRRF (default 60)
}

// Response contains fused candidates and per-branch counts.
type Response struct {
	Candidates    []types.RankedCandidate
	VectorResults int
	TextResults   int
	AvgSimilarity *float64 // mean raw similarity of the vector branch, nil when empty
	Duration      time.Duration
}

// Retriever coordinates vector and text search.
type Retriever struct {
	store  Store
	logger *zap.Logger
}

// NewRetriever creates a Retriever over store.
func NewRetriever(store Store, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{store: store, logger: logger}
}

// Search runs the vector and text branches concurrently and fuses them. A
// blank QueryText skips the text branch. Any branch failure fails the search.
func (r *Retriever) Search(ctx context.Context, req Request) (*Response, error) {
	startTime := time.Now()

	if err := validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	var vectorHits, textHits []storage.ProductHit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := r.store.SearchProductsByVector(gctx, req.QueryVector, req.SimilarityThreshold, req.VectorLimit)
		if err != nil {
			return fmt.Errorf("vector search: %w", err)
		}
		vectorHits = hits
		return nil
	})
	if strings.TrimSpace(req.QueryText) != "" {
		g.Go(func() error {
			hits, err := r.store.SearchProductsByText(gctx, req.QueryText, req.TextLimit)
			if err != nil {
				return fmt.Errorf("text search: %w", err)
			}
			textHits = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	resp := &Response{
		VectorResults: len(vectorHits),
		TextResults:   len(textHits),
		AvgSimilarity: meanScore(vectorHits),
	}

	vector := toCandidates(vectorHits, types.SourceVector)
	text := toCandidates(textHits, types.SourceText)
	if req.Normalize && req.Fusion != FusionRRF {
		normalize(vector)
		normalize(text)
	}

	switch req.Fusion {
	case FusionMaxScore:
		resp.Candidates = fuseMaxScore(vector, text)
	case FusionRRF:
		resp.Candidates = fuseRRF(vector, text, req.RRFConstant)
	default:
		resp.Candidates = fuseUnion(vector, text)
	}
	sortCandidates(resp.Candidates)

	resp.Duration = time.Since(startTime)
	r.logger.Debug("hybrid search complete",
		zap.Int("vector_results", resp.VectorResults),
		zap.Int("text_results", resp.TextResults),
		zap.String("fusion", string(req.Fusion)),
		zap.Duration("duration", resp.Duration))
	return resp, nil
}

// validateRequest ensures the request is valid and fills defaults.
func validateRequest(req *Request) error {
	if len(req.QueryVector) == 0 {
		return fmt.Errorf("%w: query vector cannot be empty", types.ErrInvalidInput)
	}
	req.VectorLimit = clampLimit(req.VectorLimit)
	req.TextLimit = clampLimit(req.TextLimit)

	if req.Fusion == "" {
		req.Fusion = FusionUnion
	}
	if _, err := ParseFusion(string(req.Fusion)); err != nil {
		return err
	}
	if req.RRFConstant <= 0 {
		req.RRFConstant = DefaultRRFConstant
	}
	return nil
}

func clampLimit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}

func toCandidates(hits []storage.ProductHit, source types.Source) []types.RankedCandidate {
	out := make([]types.RankedCandidate, len(hits))
	for i, h := range hits {
		out[i] = types.RankedCandidate{Product: h.Product, Source: source, Score: h.Score, Rank: i + 1}
	}
	return out
}

func meanScore(hits []storage.ProductHit) *float64 {
	if len(hits) == 0 {
		return nil
	}
	var sum float64
	for _, h := range hits {
		sum += h.Score
	}
	avg := sum / float64(len(hits))
	return &avg
}

package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/querypipe/internal/embedder"
	"github.com/dshills/querypipe/internal/generation"
	"github.com/dshills/querypipe/internal/intent"
	"github.com/dshills/querypipe/internal/metrics"
	"github.com/dshills/querypipe/internal/respcache"
	"github.com/dshills/querypipe/internal/retrieval"
	"github.com/dshills/querypipe/internal/storage"
	"github.com/dshills/querypipe/pkg/types"
)

const e2eDim = 4

// fixedEmbedder maps normalized texts to hand-picked vectors.
type fixedEmbedder struct {
	*embedder.LocalProvider
	vectors map[string][]float32
}

func (f *fixedEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	if v, ok := f.vectors[req.Text]; ok {
		return &embedder.Embedding{Vector: v, Dimension: len(v), Provider: "fixed", Model: f.Model()}, nil
	}
	return f.LocalProvider.GenerateEmbedding(ctx, req)
}

func TestHandle_EndToEndSQLite(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLiteStorage(":memory:", e2eDim)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.UpsertExemplar(ctx, &storage.Exemplar{
		Intent:              string(intent.ProductSearch),
		Phrase:              "show me dark roast coffee",
		ConfidenceThreshold: 0.75,
		Vector:              []float32{1, 0, 0, 0},
	}))
	require.NoError(t, store.UpsertProduct(ctx, &types.Product{
		Name: "Sumatra Mandheling", Description: "Earthy dark roast", Price: 16, Category: "coffee",
		InStock: true, Vector: []float32{0.95, 0.1, 0, 0},
	}))
	require.NoError(t, store.UpsertProduct(ctx, &types.Product{
		Name: "Ceramic Mug", Description: "Holds 12oz", Price: 9, Category: "merch",
		InStock: true, Vector: []float32{0, 0, 1, 0},
	}))

	local, err := embedder.NewLocalProvider(e2eDim)
	require.NoError(t, err)
	emb := &fixedEmbedder{LocalProvider: local, vectors: map[string][]float32{
		"show me a dark roast": {0.99, 0.05, 0, 0},
	}}
	tiered := embedder.NewTieredCache(emb, store, embedder.TieredCacheConfig{Dimension: e2eDim})
	rec := metrics.NewRecorder(store, metrics.RecorderConfig{})

	p, err := New(Deps{
		Embeddings: tiered,
		Classifier: intent.NewClassifier(store, nil),
		Retriever:  retrieval.NewRetriever(store, nil),
		Generator:  generation.NewStaticGenerator(),
		Cache:      respcache.New(store),
		Metrics:    rec,
	}, Config{
		Retrieval:   retrieval.Request{SimilarityThreshold: 0.7, VectorLimit: 5, TextLimit: 5},
		ResponseTTL: time.Minute,
	})
	require.NoError(t, err)

	resp, err := p.Handle(ctx, "show me a dark roast", SessionContext{}, Options{UseCache: true})
	require.NoError(t, err)
	assert.Equal(t, intent.ProductSearch, resp.Intent)
	assert.False(t, resp.FallbackUsed)
	require.NotEmpty(t, resp.Candidates)
	assert.Equal(t, "Sumatra Mandheling", resp.Candidates[0].Product.Name)
	assert.Contains(t, resp.Content, "Sumatra Mandheling")

	ex, err := store.GetExemplar(ctx, string(intent.ProductSearch), "show me dark roast coffee")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ex.UsageCount)

	again, err := p.Handle(ctx, "show me a dark roast", SessionContext{}, Options{UseCache: true})
	require.NoError(t, err)
	assert.True(t, again.FromCache)
	assert.Equal(t, resp.Content, again.Content)

	require.NoError(t, tiered.Close())
	require.NoError(t, rec.Close(ctx))

	stats, err := rec.Aggregate(ctx, time.Hour, metrics.DefaultThresholds())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
	assert.InDelta(t, 0.5, stats.EmbeddingCacheHitRate, 1e-9)
	assert.InDelta(t, 0.5, stats.ResponseCacheHitRate, 1e-9)
	assert.Zero(t, stats.ErrorRate)
}

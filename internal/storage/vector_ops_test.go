package storage

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/querypipe/pkg/types"
)

func seedExemplars(t *testing.T, s *SQLiteStorage, exs ...*Exemplar) {
	t.Helper()
	_, err := s.UpsertExemplars(context.Background(), exs)
	require.NoError(t, err)
}

func TestSearchExemplars_ThresholdIsStrict(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedExemplars(t, s,
		&Exemplar{Intent: "PRODUCT_SEARCH", Phrase: "exact", Vector: []float32{1, 0, 0, 0}, ConfidenceThreshold: 0.75},
		&Exemplar{Intent: "STORE_INFO", Phrase: "orthogonal", Vector: []float32{0, 1, 0, 0}, ConfidenceThreshold: 0.7},
	)

	matches, err := s.SearchExemplars(ctx, []float32{1, 0, 0, 0}, 0.5, 5, "")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "exact", matches[0].Phrase)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-6)

	// similarity exactly 1.0 is not > 1.0
	matches, err = s.SearchExemplars(ctx, []float32{1, 0, 0, 0}, 1.0, 5, "")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearchExemplars_TieBreaks(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedExemplars(t, s,
		&Exemplar{Intent: "PRODUCT_SEARCH", Phrase: "beta", Vector: []float32{1, 0, 0, 0}},
		&Exemplar{Intent: "PRODUCT_SEARCH", Phrase: "alpha", Vector: []float32{2, 0, 0, 0}},
		&Exemplar{Intent: "PRICE_INQUIRY", Phrase: "gamma", Vector: []float32{3, 0, 0, 0}},
	)
	require.NoError(t, s.IncrementExemplarUsage(ctx, "PRICE_INQUIRY", "gamma"))

	matches, err := s.SearchExemplars(ctx, []float32{1, 0, 0, 0}, 0.0, 10, "")
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, []string{"gamma", "alpha", "beta"}, []string{matches[0].Phrase, matches[1].Phrase, matches[2].Phrase})

	matches, err = s.SearchExemplars(ctx, []float32{1, 0, 0, 0}, 0.0, 2, "")
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	matches, err = s.SearchExemplars(ctx, []float32{1, 0, 0, 0}, 0.0, 10, "PRODUCT_SEARCH")
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestSearchExemplars_NegativeSimilarityExcluded(t *testing.T) {
	s := setupTestDB(t)
	seedExemplars(t, s,
		&Exemplar{Intent: "PRODUCT_SEARCH", Phrase: "opposite", Vector: []float32{-1, 0, 0, 0}},
	)

	matches, err := s.SearchExemplars(context.Background(), []float32{1, 0, 0, 0}, -2, 10, "")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearchExemplars_EmptyTable(t *testing.T) {
	s := setupTestDB(t)
	matches, err := s.SearchExemplars(context.Background(), []float32{1, 0, 0, 0}, 0.1, 5, "")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearchExemplars_QueryDimensionMismatch(t *testing.T) {
	s := setupTestDB(t)
	_, err := s.SearchExemplars(context.Background(), []float32{1, 0}, 0.1, 5, "")
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
}

func seedCatalog(t *testing.T, s *SQLiteStorage) map[string]int64 {
	t.Helper()
	ctx := context.Background()
	products := []*types.Product{
		{Name: "Dark Roast Espresso", Description: "Bold smoky espresso blend", Category: "coffee", InStock: true, Vector: []float32{1, 0, 0, 0}},
		{Name: "Light Roast Kenya", Description: "Bright citrus notes", Category: "coffee", InStock: true, Vector: []float32{0.8, 0.6, 0, 0}},
		{Name: "Dark Roast Decaf", Description: "Out of stock dark roast", Category: "coffee", InStock: false, Vector: []float32{1, 0, 0, 0}},
		{Name: "Pour Over Kettle", Description: "Gooseneck kettle", Category: "equipment", InStock: true},
	}
	ids := make(map[string]int64)
	for _, p := range products {
		require.NoError(t, s.UpsertProduct(ctx, p))
		ids[p.Name] = p.ID
	}
	return ids
}

func TestSearchProductsByVector(t *testing.T) {
	s := setupTestDB(t)
	ids := seedCatalog(t, s)
	ctx := context.Background()

	hits, err := s.SearchProductsByVector(ctx, []float32{1, 0, 0, 0}, 0.5, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2, "out-of-stock and vectorless products are excluded")
	assert.Equal(t, ids["Dark Roast Espresso"], hits[0].Product.ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, ids["Light Roast Kenya"], hits[1].Product.ID)
	assert.InDelta(t, 0.8, hits[1].Score, 1e-6)

	// threshold is inclusive
	hits, err = s.SearchProductsByVector(ctx, []float32{1, 0, 0, 0}, hits[1].Score, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = s.SearchProductsByVector(ctx, []float32{1, 0, 0, 0}, 1.5, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = s.SearchProductsByVector(ctx, []float32{1, 0, 0, 0}, 0, 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestSearchProductsByText(t *testing.T) {
	s := setupTestDB(t)
	ids := seedCatalog(t, s)
	ctx := context.Background()

	hits, err := s.SearchProductsByText(ctx, "dark roast", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, ids["Dark Roast Espresso"], hits[0].Product.ID)
	for _, h := range hits {
		assert.True(t, h.Product.InStock)
		assert.GreaterOrEqual(t, h.Score, 0.0)
		assert.Less(t, h.Score, 1.0)
	}

	hits, err = s.SearchProductsByText(ctx, "kettle", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, ids["Pour Over Kettle"], hits[0].Product.ID)

	hits, err = s.SearchProductsByText(ctx, "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// FTS syntax in user input is neutralized.
	_, err = s.SearchProductsByText(ctx, `dark" OR NEAR(* AND`, 10)
	assert.NoError(t, err)
}

func TestSearchProductsByText_FollowsUpdates(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	p := &types.Product{Name: "Guatemala Antigua", InStock: true}
	require.NoError(t, s.UpsertProduct(ctx, p))
	p.Name = "Colombia Supremo"
	require.NoError(t, s.UpsertProduct(ctx, p))

	hits, err := s.SearchProductsByText(ctx, "guatemala", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = s.SearchProductsByText(ctx, "supremo", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestBuildFTSQuery(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"dark roast", `"dark" OR "roast"`},
		{"  ", ""},
		{`a "quoted" AND (x*)`, `"a" OR "quoted" OR "and" OR "x"`},
		{"Roast roast", `"roast"`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, buildFTSQuery(tt.in), tt.in)
	}
}

func TestNormalizeBM25Monotonic(t *testing.T) {
	assert.Equal(t, 0.0, normalizeBM25(0))
	assert.Less(t, normalizeBM25(-1), normalizeBM25(-5))
	assert.Less(t, normalizeBM25(-50), 1.0)
}

func TestVectorSerialization(t *testing.T) {
	in := []float32{0, -1.5, float32(math.Pi), 1e-7}
	assert.Equal(t, in, deserializeVector(serializeVector(in)))
	assert.Len(t, serializeVector(in), 16)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1}, []float32{1, 0}))
}

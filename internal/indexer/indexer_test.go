package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/querypipe/internal/embedder"
	"github.com/dshills/querypipe/internal/intent"
	"github.com/dshills/querypipe/internal/storage"
	"github.com/dshills/querypipe/pkg/types"
)

const testDim = 4

// mockEmbedder implements embedder.Embedder for testing
type mockEmbedder struct {
	dimension int
	failOn    string // batches containing this text fail
	block     chan struct{}
	entered   chan struct{}
	batches   int
	mu        sync.Mutex
}

func newMockEmbedder() *mockEmbedder {
	return &mockEmbedder{dimension: testDim}
}

func (m *mockEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	resp, err := m.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (m *mockEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	if m.block != nil {
		m.entered <- struct{}{}
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++

	embeddings := make([]*embedder.Embedding, len(req.Texts))
	for i, text := range req.Texts {
		if m.failOn != "" && strings.Contains(text, m.failOn) {
			return nil, errors.Join(embedder.ErrProviderFailed, errors.New("rate limited"))
		}
		vector := make([]float32, m.dimension)
		vector[len(text)%m.dimension] = 1
		embeddings[i] = &embedder.Embedding{Vector: vector, Dimension: m.dimension, Provider: "mock", Model: "test-v1"}
	}
	return &embedder.BatchEmbeddingResponse{Embeddings: embeddings, Provider: "mock", Model: "test-v1"}, nil
}

func (m *mockEmbedder) Dimension() int   { return m.dimension }
func (m *mockEmbedder) Provider() string { return "mock" }
func (m *mockEmbedder) Model() string    { return "test-v1" }
func (m *mockEmbedder) Close() error     { return nil }

func (m *mockEmbedder) batchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches
}

// setupTestStorage creates an in-memory SQLite database for testing
func setupTestStorage(t testing.TB) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:", testDim)
	require.NoError(t, err, "Failed to create test storage")
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestLoadExemplars_DefaultCorpus(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	emb := newMockEmbedder()
	idx := New(store, emb, nil)

	corpus := intent.DefaultCorpus()
	stats, err := idx.LoadExemplars(ctx, corpus, &Config{BatchSize: 10, Workers: 2})
	require.NoError(t, err)
	assert.Equal(t, len(corpus), stats.ExemplarsLoaded)
	assert.Equal(t, (len(corpus)+9)/10, emb.batchCount())

	ex, err := store.GetExemplar(ctx, string(corpus[0].Intent), corpus[0].Phrase)
	require.NoError(t, err)
	assert.Equal(t, corpus[0].ConfidenceThreshold, ex.ConfidenceThreshold)
	assert.Len(t, ex.Vector, testDim)

	// Reloading is idempotent.
	_, err = idx.LoadExemplars(ctx, corpus, nil)
	require.NoError(t, err)
	es, err := store.ExemplarStats(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, len(corpus), es.TotalExemplars)
	assert.Equal(t, len(intent.All), es.IntentCount)
}

func TestLoadExemplars_Validation(t *testing.T) {
	tests := []struct {
		name string
		seed intent.ExemplarSeed
	}{
		{"unknown intent", intent.ExemplarSeed{Intent: "REFUND_REQUEST", Phrase: "give me my money back"}},
		{"blank phrase", intent.ExemplarSeed{Intent: intent.StoreInfo, Phrase: "  \n "}},
		{"threshold above one", intent.ExemplarSeed{Intent: intent.StoreInfo, Phrase: "hours?", ConfidenceThreshold: 1.5}},
		{"negative threshold", intent.ExemplarSeed{Intent: intent.StoreInfo, Phrase: "hours?", ConfidenceThreshold: -0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := setupTestStorage(t)
			emb := newMockEmbedder()
			idx := New(store, emb, nil)

			seeds := []intent.ExemplarSeed{{Intent: intent.ProductSearch, Phrase: "show me dark roast coffee"}, tt.seed}
			_, err := idx.LoadExemplars(context.Background(), seeds, nil)
			assert.ErrorIs(t, err, types.ErrInvalidInput)
			assert.Zero(t, emb.batchCount(), "nothing embedded before validation passes")

			es, err := store.ExemplarStats(context.Background(), 5)
			require.NoError(t, err)
			assert.Zero(t, es.TotalExemplars)
		})
	}
}

func TestLoadExemplars_NormalizesAndDefaults(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	idx := New(store, newMockEmbedder(), nil)

	stats, err := idx.LoadExemplars(ctx, []intent.ExemplarSeed{
		{Intent: "price_inquiry", Phrase: "  how   much is it "},
		{Intent: intent.PriceInquiry, Phrase: "how much is it", ConfidenceThreshold: 0.9},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ExemplarsLoaded, "duplicates collapse after normalization")

	ex, err := store.GetExemplar(ctx, string(intent.PriceInquiry), "how much is it")
	require.NoError(t, err)
	assert.Equal(t, 0.9, ex.ConfidenceThreshold, "last duplicate wins")

	_, err = idx.LoadExemplars(ctx, []intent.ExemplarSeed{{Intent: intent.BrewingHelp, Phrase: "pour over tips"}}, nil)
	require.NoError(t, err)
	ex, err = store.GetExemplar(ctx, string(intent.BrewingHelp), "pour over tips")
	require.NoError(t, err)
	assert.Equal(t, intent.DefaultThresholds[intent.BrewingHelp], ex.ConfidenceThreshold)
}

func TestLoadExemplars_EmbeddingFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	emb := newMockEmbedder()
	emb.failOn = "espresso"
	idx := New(store, emb, nil)

	_, err := idx.LoadExemplars(ctx, []intent.ExemplarSeed{
		{Intent: intent.ProductSearch, Phrase: "dark roast"},
		{Intent: intent.ProductSearch, Phrase: "espresso beans"},
	}, &Config{BatchSize: 1})
	assert.ErrorIs(t, err, embedder.ErrProviderFailed)

	es, err := store.ExemplarStats(ctx, 5)
	require.NoError(t, err)
	assert.Zero(t, es.TotalExemplars)
}

func seedProducts(t *testing.T, store *storage.SQLiteStorage, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, store.UpsertProduct(context.Background(), &types.Product{Name: n, Price: 10, InStock: true}))
	}
}

func TestEmbedProducts(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	seedProducts(t, store, "Kenya AA", "Colombia Supremo", "Guatemala Antigua", "Espresso Blend", "French Press")
	emb := newMockEmbedder()
	idx := New(store, emb, nil)

	stats, err := idx.EmbedProducts(ctx, &Config{BatchSize: 2, Workers: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, stats.ProductsEmbedded)
	assert.Zero(t, stats.ProductsFailed)
	assert.Equal(t, 3, emb.batchCount())

	remaining, err := store.ListProductsWithoutVector(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	// Nothing left to do.
	stats, err = idx.EmbedProducts(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, stats.ProductsEmbedded)
}

func TestEmbedProducts_PartialFailure(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	seedProducts(t, store, "Kenya AA", "Colombia Supremo", "Espresso Blend")
	emb := newMockEmbedder()
	emb.failOn = "Espresso"
	idx := New(store, emb, nil)

	stats, err := idx.EmbedProducts(ctx, &Config{BatchSize: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ProductsEmbedded)
	assert.Equal(t, 1, stats.ProductsFailed)
	require.Len(t, stats.ErrorMessages, 1)
	assert.Contains(t, stats.ErrorMessages[0], "rate limited")

	remaining, err := store.ListProductsWithoutVector(ctx, 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "Espresso Blend", remaining[0].Name)
}

func TestEmbedProducts_ContextCancellation(t *testing.T) {
	store := setupTestStorage(t)
	seedProducts(t, store, "Kenya AA")
	idx := New(store, newMockEmbedder(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := idx.EmbedProducts(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIndexer_ConcurrentCalls(t *testing.T) {
	store := setupTestStorage(t)
	seedProducts(t, store, "Kenya AA")
	emb := newMockEmbedder()
	emb.block = make(chan struct{})
	emb.entered = make(chan struct{}, 1)
	idx := New(store, emb, nil)

	done := make(chan error, 1)
	go func() {
		_, err := idx.EmbedProducts(context.Background(), nil)
		done <- err
	}()

	// The first run holds the lock while it waits in the embedder.
	<-emb.entered

	_, err := idx.LoadExemplars(context.Background(), intent.DefaultCorpus(), nil)
	assert.ErrorIs(t, err, ErrIndexingInProgress)

	close(emb.block)
	require.NoError(t, <-done)
}

func TestSeedProducts(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	idx := New(store, newMockEmbedder(), nil)

	fixture := `
products:
  - name: Ethiopia Yirgacheffe
    description: Floral light roast with citrus notes
    price: 18.5
    category: coffee
    sku: ETH-YIR-250
    in_stock: true
  - name: Ceramic Mug
    price: 9
    category: merch
    sku: MUG-12
    in_stock: false
    metadata:
      color: white
`
	n, err := idx.SeedProducts(ctx, strings.NewReader(fixture))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Same SKUs update in place.
	n, err = idx.SeedProducts(ctx, strings.NewReader(fixture))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	products, err := store.ListProductsWithoutVector(ctx, 0)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "white", products[1].Metadata["color"])

	stats, err := idx.EmbedProducts(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ProductsEmbedded)
}

func TestSeedProducts_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		fixture string
	}{
		{"negative price", "products:\n  - name: Bad\n    price: -1\n"},
		{"missing name", "products:\n  - price: 3\n"},
		{"unknown field", "products:\n  - name: X\n    colour: red\n"},
		{"malformed", "products: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := setupTestStorage(t)
			idx := New(store, newMockEmbedder(), nil)
			_, err := idx.SeedProducts(context.Background(), strings.NewReader(tt.fixture))
			assert.ErrorIs(t, err, types.ErrInvalidInput)

			products, err := store.ListProductsWithoutVector(context.Background(), 0)
			require.NoError(t, err)
			assert.Empty(t, products)
		})
	}
}

func TestSeedProductsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "products.yaml")
	require.NoError(t, os.WriteFile(path, []byte("products:\n  - name: Kenya AA\n    price: 17\n    in_stock: true\n"), 0o644))

	idx := New(setupTestStorage(t), newMockEmbedder(), nil)
	n, err := idx.SeedProductsFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = idx.SeedProductsFile(context.Background(), filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadExemplarSeeds(t *testing.T) {
	seeds, err := ReadExemplarSeeds(strings.NewReader(`
exemplars:
  - intent: PRODUCT_SEARCH
    phrase: show me dark roast coffee
    confidence_threshold: 0.75
  - intent: store_info
    phrase: when do you open
`))
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	assert.Equal(t, intent.ProductSearch, seeds[0].Intent)
	assert.Equal(t, 0.75, seeds[0].ConfidenceThreshold)
	assert.Zero(t, seeds[1].ConfidenceThreshold)

	_, err = ReadExemplarSeeds(strings.NewReader("exemplars:\n  - intent: X\n    weight: 2\n"))
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

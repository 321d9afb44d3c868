package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/querypipe/internal/generation"
	"github.com/dshills/querypipe/internal/intent"
	"github.com/dshills/querypipe/internal/retrieval"
	"github.com/dshills/querypipe/internal/storage"
	"github.com/dshills/querypipe/pkg/types"
)

type stubEmbeddings struct {
	vec   []float32
	hit   bool
	err   error
	delay time.Duration
	calls int
}

func (s *stubEmbeddings) GetOrCompute(ctx context.Context, _, _ string) ([]float32, bool, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, false, errors.Join(types.ErrEmbeddingUnavailable, ctx.Err())
		}
	}
	return s.vec, s.hit, s.err
}

type stubClassifier struct {
	res  *intent.Result
	err  error
	opts intent.Options
}

func (s *stubClassifier) Classify(_ context.Context, _ []float32, opts intent.Options) (*intent.Result, error) {
	s.opts = opts
	return s.res, s.err
}

type stubRetriever struct {
	resp  *retrieval.Response
	err   error
	calls int
	req   retrieval.Request
}

func (s *stubRetriever) Search(_ context.Context, req retrieval.Request) (*retrieval.Response, error) {
	s.calls++
	s.req = req
	return s.resp, s.err
}

type stubGenerator struct {
	out   string
	err   error
	block bool
	calls int
}

func (s *stubGenerator) Generate(ctx context.Context, _ generation.Prompt) (string, error) {
	s.calls++
	if s.block {
		<-ctx.Done()
		return "", errors.Join(types.ErrGenerationUnavailable, ctx.Err())
	}
	return s.out, s.err
}

func (s *stubGenerator) Model() string { return "stub" }

type memCache struct {
	mu      sync.Mutex
	entries map[string]any
	getErr  error
	puts    int
}

func (m *memCache) GetJSON(_ context.Context, key string, v any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return false, m.getErr
	}
	e, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	*(v.(*cachedAnswer)) = e.(cachedAnswer)
	return true, nil
}

func (m *memCache) PutJSON(_ context.Context, key string, v any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string]any)
	}
	m.entries[key] = v
	m.puts++
	return nil
}

type sink struct {
	mu      sync.Mutex
	records []storage.SearchMetric
}

func (s *sink) Record(m storage.SearchMetric) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, m)
	return true
}

type fixture struct {
	emb   *stubEmbeddings
	cls   *stubClassifier
	ret   *stubRetriever
	gen   *stubGenerator
	cache *memCache
	sink  *sink
	p     *Pipeline
}

func newFixture(t *testing.T, in intent.Intent) *fixture {
	t.Helper()
	f := &fixture{
		emb: &stubEmbeddings{vec: []float32{1, 0, 0, 0}},
		cls: &stubClassifier{res: &intent.Result{Intent: in, Confidence: 0.9, ExemplarPhrase: "show me dark roast coffee"}},
		ret: &stubRetriever{resp: &retrieval.Response{
			Candidates: []types.RankedCandidate{
				{Product: types.Product{ID: 1, Name: "Sumatra", Price: 15}, Source: types.SourceVector, Score: 0.9, Rank: 1},
			},
			VectorResults: 1,
			AvgSimilarity: ptr(0.9),
		}},
		gen:   &stubGenerator{out: "Try the Sumatra."},
		cache: &memCache{},
		sink:  &sink{},
	}
	p, err := New(Deps{
		Embeddings: f.emb,
		Classifier: f.cls,
		Retriever:  f.ret,
		Generator:  f.gen,
		Cache:      f.cache,
		Metrics:    f.sink,
	}, Config{EmbeddingModel: "test-model", Retrieval: retrieval.Request{SimilarityThreshold: 0.7, VectorLimit: 5, TextLimit: 5}})
	require.NoError(t, err)
	f.p = p
	return f
}

func ptr[T any](v T) *T { return &v }

func TestHandle_ProductSearch(t *testing.T) {
	f := newFixture(t, intent.ProductSearch)
	resp, err := f.p.Handle(context.Background(), "show me a dark roast", SessionContext{SessionID: "s1"}, Options{UseCache: true})
	require.NoError(t, err)

	assert.Equal(t, "Try the Sumatra.", resp.Content)
	assert.Equal(t, intent.ProductSearch, resp.Intent)
	assert.Len(t, resp.Candidates, 1)
	assert.False(t, resp.FromCache)
	assert.NotEmpty(t, resp.QueryID)
	assert.Equal(t, []State{
		StateReceived, StateEmbedding, StateIntentClassified, StateProductRetrieval,
		StateResponseCacheCheck, StateGeneration, StateMetricsRecorded, StateDone,
	}, resp.States)
	for _, k := range []string{TimingEmbedding, TimingIntent, TimingRetrieval, TimingCache, TimingGeneration, TimingTotal} {
		assert.Contains(t, resp.Timings, k)
	}
	assert.Equal(t, "show me a dark roast", f.ret.req.QueryText)
	assert.Equal(t, 0.7, f.ret.req.SimilarityThreshold)

	require.Len(t, f.sink.records, 1)
	m := f.sink.records[0]
	assert.Equal(t, resp.QueryID, m.QueryID)
	assert.Equal(t, "s1", m.SessionID)
	assert.Equal(t, "PRODUCT_SEARCH", m.Intent)
	assert.Equal(t, 1, *m.VectorSearchResultCount)
	assert.Equal(t, 0.9, *m.AvgSimilarityScore)
	assert.NotNil(t, m.TotalTimeMS)
	assert.NotNil(t, m.GenerationTimeMS)
	assert.Empty(t, m.ErrorKind)
	assert.Equal(t, 1, f.cache.puts)
}

func TestHandle_SkipsRetrievalForConversation(t *testing.T) {
	f := newFixture(t, intent.BrewingHelp)
	resp, err := f.p.Handle(context.Background(), "how do I use a french press", SessionContext{}, Options{})
	require.NoError(t, err)
	assert.Zero(t, f.ret.calls)
	assert.Empty(t, resp.Candidates)
	assert.Contains(t, resp.States, StateSkip)
	assert.Nil(t, f.sink.records[0].VectorSearchResultCount)
}

func TestHandle_CachedReturn(t *testing.T) {
	f := newFixture(t, intent.ProductSearch)
	ctx := context.Background()

	_, err := f.p.Handle(ctx, "dark roast please", SessionContext{}, Options{UseCache: true})
	require.NoError(t, err)
	require.Equal(t, 1, f.gen.calls)

	f.gen.out = "something else"
	resp, err := f.p.Handle(ctx, "  dark   roast please ", SessionContext{}, Options{UseCache: true})
	require.NoError(t, err)
	assert.True(t, resp.FromCache)
	assert.Equal(t, "Try the Sumatra.", resp.Content)
	assert.Equal(t, 1, f.gen.calls)
	assert.Contains(t, resp.States, StateCachedReturn)
	assert.True(t, f.sink.records[1].ResponseCacheHit)

	// Cache bypassed when the caller opts out.
	resp, err = f.p.Handle(ctx, "dark roast please", SessionContext{}, Options{UseCache: false})
	require.NoError(t, err)
	assert.False(t, resp.FromCache)
	assert.Equal(t, "something else", resp.Content)
}

func TestHandle_InvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"empty", ""},
		{"whitespace", "  \t\n"},
		{"too long", strings.Repeat("a", MaxQueryBytes+1)},
		{"invalid utf8", "caf\xe9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, intent.ProductSearch)
			resp, err := f.p.Handle(context.Background(), tt.query, SessionContext{}, Options{UseCache: true})
			assert.Nil(t, resp)
			assert.ErrorIs(t, err, types.ErrInvalidInput)
			assert.Zero(t, f.emb.calls)
			assert.Empty(t, f.sink.records)
		})
	}

	f := newFixture(t, intent.ProductSearch)
	_, err := f.p.Handle(context.Background(), strings.Repeat("a", MaxQueryBytes), SessionContext{}, Options{})
	assert.NoError(t, err, "exactly MaxQueryBytes is accepted")
}

func TestHandle_EmbeddingTimeoutAborts(t *testing.T) {
	f := newFixture(t, intent.ProductSearch)
	f.emb.delay = time.Second

	resp, err := f.p.Handle(context.Background(), "dark roast", SessionContext{}, Options{UseCache: true, EmbeddingTimeout: 10 * time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, types.KindEmbeddingUnavailable, types.KindOf(err))
	require.NotNil(t, resp)
	assert.Equal(t, generation.ErrorMessage, resp.Content)
	assert.Equal(t, types.KindEmbeddingUnavailable, resp.ErrorKind)
	assert.NotContains(t, resp.Content, "deadline")
	assert.Equal(t, StateFailed, resp.States[len(resp.States)-2])
	assert.Equal(t, StateMetricsRecorded, resp.States[len(resp.States)-1])

	require.Len(t, f.sink.records, 1)
	assert.Equal(t, string(types.KindEmbeddingUnavailable), f.sink.records[0].ErrorKind)
	assert.NotNil(t, f.sink.records[0].TotalTimeMS)
	assert.Zero(t, f.ret.calls)
	assert.Zero(t, f.gen.calls)
}

func TestHandle_StoreFailureAborts(t *testing.T) {
	storeErr := errors.Join(types.ErrStoreUnavailable, errors.New("disk gone"))

	t.Run("classifier", func(t *testing.T) {
		f := newFixture(t, intent.ProductSearch)
		f.cls.err = storeErr
		resp, err := f.p.Handle(context.Background(), "dark roast", SessionContext{}, Options{})
		assert.ErrorIs(t, err, types.ErrStoreUnavailable)
		assert.Equal(t, types.KindStoreUnavailable, resp.ErrorKind)
		assert.Empty(t, f.sink.records[0].Intent)
	})

	t.Run("retrieval", func(t *testing.T) {
		f := newFixture(t, intent.PriceInquiry)
		f.ret.err = storeErr
		resp, err := f.p.Handle(context.Background(), "how much is the sumatra", SessionContext{}, Options{})
		assert.ErrorIs(t, err, types.ErrStoreUnavailable)
		assert.Equal(t, generation.ErrorMessage, resp.Content)
		assert.Empty(t, resp.Candidates)
		assert.Equal(t, "PRICE_INQUIRY", f.sink.records[0].Intent)
		assert.Equal(t, string(types.KindStoreUnavailable), f.sink.records[0].ErrorKind)
	})

	t.Run("response cache", func(t *testing.T) {
		f := newFixture(t, intent.ProductSearch)
		f.cache.getErr = storeErr
		resp, err := f.p.Handle(context.Background(), "dark roast", SessionContext{}, Options{UseCache: true})
		assert.ErrorIs(t, err, types.ErrStoreUnavailable)
		assert.Equal(t, types.KindStoreUnavailable, resp.ErrorKind)
		assert.Zero(t, f.gen.calls)
	})
}

func TestHandle_GenerationFailureDegrades(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		f := newFixture(t, intent.ProductSearch)
		f.gen.err = errors.Join(types.ErrGenerationUnavailable, errors.New("503"))
		resp, err := f.p.Handle(context.Background(), "dark roast", SessionContext{}, Options{UseCache: true})
		require.NoError(t, err)
		assert.Equal(t, generation.FallbackMessage, resp.Content)
		assert.True(t, resp.Degraded)
		assert.Empty(t, resp.ErrorKind)
		assert.Len(t, resp.Candidates, 1)
		assert.Zero(t, f.cache.puts, "fallback answers are not cached")
	})

	t.Run("timeout", func(t *testing.T) {
		f := newFixture(t, intent.ProductSearch)
		f.gen.block = true
		resp, err := f.p.Handle(context.Background(), "dark roast", SessionContext{}, Options{GenerationTimeout: 10 * time.Millisecond})
		require.NoError(t, err)
		assert.Equal(t, generation.FallbackMessage, resp.Content)
		assert.Equal(t, StateDone, resp.States[len(resp.States)-1])
		assert.Empty(t, f.sink.records[0].ErrorKind)
	})
}

func TestHandle_ConcurrentRuns(t *testing.T) {
	f := newFixture(t, intent.BrewingHelp)
	f.p.deps.Embeddings = &lockedEmbeddings{vec: []float32{1, 0, 0, 0}}
	f.p.deps.Generator = generation.NewStaticGenerator()

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.p.Handle(context.Background(), "how do I brew", SessionContext{}, Options{})
			if err == nil {
				ids[i] = resp.QueryID
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, id := range ids {
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "query IDs are unique")
		seen[id] = true
	}
	assert.Len(t, f.sink.records, len(ids))
}

type lockedEmbeddings struct {
	vec []float32
}

func (l *lockedEmbeddings) GetOrCompute(context.Context, string, string) ([]float32, bool, error) {
	return l.vec, true, nil
}

func TestNew_IntentOptions(t *testing.T) {
	tests := []struct {
		name string
		in   *intent.Options
		want intent.Options
	}{
		{"nil takes defaults", nil, intent.DefaultOptions()},
		{"zero threshold and no cap kept", &intent.Options{}, intent.Options{}},
		{"explicit values kept", &intent.Options{MinThreshold: 0.3, Limit: 2}, intent.Options{MinThreshold: 0.3, Limit: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, intent.GeneralConversation)
			p, err := New(Deps{
				Embeddings: f.emb,
				Classifier: f.cls,
				Retriever:  f.ret,
				Generator:  f.gen,
			}, Config{Intent: tt.in})
			require.NoError(t, err)

			_, err = p.Handle(context.Background(), "hello there", SessionContext{}, Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.cls.opts)
		})
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{}, Config{})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/querypipe/internal/generation"
	"github.com/dshills/querypipe/internal/intent"
	"github.com/dshills/querypipe/internal/respcache"
	"github.com/dshills/querypipe/internal/retrieval"
	"github.com/dshills/querypipe/internal/storage"
	"github.com/dshills/querypipe/pkg/types"
)

// MaxQueryBytes bounds the length of an incoming query.
const MaxQueryBytes = 2000

// Default timeouts for external calls.
const (
	DefaultEmbeddingTimeout  = 10 * time.Second
	DefaultGenerationTimeout = 30 * time.Second
)

// Timing keys reported in Response.Timings.
const (
	TimingEmbedding  = "embedding_ms"
	TimingIntent     = "intent_ms"
	TimingRetrieval  = "retrieval_ms"
	TimingCache      = "cache_ms"
	TimingGeneration = "generation_ms"
	TimingTotal      = "total_ms"
)

// State is a step of a pipeline run.
type State string

const (
	StateReceived           State = "RECEIVED"
	StateEmbedding          State = "EMBEDDING"
	StateIntentClassified   State = "INTENT_CLASSIFIED"
	StateProductRetrieval   State = "PRODUCT_RETRIEVAL"
	StateSkip               State = "SKIP"
	StateResponseCacheCheck State = "RESPONSE_CACHE_CHECK"
	StateCachedReturn       State = "CACHED_RETURN"
	StateGeneration         State = "GENERATION"
	StateFailed             State = "FAILED"
	StateMetricsRecorded    State = "METRICS_RECORDED"
	StateDone               State = "DONE"
)

// Embeddings resolves query vectors, typically through embedder.TieredCache.
type Embeddings interface {
	GetOrCompute(ctx context.Context, text, model string) ([]float32, bool, error)
}

// IntentClassifier assigns an intent to a query vector.
type IntentClassifier interface {
	Classify(ctx context.Context, vector []float32, opts intent.Options) (*intent.Result, error)
}

// Retriever runs hybrid product search.
type Retriever interface {
	Search(ctx context.Context, req retrieval.Request) (*retrieval.Response, error)
}

// ResponseCache stores generated answers.
type ResponseCache interface {
	GetJSON(ctx context.Context, key string, v any) (bool, error)
	PutJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

// MetricsSink accepts one record per run without blocking.
type MetricsSink interface {
	Record(m storage.SearchMetric) bool
}

// SessionContext carries caller-owned conversation state.
type SessionContext struct {
	SessionID string
	History   []generation.Turn
}

// Options tunes a single run.
type Options struct {
	UseCache          bool
	EmbeddingTimeout  time.Duration // 0 uses the pipeline default
	GenerationTimeout time.Duration // 0 uses the pipeline default
}

// Config holds per-deployment settings.
type Config struct {
	EmbeddingModel    string
	Intent            *intent.Options   // nil selects intent.DefaultOptions
	Retrieval         retrieval.Request // QueryText and QueryVector are filled per run
	ResponseTTL       time.Duration
	EmbeddingTimeout  time.Duration
	GenerationTimeout time.Duration
}

// Response is the outcome of Handle.
type Response struct {
	QueryID      string                  `json:"query_id"`
	Content      string                  `json:"content"`
	Intent       intent.Intent           `json:"intent,omitempty"`
	Confidence   float64                 `json:"confidence"`
	Candidates   []types.RankedCandidate `json:"candidates"`
	FromCache    bool                    `json:"from_cache"`
	FallbackUsed bool                    `json:"fallback_used"`
	Degraded     bool                    `json:"degraded"` // generation failed and the fallback text was used
	ErrorKind    types.ErrorKind         `json:"error_kind,omitempty"`
	Timings      map[string]float64      `json:"timings"`
	States       []State                 `json:"-"`
}

// cachedAnswer is the response cache payload.
type cachedAnswer struct {
	Content    string                  `json:"content"`
	Candidates []types.RankedCandidate `json:"candidates"`
}

// Deps are the collaborators of a Pipeline. Cache and Metrics may be nil.
type Deps struct {
	Embeddings Embeddings
	Classifier IntentClassifier
	Retriever  Retriever
	Generator  generation.Generator
	Cache      ResponseCache
	Metrics    MetricsSink
	Logger     *zap.Logger
}

// Pipeline handles queries end to end.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	newID  func() string
}

// New creates a Pipeline. Zero config fields take package defaults.
func New(deps Deps, cfg Config) (*Pipeline, error) {
	if deps.Embeddings == nil || deps.Classifier == nil || deps.Retriever == nil || deps.Generator == nil {
		return nil, fmt.Errorf("%w: pipeline requires embeddings, classifier, retriever and generator", types.ErrInvalidInput)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.EmbeddingTimeout <= 0 {
		cfg.EmbeddingTimeout = DefaultEmbeddingTimeout
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = DefaultGenerationTimeout
	}
	if cfg.ResponseTTL <= 0 {
		cfg.ResponseTTL = respcache.DefaultTTL
	}
	opts := intent.DefaultOptions()
	if cfg.Intent != nil {
		opts = *cfg.Intent
	}
	cfg.Intent = &opts
	return &Pipeline{
		deps:   deps,
		cfg:    cfg,
		logger: deps.Logger,
		newID:  func() string { return uuid.NewString() },
	}, nil
}

// ValidateQuery rejects empty, oversized and non-UTF-8 queries.
func ValidateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("%w: query is empty", types.ErrInvalidInput)
	}
	if len(query) > MaxQueryBytes {
		return fmt.Errorf("%w: query exceeds %d bytes", types.ErrInvalidInput, MaxQueryBytes)
	}
	if !utf8.ValidString(query) {
		return fmt.Errorf("%w: query is not valid UTF-8", types.ErrInvalidInput)
	}
	return nil
}

// run tracks the state of one Handle call.
type run struct {
	resp    *Response
	metric  storage.SearchMetric
	started time.Time
}

func (r *run) enter(s State) {
	r.resp.States = append(r.resp.States, s)
}

func (r *run) timing(key string, since time.Time) float64 {
	ms := float64(time.Since(since).Microseconds()) / 1000
	r.resp.Timings[key] = ms
	return ms
}

// Handle runs query through the pipeline. Invalid input is rejected with a
// nil Response and no side effects. Embedding and store failures return a
// Response carrying generation.ErrorMessage and the error kind together with
// the error itself.
func (p *Pipeline) Handle(ctx context.Context, query string, sess SessionContext, opts Options) (*Response, error) {
	if err := ValidateQuery(query); err != nil {
		return nil, err
	}

	r := &run{
		started: time.Now(),
		resp: &Response{
			QueryID: p.newID(),
			Timings: make(map[string]float64),
		},
	}
	r.metric = storage.SearchMetric{
		QueryID:   r.resp.QueryID,
		SessionID: sess.SessionID,
		QueryText: query,
	}
	r.enter(StateReceived)

	err := p.execute(ctx, r, query, sess, opts)
	if err != nil {
		r.enter(StateFailed)
		kind := types.KindOf(err)
		r.resp.ErrorKind = kind
		r.resp.Content = generation.ErrorMessage
		r.resp.Candidates = nil
		r.metric.ErrorKind = string(kind)
		p.logger.Warn("pipeline run failed",
			zap.String("query_id", r.resp.QueryID),
			zap.String("error_kind", string(kind)),
			zap.Error(err))
	}

	total := r.timing(TimingTotal, r.started)
	r.metric.TotalTimeMS = &total
	p.record(r)
	r.enter(StateMetricsRecorded)

	if err != nil {
		return r.resp, err
	}
	r.enter(StateDone)
	return r.resp, nil
}

func (p *Pipeline) execute(ctx context.Context, r *run, query string, sess SessionContext, opts Options) error {
	// Embedding
	r.enter(StateEmbedding)
	start := time.Now()
	embedTimeout := opts.EmbeddingTimeout
	if embedTimeout <= 0 {
		embedTimeout = p.cfg.EmbeddingTimeout
	}
	ectx, cancel := context.WithTimeout(ctx, embedTimeout)
	vector, hit, err := p.deps.Embeddings.GetOrCompute(ectx, query, p.cfg.EmbeddingModel)
	cancel()
	r.timing(TimingEmbedding, start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, types.ErrEmbeddingUnavailable) {
			err = fmt.Errorf("%w: %w", types.ErrEmbeddingUnavailable, err)
		}
		return fmt.Errorf("embedding: %w", err)
	}
	r.metric.EmbeddingCacheHit = hit

	// Intent
	start = time.Now()
	res, err := p.deps.Classifier.Classify(ctx, vector, *p.cfg.Intent)
	r.timing(TimingIntent, start)
	if err != nil {
		return fmt.Errorf("intent classification: %w", err)
	}
	r.enter(StateIntentClassified)
	r.resp.Intent = res.Intent
	r.resp.Confidence = res.Confidence
	r.resp.FallbackUsed = res.FallbackUsed
	r.metric.Intent = res.Intent.String()
	confidence := res.Confidence
	r.metric.ConfidenceScore = &confidence
	r.metric.ExemplarUsed = res.ExemplarPhrase

	// Retrieval
	if res.Intent.NeedsRetrieval() {
		r.enter(StateProductRetrieval)
		req := p.cfg.Retrieval
		req.QueryText = query
		req.QueryVector = vector
		start = time.Now()
		sr, err := p.deps.Retriever.Search(ctx, req)
		ms := r.timing(TimingRetrieval, start)
		if err != nil {
			return fmt.Errorf("retrieval: %w", err)
		}
		r.resp.Candidates = sr.Candidates
		count := sr.VectorResults
		r.metric.VectorSearchResultCount = &count
		r.metric.VectorSearchTimeMS = &ms
		r.metric.AvgSimilarityScore = sr.AvgSimilarity
	} else {
		r.enter(StateSkip)
		r.resp.Timings[TimingRetrieval] = 0
	}

	// Response cache
	r.enter(StateResponseCacheCheck)
	useCache := opts.UseCache && p.deps.Cache != nil
	key := respcache.Key(query, res.Intent.String())
	if useCache {
		start = time.Now()
		var cached cachedAnswer
		found, err := p.deps.Cache.GetJSON(ctx, key, &cached)
		r.timing(TimingCache, start)
		if err != nil {
			return fmt.Errorf("response cache: %w", err)
		}
		if found {
			r.enter(StateCachedReturn)
			r.resp.Content = cached.Content
			r.resp.Candidates = cached.Candidates
			r.resp.FromCache = true
			r.metric.ResponseCacheHit = true
			r.resp.Timings[TimingGeneration] = 0
			return nil
		}
	} else {
		r.resp.Timings[TimingCache] = 0
	}

	// Generation
	r.enter(StateGeneration)
	genTimeout := opts.GenerationTimeout
	if genTimeout <= 0 {
		genTimeout = p.cfg.GenerationTimeout
	}
	prompt := generation.BuildPrompt(query, res.Intent.String(), r.resp.Candidates, sess.History)
	start = time.Now()
	gctx, cancel := context.WithTimeout(ctx, genTimeout)
	content, err := p.deps.Generator.Generate(gctx, prompt)
	cancel()
	ms := r.timing(TimingGeneration, start)
	r.metric.GenerationTimeMS = &ms
	if err != nil {
		p.logger.Warn("generation failed, using fallback answer",
			zap.String("query_id", r.resp.QueryID),
			zap.String("model", p.deps.Generator.Model()),
			zap.Error(err))
		r.resp.Content = generation.FallbackMessage
		r.resp.Degraded = true
		return nil
	}
	r.resp.Content = content

	if useCache {
		payload := cachedAnswer{Content: content, Candidates: r.resp.Candidates}
		if err := p.deps.Cache.PutJSON(ctx, key, payload, p.cfg.ResponseTTL); err != nil {
			p.logger.Warn("failed to cache response",
				zap.String("query_id", r.resp.QueryID),
				zap.Error(err))
		}
	}
	return nil
}

func (p *Pipeline) record(r *run) {
	if p.deps.Metrics == nil {
		return
	}
	if !p.deps.Metrics.Record(r.metric) {
		p.logger.Debug("metrics record dropped", zap.String("query_id", r.resp.QueryID))
	}
}

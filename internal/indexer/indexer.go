package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/dshills/querypipe/internal/embedder"
	"github.com/dshills/querypipe/internal/intent"
	"github.com/dshills/querypipe/internal/storage"
	"github.com/dshills/querypipe/pkg/types"
)

// ErrIndexingInProgress is returned when another maintenance run holds the lock.
var ErrIndexingInProgress = errors.New("indexing already in progress")

// DefaultBatchSize is the number of texts embedded per provider call.
const DefaultBatchSize = embedder.DefaultBatchSize

// Store is the persistence surface the indexer writes to.
type Store interface {
	UpsertExemplars(ctx context.Context, exs []*storage.Exemplar) (int, error)
	UpsertProduct(ctx context.Context, p *types.Product) error
	ListProductsWithoutVector(ctx context.Context, limit int) ([]*types.Product, error)
	UpdateProductVector(ctx context.Context, id int64, vector []float32) error
}

// Indexer embeds and stores exemplars and products.
type Indexer struct {
	store    Store
	embedder embedder.Embedder
	logger   *zap.Logger
	lock     IndexLock
}

// Config contains configuration for a maintenance run.
type Config struct {
	Workers   int // concurrent embedding batches (default: runtime.NumCPU())
	BatchSize int // texts per provider call (default: DefaultBatchSize)
}

// Statistics summarises a maintenance run.
type Statistics struct {
	ExemplarsLoaded  int           `json:"exemplars_loaded,omitempty"`
	ProductsEmbedded int           `json:"products_embedded,omitempty"`
	ProductsFailed   int           `json:"products_failed,omitempty"`
	Duration         time.Duration `json:"duration"`
	ErrorMessages    []string      `json:"errors,omitempty"`
}

// New creates a new Indexer instance.
func New(store Store, emb embedder.Embedder, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{store: store, embedder: emb, logger: logger}
}

func (c *Config) withDefaults() Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.Workers <= 0 {
		out.Workers = runtime.NumCPU()
	}
	if out.BatchSize <= 0 {
		out.BatchSize = DefaultBatchSize
	}
	if out.BatchSize > embedder.MaxBatchSize {
		out.BatchSize = embedder.MaxBatchSize
	}
	return out
}

// LoadExemplars validates, embeds and upserts seeds. Nothing is written when
// any seed is invalid or any embedding fails.
func (idx *Indexer) LoadExemplars(ctx context.Context, seeds []intent.ExemplarSeed, config *Config) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexingInProgress
	}
	defer idx.lock.Release()

	cfg := config.withDefaults()
	startTime := time.Now()

	exemplars, err := prepareExemplars(seeds)
	if err != nil {
		return nil, err
	}
	if len(exemplars) == 0 {
		return &Statistics{Duration: time.Since(startTime)}, nil
	}

	texts := make([]string, len(exemplars))
	for i, ex := range exemplars {
		texts[i] = ex.Phrase
	}
	vectors, err := idx.embedAll(ctx, texts, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to embed exemplars: %w", err)
	}
	for i, ex := range exemplars {
		ex.Vector = vectors[i]
	}

	n, err := idx.store.UpsertExemplars(ctx, exemplars)
	if err != nil {
		return nil, fmt.Errorf("failed to store exemplars: %w", err)
	}

	stats := &Statistics{ExemplarsLoaded: n, Duration: time.Since(startTime)}
	idx.logger.Info("exemplars loaded",
		zap.Int("count", n),
		zap.String("model", idx.embedder.Model()),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

// prepareExemplars validates seeds and drops duplicate (intent, phrase) pairs,
// keeping the last occurrence.
func prepareExemplars(seeds []intent.ExemplarSeed) ([]*storage.Exemplar, error) {
	byKey := make(map[string]int)
	var out []*storage.Exemplar
	for i, seed := range seeds {
		in, err := intent.Parse(string(seed.Intent))
		if err != nil {
			return nil, fmt.Errorf("seed %d: %w", i, err)
		}
		phrase := embedder.NormalizeText(seed.Phrase)
		if phrase == "" {
			return nil, fmt.Errorf("seed %d: %w", i, embedder.ErrEmptyText)
		}
		threshold := seed.ConfidenceThreshold
		if threshold == 0 {
			threshold = intent.DefaultThresholds[in]
		}
		if threshold < 0 || threshold > 1 {
			return nil, fmt.Errorf("seed %d: %w: confidence threshold %v outside [0,1]", i, types.ErrInvalidInput, threshold)
		}

		ex := &storage.Exemplar{Intent: in.String(), Phrase: phrase, ConfidenceThreshold: threshold}
		key := ex.Intent + "\x00" + phrase
		if j, ok := byKey[key]; ok {
			out[j] = ex
			continue
		}
		byKey[key] = len(out)
		out = append(out, ex)
	}
	return out, nil
}

// embedAll embeds texts in batches on a worker pool, preserving order.
func (idx *Indexer) embedAll(ctx context.Context, texts []string, cfg Config) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)

	for start := 0; start < len(texts); start += cfg.BatchSize {
		end := min(start+cfg.BatchSize, len(texts))
		g.Go(func() error {
			resp, err := idx.embedder.GenerateBatch(gctx, embedder.BatchEmbeddingRequest{Texts: texts[start:end]})
			if err != nil {
				return err
			}
			if len(resp.Embeddings) != end-start {
				return fmt.Errorf("%w: got %d embeddings for %d texts", embedder.ErrProviderFailed, len(resp.Embeddings), end-start)
			}
			for i, emb := range resp.Embeddings {
				vectors[start+i] = emb.Vector
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// EmbedProducts computes vectors for every product that has none. A failing
// batch is counted and reported without stopping the others; only context
// cancellation and listing errors fail the run.
func (idx *Indexer) EmbedProducts(ctx context.Context, config *Config) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexingInProgress
	}
	defer idx.lock.Release()

	cfg := config.withDefaults()
	startTime := time.Now()
	stats := &Statistics{}

	products, err := idx.store.ListProductsWithoutVector(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	var (
		embedded atomic.Int32
		failed   atomic.Int32
		mu       sync.Mutex // protects stats.ErrorMessages
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)

	for start := 0; start < len(products); start += cfg.BatchSize {
		batch := products[start:min(start+cfg.BatchSize, len(products))]
		g.Go(func() error {
			n, err := idx.embedProductBatch(gctx, batch)
			embedded.Add(int32(n))
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(int32(len(batch) - n))
				mu.Lock()
				stats.ErrorMessages = append(stats.ErrorMessages,
					fmt.Sprintf("products %d..%d: %v", batch[0].ID, batch[len(batch)-1].ID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats.ProductsEmbedded = int(embedded.Load())
	stats.ProductsFailed = int(failed.Load())
	stats.Duration = time.Since(startTime)
	idx.logger.Info("product embedding backfill complete",
		zap.Int("embedded", stats.ProductsEmbedded),
		zap.Int("failed", stats.ProductsFailed),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

// embedProductBatch embeds one batch and returns how many vectors were stored.
func (idx *Indexer) embedProductBatch(ctx context.Context, batch []*types.Product) (int, error) {
	texts := make([]string, len(batch))
	for i, p := range batch {
		texts[i] = p.EmbeddingText()
	}
	resp, err := idx.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
	if err != nil {
		return 0, err
	}
	if len(resp.Embeddings) != len(batch) {
		return 0, fmt.Errorf("%w: got %d embeddings for %d products", embedder.ErrProviderFailed, len(resp.Embeddings), len(batch))
	}
	for i, p := range batch {
		if err := idx.store.UpdateProductVector(ctx, p.ID, resp.Embeddings[i].Vector); err != nil {
			return i, fmt.Errorf("product %d: %w", p.ID, err)
		}
	}
	return len(batch), nil
}

// exemplarFixture is the YAML layout of an exemplar seed file.
type exemplarFixture struct {
	Exemplars []intent.ExemplarSeed `yaml:"exemplars"`
}

// ReadExemplarSeeds parses a YAML exemplar file. Seeds are validated by
// LoadExemplars, not here.
func ReadExemplarSeeds(r io.Reader) ([]intent.ExemplarSeed, error) {
	var fx exemplarFixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: failed to parse exemplar file: %w", types.ErrInvalidInput, err)
	}
	return fx.Exemplars, nil
}

// productFixture is the YAML layout of a product seed file.
type productFixture struct {
	Products []types.Product `yaml:"products"`
}

// SeedProducts upserts every product in a YAML fixture and returns how many
// were written. All products are validated before any is written.
func (idx *Indexer) SeedProducts(ctx context.Context, r io.Reader) (int, error) {
	var fx productFixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("%w: failed to parse product fixture: %w", types.ErrInvalidInput, err)
	}
	for i := range fx.Products {
		if err := fx.Products[i].Validate(); err != nil {
			return 0, fmt.Errorf("product %d (%q): %w", i, fx.Products[i].Name, err)
		}
	}

	for i := range fx.Products {
		p := &fx.Products[i]
		if err := idx.store.UpsertProduct(ctx, p); err != nil {
			return i, fmt.Errorf("failed to store product %q: %w", p.Name, err)
		}
	}
	idx.logger.Info("products seeded", zap.Int("count", len(fx.Products)))
	return len(fx.Products), nil
}

// SeedProductsFile is SeedProducts reading from path.
func (idx *Indexer) SeedProductsFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	return idx.SeedProducts(ctx, f)
}

package embedder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/querypipe/internal/storage"
	"github.com/dshills/querypipe/pkg/types"
)

// DefaultTouchQueue bounds pending hit-metadata updates.
const DefaultTouchQueue = 1024

// DefaultComputeTimeout bounds one shared lookup-and-generate flight.
const DefaultComputeTimeout = 30 * time.Second

const touchTimeout = 5 * time.Second

// CacheStore is the persistent tier of a TieredCache.
type CacheStore interface {
	GetCachedEmbedding(ctx context.Context, hash [32]byte, model string) (*storage.EmbeddingCacheEntry, error)
	UpsertCachedEmbedding(ctx context.Context, entry *storage.EmbeddingCacheEntry) error
	TouchCachedEmbedding(ctx context.Context, hash [32]byte, model string, at time.Time) error
	DeleteStaleEmbeddings(ctx context.Context, accessedBefore time.Time) (int64, error)
	DeleteAllEmbeddings(ctx context.Context) (int64, error)
}

// TieredCacheConfig configures a TieredCache.
type TieredCacheConfig struct {
	MemorySize int // LRU capacity, default DefaultMemoryCacheSize
	Dimension  int // expected vector length, default the embedder's
	TouchQueue int // pending hit updates before drops, default DefaultTouchQueue
	// ComputeTimeout bounds a shared miss, independent of any one caller's
	// deadline. Default DefaultComputeTimeout.
	ComputeTimeout time.Duration
	Logger     *zap.Logger
}

// TieredCacheStats reports in-process counters since construction.
type TieredCacheStats struct {
	MemoryEntries  int   `json:"memory_entries"`
	MemoryHits     int64 `json:"memory_hits"`
	StoreHits      int64 `json:"store_hits"`
	Misses         int64 `json:"misses"`
	DroppedTouches int64 `json:"dropped_touches"`
}

type touchRequest struct {
	hash  [32]byte
	model string
	at    time.Time
}

// TieredCache fronts an Embedder with a bounded memory LRU and a persistent
// store. Hit metadata in the store is updated by a background worker.
type TieredCache struct {
	embedder  Embedder
	store     CacheStore
	memory    *Cache
	dimension int
	logger    *zap.Logger
	group     singleflight.Group
	timeout   time.Duration

	touches chan touchRequest
	done    chan struct{}
	closed  sync.Once
	wg      sync.WaitGroup

	memoryHits atomic.Int64
	storeHits  atomic.Int64
	misses     atomic.Int64
	dropped    atomic.Int64

	now func() time.Time
}

// NewTieredCache creates a TieredCache and starts its touch worker. Close
// stops the worker.
func NewTieredCache(emb Embedder, store CacheStore, cfg TieredCacheConfig) *TieredCache {
	if cfg.Dimension <= 0 {
		cfg.Dimension = emb.Dimension()
	}
	if cfg.TouchQueue <= 0 {
		cfg.TouchQueue = DefaultTouchQueue
	}
	if cfg.ComputeTimeout <= 0 {
		cfg.ComputeTimeout = DefaultComputeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	t := &TieredCache{
		embedder:  emb,
		store:     store,
		memory:    NewCache(cfg.MemorySize),
		dimension: cfg.Dimension,
		logger:    cfg.Logger,
		timeout:   cfg.ComputeTimeout,
		touches:   make(chan touchRequest, cfg.TouchQueue),
		done:      make(chan struct{}),
		now:       func() time.Time { return time.Now().UTC() },
	}
	t.wg.Add(1)
	go t.touchLoop()
	return t
}

// GetOrCompute returns the embedding of text under model and whether it came
// from either cache tier. Text is normalized before hashing, so inputs that
// differ only in whitespace share an entry.
func (t *TieredCache) GetOrCompute(ctx context.Context, text, model string) ([]float32, bool, error) {
	normalized := NormalizeText(text)
	if normalized == "" {
		return nil, false, ErrEmptyText
	}
	if model == "" {
		model = t.embedder.Model()
	}
	hash := storage.HashContent(normalized)
	key := cacheKey(hash, model)

	if emb, ok := t.memory.Get(key); ok {
		t.memoryHits.Add(1)
		t.enqueueTouch(hash, model)
		return emb.Vector, true, nil
	}

	// The flight is shared by every caller waiting on key and runs detached
	// from the starting caller's cancellation. Callers still give up on their
	// own deadlines below.
	ch := t.group.DoChan(key, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
		defer cancel()
		return t.lookupOrGenerate(fctx, normalized, hash, model, key)
	})

	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%w: %w", types.ErrEmbeddingUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		out := res.Val.(lookupResult)
		vec := make([]float32, len(out.vector))
		copy(vec, out.vector)
		return vec, out.hit, nil
	}
}

type lookupResult struct {
	vector []float32
	hit    bool
}

func (t *TieredCache) lookupOrGenerate(ctx context.Context, normalized string, hash [32]byte, model, key string) (lookupResult, error) {
	entry, err := t.store.GetCachedEmbedding(ctx, hash, model)
	switch {
	case err == nil && len(entry.Vector) == t.dimension:
		t.storeHits.Add(1)
		t.memory.Set(key, t.wrap(entry.Vector, model, hash))
		t.enqueueTouch(hash, model)
		return lookupResult{vector: entry.Vector, hit: true}, nil
	case err == nil:
		t.logger.Warn("cached embedding has wrong dimension, recomputing",
			zap.String("model", model),
			zap.Int("got", len(entry.Vector)),
			zap.Int("want", t.dimension))
	case errors.Is(err, storage.ErrNotFound):
	default:
		return lookupResult{}, fmt.Errorf("embedding cache lookup: %w", err)
	}

	t.misses.Add(1)
	emb, err := t.embedder.GenerateEmbedding(ctx, EmbeddingRequest{Text: normalized, Model: model})
	if err != nil {
		if errors.Is(err, types.ErrInvalidInput) {
			return lookupResult{}, err
		}
		return lookupResult{}, fmt.Errorf("%w: %w", types.ErrEmbeddingUnavailable, err)
	}
	if len(emb.Vector) != t.dimension {
		return lookupResult{}, fmt.Errorf("%w: %w: provider returned %d, want %d",
			types.ErrEmbeddingUnavailable, types.ErrDimensionMismatch, len(emb.Vector), t.dimension)
	}

	now := t.now()
	err = t.store.UpsertCachedEmbedding(ctx, &storage.EmbeddingCacheEntry{
		ContentHash:  hash,
		ModelName:    model,
		Vector:       emb.Vector,
		LastAccessed: now,
		CreatedAt:    now,
	})
	if err != nil {
		t.logger.Warn("failed to persist embedding", zap.String("model", model), zap.Error(err))
	}
	t.memory.Set(key, t.wrap(emb.Vector, model, hash))
	return lookupResult{vector: emb.Vector, hit: false}, nil
}

func (t *TieredCache) wrap(vector []float32, model string, hash [32]byte) *Embedding {
	return &Embedding{
		Vector:    vector,
		Dimension: len(vector),
		Provider:  t.embedder.Provider(),
		Model:     model,
		Hash:      fmt.Sprintf("%x", hash),
	}
}

func (t *TieredCache) enqueueTouch(hash [32]byte, model string) {
	select {
	case <-t.done:
		return
	default:
	}
	select {
	case t.touches <- touchRequest{hash: hash, model: model, at: t.now()}:
	default:
		t.dropped.Add(1)
	}
}

func (t *TieredCache) touchLoop() {
	defer t.wg.Done()
	for {
		select {
		case req := <-t.touches:
			t.touch(req)
		case <-t.done:
			for {
				select {
				case req := <-t.touches:
					t.touch(req)
				default:
					return
				}
			}
		}
	}
}

func (t *TieredCache) touch(req touchRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
	defer cancel()
	if err := t.store.TouchCachedEmbedding(ctx, req.hash, req.model, req.at); err != nil {
		t.logger.Debug("failed to update embedding hit count", zap.Error(err))
	}
}

// Stats returns in-process counters.
func (t *TieredCache) Stats() TieredCacheStats {
	return TieredCacheStats{
		MemoryEntries:  t.memory.Size(),
		MemoryHits:     t.memoryHits.Load(),
		StoreHits:      t.storeHits.Load(),
		Misses:         t.misses.Load(),
		DroppedTouches: t.dropped.Load(),
	}
}

// Purge empties both tiers.
func (t *TieredCache) Purge(ctx context.Context) (int64, error) {
	t.memory.Clear()
	return t.store.DeleteAllEmbeddings(ctx)
}

// Sweep deletes persistent entries not accessed within olderThan. The memory
// tier is cleared so it cannot resurrect swept entries.
func (t *TieredCache) Sweep(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := t.store.DeleteStaleEmbeddings(ctx, t.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		t.memory.Clear()
	}
	return n, nil
}

// Close flushes pending hit updates and stops the worker. The embedder is
// not closed.
func (t *TieredCache) Close() error {
	t.closed.Do(func() { close(t.done) })
	t.wg.Wait()
	return nil
}

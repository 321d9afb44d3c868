// Package respcache caches generated responses with a per-entry TTL.
//
// Reads never return an entry whose expiry has passed, but they do not delete
// it either; expired rows are removed in bulk by Sweep, typically from a
// Sweeper running in the background.
package respcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/querypipe/internal/embedder"
	"github.com/dshills/querypipe/internal/storage"
	"github.com/dshills/querypipe/pkg/types"
)

// DefaultTTL is used when Put is given a negative TTL.
const DefaultTTL = 5 * time.Minute

// Store is the persistence surface of the cache.
type Store interface {
	GetResponse(ctx context.Context, key string, now time.Time) (*storage.ResponseCacheEntry, error)
	PutResponse(ctx context.Context, entry *storage.ResponseCacheEntry) error
	DeleteResponse(ctx context.Context, key string) (bool, error)
	DeleteExpiredResponses(ctx context.Context, now time.Time) (int64, error)
	DeleteAllResponses(ctx context.Context) (int64, error)
	CacheStats(ctx context.Context, now time.Time) (*storage.CacheStats, error)
}

// Cache is a TTL key/value cache for JSON payloads.
type Cache struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a Cache over store.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key derives the cache key for a query classified as intent.
func Key(query, intent string) string {
	return "resp:" + embedder.ComputeHash(embedder.NormalizeText(query)+"|"+intent)
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: cache key is required", types.ErrInvalidInput)
	}
	if len(key) > storage.MaxCacheKeyLength {
		return fmt.Errorf("%w: cache key exceeds %d bytes", types.ErrInvalidInput, storage.MaxCacheKeyLength)
	}
	return nil
}

// Get returns the payload stored under key. Missing and expired entries are
// both reported as ok == false.
func (c *Cache) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	entry, err := c.store.GetResponse(ctx, key, c.now())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("response cache get: %w", err)
	}
	return entry.Payload, true, nil
}

// GetJSON decodes the payload stored under key into v.
func (c *Cache) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	payload, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		c.logger.Warn("discarding undecodable cached response", zap.String("key", key), zap.Error(err))
		return false, nil
	}
	return true, nil
}

// Put stores payload under key with a fresh expiry of now + ttl. A zero ttl
// stores an entry that is already expired.
func (c *Cache) Put(ctx context.Context, key string, payload json.RawMessage, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if !json.Valid(payload) {
		return fmt.Errorf("%w: payload is not valid JSON", types.ErrInvalidInput)
	}
	if ttl < 0 {
		ttl = DefaultTTL
	}
	now := c.now()
	err := c.store.PutResponse(ctx, &storage.ResponseCacheEntry{
		Key:       key,
		Payload:   payload,
		TTL:       ttl,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("response cache put: %w", err)
	}
	return nil
}

// PutJSON encodes v and stores it under key.
func (c *Cache) PutJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", types.ErrInvalidInput, err)
	}
	return c.Put(ctx, key, payload, ttl)
}

// Invalidate removes key and reports whether it existed.
func (c *Cache) Invalidate(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	return c.store.DeleteResponse(ctx, key)
}

// InvalidateAll removes every entry.
func (c *Cache) InvalidateAll(ctx context.Context) (int64, error) {
	return c.store.DeleteAllResponses(ctx)
}

// Sweep deletes every entry with expires_at <= now. It is safe to run
// concurrently with reads and writes.
func (c *Cache) Sweep(ctx context.Context) (int64, error) {
	n, err := c.store.DeleteExpiredResponses(ctx, c.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.logger.Debug("swept expired responses", zap.Int64("deleted", n))
	}
	return n, nil
}

// Stats reports persistent cache counts.
func (c *Cache) Stats(ctx context.Context) (*storage.CacheStats, error) {
	return c.store.CacheStats(ctx, c.now())
}

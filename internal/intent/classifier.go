package intent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/querypipe/internal/storage"
	"github.com/dshills/querypipe/pkg/types"
)

// Defaults for Classify.
const (
	DefaultMinThreshold = 0.6
	DefaultLimit        = 5
)

// Store is the exemplar surface the classifier needs.
type Store interface {
	SearchExemplars(ctx context.Context, vector []float32, minThreshold float64, limit int, intent string) ([]types.IntentMatch, error)
	IncrementExemplarUsage(ctx context.Context, intent, phrase string) error
	ExemplarStats(ctx context.Context, topN int) (*storage.ExemplarStats, error)
	DeleteUnusedExemplars(ctx context.Context, createdBefore time.Time) (int64, error)
}

// Options tunes a classification.
type Options struct {
	MinThreshold float64 // matches must be strictly above this
	Limit        int     // <= 0 means no cap
	TargetIntent Intent  // empty searches every intent
}

// DefaultOptions returns the thresholds used by the pipeline.
func DefaultOptions() Options {
	return Options{MinThreshold: DefaultMinThreshold, Limit: DefaultLimit}
}

// Result is the outcome of Classify.
type Result struct {
	Intent         Intent              `json:"intent"`
	Confidence     float64             `json:"confidence"`
	ExemplarPhrase string              `json:"exemplar_phrase,omitempty"`
	FallbackUsed   bool                `json:"fallback_used"`
	Matches        []types.IntentMatch `json:"-"`
}

// Classifier matches query vectors against stored exemplars.
type Classifier struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewClassifier creates a classifier backed by store.
func NewClassifier(store Store, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Search returns exemplars with similarity strictly above minThreshold,
// ordered by similarity desc, usage count desc, then phrase asc. Negative
// similarities are never returned.
func (c *Classifier) Search(ctx context.Context, vector []float32, minThreshold float64, limit int, target Intent) ([]types.IntentMatch, error) {
	if target != "" {
		if _, err := Parse(string(target)); err != nil {
			return nil, err
		}
	}

	matches, err := c.store.SearchExemplars(ctx, vector, minThreshold, limit, string(target))
	if err != nil {
		return nil, fmt.Errorf("exemplar search: %w", err)
	}

	kept := matches[:0]
	for _, m := range matches {
		if m.Similarity < 0 || m.Similarity <= minThreshold {
			continue
		}
		if m.Similarity > 1 {
			m.Similarity = 1
		}
		kept = append(kept, m)
	}
	storage.SortMatches(kept)
	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept, nil
}

// Classify picks the intent of the best exemplar match. The winner is
// accepted only if its similarity reaches that exemplar's own threshold, in
// which case its usage count is incremented; otherwise the fallback intent is
// reported with the best similarity (or 0) as confidence.
func (c *Classifier) Classify(ctx context.Context, vector []float32, opts Options) (*Result, error) {
	matches, err := c.Search(ctx, vector, opts.MinThreshold, opts.Limit, opts.TargetIntent)
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		c.logger.Debug("no intent match, using fallback", zap.Float64("min_threshold", opts.MinThreshold))
		return &Result{Intent: Fallback, FallbackUsed: true}, nil
	}

	best := matches[0]
	result := &Result{
		Intent:         Fallback,
		Confidence:     best.Similarity,
		ExemplarPhrase: best.Phrase,
		FallbackUsed:   true,
		Matches:        matches,
	}

	in, err := Parse(best.Intent)
	if err != nil {
		c.logger.Warn("exemplar has unknown intent", zap.String("intent", best.Intent), zap.String("phrase", best.Phrase))
		return result, nil
	}
	if !best.Accepted() {
		c.logger.Debug("intent match below threshold, using fallback",
			zap.String("best_intent", best.Intent),
			zap.Float64("similarity", best.Similarity),
			zap.Float64("threshold", best.ConfidenceThreshold))
		return result, nil
	}

	result.Intent = in
	result.FallbackUsed = false
	if err := c.store.IncrementExemplarUsage(ctx, best.Intent, best.Phrase); err != nil {
		if !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, types.ErrStoreUnavailable) {
			return nil, fmt.Errorf("increment exemplar usage: %w", err)
		}
		c.logger.Warn("failed to increment exemplar usage", zap.String("phrase", best.Phrase), zap.Error(err))
	}
	return result, nil
}

// Stats summarises the exemplar corpus.
func (c *Classifier) Stats(ctx context.Context, topN int) (*storage.ExemplarStats, error) {
	return c.store.ExemplarStats(ctx, topN)
}

// CleanUnused deletes exemplars that were never matched and are older than olderThan.
func (c *Classifier) CleanUnused(ctx context.Context, olderThan time.Duration) (int64, error) {
	return c.store.DeleteUnusedExemplars(ctx, c.now().Add(-olderThan))
}

// Package metrics records per-query telemetry without blocking the caller
// and aggregates it into latency and quality statistics.
package metrics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/querypipe/internal/retry"
	"github.com/dshills/querypipe/internal/storage"
	"github.com/dshills/querypipe/pkg/types"
)

// DefaultQueueSize bounds the number of records waiting to be written.
const DefaultQueueSize = 1024

const defaultWriteTimeout = 5 * time.Second

// Store is the persistence surface of the recorder.
type Store interface {
	InsertMetric(ctx context.Context, m *storage.SearchMetric) error
	ListMetrics(ctx context.Context, since time.Time) ([]*storage.SearchMetric, error)
	DeleteMetricsBefore(ctx context.Context, before time.Time) (int64, error)
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	QueueSize    int
	Retry        retry.Config
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

// RecorderStats counts what happened to recorded metrics.
type RecorderStats struct {
	Written int64 `json:"written"`
	Dropped int64 `json:"dropped"` // queue full or recorder closed
	Failed  int64 `json:"failed"`  // write failed after retries
}

// Recorder writes metrics asynchronously. Record never blocks: when the queue
// is full the record is dropped and counted.
type Recorder struct {
	store  Store
	cfg    RecorderConfig
	logger *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan storage.SearchMetric
	done   chan struct{}

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewRecorder creates a Recorder and starts its writer goroutine.
func NewRecorder(store Store, cfg RecorderConfig) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	r := &Recorder{
		store:  store,
		cfg:    cfg,
		logger: cfg.Logger,
		now:    func() time.Time { return time.Now().UTC() },
		queue:  make(chan storage.SearchMetric, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues m and reports whether it was accepted. A missing QueryID or
// CreatedAt is filled in.
func (r *Recorder) Record(m storage.SearchMetric) bool {
	if m.QueryID == "" {
		m.QueryID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.now()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return false
	}
	select {
	case r.queue <- m:
		return true
	default:
		r.dropped.Add(1)
		r.logger.Debug("metrics queue full, dropping record", zap.String("query_id", m.QueryID))
		return false
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for m := range r.queue {
		r.write(m)
	}
}

func (r *Recorder) write(m storage.SearchMetric) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
	defer cancel()

	_, err := retry.Do(ctx, r.cfg.Retry, func() (struct{}, error) {
		err := r.store.InsertMetric(ctx, &m)
		if errors.Is(err, types.ErrInvalidInput) {
			return struct{}{}, retry.Permanent(err)
		}
		return struct{}{}, err
	})
	if err != nil {
		r.failed.Add(1)
		r.logger.Warn("dropping metric after failed write",
			zap.String("query_id", m.QueryID),
			zap.Error(err))
		return
	}
	r.written.Add(1)
}

// Close stops accepting records and waits until queued records are written
// or ctx is done.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns write counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Written: r.written.Load(),
		Dropped: r.dropped.Load(),
		Failed:  r.failed.Load(),
	}
}

// Aggregate summarises metrics created within window before now.
func (r *Recorder) Aggregate(ctx context.Context, window time.Duration, th Thresholds) (*PerformanceStats, error) {
	now := r.now()
	records, err := r.store.ListMetrics(ctx, now.Add(-window))
	if err != nil {
		return nil, err
	}
	stats := Summarize(records, th)
	stats.Window = window.String()
	return stats, nil
}

// Sweep deletes metrics older than olderThan.
func (r *Recorder) Sweep(ctx context.Context, olderThan time.Duration) (int64, error) {
	return r.store.DeleteMetricsBefore(ctx, r.now().Add(-olderThan))
}

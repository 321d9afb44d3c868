package respcache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultSweepInterval is the period between sweeps.
const DefaultSweepInterval = time.Minute

// Task is one periodic cleanup job. Run returns the number of rows removed.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// Sweeper runs cleanup tasks on a fixed interval in a background goroutine.
type Sweeper struct {
	interval time.Duration
	tasks    []Task
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a Sweeper. Start begins the loop.
func NewSweeper(interval time.Duration, logger *zap.Logger, tasks ...Task) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{interval: interval, tasks: tasks, logger: logger}
}

// Start launches the sweep loop. Calling Start on a running Sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce runs every task and returns rows removed per task name. A failing
// task is logged and does not stop the others.
func (s *Sweeper) RunOnce(ctx context.Context) map[string]int64 {
	out := make(map[string]int64, len(s.tasks))
	for _, t := range s.tasks {
		if ctx.Err() != nil {
			break
		}
		n, err := t.Run(ctx)
		if err != nil {
			s.logger.Warn("sweep task failed", zap.String("task", t.Name), zap.Error(err))
			continue
		}
		out[t.Name] = n
		if n > 0 {
			s.logger.Info("sweep task removed rows", zap.String("task", t.Name), zap.Int64("deleted", n))
		}
	}
	return out
}

package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/rolodex/backend/internal/reconcile"
	"go.uber.org/zap"
)

var errMissingRun = errors.New("scheduler: run function is required")

// Config describes a fixed-interval background trigger.
type Config struct {
	Interval time.Duration
	Run      func(ctx context.Context) error
	Logger   *zap.Logger
}

// Scheduler re-invokes the sync pass on a fixed interval, serially. A tick
// that finds a pass still running is skipped, never queued: overlapping
// syncs are rejected by the engine's run guard and simply logged here.
type Scheduler struct {
	interval time.Duration
	run      func(ctx context.Context) error
	logger   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// New validates the configuration and constructs a Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Run == nil {
		return nil, errMissingRun
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("scheduler: interval must be positive")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{interval: cfg.Interval, run: cfg.Run, logger: logger}, nil
}

// Start launches the ticker loop. Stopping happens via Stop or ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopped = make(chan struct{})

	go s.loop(runCtx)
	s.logger.Info("sync scheduler started", zap.Duration("interval", s.interval))
}

// Stop halts the ticker and waits for an in-flight invocation to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopped := s.stopped
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
	s.logger.Info("sync scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.stopped)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.invoke(ctx)
		}
	}
}

func (s *Scheduler) invoke(ctx context.Context) {
	err := s.run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, reconcile.ErrSyncInProgress):
		s.logger.Warn("scheduled sync skipped, previous pass still running")
	default:
		s.logger.Error("scheduled sync failed", zap.Error(err))
	}
}

package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oddsline/platform/internal/domain"
)

// PassRunner runs one ingestion pass.
type PassRunner interface {
	RunPass(ctx context.Context) (*SyncReport, error)
}

// Scheduler fires ingestion passes on a fixed interval, with a manual trigger.
// It is constructed explicitly by the composition root and carries no global
// state. At most one pass is in flight at any time: a tick that lands while a
// pass is still executing is skipped, not queued.
type Scheduler struct {
	runner   PassRunner
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	nextRun time.Time

	inFlight atomic.Bool
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(runner PassRunner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{runner: runner, interval: interval, logger: logger}
}

// Start transitions STOPPED→RUNNING and fires a pass immediately, then on
// every interval. Calling Start while already running is a logged no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Info("scheduler already running, start ignored")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.nextRun = time.Now().Add(s.interval)
	done := s.done
	s.mu.Unlock()

	s.logger.Info("scheduler started", "interval", s.interval)

	go func() {
		defer close(done)

		s.runScheduled(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runScheduled(ctx)
				s.setNextRun(time.Now().Add(s.interval))
			}
		}
	}()
}

// Stop transitions RUNNING→STOPPED. It cancels the timer loop and waits for
// any in-flight pass to finish; passes are never killed mid-write.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("scheduler stopped")
}

// ForceSync runs a pass immediately, independent of the timer, under the
// same mutual-exclusion rule. Returns SYNC_IN_FLIGHT if a pass is running.
func (s *Scheduler) ForceSync(ctx context.Context) (*SyncReport, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, domain.ErrSyncInFlight()
	}
	defer s.inFlight.Store(false)
	return s.runner.RunPass(ctx)
}

// Status reports whether the scheduler is running and, if so, when the next
// timer pass is due.
func (s *Scheduler) Status() (bool, *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false, nil
	}
	next := s.nextRun
	return true, &next
}

// runScheduled runs a timer-triggered pass. The pass itself is detached from
// the loop context so a Stop during a pass drains instead of aborting writes.
func (s *Scheduler) runScheduled(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Warn("previous sync pass still running, tick skipped")
		return
	}
	defer s.inFlight.Store(false)

	if _, err := s.runner.RunPass(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("scheduled sync pass failed", "error", err)
	}
}

func (s *Scheduler) setNextRun(t time.Time) {
	s.mu.Lock()
	s.nextRun = t
	s.mu.Unlock()
}

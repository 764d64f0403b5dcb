package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/checkpoint-service/internal/clock"
	"github.com/spec-kit/checkpoint-service/internal/observability"
	"github.com/spec-kit/checkpoint-service/internal/repository"
)

// SessionPruner drops finished verification sessions nobody observed.
type SessionPruner interface {
	PruneRetired(now time.Time) int
}

// SweepReport summarizes one sweep pass.
type SweepReport struct {
	Credentials int
	Sessions    int
}

// Sweeper periodically removes expired credentials and stale sessions.
type Sweeper struct {
	store    repository.TokenStore
	sessions SessionPruner
	clock    clock.Clock
	interval time.Duration
	metrics  *observability.Metrics
	logger   *zap.Logger

	mu     sync.Mutex
	ticker *clock.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewSweeper constructs a sweeper. sessions may be nil.
func NewSweeper(store repository.TokenStore, sessions SessionPruner, clk clock.Clock, interval time.Duration, metrics *observability.Metrics, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:    store,
		sessions: sessions,
		clock:    clk,
		interval: interval,
		metrics:  metrics,
		logger:   logger.Named("sweeper"),
	}
}

// Start launches the sweep loop. Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil {
		return
	}

	s.ticker = s.clock.NewTicker(s.interval)
	s.stop = make(chan struct{})
	ticks, stop := s.ticker.C, s.stop

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ticks:
				s.RunOnce(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if s.ticker == nil {
		s.mu.Unlock()
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.ticker = nil
	s.mu.Unlock()

	s.wg.Wait()
}

// RunOnce performs a single sweep at the current clock time. Store faults are
// logged and retried on the next tick.
func (s *Sweeper) RunOnce(ctx context.Context) SweepReport {
	now := s.clock.Now()
	var report SweepReport

	removed, err := s.store.Sweep(ctx, now)
	if err != nil {
		s.logger.Warn("credential sweep failed", zap.Error(err))
	} else {
		report.Credentials = removed
		s.metrics.CredentialsSwept(removed)
	}

	if s.sessions != nil {
		report.Sessions = s.sessions.PruneRetired(now)
	}

	if report.Credentials > 0 || report.Sessions > 0 {
		s.logger.Debug("sweep completed",
			zap.Int("credentials", report.Credentials),
			zap.Int("sessions", report.Sessions))
	}
	return report
}

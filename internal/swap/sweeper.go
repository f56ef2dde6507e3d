package swap

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/coinhaven/swapd/internal/metrics"
)

// Sweeper periodically refreshes trades whose status has gone stale.
// It is the safety net behind on-demand refresh: trades nobody is
// polling through the API still converge to their terminal state.
type Sweeper struct {
	logger    *zap.Logger
	engine    *Engine
	interval  time.Duration
	batchSize int
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func NewSweeper(logger *zap.Logger, engine *Engine, interval time.Duration, batchSize int) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Sweeper{
		logger:    logger,
		engine:    engine,
		interval:  interval,
		batchSize: batchSize,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the sweep loop. It returns immediately; the loop runs
// until Stop is called or the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		defer close(s.doneCh)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("sweeper.started",
			zap.Duration("interval", s.interval),
			zap.Int("batch_size", s.batchSize))

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("sweeper.stopped", zap.String("reason", "context_cancelled"))
				return
			case <-s.stopCh:
				s.logger.Info("sweeper.stopped", zap.String("reason", "shutdown"))
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// Stop signals the sweeper to stop and waits for the loop to exit.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Sweeper) sweep(ctx context.Context) {
	start := time.Now()
	refreshed, err := s.engine.RefreshStale(ctx, s.batchSize)
	if err != nil {
		s.logger.Warn("sweeper.sweep_failed", zap.Error(err))
		return
	}

	metrics.LastSweepTimestamp.SetToCurrentTime()

	if refreshed > 0 {
		s.logger.Info("sweeper.sweep_complete",
			zap.Int("refreshed", refreshed),
			zap.Duration("took", time.Since(start)))
	}
}

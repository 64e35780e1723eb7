package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ridelogic/motonotify/internal/metrics"
)

// Sweep periodically re-feeds pending notifications whose next
// attempt time has passed back into the dispatcher. Freshly created
// rows and failed-but-retryable rows share the pending state, so one
// loop drives both first deliveries and retries.
type Sweep struct {
	repo       Repository
	dispatcher *Dispatcher
	interval   time.Duration
	batchSize  int
	logger     *zap.Logger
}

type SweepConfig struct {
	Interval  time.Duration
	BatchSize int
}

func NewSweep(repo Repository, dispatcher *Dispatcher, cfg SweepConfig, logger *zap.Logger) *Sweep {
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 25
	}
	return &Sweep{
		repo:       repo,
		dispatcher: dispatcher,
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		logger:     logger,
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Sweep) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("retry sweep started",
		zap.Duration("interval", s.interval),
		zap.Int("batch_size", s.batchSize),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry sweep stopping")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick processes one batch of eligible pending notifications.
func (s *Sweep) Tick(ctx context.Context) {
	batch, err := s.repo.GetPendingForDelivery(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("failed to load pending notifications", zap.Error(err))
		return
	}
	metrics.RecordSweepBatch(len(batch))
	if len(batch) == 0 {
		return
	}

	for _, n := range batch {
		if err := s.dispatcher.Dispatch(ctx, n); err != nil {
			s.logger.Error("dispatch failed",
				zap.String("id", n.ID.String()),
				zap.Error(err),
			)
		}
	}
}

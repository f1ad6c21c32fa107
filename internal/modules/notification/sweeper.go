package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/campuskit/notify/internal/metrics"
)

// SweeperConfig tunes the scheduled dispatch sweeper.
type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
}

func (c *SweeperConfig) defaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
}

// Sweeper is the periodic job that moves due scheduled records onto the
// dispatch queue. It fires each due record at most once per pass; retries
// only happen through the dispatcher's bounded backoff.
type Sweeper struct {
	repo       Repository
	dispatcher *Dispatcher
	cfg        SweeperConfig
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewSweeper creates the scheduled dispatch sweeper.
func NewSweeper(repo Repository, dispatcher *Dispatcher, cfg SweeperConfig, logger *slog.Logger, m *metrics.Metrics) *Sweeper {
	cfg.defaults()
	return &Sweeper{
		repo:       repo,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
	}
}

// Run loops until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", "interval", s.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass: every due, non-expired pending record is enqueued
// for dispatch. The sweeper never moves a record out of pending; expired
// records are excluded by the due query and by the dispatch eligibility
// check, not mutated.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.metrics.SweepsTotal.Inc()

	due, err := s.repo.DueScheduled(ctx, time.Now(), s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("failed to select due notifications", "error", err)
		return
	}
	for _, id := range due {
		if err := s.dispatcher.Enqueue(ctx, id); err != nil {
			s.logger.Error("failed to enqueue due notification", "notification_id", id, "error", err)
			return
		}
		s.metrics.SweptRecords.WithLabelValues("dispatched").Inc()
	}
	if len(due) > 0 {
		s.logger.Info("swept due notifications", "count", len(due))
	}
}

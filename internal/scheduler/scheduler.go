// Package scheduler runs the periodic rebalance on a cron schedule.
package scheduler

import (
	"context"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Rebalancer is the single operation the scheduler drives.
type Rebalancer interface {
	Rebalance(ctx context.Context) error
}

// Scheduler wraps a cron runner around the allocator's rebalance.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// New creates a stopped scheduler.
func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		logger: logger,
	}
}

// AddRebalance registers the rebalance job. Schedule accepts standard cron
// expressions and descriptors like "@daily" or "@every 12h".
func (s *Scheduler) AddRebalance(schedule string, target Rebalancer) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.logger.Info("scheduled rebalance starting")
		if err := target.Rebalance(context.Background()); err != nil {
			s.logger.Error("scheduled rebalance failed", zap.Error(err))
			return
		}
		s.logger.Info("scheduled rebalance complete")
	})
	if err != nil {
		return errors.Wrapf(err, "register rebalance schedule %q", schedule)
	}
	s.logger.Info("rebalance scheduled", zap.String("schedule", schedule))
	return nil
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

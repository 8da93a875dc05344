/**
 * @description
 * Cron scheduler for background ledger jobs. Today that is the periodic
 * reconciliation of the incremental summary against a full ledger scan.
 */
package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const reconcileJobTimeout = 2 * time.Minute

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron       *cron.Cron
	aggregator *Aggregator
	schedule   string
	logger     *zap.Logger
}

// cronLogger adapts zap to cron's logger.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

// NewScheduler creates a scheduler that reconciles on schedule. An empty schedule
// registers no jobs.
func NewScheduler(aggregator *Aggregator, schedule string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "scheduler"))
	cl := cronLogger{sugar: logger.Sugar()}

	return &Scheduler{
		cron:       cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		aggregator: aggregator,
		schedule:   schedule,
		logger:     logger,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if s.schedule == "" {
		s.logger.Info("reconciliation job disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(s.schedule, s.reconcile); err != nil {
		return err
	}
	s.logger.Info("scheduled reconciliation job", zap.String("schedule", s.schedule))
	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler. The returned context is done once
// running jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileJobTimeout)
	defer cancel()

	report, err := s.aggregator.Reconcile(ctx)
	if err != nil {
		s.logger.Error("scheduled reconciliation failed",
			zap.String("outcome", "drift"),
			zap.Int("transactions", report.Transactions),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("scheduled reconciliation passed", zap.Int("transactions", report.Transactions))
}

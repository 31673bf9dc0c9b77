// Package jobs runs periodic maintenance: retention sweeps and country refreshes.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job represents a scheduled job
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

// Scheduler manages background jobs
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
	logger  *zap.Logger
}

// NewScheduler creates a scheduler. Each run gets its own context bounded
// by timeout; overlapping runs of one job are skipped.
func NewScheduler(timeout time.Duration, logger *zap.Logger) *Scheduler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger = logger.With(zap.String("component", "scheduler"))
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger{logger.Sugar()}),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger.Sugar()})),
		),
		timeout: timeout,
		logger:  logger,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("Scheduler stopped")
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out")
	}
}

// AddJob registers a job with a cron schedule, e.g. "@every 1m" or "*/5 * * * *"
func (s *Scheduler) AddJob(schedule string, job Job) error {
	// RunNow logs failures, the next tick retries
	_, err := s.cron.AddFunc(schedule, func() { _ = s.RunNow(job) })
	if err != nil {
		return err
	}

	s.logger.Info("Job registered",
		zap.String("schedule", schedule),
		zap.String("job", job.Name()),
	)
	return nil
}

// RunNow executes a job immediately, outside its schedule
func (s *Scheduler) RunNow(job Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		s.logger.Error("Job failed", zap.String("job", job.Name()), zap.Error(err))
		return err
	}
	s.logger.Debug("Job completed",
		zap.String("job", job.Name()),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Dosada05/tournament-standings/services"
)

// Sweeper recalculates phase snapshots older than threshold.
type Sweeper interface {
	SweepStale(ctx context.Context, threshold time.Duration) (services.SweepReport, error)
}

// Scheduler периодически пересчитывает устаревшие таблицы фаз.
type Scheduler struct {
	cron      *cron.Cron
	sweeper   Sweeper
	schedule  string
	threshold time.Duration
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func New(sweeper Sweeper, schedule string, threshold time.Duration, logger *slog.Logger) *Scheduler {
	cronLogger := slogCronLogger{logger: logger}
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:      c,
		sweeper:   sweeper,
		schedule:  schedule,
		threshold: threshold,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start registers the sweep job and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.RunNow); err != nil {
		return fmt.Errorf("schedule stale sweep %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info("stale standings sweep scheduled", slog.String("schedule", s.schedule))
	return nil
}

// Stop cancels a running sweep and waits for it to return, at most until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn("stale sweep did not stop in time")
	}
}

// RunNow runs one sweep synchronously.
func (s *Scheduler) RunNow() {
	started := time.Now()
	report, err := s.sweeper.SweepStale(s.ctx, s.threshold)
	if err != nil {
		s.logger.Error("stale standings sweep failed", slog.Any("error", err))
		return
	}
	if len(report.Recalculated) == 0 && len(report.Failed) == 0 {
		return
	}
	s.logger.Info("stale standings sweep finished",
		slog.Int("recalculated", len(report.Recalculated)),
		slog.Int("skipped", len(report.Skipped)),
		slog.Int("failed", len(report.Failed)),
		slog.Duration("took", time.Since(started)))
}

type slogCronLogger struct {
	logger *slog.Logger
}

func (l slogCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l slogCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{slog.Any("error", err)}, keysAndValues...)...)
}

package docshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hazyhaar/docshot/docshot/outcome"
)

type runFunc func(ctx context.Context) (*outcome.Cycle, error)

// Scheduler triggers Runner cycles on a cron expression (UTC).
type Scheduler struct {
	run        runFunc
	schedule   cron.Schedule
	spec       string
	runOnStart bool
	logger     *slog.Logger
	cron       *cron.Cron
}

// NewScheduler creates a Scheduler from the runner's schedule and
// run_on_start settings.
func NewScheduler(r *Runner, logger *slog.Logger) (*Scheduler, error) {
	runOnStart := r.cfg.RunOnStart == nil || *r.cfg.RunOnStart
	return newScheduler(r.Run, r.cfg.Schedule, runOnStart, logger)
}

func newScheduler(run runFunc, spec string, runOnStart bool, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if spec == "" {
		spec = DefaultSchedule
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: schedule %q: %v", ErrInvalidConfig, spec, err)
	}
	cl := cronLogger{logger}
	return &Scheduler{
		run:        run,
		schedule:   sched,
		spec:       spec,
		runOnStart: runOnStart,
		logger:     logger,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
	}, nil
}

// Next returns the next scheduled trigger after now.
func (s *Scheduler) Next(now time.Time) time.Time {
	return s.schedule.Next(now.UTC())
}

// Run starts the cron loop and blocks until ctx is cancelled. A cycle in
// flight at shutdown is cancelled through ctx and awaited.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Schedule(s.schedule, cron.FuncJob(func() { s.tick(ctx) }))
	s.cron.Start()
	s.logger.Info("docshot: scheduler started", "schedule", s.spec, "next", s.Next(time.Now()))

	if s.runOnStart {
		s.tick(ctx)
	}

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("docshot: scheduler stopped")
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	c, err := s.run(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		s.logger.Warn("docshot: trigger skipped, cycle already running")
	case err != nil && !errors.Is(err, context.Canceled):
		s.logger.Error("docshot: scheduled cycle failed", "error", err)
	case c != nil:
		s.logger.Debug("docshot: scheduled cycle done", "cycle_id", c.ID, "next", s.Next(time.Now()))
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, kv ...any) {
	c.l.Debug("cron: "+msg, kv...)
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error("cron: "+msg, append(kv, "error", err)...)
}

package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the purge daily at 02:00.
const DefaultSchedule = "0 2 * * *"

type runner interface {
	Run(ctx context.Context) (int64, error)
}

// Scheduler drives a Job on a cron schedule. A failed run is logged and the
// scheduler simply waits for the next tick; it never retries inside a run.
type Scheduler struct {
	job        runner
	logger     *slog.Logger
	cron       *cron.Cron
	entry      cron.EntryID
	tickJob    cron.Job
	runOnStart bool
	wg         sync.WaitGroup
}

type SchedulerConfig struct {
	Schedule   string // standard 5-field cron expression
	Location   *time.Location
	RunOnStart bool
}

func NewScheduler(job runner, logger *slog.Logger, cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}

	cl := cronLogger{l: logger}
	c := cron.New(cron.WithLocation(cfg.Location), cron.WithLogger(cl))
	s := &Scheduler{job: job, logger: logger, cron: c, runOnStart: cfg.RunOnStart}
	// scheduled and on-start runs share one chain, so both recover panics
	// and never overlap
	s.tickJob = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(s.tick))

	id, err := c.AddJob(cfg.Schedule, s.tickJob)
	if err != nil {
		return nil, fmt.Errorf("parse cleanup schedule %q: %w", cfg.Schedule, err)
	}
	s.entry = id
	return s, nil
}

// Start is non-blocking. Call Stop to shut the scheduler down.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("cleanup scheduler started", "next_run", s.Next())
	if s.runOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.tickJob.Run()
		}()
	}
}

// Stop prevents further runs and blocks until in-flight runs, including the
// on-start run, return or ctx ends.
func (s *Scheduler) Stop(ctx context.Context) {
	cronDone := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("cleanup scheduler stop timed out")
	}
	s.logger.Info("cleanup scheduler stopped")
}

// Next returns the time of the next scheduled run, zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) tick() {
	n, err := s.job.Run(context.Background())
	switch {
	case errors.Is(err, ErrInProgress):
		s.logger.Info("cleanup skipped, previous run still active")
	case err != nil:
		s.logger.Warn("cleanup run failed, waiting for next schedule", "error", err)
	default:
		s.logger.Debug("cleanup tick finished", "deleted", n)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

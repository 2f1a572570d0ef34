package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Job is a named periodic task. The next run is armed Every after the
// previous run returns, so runs of one job never overlap.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// Scheduler drives a fixed set of jobs until its context ends.
type Scheduler struct {
	jobs   []Job
	logger *slog.Logger
	clock  func() time.Time
}

// New creates a Scheduler. A nil clock uses time.Now.
func New(logger *slog.Logger, clock func() time.Time, jobs ...Job) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	for _, j := range jobs {
		if j.Name == "" || j.Run == nil {
			return nil, errors.New("job needs a name and a run func")
		}
		if j.Every <= 0 {
			return nil, fmt.Errorf("job %s: interval must be > 0", j.Name)
		}
	}
	return &Scheduler{jobs: jobs, logger: logger, clock: clock}, nil
}

// Run blocks until ctx is done. Job failures are logged and the job is
// re-armed as usual.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, j := range s.jobs {
		g.Go(func() error {
			s.loop(ctx, j)
			return nil
		})
	}
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	err := g.Wait()
	s.logger.Info("scheduler stopped")
	return err
}

// RunOnce runs every job once, in order, and returns the joined errors.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs []error
	for _, j := range s.jobs {
		if err := j.Run(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", j.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	next := s.clock().Add(j.Every)
	timer := time.NewTimer(next.Sub(s.clock()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		started := s.clock()
		if err := j.Run(ctx); err != nil {
			s.logger.Warn("scheduled job failed", "job", j.Name, "err", err)
		} else {
			s.logger.Debug("scheduled job done", "job", j.Name, "elapsed", s.clock().Sub(started).String())
		}

		next = s.clock().Add(j.Every)
		timer.Reset(max(next.Sub(s.clock()), 0))
	}
}

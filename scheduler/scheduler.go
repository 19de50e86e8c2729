package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// dailyWindow is how far either side of DailyAt a daily job may start.
const dailyWindow = 5 * time.Minute

// Job is a unit of background maintenance. Set exactly one of Every or
// DailyAt.
type Job struct {
	Name string
	// Every runs the job at a fixed interval, starting at the first check.
	Every time.Duration
	// DailyAt is a "15:04" local time. The job runs once per day within
	// five minutes of it.
	DailyAt string
	Run     func(ctx context.Context) error
}

// ShouldRun reports whether the job is due at now given its last start.
// A zero lastRun means the job never ran.
func (j Job) ShouldRun(now, lastRun time.Time) bool {
	switch {
	case j.Every > 0:
		return lastRun.IsZero() || now.Sub(lastRun) >= j.Every
	case j.DailyAt != "":
		at, err := time.Parse("15:04", j.DailyAt)
		if err != nil {
			return false
		}
		scheduled := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, now.Location())
		windowStart := scheduled.Add(-dailyWindow)
		windowEnd := scheduled.Add(dailyWindow)
		if now.Before(windowStart) || !now.Before(windowEnd) {
			return false
		}
		return lastRun.IsZero() || lastRun.Before(windowStart)
	}
	return false
}

type TimeProvider interface {
	Now() time.Time
}

type realTimeProvider struct{}

func (realTimeProvider) Now() time.Time {
	return time.Now()
}

type Scheduler struct {
	checkInterval time.Duration
	jobs          []Job
	clock         TimeProvider
	logger        *slog.Logger

	mu      sync.Mutex
	lastRun map[string]time.Time
	// Prevents a slow job from being started again while it still runs.
	running sync.Map
	wg      sync.WaitGroup
}

func New(checkInterval time.Duration, logger *slog.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{
		checkInterval: checkInterval,
		jobs:          jobs,
		clock:         realTimeProvider{},
		logger:        logger,
		lastRun:       make(map[string]time.Time),
	}
}

// Start checks the jobs every checkInterval until ctx is cancelled, then
// waits for running jobs to return.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting maintenance scheduler",
		slog.Int("jobs", len(s.jobs)),
		slog.Duration("check_interval", s.checkInterval))

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()
	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("Maintenance scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until every started job has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.clock.Now()
	for _, job := range s.jobs {
		s.mu.Lock()
		last := s.lastRun[job.Name]
		s.mu.Unlock()
		if job.ShouldRun(now, last) {
			s.launch(ctx, job, now)
		}
	}
}

func (s *Scheduler) launch(ctx context.Context, job Job, now time.Time) {
	if _, loaded := s.running.LoadOrStore(job.Name, struct{}{}); loaded {
		s.logger.Debug("Job still running, skipping", slog.String("job", job.Name))
		return
	}
	s.mu.Lock()
	s.lastRun[job.Name] = now
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Delete(job.Name)

		start := time.Now()
		if err := s.run(ctx, job); err != nil {
			s.logger.Error("Maintenance job failed",
				slog.String("job", job.Name),
				slog.String("error", err.Error()))
			return
		}
		s.logger.Info("Maintenance job finished",
			slog.String("job", job.Name),
			slog.Duration("duration", time.Since(start)))
	}()
}

func (s *Scheduler) run(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Maintenance job panicked",
				slog.String("job", job.Name),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job.Run(ctx)
}

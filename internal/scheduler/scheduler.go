// Package scheduler supplements spec.md with a scheduled-submissions
// feature: cron-driven task templates that fire into the Task Queue Manager
// on a schedule, rather than only by direct REST enqueue. Grounded on the
// teacher's internal/cron/scheduler.go, adapted from a SQLite-backed
// Schedule table to a static in-memory list of templates (this deployment
// has no scheduling persistence layer of its own).
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/coc/internal/queue"
)

var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Schedule is one cron-driven task template.
type Schedule struct {
	Name     string
	CronExpr string
	Template queue.EnqueueInput

	nextRun time.Time
}

// Config holds the scheduler's dependencies.
type Config struct {
	Queue     *queue.Manager
	Schedules []Schedule
	Logger    *slog.Logger
	Interval  time.Duration // tick interval; defaults to 1 minute
}

// Scheduler periodically checks each configured schedule and enqueues its
// template task when due.
type Scheduler struct {
	q         *queue.Manager
	logger    *slog.Logger
	interval  time.Duration
	mu        sync.Mutex
	schedules []Schedule

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Scheduler, computing each schedule's first nextRun from
// the current time.
func New(cfg Config) (*Scheduler, error) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := time.Now()
	schedules := make([]Schedule, len(cfg.Schedules))
	copy(schedules, cfg.Schedules)
	for i := range schedules {
		next, err := NextRunTime(schedules[i].CronExpr, now)
		if err != nil {
			return nil, err
		}
		schedules[i].nextRun = next
	}

	return &Scheduler{q: cfg.Queue, logger: logger, interval: interval, schedules: schedules}, nil
}

// Start begins the scheduler loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("scheduler started", "interval", s.interval, "schedules", len(s.schedules))
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.schedules {
		sched := &s.schedules[i]
		if now.Before(sched.nextRun) {
			continue
		}
		s.fire(sched, now)
	}
}

func (s *Scheduler) fire(sched *Schedule, now time.Time) {
	id, err := s.q.Enqueue(sched.Template)
	if err != nil {
		s.logger.Error("scheduler: failed to enqueue scheduled task", "schedule", sched.Name, "error", err)
		return
	}

	next, err := NextRunTime(sched.CronExpr, now)
	if err != nil {
		s.logger.Error("scheduler: failed to compute next run", "schedule", sched.Name, "error", err)
		return
	}
	sched.nextRun = next

	s.logger.Info("scheduler: schedule fired", "schedule", sched.Name, "task_id", id, "next_run_at", next)
}

// NextRunTime parses a 5-field cron expression and returns the next run
// time strictly after `after`.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}

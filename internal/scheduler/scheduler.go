// Package scheduler runs the four standing background tasks on fixed
// intervals, each guarded against overlap and individually
// triggerable.
package scheduler

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/backmarket-repricer/internal/clock"
	"github.com/aristath/backmarket-repricer/internal/domain"
	"github.com/aristath/backmarket-repricer/internal/events"
	"github.com/aristath/backmarket-repricer/pkg/logger"
)

// Job is one unit of scheduled work.
type Job interface {
	Run() error
	Name() string
}

// maxStartupJitter is the widest random delay applied before a task's
// first run, to de-correlate startup load across tasks.
const maxStartupJitter = 10 * time.Second

// task wraps a Job with the single-flight guard and status bookkeeping
// the Scheduler owns exclusively.
type task struct {
	job      Job
	interval string

	mu        sync.Mutex
	isRunning bool
	lastRun   *time.Time
	nextRun   *time.Time
	lastError string
}

// Scheduler manages background jobs on fixed intervals via cron, with
// a single-flight guard and a manual trigger surface layered on top.
type Scheduler struct {
	cron   *cron.Cron
	clock  clock.Clock
	log    zerolog.Logger
	events *events.Manager

	mu    sync.Mutex
	tasks map[string]*task
}

// New creates a new scheduler. em may be nil, in which case events go
// to a Manager that logs them through log.
func New(clk clock.Clock, em *events.Manager, log zerolog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	if em == nil {
		em = events.NewManager(log)
	}
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		clock:  clk,
		log:    logger.Component(log, "scheduler"),
		events: em,
		tasks:  make(map[string]*task),
	}
}

// Start starts the cron loop. AddStandingTask calls made before Start
// begin ticking once Start runs; calls made after Start take effect
// immediately (robfig/cron supports adding entries to a running
// scheduler).
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop stops the cron loop and waits for any in-flight tick to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}

// AddStandingTask registers a job on a fixed interval (e.g. "15m"),
// preceded by a random jitter in [0, maxStartupJitter] before its
// first run.
func (s *Scheduler) AddStandingTask(job Job, interval time.Duration) error {
	t := &task{job: job, interval: interval.String()}

	s.mu.Lock()
	s.tasks[job.Name()] = t
	s.mu.Unlock()

	jitter := time.Duration(rand.Int63n(int64(maxStartupJitter) + 1))
	next := s.clock.Now().Add(jitter)
	s.setNextRun(t, next)

	go func() {
		s.clock.Sleep(jitter)
		s.runTask(t)

		spec := fmt.Sprintf("@every %s", interval)
		if _, err := s.cron.AddFunc(spec, func() { s.runTask(t) }); err != nil {
			s.log.Error().Err(err).Str("task", job.Name()).Msg("failed to register standing interval")
		}
	}()

	return nil
}

// Trigger runs one task immediately, respecting the single-flight
// guard. Returns false if the task was already running (and so was
// dropped, not queued).
func (s *Scheduler) Trigger(taskName string) (bool, error) {
	s.mu.Lock()
	t, ok := s.tasks[taskName]
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("unknown task %q", taskName)
	}
	return s.runTask(t), nil
}

// TriggerAll triggers every registered task, skipping any currently
// running.
func (s *Scheduler) TriggerAll() {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		s.runTask(t)
	}
}

// runTask enforces the single-flight guard and records status. Returns
// whether the task actually ran (false means it was skipped because it
// was already running).
func (s *Scheduler) runTask(t *task) bool {
	t.mu.Lock()
	if t.isRunning {
		t.mu.Unlock()
		s.log.Warn().Str("task", t.job.Name()).Msg("tick skipped: previous run still in flight")
		s.events.Emit(events.TaskSkipped, "scheduler", map[string]any{"task": t.job.Name()})
		return false
	}
	t.isRunning = true
	t.mu.Unlock()

	s.log.Debug().Str("task", t.job.Name()).Msg("running task")

	err := t.job.Run()

	now := s.clock.Now()
	t.mu.Lock()
	t.isRunning = false
	t.lastRun = &now
	if d, parseErr := time.ParseDuration(t.interval); parseErr == nil {
		next := now.Add(d)
		t.nextRun = &next
	}
	if err != nil {
		t.lastError = err.Error()
		s.log.Error().Err(err).Str("task", t.job.Name()).Msg("task failed")
	} else {
		t.lastError = ""
		s.log.Debug().Str("task", t.job.Name()).Msg("task completed")
	}
	t.mu.Unlock()

	return true
}

func (s *Scheduler) setNextRun(t *task, at time.Time) {
	t.mu.Lock()
	t.nextRun = &at
	t.mu.Unlock()
}

// Status returns the current bookkeeping record for every registered
// task.
func (s *Scheduler) Status() []domain.TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.TaskStatus, 0, len(s.tasks))
	for name, t := range s.tasks {
		t.mu.Lock()
		out = append(out, domain.TaskStatus{
			Name:      name,
			LastRun:   t.lastRun,
			NextRun:   t.nextRun,
			LastError: t.lastError,
			IsRunning: t.isRunning,
		})
		t.mu.Unlock()
	}
	return out
}

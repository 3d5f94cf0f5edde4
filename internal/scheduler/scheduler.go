// Package scheduler runs periodic maintenance tasks such as the CSRF session
// sweep and rate-limit eviction.
//
// Tasks are registered with Every before Start. Each task runs on its own
// ticker goroutine; Stop cancels them and waits up to ShutdownTimeout, so
// shutdown is deterministic and no timer outlives the process lifecycle.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/portfolio/internal/metrics"
)

// TaskFunc is a unit of periodic work.
type TaskFunc func(ctx context.Context) error

type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc
}

// Scheduler manages periodic tasks.
type Scheduler struct {
	config Config
	logger *slog.Logger

	mu      sync.Mutex
	tasks   []task
	started bool

	// Synchronization
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// New creates a Scheduler. It must be started with Start and stopped with Stop.
func New(config Config, logger *slog.Logger) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Scheduler{
		config: config,
		logger: logger,
	}, nil
}

// Every registers fn to run every interval. Call before Start.
func (s *Scheduler) Every(name string, interval time.Duration, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		s.logger.Warn("Ignoring task registered after start", "task", name)
		return
	}
	if interval <= 0 {
		s.logger.Warn("Ignoring task with non-positive interval", "task", name, "interval", interval)
		return
	}
	s.tasks = append(s.tasks, task{name: name, interval: interval, fn: fn})
	s.logger.Debug("Registered scheduled task", "task", name, "interval", interval)
}

// Start launches one goroutine per registered task. Tasks stop when ctx is
// canceled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}

	s.logger.Info("Scheduler started", "tasks", len(s.tasks))
}

// Stop cancels all tasks and waits for running ones to return, bounded by
// the configured ShutdownTimeout. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()

		if cancel == nil {
			return
		}

		s.logger.Info("Stopping scheduler...")
		cancel()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			s.logger.Info("Scheduler stopped gracefully")
		case <-time.After(s.config.ShutdownTimeout):
			s.logger.Warn("Scheduler shutdown timeout exceeded, some tasks may still be running")
		}
	})
}

// RunNow runs the named task once, synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var found *task
	for i := range s.tasks {
		if s.tasks[i].name == name {
			found = &s.tasks[i]
			break
		}
	}
	s.mu.Unlock()

	if found == nil {
		return fmt.Errorf("no task registered with name %q", name)
	}
	return s.run(ctx, *found, s.logger.With("task", name))
}

// loop ticks until ctx is canceled.
func (s *Scheduler) loop(ctx context.Context, t task) {
	defer s.wg.Done()

	logger := s.logger.With("task", t.name)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Task loop stopping")
			return
		case <-ticker.C:
			if err := s.run(ctx, t, logger); err != nil {
				logger.Error("Scheduled task failed", "error", err)
			}
		}
	}
}

// run executes one task invocation with a timeout. A panic is converted into
// an error so one bad run cannot stop the loop.
func (s *Scheduler) run(ctx context.Context, t task, logger *slog.Logger) (err error) {
	runCtx, cancel := context.WithTimeout(ctx, s.config.TaskTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
		if err != nil {
			metrics.TaskFailed(t.name, time.Since(start))
			return
		}
		metrics.TaskCompleted(t.name, time.Since(start))
		logger.Debug("Scheduled task completed", "duration", time.Since(start))
	}()

	return t.fn(runCtx)
}

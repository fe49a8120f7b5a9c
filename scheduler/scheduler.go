package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskFn is a scheduled job. The context is cancelled when the task is
// removed or the scheduler stops.
type TaskFn func(ctx context.Context) error

// Scheduler runs named periodic and one-shot background jobs.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]*task
	logger *zap.Logger
	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

type task struct {
	cancel context.CancelFunc
}

// New creates a new Scheduler.
func New(logger *zap.Logger) *Scheduler {
	ctx, stop := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:  make(map[string]*task),
		logger: logger,
		ctx:    ctx,
		stop:   stop,
	}
}

// register replaces any task with the same name and returns the context
// for the new one. ok is false once the scheduler has stopped.
func (s *Scheduler) register(name string) (context.Context, *task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return nil, nil, false
	}
	if old, ok := s.tasks[name]; ok {
		old.cancel()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{cancel: cancel}
	s.tasks[name] = t
	s.wg.Add(1)
	return ctx, t, true
}

func (s *Scheduler) unregister(name string, t *task) {
	s.mu.Lock()
	if s.tasks[name] == t {
		delete(s.tasks, name)
	}
	s.mu.Unlock()
	t.cancel()
}

func (s *Scheduler) run(ctx context.Context, name string, fn TaskFn) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler task panicked",
				zap.String("task", name),
				zap.Any("recover", r))
		}
	}()
	if err := fn(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("scheduler task failed", zap.String("task", name), zap.Error(err))
	}
}

// AddTicker registers fn to run every interval. With immediate set the
// first run happens right away instead of after one interval.
// If a task with the same name exists, it is replaced.
func (s *Scheduler) AddTicker(name string, interval time.Duration, immediate bool, fn TaskFn) {
	ctx, t, ok := s.register(name)
	if !ok {
		return
	}
	go func() {
		defer s.wg.Done()
		defer s.unregister(name, t)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		if immediate {
			s.run(ctx, name, fn)
		}
		for {
			select {
			case <-ticker.C:
				s.run(ctx, name, fn)
			case <-ctx.Done():
				return
			}
		}
	}()
	s.logger.Debug("scheduler task registered", zap.String("name", name), zap.Duration("interval", interval))
}

// AddDelay runs fn once after the given delay.
func (s *Scheduler) AddDelay(name string, delay time.Duration, fn TaskFn) {
	ctx, t, ok := s.register(name)
	if !ok {
		return
	}
	go func() {
		defer s.wg.Done()
		defer s.unregister(name, t)
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			s.run(ctx, name, fn)
		case <-ctx.Done():
		}
	}()
}

// Remove stops and removes a task by name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	delete(s.tasks, name)
	s.mu.Unlock()
	if ok {
		t.cancel()
	}
}

// Stop cancels every task and waits for running jobs to return.
// Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stop()
	s.mu.Unlock()
	s.wg.Wait()
}

// List returns the names of all registered tasks.
func (s *Scheduler) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	return names
}

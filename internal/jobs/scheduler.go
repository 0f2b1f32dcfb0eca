package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"tipline/internal/logging"
	"tipline/internal/services"
)

// Job is a named unit of periodic work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type funcJob struct {
	name string
	fn   func(context.Context) error
}

func (j funcJob) Name() string                  { return j.name }
func (j funcJob) Run(ctx context.Context) error { return j.fn(ctx) }

// NewJob wraps fn as a Job.
func NewJob(name string, fn func(context.Context) error) Job {
	return funcJob{name: name, fn: fn}
}

// Handle identifies a scheduled one-shot task.
type Handle uint64

// Status reports the run history of one job.
type Status struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	Runs      int           `json:"runs"`
	Failures  int           `json:"failures"`
	LastRun   time.Time     `json:"last_run"`
	LastError string        `json:"last_error,omitempty"`
}

type entry struct {
	job      Job
	interval time.Duration
	trigger  chan struct{}
	status   Status
}

// Scheduler owns the job goroutines and the one-shot timers.
type Scheduler struct {
	logger *slog.Logger

	mu      sync.Mutex
	entries []*entry
	byName  map[string]*entry
	running bool
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	nextHandle Handle
	timers     map[Handle]*time.Timer
}

// NewScheduler constructs an idle Scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger: logging.NewComponentLogger(logger, "jobs"),
		byName: make(map[string]*entry),
		timers: make(map[Handle]*time.Timer),
	}
}

// Register adds a periodic job. Jobs must be registered before Start.
func (s *Scheduler) Register(job Job, interval time.Duration) error {
	if job == nil {
		return errors.New("register nil job")
	}
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.Name())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("job %s: scheduler already running", job.Name())
	}
	if _, dup := s.byName[job.Name()]; dup {
		return fmt.Errorf("job %s already registered", job.Name())
	}
	e := &entry{
		job:      job,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		status:   Status{Name: job.Name(), Interval: interval},
	}
	s.entries = append(s.entries, e)
	s.byName[job.Name()] = e
	return nil
}

// Start launches one goroutine per registered job.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx = runCtx
	s.cancel = cancel
	s.running = true
	entries := append([]*entry(nil), s.entries...)
	s.wg.Add(len(entries))
	s.mu.Unlock()

	for _, e := range entries {
		go s.loop(runCtx, e)
	}
	s.logger.Info("scheduler started", logging.Int("jobs", len(entries)))
	return nil
}

// Stop cancels pending one-shot tasks, stops every job goroutine, and waits
// for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	for h, timer := range s.timers {
		if timer.Stop() {
			s.wg.Done()
		}
		delete(s.timers, h)
	}
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Trigger asks the named job to run as soon as possible. Triggers that
// arrive while one is already pending are coalesced.
func (s *Scheduler) Trigger(name string) bool {
	s.mu.Lock()
	e, ok := s.byName[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case e.trigger <- struct{}{}:
	default:
	}
	return true
}

// Schedule runs task once after delay. It returns the zero Handle when the
// scheduler is not running.
func (s *Scheduler) Schedule(delay time.Duration, name string, task func(context.Context) error) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	s.nextHandle++
	h := s.nextHandle
	runCtx := s.runCtx
	s.wg.Add(1)
	s.timers[h] = time.AfterFunc(delay, func() {
		defer s.wg.Done()
		s.mu.Lock()
		_, live := s.timers[h]
		delete(s.timers, h)
		s.mu.Unlock()
		if !live || runCtx.Err() != nil {
			return
		}
		if err := s.safeRun(runCtx, name, task); err != nil {
			logging.WarnWithContext(s.logger, "scheduled task failed", "scheduled_task_failed",
				logging.String(logging.FieldJob, name),
				logging.Error(err),
				logging.String(logging.FieldImpact, "the periodic job picks up the work on its next tick"),
			)
		}
	})
	return h
}

// Cancel revokes a scheduled task. It reports whether the task was still
// pending.
func (s *Scheduler) Cancel(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer, ok := s.timers[h]
	if !ok {
		return false
	}
	delete(s.timers, h)
	if timer.Stop() {
		s.wg.Done()
	}
	return true
}

// Pending returns the number of scheduled one-shot tasks.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Status returns a snapshot of every job's run history.
func (s *Scheduler) Status() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.status)
	}
	return out
}

// RunNow executes the named job synchronously on the caller's goroutine.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.byName[name]
	s.mu.Unlock()
	if !ok {
		return services.Wrap(services.ErrNotFound, "jobs", "run", name, nil)
	}
	return s.runEntry(ctx, e)
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	defer s.wg.Done()
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.trigger:
		}
		_ = s.runEntry(ctx, e)
	}
}

func (s *Scheduler) runEntry(ctx context.Context, e *entry) error {
	err := s.safeRun(ctx, e.job.Name(), e.job.Run)

	s.mu.Lock()
	e.status.Runs++
	e.status.LastRun = time.Now()
	e.status.LastError = ""
	if err != nil {
		e.status.Failures++
		e.status.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		logging.ErrorWithContext(s.logger, "job run failed", "job_failed",
			logging.String(logging.FieldJob, e.job.Name()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the job runs again on its next tick"),
		)
	}
	return err
}

// safeRun converts a panic in fn into an error.
func (s *Scheduler) safeRun(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", name, r)
			s.logger.Error("job panic recovered",
				logging.String(logging.FieldJob, name),
				logging.String("stack", string(debug.Stack())),
			)
		}
	}()
	return fn(services.WithJob(ctx, name))
}

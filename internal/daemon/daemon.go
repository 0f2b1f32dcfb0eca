package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"tipline/internal/jobs"
	"tipline/internal/logging"
	"tipline/internal/runtime"
	"tipline/internal/store"
)

// Daemon coordinates the background jobs and the API server, and enforces
// single-instance execution.
type Daemon struct {
	rt     *runtime.Runtime
	logger *slog.Logger
	api    *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	started time.Time
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool          `json:"running"`
	PID          int           `json:"pid"`
	Node         string        `json:"node"`
	DatabasePath string        `json:"database_path"`
	LockFilePath string        `json:"lock_file_path"`
	Uptime       string        `json:"uptime,omitempty"`
	Jobs         []jobs.Status `json:"jobs"`
	Counts       *store.Counts `json:"counts,omitempty"`
	PendingTasks int           `json:"pending_tasks"`
}

// New constructs a daemon around an opened runtime.
func New(rt *runtime.Runtime) (*Daemon, error) {
	if rt == nil || rt.Config == nil || rt.Store == nil {
		return nil, errors.New("daemon requires an opened runtime")
	}
	logger := logging.NewComponentLogger(rt.Logger, "daemon")
	d := &Daemon{
		rt:       rt,
		logger:   logger,
		lockPath: rt.Config.LockPath(),
		lock:     flock.New(rt.Config.LockPath()),
	}
	d.api = newAPIServer(rt, d, logger)
	return d, nil
}

// Start acquires the daemon lock, repairs interrupted state, then launches
// the jobs scheduler and the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another tipline daemon instance is already running")
	}

	if err := d.rt.Recover(ctx); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("recover state: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.rt.Jobs.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		return fmt.Errorf("start jobs: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.rt.Jobs.Stop()
		_ = d.lock.Unlock()
		cancel()
		return err
	}

	d.cancel = cancel
	d.started = time.Now()
	d.running.Store(true)
	d.logger.Info("tipline daemon started",
		logging.String("lock", d.lockPath),
		logging.String("node", d.rt.Config.Node.Name),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.rt.Jobs.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("tipline daemon stopped")
}

// Close releases resources held by the daemon and its runtime.
func (d *Daemon) Close() error {
	d.Stop()
	return d.rt.Close()
}

// Addr returns the API listener address once the daemon is running.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// Status returns the current daemon status. Table counts are omitted when
// the store cannot be read.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Node:         d.rt.Config.Node.Name,
		DatabasePath: d.rt.Config.DatabasePath(),
		LockFilePath: d.lockPath,
		Jobs:         d.rt.Jobs.Status(),
		PendingTasks: d.rt.Jobs.Pending(),
	}
	if status.Running {
		status.Uptime = time.Since(d.started).Truncate(time.Second).String()
	}
	var counts store.Counts
	err := d.rt.Store.Transact(ctx, func(tx *store.Tx) error {
		var err error
		counts, err = tx.Counts(ctx)
		return err
	})
	if err != nil {
		d.logger.Warn("status counts unavailable", logging.Error(err))
	} else {
		status.Counts = &counts
	}
	return status
}

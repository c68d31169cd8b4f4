// Package concurrency wraps alitto/pond worker pools with standardized
// configuration, used to bound fan-out in the Fill Ingestor and the
// Recovery Service's per-bot reconciliation pass.
package concurrency

import (
	"fmt"
	"time"

	"gridbot/internal/core"

	"github.com/alitto/pond"
)

// PoolConfig configures a bounded worker pool.
type PoolConfig struct {
	Name        string
	MaxWorkers  int
	MaxCapacity int
	IdleTimeout time.Duration
	NonBlocking bool // Submit returns an error instead of blocking when full
}

// WorkerPool wraps pond.WorkerPool with logging and standardized config.
type WorkerPool struct {
	pool   *pond.WorkerPool
	config PoolConfig
	logger core.Logger
}

// NewWorkerPool builds a pool; zero-value fields fall back to safe defaults.
func NewWorkerPool(cfg PoolConfig, logger core.Logger) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = 1000
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	scoped := logger.With("component", "worker_pool", "pool", cfg.Name)

	pool := pond.New(
		cfg.MaxWorkers,
		cfg.MaxCapacity,
		pond.MinWorkers(1),
		pond.IdleTimeout(cfg.IdleTimeout),
		pond.Strategy(pond.Balanced()),
		pond.PanicHandler(func(p interface{}) {
			scoped.Error("worker pool panic recovered", "panic", p)
		}),
	)

	return &WorkerPool{pool: pool, config: cfg, logger: scoped}
}

// Submit adds a task to the pool. When the pool is configured NonBlocking
// and at capacity, it returns an error instead of blocking the caller —
// the Fill Ingestor uses this to trigger an out-of-band reconciliation
// tick on saturation rather than stalling (§5 backpressure).
func (wp *WorkerPool) Submit(task func()) error {
	if wp.config.NonBlocking {
		if !wp.pool.TrySubmit(task) {
			return fmt.Errorf("worker pool %q is full (capacity: %d)", wp.config.Name, wp.config.MaxCapacity)
		}
		return nil
	}
	wp.pool.Submit(task)
	return nil
}

// SubmitAndWait submits a task and blocks until it completes.
func (wp *WorkerPool) SubmitAndWait(task func()) {
	done := make(chan struct{})
	wp.pool.Submit(func() {
		task()
		close(done)
	})
	<-done
}

// Stop drains in-flight tasks and stops the pool.
func (wp *WorkerPool) Stop() {
	wp.pool.StopAndWait()
}

// Stats reports pool occupancy, useful for the fill-queue-depth gauge.
func (wp *WorkerPool) Stats() map[string]int64 {
	return map[string]int64{
		"running_workers": int64(wp.pool.RunningWorkers()),
		"idle_workers":    int64(wp.pool.IdleWorkers()),
		"submitted_tasks": int64(wp.pool.SubmittedTasks()),
		"waiting_tasks":   int64(wp.pool.WaitingTasks()),
	}
}

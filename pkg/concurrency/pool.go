// Package concurrency wraps alitto/pond with the engine's defaults
package concurrency

import (
	"fmt"
	"time"

	"signalbot/internal/core"

	"github.com/alitto/pond"
)

// PoolConfig holds configuration for a worker pool
type PoolConfig struct {
	Name        string
	MaxWorkers  int
	MaxCapacity int
	IdleTimeout time.Duration
	NonBlocking bool // Submit returns an error instead of blocking when the queue is full
}

// Stats is a point-in-time view of pool activity
type Stats struct {
	Running   int
	Idle      int
	Submitted uint64
	Waiting   uint64
	Succeeded uint64
	Failed    uint64
}

// WorkerPool runs background tasks such as delayed protection checks and alert fan-out
type WorkerPool struct {
	pool   *pond.WorkerPool
	config PoolConfig
	logger core.ILogger
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(cfg PoolConfig, logger core.ILogger) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = 64
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	log := logger.WithField("component", "worker_pool").WithField("pool", cfg.Name)

	pool := pond.New(
		cfg.MaxWorkers,
		cfg.MaxCapacity,
		pond.MinWorkers(1),
		pond.IdleTimeout(cfg.IdleTimeout),
		pond.Strategy(pond.Balanced()),
		pond.PanicHandler(func(p interface{}) {
			log.Error("Worker pool panic recovered", "panic", p)
		}),
	)

	return &WorkerPool{
		pool:   pool,
		config: cfg,
		logger: log,
	}
}

// Submit adds a task to the pool
func (wp *WorkerPool) Submit(task func()) error {
	if wp.pool.Stopped() {
		return fmt.Errorf("worker pool '%s' is stopped", wp.config.Name)
	}
	if wp.config.NonBlocking {
		if !wp.pool.TrySubmit(task) {
			return fmt.Errorf("worker pool '%s' is full (capacity: %d)", wp.config.Name, wp.config.MaxCapacity)
		}
		return nil
	}
	wp.pool.Submit(task)
	return nil
}

// SubmitAndWait submits a task and blocks until it has run
func (wp *WorkerPool) SubmitAndWait(task func()) {
	wp.pool.SubmitAndWait(task)
}

// Stop waits for queued tasks and stops the workers
func (wp *WorkerPool) Stop() {
	wp.pool.StopAndWait()
}

// Stats returns pool statistics
func (wp *WorkerPool) Stats() Stats {
	return Stats{
		Running:   wp.pool.RunningWorkers(),
		Idle:      wp.pool.IdleWorkers(),
		Submitted: wp.pool.SubmittedTasks(),
		Waiting:   wp.pool.WaitingTasks(),
		Succeeded: wp.pool.SuccessfulTasks(),
		Failed:    wp.pool.FailedTasks(),
	}
}

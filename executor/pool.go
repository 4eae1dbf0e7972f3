// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package executor provides the execution contexts used for dispatch: a
// shared worker pool and per-object serial strands.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/luxfi/metarpc/config"
	"github.com/luxfi/metarpc/internal/log"
)

var (
	ErrQueueFull = errors.New("executor: task queue is full")
	ErrStopped   = errors.New("executor: stopped")
)

// Task is a unit of work. ctx carries the values of the submitting
// context without its cancellation.
type Task func(ctx context.Context)

// Config sizes a Pool.
type Config struct {
	Workers   int // number of worker goroutines
	QueueSize int // pending task capacity
}

// DefaultConfig returns the sizing from the process configuration.
func DefaultConfig() *Config {
	cfg := &Config{Workers: 8, QueueSize: 1024}
	if c := config.Get(); c != nil && c.Executor != nil {
		cfg.Workers, cfg.QueueSize = c.Executor.Workers, c.Executor.QueueSize
	}
	return cfg
}

// Validate validates configuration
func (cfg *Config) Validate() error {
	if cfg.Workers < 1 {
		return errors.New("workers must be greater than 0")
	}
	if cfg.QueueSize < 1 {
		return errors.New("queue size must be greater than 0")
	}
	return nil
}

// Metrics tracks pool activity.
type Metrics struct {
	ActiveWorkers  atomic.Int64
	PendingTasks   atomic.Int64
	CompletedTasks atomic.Int64
	FailedTasks    atomic.Int64
}

type job struct {
	ctx  context.Context
	task Task
}

// Pool runs tasks on a fixed set of worker goroutines.
type Pool struct {
	workers int
	tasks   chan job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
	metrics *Metrics
}

// NewPool creates a pool; Start launches its workers.
func NewPool(cfg *Config) (*Pool, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid executor config: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers: cfg.Workers,
		tasks:   make(chan job, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		metrics: &Metrics{},
	}, nil
}

// Start starts the worker goroutines.
func (p *Pool) Start() {
	for range p.workers {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop stops accepting tasks and waits for the workers, at most until ctx
// is done.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.cancel()
	}
}

// Submit queues task without blocking.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.tasks <- job{ctx: context.WithoutCancel(ctx), task: task}:
		p.metrics.PendingTasks.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// Metrics returns the live counters.
func (p *Pool) Metrics() *Metrics { return p.metrics }

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case j, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(j)
		}
	}
}

func (p *Pool) run(j job) {
	p.metrics.ActiveWorkers.Add(1)
	p.metrics.PendingTasks.Add(-1)
	defer func() {
		p.metrics.ActiveWorkers.Add(-1)
		if r := recover(); r != nil {
			p.metrics.FailedTasks.Add(1)
			log.Category("metarpc.executor").WithField("panic", r).Error("task panicked")
			return
		}
		p.metrics.CompletedTasks.Add(1)
	}()
	j.task(j.ctx)
}

var (
	global     *Pool
	globalOnce sync.Once
)

// Global returns the shared pool, started on first use.
func Global() *Pool {
	globalOnce.Do(func() {
		p, err := NewPool(DefaultConfig())
		if err != nil {
			log.Category("metarpc.executor").WithError(err).Warn("falling back to default executor sizing")
			p, _ = NewPool(&Config{Workers: 8, QueueSize: 1024})
		}
		p.Start()
		global = p
	})
	return global
}

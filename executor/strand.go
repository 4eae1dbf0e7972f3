// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package executor

import (
	"context"
	"sync"

	"github.com/luxfi/metarpc/internal/log"
)

type strandKey struct{}

// Strand runs posted tasks one at a time, in posting order. A drain
// goroutine exists only while tasks are pending.
type Strand struct {
	mu      sync.Mutex
	queue   []job
	running bool
	closed  bool
}

// NewStrand returns an idle strand.
func NewStrand() *Strand { return &Strand{} }

// Post queues task. The context passed to task identifies the strand, see
// InStrand.
func (s *Strand) Post(ctx context.Context, task Task) error {
	ctx = context.WithValue(context.WithoutCancel(ctx), strandKey{}, s)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStopped
	}
	s.queue = append(s.queue, job{ctx: ctx, task: task})
	start := !s.running
	s.running = true
	s.mu.Unlock()
	if start {
		go s.drain()
	}
	return nil
}

func (s *Strand) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		j := s.queue[0]
		s.queue[0] = job{}
		s.queue = s.queue[1:]
		s.mu.Unlock()
		runGuarded(j)
	}
}

func runGuarded(j job) {
	defer func() {
		if r := recover(); r != nil {
			log.Category("metarpc.executor").WithField("panic", r).Error("strand task panicked")
		}
	}()
	j.task(j.ctx)
}

// Close rejects further tasks. Pending tasks still run.
func (s *Strand) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// InStrand reports whether ctx belongs to a task running on s.
func InStrand(ctx context.Context, s *Strand) bool {
	cur, _ := ctx.Value(strandKey{}).(*Strand)
	return cur != nil && cur == s
}

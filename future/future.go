// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package future provides a single-assignment result handle with
// cooperative cancellation.
package future

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	ErrCanceled   = errors.New("future: canceled")
	ErrAlreadySet = errors.New("future: result already set")
)

// State is the lifecycle state of a Future.
type State int

const (
	Running State = iota
	FinishedWithValue
	FinishedWithError
	Canceled
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case FinishedWithValue:
		return "finished"
	case FinishedWithError:
		return "error"
	case Canceled:
		return "canceled"
	}
	return "unknown"
}

// Future is the read side of a single-assignment result.
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	state     State
	value     T
	err       error
	cancelReq bool
	onCancel  func()
	callbacks []func(*Future[T])
}

// Promise is the write side of a Future.
type Promise[T any] struct {
	f *Future[T]
}

// NewPromise returns a promise whose future is Running. onCancel, if not
// nil, is called once when cancellation is first requested; the producer
// decides whether to honor it.
func NewPromise[T any](onCancel func()) *Promise[T] {
	return &Promise[T]{f: &Future[T]{done: make(chan struct{}), onCancel: onCancel}}
}

// Ready returns a future finished with v.
func Ready[T any](v T) *Future[T] {
	p := NewPromise[T](nil)
	_ = p.SetValue(v)
	return p.f
}

// Failed returns a future finished with err.
func Failed[T any](err error) *Future[T] {
	p := NewPromise[T](nil)
	_ = p.SetError(err)
	return p.f
}

// Future returns the read side.
func (p *Promise[T]) Future() *Future[T] { return p.f }

// SetValue finishes the future with v.
func (p *Promise[T]) SetValue(v T) error {
	return p.f.finish(FinishedWithValue, v, nil)
}

// SetError finishes the future with err.
func (p *Promise[T]) SetError(err error) error {
	var zero T
	return p.f.finish(FinishedWithError, zero, err)
}

// SetCanceled finishes the future as canceled.
func (p *Promise[T]) SetCanceled() error {
	var zero T
	return p.f.finish(Canceled, zero, ErrCanceled)
}

// IsCancelRequested reports whether a consumer asked for cancellation.
func (p *Promise[T]) IsCancelRequested() bool {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	return p.f.cancelReq
}

func (f *Future[T]) finish(state State, v T, err error) error {
	f.mu.Lock()
	if f.state != Running {
		f.mu.Unlock()
		return ErrAlreadySet
	}
	f.state, f.value, f.err = state, v, err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(f)
	}
	return nil
}

// Cancel requests cancellation. It has no effect on a finished future.
func (f *Future[T]) Cancel() {
	f.mu.Lock()
	if f.state != Running || f.cancelReq {
		f.mu.Unlock()
		return
	}
	f.cancelReq = true
	fn := f.onCancel
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Done is closed once the future is finished.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// State returns the current state.
func (f *Future[T]) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// IsFinished reports whether the future left the Running state.
func (f *Future[T]) IsFinished() bool { return f.State() != Running }

// Err returns the error of a finished future, nil while running or on
// success.
func (f *Future[T]) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Wait blocks until the future finishes or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// Then calls fn once the future finishes, inline when it already has.
func (f *Future[T]) Then(fn func(*Future[T])) {
	f.mu.Lock()
	if f.state == Running {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	fn(f)
}

// Map returns a future finishing with fn applied to f's value. Errors and
// cancellation propagate; canceling the result cancels f.
func Map[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	p := NewPromise[U](f.Cancel)
	f.Then(func(f *Future[T]) {
		v, err := f.Wait(context.Background())
		switch {
		case f.State() == Canceled:
			_ = p.SetCanceled()
		case err != nil:
			_ = p.SetError(err)
		default:
			u, err := fn(v)
			if err != nil {
				_ = p.SetError(err)
				return
			}
			_ = p.SetValue(u)
		}
	})
	return p.Future()
}

// Awaitable is the type-independent view of a Future.
type Awaitable interface {
	Done() <-chan struct{}
	Err() error
}

// WaitAll waits for every future and returns the first error.
func WaitAll(ctx context.Context, fs ...Awaitable) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, f := range fs {
		g.Go(func() error {
			select {
			case <-f.Done():
				return f.Err()
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	return g.Wait()
}

// File: core/concurrency/promise.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Promise is a write-once result bound to an executor. Listeners always
// run on that executor: inline when completion happens on it, otherwise
// through Execute. State transitions are monotonic; the first completion
// wins and later attempts report false.

package concurrency

import (
	"context"
	"fmt"
	"sync"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/logging"
)

type promiseState int32

const (
	statePending promiseState = iota
	stateSuccess
	stateFailure
	stateCancelled
)

// Listener observes a completed promise.
type Listener[T any] func(p *Promise[T])

// Promise is a completable future.
type Promise[T any] struct {
	executor api.EventExecutor

	mu        sync.Mutex
	state     promiseState
	value     T
	cause     error
	listeners []Listener[T]
	done      chan struct{}
}

var _ api.Cancelable = (*Promise[struct{}])(nil)

// NewPromise creates a pending promise notifying on executor. A nil
// executor notifies inline on the completing goroutine.
func NewPromise[T any](executor api.EventExecutor) *Promise[T] {
	if executor == nil {
		executor = Immediate
	}
	return &Promise[T]{executor: executor, done: make(chan struct{})}
}

// NewSucceeded returns a promise already completed with v.
func NewSucceeded[T any](executor api.EventExecutor, v T) *Promise[T] {
	p := NewPromise[T](executor)
	p.TrySuccess(v)
	return p
}

// NewFailed returns a promise already failed with err.
func NewFailed[T any](executor api.EventExecutor, err error) *Promise[T] {
	p := NewPromise[T](executor)
	p.TryFailure(err)
	return p
}

// Executor returns the executor listeners run on.
func (p *Promise[T]) Executor() api.EventExecutor { return p.executor }

// TrySuccess completes the promise with v.
func (p *Promise[T]) TrySuccess(v T) bool {
	return p.complete(stateSuccess, v, nil)
}

// TryFailure completes the promise with err.
func (p *Promise[T]) TryFailure(err error) bool {
	if err == nil {
		err = api.ErrInternal.WithContext("cause", nil)
	}
	var zero T
	return p.complete(stateFailure, zero, err)
}

// SetSuccess is TrySuccess that reports a second completion as an error.
func (p *Promise[T]) SetSuccess(v T) error {
	if !p.TrySuccess(v) {
		return api.ErrIllegalState.WithContext("promise", p.String())
	}
	return nil
}

// SetFailure is TryFailure that reports a second completion as an error.
func (p *Promise[T]) SetFailure(err error) error {
	if !p.TryFailure(err) {
		return api.ErrIllegalState.WithContext("promise", p.String())
	}
	return nil
}

// Complete routes to TrySuccess or TryFailure depending on err.
func (p *Promise[T]) Complete(v T, err error) bool {
	if err != nil {
		return p.TryFailure(err)
	}
	return p.TrySuccess(v)
}

// Cancel completes the promise as cancelled. It implements
// api.Cancelable; cancelling a completed promise returns ErrIllegalState.
func (p *Promise[T]) Cancel() error {
	var zero T
	if !p.complete(stateCancelled, zero, api.ErrCancelled) {
		return api.ErrIllegalState.WithContext("promise", p.String())
	}
	return nil
}

func (p *Promise[T]) complete(s promiseState, v T, err error) bool {
	p.mu.Lock()
	if p.state != statePending {
		p.mu.Unlock()
		return false
	}
	p.state, p.value, p.cause = s, v, err
	ls := p.listeners
	p.listeners = nil
	close(p.done)
	p.mu.Unlock()

	if len(ls) > 0 {
		p.notify(ls)
	}
	return true
}

// AddListener registers fn. A completed promise notifies immediately,
// still on the promise's executor.
func (p *Promise[T]) AddListener(fn Listener[T]) *Promise[T] {
	p.mu.Lock()
	if p.state == statePending {
		p.listeners = append(p.listeners, fn)
		p.mu.Unlock()
		return p
	}
	p.mu.Unlock()
	p.notify([]Listener[T]{fn})
	return p
}

func (p *Promise[T]) notify(ls []Listener[T]) {
	if p.executor.InEventLoop() {
		p.runListeners(ls)
		return
	}
	if err := p.executor.Execute(func() { p.runListeners(ls) }); err != nil {
		// executor terminated; nobody else will ever run them.
		l := logging.For("promise")
		l.Debug().Err(err).Msg("executor rejected listener notification, notifying inline")
		p.runListeners(ls)
	}
}

func (p *Promise[T]) runListeners(ls []Listener[T]) {
	for _, fn := range ls {
		p.safeNotify(fn)
	}
}

func (p *Promise[T]) safeNotify(fn Listener[T]) {
	defer func() {
		if r := recover(); r != nil {
			l := logging.For("promise")
			l.Error().Interface("panic", r).Msg("promise listener panicked")
		}
	}()
	fn(p)
}

// IsDone reports whether the promise completed in any way.
func (p *Promise[T]) IsDone() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state != statePending
}

// IsSuccess reports whether the promise completed successfully.
func (p *Promise[T]) IsSuccess() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == stateSuccess
}

// IsCancelled reports whether the promise was cancelled.
func (p *Promise[T]) IsCancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == stateCancelled
}

// Cause returns the failure cause, nil while pending or on success.
func (p *Promise[T]) Cause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cause
}

// Err implements api.Cancelable.
func (p *Promise[T]) Err() error { return p.Cause() }

// Done is closed on completion.
func (p *Promise[T]) Done() <-chan struct{} { return p.done }

// Now returns the success value without blocking. ok is false unless the
// promise succeeded.
func (p *Promise[T]) Now() (v T, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != stateSuccess {
		return v, false
	}
	return p.value, true
}

// Await blocks until completion or ctx ends. Waiting on the owning loop
// would deadlock it, so that case fails with ErrBlockingInLoop.
func (p *Promise[T]) Await(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if p.executor != Immediate && p.executor.InEventLoop() {
		return api.ErrBlockingInLoop
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sync awaits completion and returns the outcome.
func (p *Promise[T]) Sync(ctx context.Context) (T, error) {
	if err := p.Await(ctx); err != nil {
		var zero T
		return zero, err
	}
	v, _ := p.Now()
	return v, p.Cause()
}

// CascadeTo completes target with this promise's outcome once known.
func (p *Promise[T]) CascadeTo(target *Promise[T]) {
	p.AddListener(func(src *Promise[T]) {
		if src.IsCancelled() {
			_ = target.Cancel()
			return
		}
		v, _ := src.Now()
		target.Complete(v, src.Cause())
	})
}

func (p *Promise[T]) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.state {
	case stateSuccess:
		return "Promise(success)"
	case stateFailure:
		return fmt.Sprintf("Promise(failure: %v)", p.cause)
	case stateCancelled:
		return "Promise(cancelled)"
	default:
		return "Promise(incomplete)"
	}
}

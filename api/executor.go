// Package api
// Author: momentics
//
// Executor contract for single-threaded event loop task dispatch.

package api

import "time"

// EventExecutor runs tasks on one dedicated goroutine.
type EventExecutor interface {
	// Execute enqueues task for execution on the executor goroutine.
	// It is the only entry point that may be called from any goroutine.
	Execute(task func()) error

	// InEventLoop reports whether the caller runs on the executor goroutine.
	InEventLoop() bool

	// Schedule runs task once after delay on the executor goroutine.
	Schedule(delay time.Duration, task func()) (Cancelable, error)
}

// Cancelable is a pending operation that may be aborted.
type Cancelable interface {
	// Cancel attempts to abort the operation.
	Cancel() error
	// Done is closed on completion or cancellation.
	Done() <-chan struct{}
	// Err returns the failure or cancellation reason.
	Err() error
}

// File: transport/embedded/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Loop is an event loop driven by the test goroutine. Every caller counts
// as "in the loop", so channel operations run inline; deferred tasks and
// timers run only when the test asks for them, against a mock clock.

package embedded

import (
	"sort"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/core/concurrency"
)

type timer struct {
	deadline time.Time
	seq      uint64
	task     func()
	promise  *concurrency.Promise[struct{}]
}

// Loop runs queued work on demand. Not safe for concurrent use.
type Loop struct {
	clock   *clock.Mock
	tasks   []func()
	timers  []*timer
	seq     uint64
	tracked map[any]func()
	hooks   []func()
	closed  bool
}

// NewLoop creates a loop with a mock clock set to the Unix epoch.
func NewLoop() *Loop {
	return &Loop{clock: clock.NewMock(), tracked: make(map[any]func())}
}

// Clock returns the clock timers are measured with. It is a *clock.Mock;
// move it with AdvanceTime so due work runs.
func (l *Loop) Clock() clock.Clock { return l.clock }

func (l *Loop) InEventLoop() bool { return true }

// Execute queues task until RunPendingTasks.
func (l *Loop) Execute(task func()) error {
	if l.closed {
		return api.ErrIllegalState.WithContext("loop", "embedded").WithContext("reason", "closed")
	}
	l.tasks = append(l.tasks, task)
	return nil
}

// Schedule registers task to run once the mock clock passed delay.
func (l *Loop) Schedule(delay time.Duration, task func()) (api.Cancelable, error) {
	if l.closed {
		return nil, api.ErrIllegalState.WithContext("loop", "embedded")
	}
	l.seq++
	t := &timer{
		deadline: l.clock.Now().Add(delay),
		seq:      l.seq,
		task:     task,
		promise:  concurrency.NewPromise[struct{}](l),
	}
	l.timers = append(l.timers, t)
	return t.promise, nil
}

func (l *Loop) Track(key any, onShutdown func()) { l.tracked[key] = onShutdown }
func (l *Loop) Untrack(key any)                  { delete(l.tracked, key) }

// AddShutdownHook registers fn to run from Close.
func (l *Loop) AddShutdownHook(fn func()) { l.hooks = append(l.hooks, fn) }

// RunPendingTasks runs queued tasks, including tasks they queue, then due
// timers.
func (l *Loop) RunPendingTasks() {
	for len(l.tasks) > 0 {
		batch := l.tasks
		l.tasks = nil
		for _, t := range batch {
			t()
		}
	}
	l.RunScheduledTasks()
}

// RunScheduledTasks runs timers due at the current mock time in deadline
// order and returns how many ran.
func (l *Loop) RunScheduledTasks() int {
	now := l.clock.Now()
	ran := 0
	for {
		sort.Slice(l.timers, func(i, j int) bool {
			a, b := l.timers[i], l.timers[j]
			if a.deadline.Equal(b.deadline) {
				return a.seq < b.seq
			}
			return a.deadline.Before(b.deadline)
		})
		if len(l.timers) == 0 || l.timers[0].deadline.After(now) {
			return ran
		}
		t := l.timers[0]
		l.timers = l.timers[1:]
		if t.promise.IsDone() {
			continue
		}
		t.task()
		t.promise.TrySuccess(struct{}{})
		ran++
	}
}

// NextScheduledDelay reports the delay to the earliest live timer, or -1.
func (l *Loop) NextScheduledDelay() time.Duration {
	next := time.Duration(-1)
	now := l.clock.Now()
	for _, t := range l.timers {
		if t.promise.IsDone() {
			continue
		}
		if d := t.deadline.Sub(now); next < 0 || d < next {
			next = max(d, 0)
		}
	}
	return next
}

// AdvanceTime moves the mock clock and runs what became due.
func (l *Loop) AdvanceTime(d time.Duration) {
	l.clock.Add(d)
	l.RunPendingTasks()
}

// Close closes tracked channels, runs hooks and rejects further work.
func (l *Loop) Close() {
	if l.closed {
		return
	}
	for key, fn := range l.tracked {
		fn()
		delete(l.tracked, key)
	}
	l.RunPendingTasks()
	for _, t := range l.timers {
		_ = t.promise.Cancel()
	}
	l.timers = nil
	for _, h := range l.hooks {
		h()
	}
	l.closed = true
}

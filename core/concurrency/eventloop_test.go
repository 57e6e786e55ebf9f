// File: core/concurrency/eventloop_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/api"
)

func newTestLoop(t *testing.T, opts ...LoopOption) *EventLoop {
	t.Helper()
	l, err := NewEventLoop(append([]LoopOption{WithName(t.Name())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.ShutdownGracefully(0, time.Second).Await(ctx)
	})
	return l
}

// syncOn runs fn on the loop and waits for it.
func syncOn(t *testing.T, l *EventLoop, fn func()) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, l.Execute(func() {
		defer close(done)
		fn()
	}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop task did not run")
	}
}

func TestEventLoop_ExecuteOrderAndThread(t *testing.T) {
	l := newTestLoop(t)
	assert.False(t, l.InEventLoop())

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, l.Execute(func() {
			assert.True(t, l.InEventLoop())
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	syncOn(t, l, func() {})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestEventLoop_ExecuteRejectsNil(t *testing.T) {
	l := newTestLoop(t)
	assert.ErrorIs(t, l.Execute(nil), api.ErrInvalidArgument)
}

func TestEventLoop_PanickingTaskKeepsLoopAlive(t *testing.T) {
	l := newTestLoop(t)
	require.NoError(t, l.Execute(func() { panic("task") }))
	ran := false
	syncOn(t, l, func() { ran = true })
	assert.True(t, ran)
}

func TestEventLoop_ScheduledOrder(t *testing.T) {
	mock := clock.NewMock()
	l := newTestLoop(t, WithClock(mock))

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(s string) func() {
		return func() {
			mu.Lock()
			order = append(order, s)
			mu.Unlock()
		}
	}
	_, err := l.Schedule(30*time.Millisecond, record("c"))
	require.NoError(t, err)
	_, err = l.Schedule(10*time.Millisecond, record("a"))
	require.NoError(t, err)
	_, err = l.Schedule(10*time.Millisecond, record("b"))
	require.NoError(t, err)
	syncOn(t, l, func() {})
	assert.Equal(t, 3, l.ScheduledTasks())

	mock.Add(50 * time.Millisecond)
	syncOn(t, l, func() {}) // wake the loop so it rereads the clock
	syncOn(t, l, func() {})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestEventLoop_ScheduleCancel(t *testing.T) {
	mock := clock.NewMock()
	l := newTestLoop(t, WithClock(mock))

	var ran atomic.Bool
	task, err := l.Schedule(time.Second, func() { ran.Store(true) })
	require.NoError(t, err)
	require.NoError(t, task.Cancel())
	assert.ErrorIs(t, task.Err(), api.ErrCancelled)

	mock.Add(2 * time.Second)
	syncOn(t, l, func() {})
	syncOn(t, l, func() {})
	assert.False(t, ran.Load())
	assert.Equal(t, 0, l.ScheduledTasks())
}

func TestEventLoop_FixedRate(t *testing.T) {
	mock := clock.NewMock()
	l := newTestLoop(t, WithClock(mock))

	var runs atomic.Int32
	task, err := l.ScheduleAtFixedRate(10*time.Millisecond, 10*time.Millisecond, func() { runs.Add(1) })
	require.NoError(t, err)
	syncOn(t, l, func() {})

	for i := 0; i < 3; i++ {
		mock.Add(10 * time.Millisecond)
		syncOn(t, l, func() {})
		syncOn(t, l, func() {})
	}
	assert.Equal(t, int32(3), runs.Load())
	require.NoError(t, task.Cancel())

	_, err = l.ScheduleAtFixedRate(0, 0, func() {})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestEventLoop_RealTimer(t *testing.T) {
	l := newTestLoop(t)
	task, err := l.Schedule(10*time.Millisecond, func() {})
	require.NoError(t, err)
	select {
	case <-task.Done():
		assert.NoError(t, task.Err())
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled task never ran")
	}
}

func TestEventLoop_ShutdownClosesTrackedAndRejectsWork(t *testing.T) {
	l, err := NewEventLoop(WithName("shutdown"))
	require.NoError(t, err)

	var closed, hooked atomic.Bool
	syncOn(t, l, func() { l.Track("res", func() { closed.Store(true) }) })
	assert.Equal(t, 1, l.TrackedResources())
	l.AddShutdownHook(func() { hooked.Store(true) })

	pending, err := l.Schedule(time.Hour, func() {})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, l.ShutdownGracefully(10*time.Millisecond, time.Second).Await(ctx))

	assert.True(t, l.IsTerminated())
	assert.True(t, closed.Load())
	assert.True(t, hooked.Load())
	assert.Equal(t, 0, l.TrackedResources())
	assert.ErrorIs(t, pending.Err(), api.ErrCancelled)
	assert.ErrorIs(t, l.Execute(func() {}), api.ErrIllegalState)

	// repeated shutdown returns the same completed future
	assert.True(t, l.ShutdownGracefully(0, 0).IsDone())
}

func TestEventLoop_ShutdownWithoutStart(t *testing.T) {
	l, err := NewEventLoop()
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, l.ShutdownGracefully(0, 100*time.Millisecond).Await(ctx))
	assert.True(t, l.IsTerminated())
}

func TestEventLoop_TasksAcceptedDuringQuietPeriodRun(t *testing.T) {
	l, err := NewEventLoop()
	require.NoError(t, err)
	l.Start()
	f := l.ShutdownGracefully(50*time.Millisecond, time.Second)

	var ran atomic.Bool
	if err := l.Execute(func() { ran.Store(true) }); err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, f.Await(ctx))
		assert.True(t, ran.Load())
	}
}

func TestEventLoopGroup_RoundRobinAndShutdown(t *testing.T) {
	g, err := NewEventLoopGroup(WithLoops(3), WithGroupName("grp"))
	require.NoError(t, err)
	require.Equal(t, 3, g.Len())

	a, b, c, d := g.Next(), g.Next(), g.Next(), g.Next()
	assert.NotSame(t, a, b)
	assert.NotSame(t, b, c)
	assert.Same(t, a, d)
	assert.Equal(t, "grp-0", a.Name())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, g.ShutdownGracefully(ctx, 0, time.Second))
	assert.True(t, g.IsTerminated())
}

func TestImmediate(t *testing.T) {
	ran := false
	require.NoError(t, Immediate.Execute(func() { ran = true }))
	assert.True(t, ran)
	assert.True(t, Immediate.InEventLoop())

	c, err := Immediate.Schedule(time.Millisecond, func() {})
	require.NoError(t, err)
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("immediate timer did not fire")
	}
}

// scriptedPoller dispatches the callbacks sent on ready as I/O readiness.
type scriptedPoller struct {
	ready chan func()
	wake  chan struct{}
}

func newScriptedPoller() *scriptedPoller {
	return &scriptedPoller{ready: make(chan func()), wake: make(chan struct{}, 1)}
}

func (p *scriptedPoller) Add(int, api.IOEvents, api.IOCallback) error { return nil }
func (p *scriptedPoller) Modify(int, api.IOEvents) error              { return nil }
func (p *scriptedPoller) Remove(int) error                            { return nil }
func (p *scriptedPoller) Close() error                                { return nil }

func (p *scriptedPoller) Wake() error {
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

func (p *scriptedPoller) Wait(timeoutMs int) (int, error) {
	if timeoutMs == 0 {
		return 0, nil
	}
	var expired <-chan time.Time
	if timeoutMs > 0 {
		t := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
		defer t.Stop()
		expired = t.C
	}
	select {
	case fn := <-p.ready:
		fn()
		return 1, nil
	case <-p.wake:
		return 0, nil
	case <-expired:
		return 0, nil
	}
}

func TestEventLoop_IterationOrder(t *testing.T) {
	mock := clock.NewMock()
	poller := newScriptedPoller()
	l := newTestLoop(t, WithPoller(poller), WithClock(mock))

	var (
		mu  sync.Mutex
		got []string
	)
	record := func(s string) func() {
		return func() {
			mu.Lock()
			got = append(got, s)
			mu.Unlock()
		}
	}
	syncOn(t, l, func() {
		_, err := l.Schedule(time.Millisecond, record("timer"))
		require.NoError(t, err)
	})

	// readiness makes the timer due and submits a task in one iteration
	poller.ready <- func() {
		mock.Add(time.Millisecond)
		record("io")()
		require.NoError(t, l.Execute(record("task")))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, []string{"io", "task", "timer"}, got)
}

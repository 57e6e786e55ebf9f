// File: core/concurrency/eventloop.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EventLoop is a single-goroutine executor bound to one readiness poller.
// Each iteration it:
//   1. waits on the poller with a timeout derived from the next scheduled
//      deadline (zero when tasks are queued); ready descriptors are
//      dispatched inline during the wait,
//   2. drains tasks submitted through Execute, bounded per iteration,
//   3. runs due scheduled tasks in deadline order.
//
// Execute is the only entry point safe from any goroutine. Producers wake
// a sleeping loop through the poller; wakeups are coalesced until the loop
// observes them.

package concurrency

import (
	"container/heap"
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-net/affinity"
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/logging"
	"github.com/momentics/hioload-net/reactor"
)

const (
	loopNotStarted int32 = iota
	loopStarted
	loopShuttingDown
	loopShutdown
	loopTerminated
)

const (
	// DefaultQuietPeriod is how long a shutting-down loop must stay idle.
	DefaultQuietPeriod = 200 * time.Millisecond
	// DefaultShutdownTimeout bounds a graceful shutdown.
	DefaultShutdownTimeout = 15 * time.Second

	// shutdownPollMs keeps a shutting-down loop re-checking its quiet period.
	shutdownPollMs = 10
)

// EventLoop runs tasks, timers and I/O callbacks on one goroutine.
type EventLoop struct {
	cfg    loopConfig
	poller api.Poller
	log    zerolog.Logger

	state       atomic.Int32
	goid        atomic.Uint64
	wakePending atomic.Bool

	mu          sync.Mutex
	tasks       []func()
	hooks       []func()
	quietPeriod time.Duration
	shutdownTTL time.Duration

	// loop goroutine only
	spare         []func()
	scheduled     taskHeap
	seq           uint64
	tracked       map[any]func()
	shutdownBegun bool
	shutdownStart time.Time
	lastExecution time.Time

	termination *Promise[struct{}]

	pendingTasks   atomic.Int64
	scheduledCount atomic.Int64
	trackedCount   atomic.Int64
	tasksExecuted  atomic.Uint64
	ioWakeups      atomic.Uint64
}

var _ api.EventExecutor = (*EventLoop)(nil)

// NewEventLoop creates a loop. The goroutine starts on the first Execute
// or an explicit Start.
func NewEventLoop(opts ...LoopOption) (*EventLoop, error) {
	cfg := defaultLoopConfig()
	for _, o := range opts {
		o(&cfg)
	}
	p := cfg.poller
	if p == nil {
		var err error
		if p, err = reactor.New(); err != nil {
			return nil, err
		}
	}
	l := &EventLoop{
		cfg:         cfg,
		poller:      p,
		log:         logging.For("eventloop").With().Str("loop", cfg.name).Logger(),
		tracked:     make(map[any]func()),
		termination: NewPromise[struct{}](Immediate),
	}
	return l, nil
}

// Name returns the loop label.
func (l *EventLoop) Name() string { return l.cfg.name }

// Poller exposes the readiness poller to transports. Only use it from the
// loop goroutine.
func (l *EventLoop) Poller() api.Poller { return l.poller }

// Clock returns the clock deadlines are computed with.
func (l *EventLoop) Clock() clock.Clock { return l.cfg.clock }

// Start launches the loop goroutine if not yet running.
func (l *EventLoop) Start() {
	if l.state.CompareAndSwap(loopNotStarted, loopStarted) {
		go l.run()
	}
}

// InEventLoop reports whether the caller is the loop goroutine.
func (l *EventLoop) InEventLoop() bool {
	id := l.goid.Load()
	return id != 0 && id == goroutineID()
}

// Execute enqueues task. Tasks from one goroutine run in submission order.
func (l *EventLoop) Execute(task func()) error {
	if task == nil {
		return api.ErrInvalidArgument.WithContext("task", nil)
	}
	l.mu.Lock()
	if l.state.Load() >= loopShutdown {
		l.mu.Unlock()
		return api.ErrIllegalState.WithContext("loop", l.cfg.name).WithContext("reason", "terminated")
	}
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()
	l.pendingTasks.Add(1)

	if l.state.Load() == loopNotStarted {
		l.Start()
	}
	if !l.InEventLoop() {
		l.wakeup()
	}
	return nil
}

func (l *EventLoop) wakeup() {
	if l.wakePending.CompareAndSwap(false, true) {
		if err := l.poller.Wake(); err != nil && !errors.Is(err, reactor.ErrPollerClosed) {
			l.log.Error().Err(err).Msg("wakeup failed")
		}
	}
}

// Schedule runs task once after delay.
func (l *EventLoop) Schedule(delay time.Duration, task func()) (api.Cancelable, error) {
	t, err := l.ScheduleTask(delay, 0, task)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ScheduleAtFixedRate runs task after initial and then every period until
// cancelled.
func (l *EventLoop) ScheduleAtFixedRate(initial, period time.Duration, task func()) (*ScheduledTask, error) {
	if period <= 0 {
		return nil, api.ErrInvalidArgument.WithContext("period", period)
	}
	return l.ScheduleTask(initial, period, task)
}

// ScheduleTask is the common entry for one-shot and periodic tasks.
func (l *EventLoop) ScheduleTask(delay, period time.Duration, task func()) (*ScheduledTask, error) {
	if task == nil {
		return nil, api.ErrInvalidArgument.WithContext("task", nil)
	}
	if delay < 0 {
		delay = 0
	}
	t := &ScheduledTask{
		loop:     l,
		deadline: l.cfg.clock.Now().Add(delay),
		period:   period,
		index:    -1,
		task:     task,
		promise:  NewPromise[struct{}](l),
	}
	if l.InEventLoop() {
		l.pushScheduled(t)
		return t, nil
	}
	if err := l.Execute(func() { l.pushScheduled(t) }); err != nil {
		return nil, err
	}
	return t, nil
}

func (l *EventLoop) pushScheduled(t *ScheduledTask) {
	if t.promise.IsDone() {
		return
	}
	l.seq++
	t.seq = l.seq
	heap.Push(&l.scheduled, t)
	l.scheduledCount.Store(int64(l.scheduled.Len()))
}

func (l *EventLoop) removeScheduled(t *ScheduledTask) {
	l.scheduled.remove(t)
	l.scheduledCount.Store(int64(l.scheduled.Len()))
}

// Track registers a resource closed when the loop starts shutting down.
// Channels call it on registration. Must run on the loop.
func (l *EventLoop) Track(key any, onShutdown func()) {
	if _, ok := l.tracked[key]; !ok {
		l.trackedCount.Add(1)
	}
	l.tracked[key] = onShutdown
}

// Untrack removes a tracked resource. Must run on the loop.
func (l *EventLoop) Untrack(key any) {
	if _, ok := l.tracked[key]; ok {
		delete(l.tracked, key)
		l.trackedCount.Add(-1)
	}
}

// AddShutdownHook registers fn to run on the loop right before it
// terminates.
func (l *EventLoop) AddShutdownHook(fn func()) {
	l.mu.Lock()
	l.hooks = append(l.hooks, fn)
	l.mu.Unlock()
}

// ShutdownGracefully stops accepting work once the loop stayed idle for
// quietPeriod, or after timeout at the latest. Tracked resources are
// closed first. Returns the termination future.
func (l *EventLoop) ShutdownGracefully(quietPeriod, timeout time.Duration) *Promise[struct{}] {
	l.mu.Lock()
	for {
		st := l.state.Load()
		if st >= loopShuttingDown {
			break
		}
		if l.state.CompareAndSwap(st, loopShuttingDown) {
			l.quietPeriod = quietPeriod
			l.shutdownTTL = max(timeout, quietPeriod)
			l.mu.Unlock()
			if st == loopNotStarted {
				go l.run()
			}
			l.wakeup()
			return l.termination
		}
	}
	l.mu.Unlock()
	return l.termination
}

// Shutdown is ShutdownGracefully with defaults that waits for termination
// or ctx.
func (l *EventLoop) Shutdown(ctx context.Context) error {
	return l.ShutdownGracefully(DefaultQuietPeriod, DefaultShutdownTimeout).Await(ctx)
}

// TerminationFuture completes once the loop goroutine exited.
func (l *EventLoop) TerminationFuture() *Promise[struct{}] { return l.termination }

// IsShuttingDown reports whether shutdown was requested.
func (l *EventLoop) IsShuttingDown() bool { return l.state.Load() >= loopShuttingDown }

// IsTerminated reports whether the loop goroutine exited.
func (l *EventLoop) IsTerminated() bool { return l.state.Load() == loopTerminated }

// PendingTasks approximates queued external tasks.
func (l *EventLoop) PendingTasks() int { return int(l.pendingTasks.Load()) }

// ScheduledTasks approximates queued timers.
func (l *EventLoop) ScheduledTasks() int { return int(l.scheduledCount.Load()) }

// TrackedResources counts registered channels.
func (l *EventLoop) TrackedResources() int { return int(l.trackedCount.Load()) }

// TasksExecuted counts tasks and timers run so far.
func (l *EventLoop) TasksExecuted() uint64 { return l.tasksExecuted.Load() }

func (l *EventLoop) run() {
	if l.cfg.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	l.goid.Store(goroutineID())
	defer l.goid.Store(0)
	if l.cfg.cpu >= 0 {
		if err := affinity.SetAffinity(l.cfg.cpu); err != nil {
			l.log.Warn().Err(err).Int("cpu", l.cfg.cpu).Msg("cpu pinning failed")
		}
	}
	l.log.Debug().Msg("event loop started")
	l.lastExecution = time.Now()

	for {
		n, err := l.poller.Wait(l.pollTimeout())
		if err != nil {
			l.log.Error().Err(err).Msg("poller wait failed")
			time.Sleep(time.Millisecond)
		}
		if n > 0 {
			l.ioWakeups.Add(uint64(n))
		}
		l.wakePending.Store(false)

		l.runTasks(l.cfg.maxTasksPerTick)
		l.runScheduled()

		if l.state.Load() >= loopShuttingDown && l.confirmShutdown() {
			break
		}
	}
	l.terminate()
}

func (l *EventLoop) hasTasks() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks) > 0
}

// pollTimeout returns milliseconds until the next deadline, 0 when work is
// queued, -1 to block.
func (l *EventLoop) pollTimeout() int {
	if l.hasTasks() {
		return 0
	}
	timeout := -1
	if next := l.scheduled.peek(); next != nil {
		d := next.deadline.Sub(l.cfg.clock.Now())
		if d <= 0 {
			return 0
		}
		timeout = int((d + time.Millisecond - 1) / time.Millisecond)
	}
	if l.state.Load() >= loopShuttingDown && (timeout < 0 || timeout > shutdownPollMs) {
		timeout = shutdownPollMs
	}
	return timeout
}

func (l *EventLoop) runScheduled() {
	now := l.cfg.clock.Now()
	for {
		t := l.scheduled.peek()
		if t == nil || t.deadline.After(now) {
			break
		}
		heap.Pop(&l.scheduled)
		if t.promise.IsDone() {
			continue
		}
		l.safeExecute(t.task)
		if t.period > 0 {
			t.deadline = t.deadline.Add(t.period)
			l.pushScheduled(t)
			continue
		}
		t.promise.TrySuccess(struct{}{})
	}
	l.scheduledCount.Store(int64(l.scheduled.Len()))
}

// runTasks drains queued tasks in batches until the queue is empty or at
// least budget tasks ran. It reports whether any task ran.
func (l *EventLoop) runTasks(budget int) bool {
	ran := 0
	for ran < budget {
		l.mu.Lock()
		if len(l.tasks) == 0 {
			l.mu.Unlock()
			break
		}
		batch := l.tasks
		l.tasks = l.spare[:0]
		l.mu.Unlock()

		for i, t := range batch {
			l.safeExecute(t)
			batch[i] = nil
		}
		l.pendingTasks.Add(-int64(len(batch)))
		ran += len(batch)
		l.spare = batch[:0]
	}
	if ran > 0 {
		l.lastExecution = time.Now()
	}
	return ran > 0
}

func (l *EventLoop) safeExecute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Msg("task panicked")
		}
	}()
	l.tasksExecuted.Add(1)
	task()
}

// confirmShutdown closes tracked resources on the first call and reports
// whether the loop may exit.
func (l *EventLoop) confirmShutdown() bool {
	now := time.Now()
	if !l.shutdownBegun {
		l.shutdownBegun = true
		l.shutdownStart = now
		l.lastExecution = now
		for key, closeFn := range l.tracked {
			l.safeExecute(closeFn)
			l.Untrack(key)
		}
		return false
	}
	l.mu.Lock()
	quiet, ttl := l.quietPeriod, l.shutdownTTL
	l.mu.Unlock()

	if now.Sub(l.shutdownStart) >= ttl {
		return true
	}
	if l.hasTasks() {
		return false
	}
	return now.Sub(l.lastExecution) >= quiet
}

func (l *EventLoop) terminate() {
	l.mu.Lock()
	l.state.Store(loopShutdown)
	hooks := l.hooks
	l.hooks = nil
	l.mu.Unlock()

	// Execute is closed now; finish what was already accepted.
	for l.runTasks(1 << 30) {
	}
	for _, t := range l.scheduled {
		_ = t.promise.Cancel()
	}
	l.scheduled = nil
	l.scheduledCount.Store(0)
	for _, h := range hooks {
		l.safeExecute(h)
	}
	if err := l.poller.Close(); err != nil && !errors.Is(err, reactor.ErrPollerClosed) {
		l.log.Error().Err(err).Msg("poller close failed")
	}
	l.state.Store(loopTerminated)
	l.log.Debug().Uint64("tasks", l.tasksExecuted.Load()).Msg("event loop terminated")
	l.termination.TrySuccess(struct{}{})
}

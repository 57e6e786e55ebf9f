// File: core/concurrency/scheduled.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Scheduled tasks live in a min-heap ordered by deadline, then by
// submission sequence so equal deadlines run in submission order. The heap
// is only touched from the loop goroutine.

package concurrency

import (
	"container/heap"
	"time"

	"github.com/momentics/hioload-net/api"
)

// ScheduledTask is a task due at a deadline on one loop.
type ScheduledTask struct {
	loop     *EventLoop
	deadline time.Time
	period   time.Duration
	seq      uint64
	index    int
	task     func()
	promise  *Promise[struct{}]
}

var _ api.Cancelable = (*ScheduledTask)(nil)

// Deadline returns when the task is (next) due.
func (t *ScheduledTask) Deadline() time.Time { return t.deadline }

// Cancel prevents a pending run. The heap entry is removed on the loop.
func (t *ScheduledTask) Cancel() error {
	if err := t.promise.Cancel(); err != nil {
		return err
	}
	if t.loop.InEventLoop() {
		t.loop.removeScheduled(t)
		return nil
	}
	// a terminated loop has dropped its heap already.
	_ = t.loop.Execute(func() { t.loop.removeScheduled(t) })
	return nil
}

// Done is closed once the task ran (one-shot) or was cancelled.
func (t *ScheduledTask) Done() <-chan struct{} { return t.promise.Done() }

// Err reports ErrCancelled after cancellation.
func (t *ScheduledTask) Err() error { return t.promise.Cause() }

// Promise exposes the completion of the task.
func (t *ScheduledTask) Promise() *Promise[struct{}] { return t.promise }

type taskHeap []*ScheduledTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*ScheduledTask)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

func (h *taskHeap) peek() *ScheduledTask {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

func (h *taskHeap) remove(t *ScheduledTask) {
	if t.index >= 0 && t.index < len(*h) && (*h)[t.index] == t {
		heap.Remove(h, t.index)
	}
}

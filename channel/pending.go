// File: channel/pending.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// PendingWriteQueue lets a handler hold writes back, for example until a
// handshake finished, while still charging them to the channel's pending
// bytes so writability stays truthful. Loop goroutine only.

package channel

import (
	"github.com/eapache/queue"

	"github.com/momentics/hioload-net/core/buffer"
	"github.com/momentics/hioload-net/core/concurrency"
)

type pendingWrite struct {
	msg     any
	size    int64
	promise *Promise
}

// PendingWriteQueue buffers writes of one handler in FIFO order.
type PendingWriteQueue struct {
	ctx   *HandlerContext
	out   *OutboundBuffer
	q     *queue.Queue
	bytes int64
}

// NewPendingWriteQueue creates a queue writing through ctx.
func NewPendingWriteQueue(ctx *HandlerContext) *PendingWriteQueue {
	return &PendingWriteQueue{
		ctx: ctx,
		out: ctx.Channel().unsafe.buf,
		q:   queue.New(),
	}
}

// Add queues msg with its promise and charges its size to the channel.
func (q *PendingWriteQueue) Add(msg any, p *Promise) {
	if p == nil {
		p = q.ctx.NewPromise()
	}
	size := int64(max(q.ctx.Channel().cfg.SizeEstimator(msg), 0))
	q.q.Add(&pendingWrite{msg: msg, size: size, promise: p})
	q.bytes += size
	q.out.IncrementPendingOutboundBytes(size)
}

// IsEmpty reports whether nothing is queued.
func (q *PendingWriteQueue) IsEmpty() bool { return q.q.Length() == 0 }

// Size counts queued writes.
func (q *PendingWriteQueue) Size() int { return q.q.Length() }

// Bytes returns the summed size estimate of queued writes.
func (q *PendingWriteQueue) Bytes() int64 { return q.bytes }

// Current returns the first queued message or nil.
func (q *PendingWriteQueue) Current() any {
	if q.q.Length() == 0 {
		return nil
	}
	return q.q.Peek().(*pendingWrite).msg
}

func (q *PendingWriteQueue) take() *pendingWrite {
	w := q.q.Remove().(*pendingWrite)
	q.bytes -= w.size
	q.out.DecrementPendingOutboundBytes(w.size)
	return w
}

// RemoveAndWriteAll writes every queued message through the context in
// order and returns a promise completing once all of those writes did.
// Writes queued by listeners while draining are written too.
func (q *PendingWriteQueue) RemoveAndWriteAll() *Promise {
	agg := q.ctx.NewPromise()
	if q.IsEmpty() {
		agg.TrySuccess(struct{}{})
		return agg
	}
	c := concurrency.NewPromiseCombiner()
	for !q.IsEmpty() {
		// detach the current batch; reentrant Adds land in a fresh queue
		batch := q.q
		q.q = queue.New()
		for batch.Length() > 0 {
			w := batch.Remove().(*pendingWrite)
			q.bytes -= w.size
			q.out.DecrementPendingOutboundBytes(w.size)
			_ = c.Add(w.promise)
			q.ctx.Write(w.msg, w.promise)
		}
	}
	_ = c.Finish(agg)
	return agg
}

// RemoveAndWrite writes only the first queued message.
func (q *PendingWriteQueue) RemoveAndWrite() *Promise {
	if q.IsEmpty() {
		return nil
	}
	w := q.take()
	return q.ctx.Write(w.msg, w.promise)
}

// RemoveAndFailAll fails every queued write with cause, releasing each
// message once. Writes added by failure listeners are failed as well.
func (q *PendingWriteQueue) RemoveAndFailAll(cause error) {
	for !q.IsEmpty() {
		q.RemoveAndFail(cause)
	}
}

// RemoveAndFail fails the first queued write with cause.
func (q *PendingWriteQueue) RemoveAndFail(cause error) {
	if q.IsEmpty() {
		return
	}
	w := q.take()
	buffer.SafeRelease(w.msg)
	w.promise.TryFailure(cause)
}

// Remove drops the first queued write without completing it, releases its
// message and returns its promise.
func (q *PendingWriteQueue) Remove() *Promise {
	if q.IsEmpty() {
		return nil
	}
	w := q.take()
	buffer.SafeRelease(w.msg)
	return w.promise
}

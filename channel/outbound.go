// File: channel/outbound.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// OutboundBuffer holds the writes of one channel between Write and the
// transport. Entries start unflushed; Flush moves them to the flushed queue
// the transport drains. Every entry's size estimate is charged to the
// pending byte total on add and credited back exactly once when the entry
// leaves, whether written, failed or cancelled. Loop goroutine only, except
// for the read-only accessors.

package channel

import (
	"sync/atomic"

	"github.com/eapache/queue"
	"go.uber.org/multierr"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/core/buffer"
)

type outboundEntry struct {
	msg     any
	size    int
	promise *Promise
}

// OutboundBuffer queues outbound messages and derives writability from
// the pending byte total.
type OutboundBuffer struct {
	ch        *Channel
	high, low int64

	unflushed *queue.Queue
	flushed   *queue.Queue

	pending atomic.Int64
	closed  bool
	inFail  bool
}

func newOutboundBuffer(ch *Channel, low, high int) *OutboundBuffer {
	return &OutboundBuffer{
		ch:        ch,
		low:       int64(low),
		high:      int64(high),
		unflushed: queue.New(),
		flushed:   queue.New(),
	}
}

// AddMessage queues msg behind the existing writes.
func (o *OutboundBuffer) AddMessage(msg any, size int, p *Promise) {
	if size < 0 {
		size = 0
	}
	o.unflushed.Add(&outboundEntry{msg: msg, size: size, promise: p})
	o.IncrementPendingOutboundBytes(int64(size))
}

// AddFlush marks everything queued so far as ready for the transport.
// Writes whose promise was cancelled in the meantime are dropped here.
func (o *OutboundBuffer) AddFlush() {
	for o.unflushed.Length() > 0 {
		e := o.unflushed.Remove().(*outboundEntry)
		if e.promise.IsDone() {
			buffer.SafeRelease(e.msg)
			o.DecrementPendingOutboundBytes(int64(e.size))
			continue
		}
		o.flushed.Add(e)
	}
}

// Current returns the first flushed message or nil.
func (o *OutboundBuffer) Current() any {
	if o.flushed.Length() == 0 {
		return nil
	}
	return o.flushed.Peek().(*outboundEntry).msg
}

// ForEachFlushed visits flushed messages in order until fn returns false.
func (o *OutboundBuffer) ForEachFlushed(fn func(msg any) bool) {
	for i := 0; i < o.flushed.Length(); i++ {
		if !fn(o.flushed.Get(i).(*outboundEntry).msg) {
			return
		}
	}
}

// Remove completes the first flushed write successfully and releases its
// message. It reports false when nothing is flushed.
func (o *OutboundBuffer) Remove() bool {
	if o.flushed.Length() == 0 {
		return false
	}
	e := o.flushed.Remove().(*outboundEntry)
	buffer.SafeRelease(e.msg)
	e.promise.TrySuccess(struct{}{})
	o.DecrementPendingOutboundBytes(int64(e.size))
	return true
}

// RemoveError fails the first flushed write with err and releases its
// message.
func (o *OutboundBuffer) RemoveError(err error) bool {
	if o.flushed.Length() == 0 {
		return false
	}
	e := o.flushed.Remove().(*outboundEntry)
	buffer.SafeRelease(e.msg)
	e.promise.TryFailure(err)
	o.DecrementPendingOutboundBytes(int64(e.size))
	return true
}

// RemoveBytes accounts n bytes written from the leading flushed buffers.
// Fully written buffers are removed; a partially written one has its reader
// index advanced. Empty buffers at the front are removed as well.
func (o *OutboundBuffer) RemoveBytes(n int) {
	for o.flushed.Length() > 0 {
		b, ok := o.Current().(*buffer.ByteBuf)
		if !ok {
			return
		}
		r := b.ReadableBytes()
		if r > n {
			if n > 0 {
				_ = b.Skip(n)
			}
			return
		}
		n -= r
		o.Remove()
	}
}

// FailFlushed fails every flushed write with cause. Reentrant calls from
// promise listeners are ignored; the outer call finishes the drain.
func (o *OutboundBuffer) FailFlushed(cause error) {
	if o.inFail {
		return
	}
	o.inFail = true
	defer func() { o.inFail = false }()
	for o.RemoveError(cause) {
	}
}

// Close fails all writes, flushed or not, and stops writability events.
// It returns the message release failures, if any.
func (o *OutboundBuffer) Close(cause error) error {
	if o.closed {
		return nil
	}
	o.FailFlushed(cause)
	o.closed = true
	var errs error
	for o.unflushed.Length() > 0 {
		e := o.unflushed.Remove().(*outboundEntry)
		if _, err := buffer.Release(e.msg); err != nil {
			errs = multierr.Append(errs, err)
		}
		e.promise.TryFailure(cause)
		o.DecrementPendingOutboundBytes(int64(e.size))
	}
	return errs
}

// IncrementPendingOutboundBytes charges n bytes and turns the channel
// unwritable once the total first exceeds the high watermark.
func (o *OutboundBuffer) IncrementPendingOutboundBytes(n int64) {
	if n == 0 {
		return
	}
	if o.pending.Add(n) > o.high {
		o.setWritable(false)
	}
}

// DecrementPendingOutboundBytes credits n bytes and turns the channel
// writable again once the total is at or below the low watermark.
func (o *OutboundBuffer) DecrementPendingOutboundBytes(n int64) {
	if n == 0 {
		return
	}
	if o.pending.Add(-n) <= o.low {
		o.setWritable(true)
	}
}

func (o *OutboundBuffer) setWritable(w bool) {
	if o.closed {
		return
	}
	if o.ch.writable.CompareAndSwap(!w, w) {
		o.ch.pipeline.FireChannelWritabilityChanged()
	}
}

// TotalPendingBytes returns the bytes charged by queued writes.
func (o *OutboundBuffer) TotalPendingBytes() int64 { return o.pending.Load() }

// Size counts flushed writes.
func (o *OutboundBuffer) Size() int { return o.flushed.Length() }

// Unflushed counts writes not flushed yet.
func (o *OutboundBuffer) Unflushed() int { return o.unflushed.Length() }

// IsEmpty reports whether no flushed write is left.
func (o *OutboundBuffer) IsEmpty() bool { return o.flushed.Length() == 0 }

// BytesBeforeUnwritable returns how many more bytes fit before the
// channel turns unwritable.
func (o *OutboundBuffer) BytesBeforeUnwritable() int64 {
	return max(o.high-o.pending.Load()+1, 0)
}

var errOutboundClosed = api.ErrChannelClosed.WithContext("reason", "outbound buffer closed")

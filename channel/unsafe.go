// File: channel/unsafe.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Unsafe holds the operations that touch the transport. They run on the
// channel's loop only; the head of the pipeline and the transports call
// them, user code goes through Channel and the pipeline.

package channel

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/core/buffer"
	"github.com/momentics/hioload-net/pool"
)

// Unsafe is the transport-facing half of a channel.
type Unsafe struct {
	ch *Channel

	// buf lives as long as the channel; outbound is nil once closed.
	buf      *OutboundBuffer
	outbound *OutboundBuffer
	recv     *RecvHandle

	readPending    bool
	inFlush        bool
	closeInitiated bool

	connectPromise *Promise
	connectTimer   api.Cancelable
}

func newUnsafe(ch *Channel) *Unsafe {
	out := newOutboundBuffer(ch, ch.cfg.WriteBufferLowWaterMark, ch.cfg.WriteBufferHighWaterMark)
	return &Unsafe{
		ch:       ch,
		buf:      out,
		outbound: out,
		recv:     ch.cfg.RecvBufAllocator.NewHandle(),
	}
}

func (u *Unsafe) register(loop Loop, p *Promise) {
	ch := u.ch
	if !ch.IsOpen() {
		p.TryFailure(api.ErrChannelClosed.WithContext("op", "register"))
		return
	}
	if err := ch.transport.Register(ch); err != nil {
		u.closeForcibly()
		p.TryFailure(err)
		return
	}
	ch.bindAllocator(loop)
	ch.advance(api.StateRegistered)
	loop.Track(ch, func() { u.close(ch.NewPromise(), nil) })
	if !p.TrySuccess(struct{}{}) {
		// cancelled while queued
		u.close(ch.NewPromise(), nil)
		return
	}
	ch.pipeline.FireChannelRegistered()
	if ch.transport.Active() {
		if isServer(ch.transport) {
			ch.advance(api.StateBound)
		} else {
			ch.advance(api.StateConnected)
		}
		u.activate()
	}
}

func (u *Unsafe) activate() {
	if u.ch.IsOpen() && u.ch.advance(api.StateActive) {
		u.ch.pipeline.FireChannelActive()
	}
}

func (u *Unsafe) bind(local net.Addr, p *Promise) {
	ch := u.ch
	if !ch.IsRegistered() || !ch.IsOpen() {
		p.TryFailure(api.ErrChannelClosed.WithContext("op", "bind"))
		return
	}
	wasActive := ch.IsActive()
	if err := ch.transport.Bind(local); err != nil {
		p.TryFailure(err)
		u.closeIfClosed()
		return
	}
	ch.advance(api.StateBound)
	p.TrySuccess(struct{}{})
	if !wasActive && ch.transport.Active() {
		u.later(u.activate)
	}
}

func (u *Unsafe) connect(remote, local net.Addr, p *Promise) {
	ch := u.ch
	switch {
	case !ch.IsRegistered() || !ch.IsOpen():
		p.TryFailure(api.ErrChannelClosed.WithContext("op", "connect"))
		return
	case u.connectPromise != nil:
		p.TryFailure(ErrConnectPending)
		return
	case ch.IsActive():
		p.TryFailure(api.ErrIllegalState.WithContext("reason", "already connected"))
		return
	}
	pending, err := ch.transport.Connect(remote, local)
	if err != nil {
		p.TryFailure(err)
		u.closeIfClosed()
		return
	}
	if !pending {
		u.fulfillConnect(p)
		return
	}
	u.connectPromise = p
	if d := ch.cfg.ConnectTimeout; d > 0 {
		u.connectTimer, _ = ch.exec.Schedule(d, func() {
			cp := u.connectPromise
			if cp != nil && cp.TryFailure(ErrConnectTimeout.WithContext("remote", remote)) {
				u.connectPromise = nil
				u.close(ch.NewPromise(), nil)
			}
		})
	}
	p.AddListener(func(f *Promise) {
		if f.IsCancelled() && u.connectPromise == f {
			u.cancelConnectTimer()
			u.connectPromise = nil
			u.close(ch.NewPromise(), nil)
		}
	})
}

// FinishConnect completes a pending connect. Transports call it once the
// connection is established or failed.
func (u *Unsafe) FinishConnect(err error) {
	p := u.connectPromise
	if p == nil {
		return
	}
	u.connectPromise = nil
	u.cancelConnectTimer()
	if err != nil {
		p.TryFailure(err)
		u.close(u.ch.NewPromise(), nil)
		return
	}
	u.fulfillConnect(p)
}

func (u *Unsafe) fulfillConnect(p *Promise) {
	ch := u.ch
	wasActive := ch.IsActive()
	ch.advance(api.StateConnected)
	set := p.TrySuccess(struct{}{})
	if !wasActive {
		u.activate()
	}
	if !set {
		u.close(ch.NewPromise(), nil)
	}
}

func (u *Unsafe) cancelConnectTimer() {
	if u.connectTimer != nil {
		_ = u.connectTimer.Cancel()
		u.connectTimer = nil
	}
}

func (u *Unsafe) beginRead() {
	if !u.ch.IsActive() {
		return
	}
	u.readPending = true
	if err := u.ch.transport.BeginRead(); err != nil {
		u.ch.pipeline.FireExceptionCaught(err)
		u.close(u.ch.NewPromise(), err)
	}
}

func (u *Unsafe) write(msg any, p *Promise) {
	out := u.outbound
	if out == nil {
		buffer.SafeRelease(msg)
		p.TryFailure(errOutboundClosed)
		return
	}
	out.AddMessage(msg, u.ch.cfg.SizeEstimator(msg), p)
}

func (u *Unsafe) flush() {
	if u.outbound == nil {
		return
	}
	u.outbound.AddFlush()
	u.ForceFlush()
}

// ForceFlush writes already flushed entries. Transports call it when the
// socket became writable again.
func (u *Unsafe) ForceFlush() {
	out := u.outbound
	if u.inFlush || out == nil || out.IsEmpty() {
		return
	}
	if !u.ch.IsActive() {
		if u.ch.IsOpen() {
			out.FailFlushed(ErrNotYetConnected)
		} else {
			out.FailFlushed(api.ErrChannelClosed)
		}
		return
	}
	u.inFlush = true
	err := u.ch.transport.Write(out)
	u.inFlush = false
	if err != nil {
		out.FailFlushed(err)
		u.ch.pipeline.FireExceptionCaught(err)
		u.close(u.ch.NewPromise(), err)
	}
}

// Pending returns the outbound buffer for transports draining it.
func (u *Unsafe) Pending() *OutboundBuffer { return u.outbound }

// ReadStream runs one read loop for a byte transport. read fills the
// writable part of buf and returns the byte count; zero means no data for
// now and io.EOF that the peer closed. The loop stops at the per-read
// message budget or when a read did not fill its buffer.
func (u *Unsafe) ReadStream(read func(buf *buffer.ByteBuf) (int, error)) {
	ch := u.ch
	if !ch.IsActive() {
		return
	}
	if !u.readPending && !ch.AutoRead() {
		_ = ch.transport.StopRead()
		return
	}
	h := u.recv
	h.Reset(ch.cfg.MaxMessagesPerRead)
	alloc := ch.Allocator()

	var (
		readErr error
		eof     bool
	)
	for {
		buf, err := h.Allocate(alloc)
		if err != nil {
			readErr = err
			break
		}
		h.AttemptedBytesRead(buf.WritableBytes())
		n, err := read(buf)
		h.LastBytesRead(n)
		if n <= 0 {
			buffer.SafeRelease(buf)
		} else {
			h.IncMessagesRead(1)
			u.readPending = false
			ch.pipeline.FireChannelRead(buf)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				eof = true
			} else {
				readErr = err
			}
			break
		}
		if n <= 0 || !h.ContinueReading() || !ch.IsOpen() {
			break
		}
	}
	h.ReadComplete()
	ch.pipeline.FireChannelReadComplete()

	switch {
	case readErr != nil:
		ch.pipeline.FireExceptionCaught(readErr)
		u.close(ch.NewPromise(), readErr)
	case eof:
		u.close(ch.NewPromise(), nil)
	case !u.readPending && !ch.AutoRead():
		_ = ch.transport.StopRead()
	}
}

// ReadMessages delivers up to MaxMessagesPerRead messages pulled from next
// and reports whether the budget ran out before next was exhausted.
func (u *Unsafe) ReadMessages(next func() (any, bool)) (more bool) {
	ch := u.ch
	if !ch.IsActive() {
		return false
	}
	budget := ch.cfg.MaxMessagesPerRead
	n := 0
	for n < budget && ch.IsOpen() {
		msg, ok := next()
		if !ok {
			break
		}
		n++
		u.readPending = false
		ch.pipeline.FireChannelRead(msg)
	}
	if n > 0 {
		ch.pipeline.FireChannelReadComplete()
	}
	if !u.readPending && !ch.AutoRead() {
		_ = ch.transport.StopRead()
	}
	return n == budget
}

// ReadPending reports whether a read was requested and not yet satisfied.
func (u *Unsafe) ReadPending() bool { return u.readPending }

func (u *Unsafe) closeIfClosed() {
	if !u.ch.IsOpen() {
		u.close(u.ch.NewPromise(), nil)
	}
}

// Close tears the channel down after an I/O fault. cause fails the queued
// writes; nil means an orderly close.
func (u *Unsafe) Close(cause error) *Promise {
	p := u.ch.NewPromise()
	u.close(p, cause)
	return p
}

func (u *Unsafe) close(p *Promise, cause error) {
	ch := u.ch
	if u.closeInitiated {
		ch.closeFuture.AddListener(func(f *Promise) { p.Complete(struct{}{}, f.Cause()) })
		return
	}
	u.closeInitiated = true
	wasActive := ch.IsActive()
	ch.closing.Store(true)

	out := u.outbound
	u.outbound = nil
	closeErr := ch.transport.Close()

	if cp := u.connectPromise; cp != nil {
		u.connectPromise = nil
		u.cancelConnectTimer()
		cp.TryFailure(api.ErrChannelClosed.WithContext("op", "connect"))
	}

	failure := api.ErrChannelClosed.WithContext("channel", ch.id.ShortText())
	if cause != nil {
		failure = failure.Wrap(cause)
	}
	if err := out.Close(failure); err != nil {
		ch.log.Warn().Err(err).Msg("releasing queued writes failed")
	}

	if wasActive && ch.advance(api.StateInactive) {
		ch.pipeline.FireChannelInactive()
	}
	registered := ch.IsRegistered()
	ch.advance(api.StateClosed)
	if registered {
		if l := ch.Loop(); l != nil {
			l.Untrack(ch)
		}
		ch.pipeline.FireChannelUnregistered()
	}
	ch.pipeline.destroy()

	if closeErr != nil {
		ch.log.Debug().Err(closeErr).Msg("transport close failed")
	}
	// every close promise and the close future share one outcome
	ch.closeFuture.Complete(struct{}{}, closeErr)
	p.Complete(struct{}{}, closeErr)
}

// closeForcibly closes without pipeline events. Used when registration
// failed and no loop will run the channel.
func (u *Unsafe) closeForcibly() {
	ch := u.ch
	if u.closeInitiated {
		return
	}
	u.closeInitiated = true
	ch.closing.Store(true)
	if out := u.outbound; out != nil {
		u.outbound = nil
		_ = out.Close(api.ErrChannelClosed)
	}
	err := ch.transport.Close()
	if err != nil {
		ch.log.Debug().Err(err).Msg("transport close failed")
	}
	ch.advance(api.StateClosed)
	ch.closeFuture.Complete(struct{}{}, err)
}

func (u *Unsafe) later(task func()) {
	if err := u.ch.exec.Execute(task); err != nil {
		u.ch.log.Debug().Err(err).Msg("loop rejected deferred channel task")
	}
}

// loopCaches remembers which (allocator, loop) pairs already release their
// cache on loop shutdown.
var loopCaches sync.Map

type cacheKey struct {
	alloc *pool.PooledAllocator
	loop  Loop
}

type shutdownHooker interface {
	AddShutdownHook(fn func())
}

// bindAllocator narrows a pooled allocator to the cache of loop, so reads
// on this loop allocate without touching the shared arenas.
func (c *Channel) bindAllocator(loop Loop) {
	pa, ok := c.cfg.Allocator.(*pool.PooledAllocator)
	if !ok {
		return
	}
	c.alloc.Store(&allocRef{pa.ForExecutor(loop)})
	if h, ok := loop.(shutdownHooker); ok {
		if _, loaded := loopCaches.LoadOrStore(cacheKey{pa, loop}, struct{}{}); !loaded {
			h.AddShutdownHook(func() {
				pa.ReleaseExecutor(loop)
				loopCaches.Delete(cacheKey{pa, loop})
			})
		}
	}
}

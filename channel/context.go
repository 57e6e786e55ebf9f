// File: channel/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// HandlerContext binds one handler into a pipeline. Contexts live in the
// pipeline's arena and link to their neighbours by arena index. A removed
// context keeps its links, so an event that already holds it still reaches
// the handlers after it, while new events skip it.

package channel

import (
	"fmt"
	"net"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/core/buffer"
)

const noIndex = -1

// HandlerContext is the handle a handler uses to propagate events.
type HandlerContext struct {
	pipeline *Pipeline
	idx      int
	name     string
	handler  Handler
	in       InboundHandler
	out      OutboundHandler

	prev, next int
	removed    bool
}

// Name returns the name the handler was added under.
func (c *HandlerContext) Name() string { return c.name }

// Handler returns the wrapped handler.
func (c *HandlerContext) Handler() Handler { return c.handler }

// Pipeline returns the owning pipeline.
func (c *HandlerContext) Pipeline() *Pipeline { return c.pipeline }

// Channel returns the owning channel.
func (c *HandlerContext) Channel() *Channel { return c.pipeline.ch }

// Executor returns the executor handler callbacks run on.
func (c *HandlerContext) Executor() api.EventExecutor { return c.pipeline.ch.exec }

// Allocator returns the channel's buffer allocator.
func (c *HandlerContext) Allocator() buffer.Allocator { return c.pipeline.ch.Allocator() }

// IsRemoved reports whether the handler was unlinked.
func (c *HandlerContext) IsRemoved() bool { return c.removed }

// NewPromise creates a promise owned by the channel's loop.
func (c *HandlerContext) NewPromise() *Promise { return c.pipeline.ch.NewPromise() }

func (c *HandlerContext) inLoop() bool { return c.pipeline.ch.exec.InEventLoop() }

// later marshals task to the loop. If the loop refuses it, the message it
// carries is released since nobody else will see it.
func (c *HandlerContext) later(task func(), msg any, p *Promise) {
	if err := c.pipeline.ch.exec.Execute(task); err != nil {
		if msg != nil {
			buffer.SafeRelease(msg)
		}
		if p != nil {
			p.TryFailure(api.ErrChannelClosed.Wrap(err))
		}
	}
}

func (c *HandlerContext) nextInbound() *HandlerContext {
	ctxs := c.pipeline.ctxs
	for i := c.next; ; {
		n := ctxs[i]
		if n.in != nil && !n.removed {
			return n
		}
		i = n.next
	}
}

func (c *HandlerContext) prevOutbound() *HandlerContext {
	ctxs := c.pipeline.ctxs
	for i := c.prev; ; {
		n := ctxs[i]
		if n.out != nil && !n.removed {
			return n
		}
		i = n.prev
	}
}

// ---- inbound propagation ----

// FireChannelRegistered forwards to the next inbound handler.
func (c *HandlerContext) FireChannelRegistered() {
	if !c.inLoop() {
		c.later(c.FireChannelRegistered, nil, nil)
		return
	}
	c.nextInbound().invokeChannelRegistered()
}

// FireChannelUnregistered forwards to the next inbound handler.
func (c *HandlerContext) FireChannelUnregistered() {
	if !c.inLoop() {
		c.later(c.FireChannelUnregistered, nil, nil)
		return
	}
	c.nextInbound().invokeChannelUnregistered()
}

// FireChannelActive forwards to the next inbound handler.
func (c *HandlerContext) FireChannelActive() {
	if !c.inLoop() {
		c.later(c.FireChannelActive, nil, nil)
		return
	}
	c.nextInbound().invokeChannelActive()
}

// FireChannelInactive forwards to the next inbound handler.
func (c *HandlerContext) FireChannelInactive() {
	if !c.inLoop() {
		c.later(c.FireChannelInactive, nil, nil)
		return
	}
	c.nextInbound().invokeChannelInactive()
}

// FireChannelRead passes msg, and the obligation to release it, to the next
// inbound handler.
func (c *HandlerContext) FireChannelRead(msg any) {
	if !c.inLoop() {
		c.later(func() { c.FireChannelRead(msg) }, msg, nil)
		return
	}
	c.nextInbound().invokeChannelRead(msg)
}

// FireChannelReadComplete forwards to the next inbound handler.
func (c *HandlerContext) FireChannelReadComplete() {
	if !c.inLoop() {
		c.later(c.FireChannelReadComplete, nil, nil)
		return
	}
	c.nextInbound().invokeChannelReadComplete()
}

// FireUserEventTriggered forwards evt to the next inbound handler.
func (c *HandlerContext) FireUserEventTriggered(evt any) {
	if !c.inLoop() {
		c.later(func() { c.FireUserEventTriggered(evt) }, evt, nil)
		return
	}
	c.nextInbound().invokeUserEventTriggered(evt)
}

// FireChannelWritabilityChanged forwards to the next inbound handler.
func (c *HandlerContext) FireChannelWritabilityChanged() {
	if !c.inLoop() {
		c.later(c.FireChannelWritabilityChanged, nil, nil)
		return
	}
	c.nextInbound().invokeChannelWritabilityChanged()
}

// FireExceptionCaught forwards err to the next inbound handler.
func (c *HandlerContext) FireExceptionCaught(err error) {
	if !c.inLoop() {
		c.later(func() { c.FireExceptionCaught(err) }, nil, nil)
		return
	}
	c.nextInbound().invokeExceptionCaught(err)
}

func (c *HandlerContext) invokeChannelRegistered() {
	defer c.recoverInbound()
	c.in.ChannelRegistered(c)
}

func (c *HandlerContext) invokeChannelUnregistered() {
	defer c.recoverInbound()
	c.in.ChannelUnregistered(c)
}

func (c *HandlerContext) invokeChannelActive() {
	defer c.recoverInbound()
	c.in.ChannelActive(c)
}

func (c *HandlerContext) invokeChannelInactive() {
	defer c.recoverInbound()
	c.in.ChannelInactive(c)
}

func (c *HandlerContext) invokeChannelRead(msg any) {
	defer c.recoverInbound()
	c.in.ChannelRead(c, msg)
}

func (c *HandlerContext) invokeChannelReadComplete() {
	defer c.recoverInbound()
	c.in.ChannelReadComplete(c)
}

func (c *HandlerContext) invokeUserEventTriggered(evt any) {
	defer c.recoverInbound()
	c.in.UserEventTriggered(c, evt)
}

func (c *HandlerContext) invokeChannelWritabilityChanged() {
	defer c.recoverInbound()
	c.in.ChannelWritabilityChanged(c)
}

func (c *HandlerContext) invokeExceptionCaught(err error) {
	defer func() {
		if r := recover(); r != nil {
			c.pipeline.log.Warn().
				Str("handler", c.name).
				Err(err).
				Interface("panic", r).
				Msg("exceptionCaught panicked while handling an error")
		}
	}()
	c.in.ExceptionCaught(c, err)
}

// recoverInbound turns a handler panic into an exception for the handlers
// after it.
func (c *HandlerContext) recoverInbound() {
	if r := recover(); r != nil {
		c.FireExceptionCaught(panicError(c.name, r))
	}
}

// ---- outbound propagation ----

func (c *HandlerContext) promise(p *Promise) *Promise {
	if p == nil {
		return c.NewPromise()
	}
	return p
}

// Bind asks the transport to bind to local. A nil p allocates a promise.
func (c *HandlerContext) Bind(local net.Addr, p *Promise) *Promise {
	p = c.promise(p)
	if !c.inLoop() {
		c.later(func() { c.Bind(local, p) }, nil, p)
		return p
	}
	if p.IsDone() {
		return p
	}
	c.prevOutbound().invokeBind(local, p)
	return p
}

// Connect asks the transport to connect to remote, optionally from local.
func (c *HandlerContext) Connect(remote, local net.Addr, p *Promise) *Promise {
	p = c.promise(p)
	if !c.inLoop() {
		c.later(func() { c.Connect(remote, local, p) }, nil, p)
		return p
	}
	if p.IsDone() {
		return p
	}
	c.prevOutbound().invokeConnect(remote, local, p)
	return p
}

// Close asks the transport to close the channel.
func (c *HandlerContext) Close(p *Promise) *Promise {
	p = c.promise(p)
	if !c.inLoop() {
		c.later(func() { c.Close(p) }, nil, p)
		return p
	}
	if p.IsDone() {
		return p
	}
	c.prevOutbound().invokeClose(p)
	return p
}

// Read requests more inbound data.
func (c *HandlerContext) Read() {
	if !c.inLoop() {
		c.later(c.Read, nil, nil)
		return
	}
	c.prevOutbound().invokeRead()
}

// Write queues msg towards the transport. Ownership of msg moves with the
// call; it is released if the write fails.
func (c *HandlerContext) Write(msg any, p *Promise) *Promise {
	p = c.promise(p)
	if msg == nil {
		p.TryFailure(api.ErrInvalidArgument.WithContext("msg", nil))
		return p
	}
	if !c.inLoop() {
		c.later(func() { c.Write(msg, p) }, msg, p)
		return p
	}
	if p.IsDone() {
		buffer.SafeRelease(msg)
		return p
	}
	c.prevOutbound().invokeWrite(msg, p)
	return p
}

// Flush asks the transport to write everything queued.
func (c *HandlerContext) Flush() {
	if !c.inLoop() {
		c.later(c.Flush, nil, nil)
		return
	}
	c.prevOutbound().invokeFlush()
}

// WriteAndFlush is Write followed by Flush.
func (c *HandlerContext) WriteAndFlush(msg any, p *Promise) *Promise {
	p = c.Write(msg, p)
	c.Flush()
	return p
}

func (c *HandlerContext) invokeBind(local net.Addr, p *Promise) {
	defer c.recoverOutbound(p)
	c.out.Bind(c, local, p)
}

func (c *HandlerContext) invokeConnect(remote, local net.Addr, p *Promise) {
	defer c.recoverOutbound(p)
	c.out.Connect(c, remote, local, p)
}

func (c *HandlerContext) invokeClose(p *Promise) {
	defer c.recoverOutbound(p)
	c.out.Close(c, p)
}

func (c *HandlerContext) invokeRead() {
	defer c.recoverOutbound(nil)
	c.out.Read(c)
}

func (c *HandlerContext) invokeWrite(msg any, p *Promise) {
	defer c.recoverOutbound(p)
	c.out.Write(c, msg, p)
}

func (c *HandlerContext) invokeFlush() {
	defer c.recoverOutbound(nil)
	c.out.Flush(c)
}

// recoverOutbound fails the operation's promise with a handler panic. With
// no promise to fail the panic becomes an inbound exception.
func (c *HandlerContext) recoverOutbound(p *Promise) {
	r := recover()
	if r == nil {
		return
	}
	err := panicError(c.name, r)
	if p != nil && p.TryFailure(err) {
		return
	}
	c.pipeline.FireExceptionCaught(err)
}

func panicError(handler string, r any) error {
	e := api.ErrInternal.WithContext("handler", handler)
	if err, ok := r.(error); ok {
		return e.Wrap(err)
	}
	return e.Wrap(fmt.Errorf("panic: %v", r))
}

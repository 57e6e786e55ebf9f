// File: handler/timeout/idle.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package timeout detects idle channels. IdleStateHandler fires an
// IdleStateEvent user event when a channel has not read, written or done
// either for a configured time; ReadTimeoutHandler closes channels that
// stop receiving.
package timeout

import (
	"fmt"
	"net"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
)

// IdleState tells which direction went quiet.
type IdleState int

const (
	ReaderIdle IdleState = iota
	WriterIdle
	AllIdle
)

func (s IdleState) String() string {
	switch s {
	case ReaderIdle:
		return "reader-idle"
	case WriterIdle:
		return "writer-idle"
	case AllIdle:
		return "all-idle"
	default:
		return fmt.Sprintf("IdleState(%d)", int(s))
	}
}

// IdleStateEvent is fired through the pipeline as a user event. First is
// set on the first event of an idle period.
type IdleStateEvent struct {
	State IdleState
	First bool
}

func (e IdleStateEvent) String() string {
	return fmt.Sprintf("IdleStateEvent(%s, first: %t)", e.State, e.First)
}

type clocked interface {
	Clock() clock.Clock
}

const (
	stateNone = iota
	stateInitialized
	stateDestroyed
)

// IdleStateHandler tracks read and write activity. A zero duration
// disables that check. It keeps per-channel state; use one instance per
// pipeline.
type IdleStateHandler struct {
	channel.HandlerAdapter

	readerIdle, writerIdle, allIdle time.Duration

	clock     clock.Clock
	state     int
	reading   bool
	lastRead  time.Time
	lastWrite time.Time

	readerTimer, writerTimer, allTimer api.Cancelable
	firstReader, firstWriter, firstAll bool

	onIdle func(ctx *channel.HandlerContext, evt IdleStateEvent)
}

var (
	_ channel.InboundHandler  = (*IdleStateHandler)(nil)
	_ channel.OutboundHandler = (*IdleStateHandler)(nil)
)

// NewIdleStateHandler checks reader, writer and overall idleness.
func NewIdleStateHandler(readerIdle, writerIdle, allIdle time.Duration) *IdleStateHandler {
	return &IdleStateHandler{
		readerIdle: max(readerIdle, 0),
		writerIdle: max(writerIdle, 0),
		allIdle:    max(allIdle, 0),
		onIdle: func(ctx *channel.HandlerContext, evt IdleStateEvent) {
			ctx.FireUserEventTriggered(evt)
		},
	}
}

func (h *IdleStateHandler) HandlerAdded(ctx *channel.HandlerContext) {
	if ctx.Channel().IsActive() && ctx.Channel().IsRegistered() {
		h.initialize(ctx)
	}
}

func (h *IdleStateHandler) HandlerRemoved(*channel.HandlerContext) { h.destroy() }

func (h *IdleStateHandler) ChannelRegistered(ctx *channel.HandlerContext) {
	if ctx.Channel().IsActive() {
		h.initialize(ctx)
	}
	ctx.FireChannelRegistered()
}

func (h *IdleStateHandler) ChannelUnregistered(ctx *channel.HandlerContext) {
	ctx.FireChannelUnregistered()
}

func (h *IdleStateHandler) ChannelActive(ctx *channel.HandlerContext) {
	h.initialize(ctx)
	ctx.FireChannelActive()
}

func (h *IdleStateHandler) ChannelInactive(ctx *channel.HandlerContext) {
	h.destroy()
	ctx.FireChannelInactive()
}

func (h *IdleStateHandler) ChannelRead(ctx *channel.HandlerContext, msg any) {
	if h.readerIdle > 0 || h.allIdle > 0 {
		h.reading = true
		h.firstReader, h.firstAll = true, true
	}
	ctx.FireChannelRead(msg)
}

func (h *IdleStateHandler) ChannelReadComplete(ctx *channel.HandlerContext) {
	if h.reading {
		h.lastRead = h.now()
		h.reading = false
	}
	ctx.FireChannelReadComplete()
}

func (h *IdleStateHandler) UserEventTriggered(ctx *channel.HandlerContext, evt any) {
	ctx.FireUserEventTriggered(evt)
}

func (h *IdleStateHandler) ChannelWritabilityChanged(ctx *channel.HandlerContext) {
	ctx.FireChannelWritabilityChanged()
}

func (h *IdleStateHandler) ExceptionCaught(ctx *channel.HandlerContext, err error) {
	ctx.FireExceptionCaught(err)
}

func (h *IdleStateHandler) Bind(ctx *channel.HandlerContext, local net.Addr, p *channel.Promise) {
	ctx.Bind(local, p)
}

func (h *IdleStateHandler) Connect(ctx *channel.HandlerContext, remote, local net.Addr, p *channel.Promise) {
	ctx.Connect(remote, local, p)
}

func (h *IdleStateHandler) Close(ctx *channel.HandlerContext, p *channel.Promise) { ctx.Close(p) }
func (h *IdleStateHandler) Read(ctx *channel.HandlerContext)                      { ctx.Read() }
func (h *IdleStateHandler) Flush(ctx *channel.HandlerContext)                     { ctx.Flush() }

// Write counts a write once it completed successfully.
func (h *IdleStateHandler) Write(ctx *channel.HandlerContext, msg any, p *channel.Promise) {
	if h.writerIdle > 0 || h.allIdle > 0 {
		p.AddListener(func(f *channel.Promise) {
			if f.IsSuccess() {
				h.lastWrite = h.now()
				h.firstWriter, h.firstAll = true, true
			}
		})
	}
	ctx.Write(msg, p)
}

func (h *IdleStateHandler) now() time.Time {
	if h.clock == nil {
		return time.Now()
	}
	return h.clock.Now()
}

func (h *IdleStateHandler) initialize(ctx *channel.HandlerContext) {
	if h.state != stateNone {
		return
	}
	h.state = stateInitialized
	h.clock = clock.New()
	if c, ok := ctx.Channel().Loop().(clocked); ok {
		h.clock = c.Clock()
	}
	now := h.clock.Now()
	h.lastRead, h.lastWrite = now, now
	h.firstReader, h.firstWriter, h.firstAll = true, true, true

	if h.readerIdle > 0 {
		h.readerTimer = h.schedule(ctx, h.readerIdle, h.readerTimeout)
	}
	if h.writerIdle > 0 {
		h.writerTimer = h.schedule(ctx, h.writerIdle, h.writerTimeout)
	}
	if h.allIdle > 0 {
		h.allTimer = h.schedule(ctx, h.allIdle, h.allTimeout)
	}
}

func (h *IdleStateHandler) destroy() {
	h.state = stateDestroyed
	for _, t := range []*api.Cancelable{&h.readerTimer, &h.writerTimer, &h.allTimer} {
		if *t != nil {
			_ = (*t).Cancel()
			*t = nil
		}
	}
}

func (h *IdleStateHandler) schedule(ctx *channel.HandlerContext, d time.Duration, task func(*channel.HandlerContext)) api.Cancelable {
	c, err := ctx.Executor().Schedule(d, func() { task(ctx) })
	if err != nil {
		return nil
	}
	return c
}

func (h *IdleStateHandler) readerTimeout(ctx *channel.HandlerContext) {
	if h.state != stateInitialized || !ctx.Channel().IsOpen() {
		return
	}
	next := h.readerIdle
	if !h.reading {
		next -= h.now().Sub(h.lastRead)
	}
	if next > 0 {
		h.readerTimer = h.schedule(ctx, next, h.readerTimeout)
		return
	}
	h.readerTimer = h.schedule(ctx, h.readerIdle, h.readerTimeout)
	first := h.firstReader
	h.firstReader = false
	h.fire(ctx, IdleStateEvent{State: ReaderIdle, First: first})
}

func (h *IdleStateHandler) writerTimeout(ctx *channel.HandlerContext) {
	if h.state != stateInitialized || !ctx.Channel().IsOpen() {
		return
	}
	next := h.writerIdle - h.now().Sub(h.lastWrite)
	if next > 0 {
		h.writerTimer = h.schedule(ctx, next, h.writerTimeout)
		return
	}
	h.writerTimer = h.schedule(ctx, h.writerIdle, h.writerTimeout)
	first := h.firstWriter
	h.firstWriter = false
	h.fire(ctx, IdleStateEvent{State: WriterIdle, First: first})
}

func (h *IdleStateHandler) allTimeout(ctx *channel.HandlerContext) {
	if h.state != stateInitialized || !ctx.Channel().IsOpen() {
		return
	}
	next := h.allIdle
	if !h.reading {
		last := h.lastRead
		if h.lastWrite.After(last) {
			last = h.lastWrite
		}
		next -= h.now().Sub(last)
	}
	if next > 0 {
		h.allTimer = h.schedule(ctx, next, h.allTimeout)
		return
	}
	h.allTimer = h.schedule(ctx, h.allIdle, h.allTimeout)
	first := h.firstAll
	h.firstAll = false
	h.fire(ctx, IdleStateEvent{State: AllIdle, First: first})
}

func (h *IdleStateHandler) fire(ctx *channel.HandlerContext, evt IdleStateEvent) {
	h.onIdle(ctx, evt)
}

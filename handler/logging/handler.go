// File: handler/logging/handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package logging provides a pipeline handler that logs every event
// passing through it and forwards it unchanged.
package logging

import (
	"net"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/core/buffer"
	"github.com/momentics/hioload-net/internal/logging"
)

// Option configures a Handler.
type Option func(*Handler)

// WithLevel sets the level events are logged at. Debug by default.
func WithLevel(l zerolog.Level) Option {
	return func(h *Handler) { h.level = l }
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// Handler logs inbound and outbound events. It holds no per-channel state
// and may be shared by many pipelines.
type Handler struct {
	channel.HandlerAdapter
	log   zerolog.Logger
	level zerolog.Level
}

var (
	_ channel.InboundHandler  = (*Handler)(nil)
	_ channel.OutboundHandler = (*Handler)(nil)
)

// New returns a Handler logging through the "pipeline-events" component.
func New(opts ...Option) *Handler {
	h := &Handler{log: logging.For("pipeline-events"), level: zerolog.DebugLevel}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) event(ctx *channel.HandlerContext, name string) *zerolog.Event {
	return h.log.WithLevel(h.level).
		Stringer("channel", ctx.Channel()).
		Str("event", name)
}

func withMsg(e *zerolog.Event, msg any) *zerolog.Event {
	e = e.Type("type", msg)
	if b, ok := msg.(*buffer.ByteBuf); ok {
		e = e.Int("bytes", b.ReadableBytes())
	}
	return e
}

func (h *Handler) ChannelRegistered(ctx *channel.HandlerContext) {
	h.event(ctx, "REGISTERED").Send()
	ctx.FireChannelRegistered()
}

func (h *Handler) ChannelUnregistered(ctx *channel.HandlerContext) {
	h.event(ctx, "UNREGISTERED").Send()
	ctx.FireChannelUnregistered()
}

func (h *Handler) ChannelActive(ctx *channel.HandlerContext) {
	h.event(ctx, "ACTIVE").Send()
	ctx.FireChannelActive()
}

func (h *Handler) ChannelInactive(ctx *channel.HandlerContext) {
	h.event(ctx, "INACTIVE").Send()
	ctx.FireChannelInactive()
}

func (h *Handler) ChannelRead(ctx *channel.HandlerContext, msg any) {
	withMsg(h.event(ctx, "READ"), msg).Send()
	ctx.FireChannelRead(msg)
}

func (h *Handler) ChannelReadComplete(ctx *channel.HandlerContext) {
	h.event(ctx, "READ COMPLETE").Send()
	ctx.FireChannelReadComplete()
}

func (h *Handler) UserEventTriggered(ctx *channel.HandlerContext, evt any) {
	h.event(ctx, "USER_EVENT").Interface("evt", evt).Send()
	ctx.FireUserEventTriggered(evt)
}

func (h *Handler) ChannelWritabilityChanged(ctx *channel.HandlerContext) {
	h.event(ctx, "WRITABILITY CHANGED").Bool("writable", ctx.Channel().IsWritable()).Send()
	ctx.FireChannelWritabilityChanged()
}

func (h *Handler) ExceptionCaught(ctx *channel.HandlerContext, err error) {
	h.event(ctx, "EXCEPTION").Err(err).Send()
	ctx.FireExceptionCaught(err)
}

func (h *Handler) Bind(ctx *channel.HandlerContext, local net.Addr, p *channel.Promise) {
	h.event(ctx, "BIND").Stringer("local", local).Send()
	ctx.Bind(local, p)
}

func (h *Handler) Connect(ctx *channel.HandlerContext, remote, local net.Addr, p *channel.Promise) {
	e := h.event(ctx, "CONNECT").Stringer("remote", remote)
	if local != nil {
		e = e.Stringer("local", local)
	}
	e.Send()
	ctx.Connect(remote, local, p)
}

func (h *Handler) Close(ctx *channel.HandlerContext, p *channel.Promise) {
	h.event(ctx, "CLOSE").Send()
	ctx.Close(p)
}

func (h *Handler) Read(ctx *channel.HandlerContext) {
	h.event(ctx, "READ REQUEST").Send()
	ctx.Read()
}

func (h *Handler) Write(ctx *channel.HandlerContext, msg any, p *channel.Promise) {
	withMsg(h.event(ctx, "WRITE"), msg).Send()
	ctx.Write(msg, p)
}

func (h *Handler) Flush(ctx *channel.HandlerContext) {
	h.event(ctx, "FLUSH").Send()
	ctx.Flush()
}

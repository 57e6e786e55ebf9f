// File: channel/handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Handler capability sets. A handler implements InboundHandler,
// OutboundHandler or both; the pipeline discovers which through type
// assertions when the handler is added. Embed one of the adapters to get
// pass-through defaults and override only what the handler cares about.

package channel

import "net"

// Handler is the common part of every pipeline handler.
type Handler interface {
	// HandlerAdded runs on the loop once the handler is linked in.
	HandlerAdded(ctx *HandlerContext)
	// HandlerRemoved runs on the loop after the handler was unlinked.
	HandlerRemoved(ctx *HandlerContext)
}

// InboundHandler receives events travelling from the transport towards the
// application.
type InboundHandler interface {
	Handler
	ChannelRegistered(ctx *HandlerContext)
	ChannelUnregistered(ctx *HandlerContext)
	ChannelActive(ctx *HandlerContext)
	ChannelInactive(ctx *HandlerContext)
	ChannelRead(ctx *HandlerContext, msg any)
	ChannelReadComplete(ctx *HandlerContext)
	UserEventTriggered(ctx *HandlerContext, evt any)
	ChannelWritabilityChanged(ctx *HandlerContext)
	ExceptionCaught(ctx *HandlerContext, err error)
}

// OutboundHandler intercepts operations travelling towards the transport.
// Each operation carries the Promise completed once the transport ran it.
type OutboundHandler interface {
	Handler
	Bind(ctx *HandlerContext, local net.Addr, p *Promise)
	Connect(ctx *HandlerContext, remote, local net.Addr, p *Promise)
	Close(ctx *HandlerContext, p *Promise)
	Read(ctx *HandlerContext)
	Write(ctx *HandlerContext, msg any, p *Promise)
	Flush(ctx *HandlerContext)
}

// HandlerAdapter implements the lifecycle hooks as no-ops.
type HandlerAdapter struct{}

func (HandlerAdapter) HandlerAdded(*HandlerContext)   {}
func (HandlerAdapter) HandlerRemoved(*HandlerContext) {}

type inboundPassthrough struct{}

func (inboundPassthrough) ChannelRegistered(ctx *HandlerContext)   { ctx.FireChannelRegistered() }
func (inboundPassthrough) ChannelUnregistered(ctx *HandlerContext) { ctx.FireChannelUnregistered() }
func (inboundPassthrough) ChannelActive(ctx *HandlerContext)       { ctx.FireChannelActive() }
func (inboundPassthrough) ChannelInactive(ctx *HandlerContext)     { ctx.FireChannelInactive() }
func (inboundPassthrough) ChannelRead(ctx *HandlerContext, msg any) {
	ctx.FireChannelRead(msg)
}
func (inboundPassthrough) ChannelReadComplete(ctx *HandlerContext) { ctx.FireChannelReadComplete() }
func (inboundPassthrough) UserEventTriggered(ctx *HandlerContext, evt any) {
	ctx.FireUserEventTriggered(evt)
}
func (inboundPassthrough) ChannelWritabilityChanged(ctx *HandlerContext) {
	ctx.FireChannelWritabilityChanged()
}
func (inboundPassthrough) ExceptionCaught(ctx *HandlerContext, err error) {
	ctx.FireExceptionCaught(err)
}

type outboundPassthrough struct{}

func (outboundPassthrough) Bind(ctx *HandlerContext, local net.Addr, p *Promise) {
	ctx.Bind(local, p)
}
func (outboundPassthrough) Connect(ctx *HandlerContext, remote, local net.Addr, p *Promise) {
	ctx.Connect(remote, local, p)
}
func (outboundPassthrough) Close(ctx *HandlerContext, p *Promise) { ctx.Close(p) }
func (outboundPassthrough) Read(ctx *HandlerContext)              { ctx.Read() }
func (outboundPassthrough) Write(ctx *HandlerContext, msg any, p *Promise) {
	ctx.Write(msg, p)
}
func (outboundPassthrough) Flush(ctx *HandlerContext) { ctx.Flush() }

// InboundHandlerAdapter forwards every inbound event unchanged.
type InboundHandlerAdapter struct {
	HandlerAdapter
	inboundPassthrough
}

// OutboundHandlerAdapter forwards every outbound operation unchanged.
type OutboundHandlerAdapter struct {
	HandlerAdapter
	outboundPassthrough
}

// DuplexHandlerAdapter forwards events in both directions.
type DuplexHandlerAdapter struct {
	HandlerAdapter
	inboundPassthrough
	outboundPassthrough
}

var (
	_ InboundHandler  = InboundHandlerAdapter{}
	_ OutboundHandler = OutboundHandlerAdapter{}
	_ InboundHandler  = DuplexHandlerAdapter{}
	_ OutboundHandler = DuplexHandlerAdapter{}
)

// ReadFunc returns an inbound handler that hands every message to fn and
// forwards all other events. Messages are not forwarded; fn owns them.
func ReadFunc(fn func(ctx *HandlerContext, msg any)) InboundHandler {
	return &readFunc{fn: fn}
}

type readFunc struct {
	InboundHandlerAdapter
	fn func(ctx *HandlerContext, msg any)
}

func (r *readFunc) ChannelRead(ctx *HandlerContext, msg any) { r.fn(ctx, msg) }

// File: channel/pipeline.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pipeline is an arena of handler contexts. Slot 0 is the head, nearest
// the transport; slot 1 is the tail, nearest the application. Inbound
// events travel head to tail, outbound operations tail to head. Slots are
// never reused so removed contexts stay valid for events that hold them.

package channel

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/core/buffer"
	"github.com/momentics/hioload-net/internal/logging"
)

const (
	headIndex = 0
	tailIndex = 1
)

// Pipeline is the handler chain of one channel. Structure changes run on
// the channel's loop; requests from other goroutines are marshaled there
// and take effect when they execute.
type Pipeline struct {
	ch    *Channel
	ctxs  []*HandlerContext
	names map[string]int
	seq   int
	log   zerolog.Logger
}

func newPipeline(ch *Channel) *Pipeline {
	p := &Pipeline{
		ch:    ch,
		names: make(map[string]int),
		log:   logging.For("pipeline").With().Str("channel", ch.id.ShortText()).Logger(),
	}
	head := &headHandler{ch: ch}
	tail := &tailHandler{}
	p.ctxs = []*HandlerContext{
		{pipeline: p, idx: headIndex, name: "head", handler: head, in: head, out: head, prev: noIndex, next: tailIndex},
		{pipeline: p, idx: tailIndex, name: "tail", handler: tail, in: tail, prev: headIndex, next: noIndex},
	}
	return p
}

// Channel returns the owning channel.
func (p *Pipeline) Channel() *Channel { return p.ch }

func (p *Pipeline) head() *HandlerContext { return p.ctxs[headIndex] }
func (p *Pipeline) tail() *HandlerContext { return p.ctxs[tailIndex] }

// mutate runs fn on the loop and reports its outcome through a promise.
func (p *Pipeline) mutate(fn func() error) *Promise {
	pr := p.ch.NewPromise()
	exec := p.ch.exec
	if exec.InEventLoop() {
		pr.Complete(struct{}{}, fn())
		return pr
	}
	if err := exec.Execute(func() { pr.Complete(struct{}{}, fn()) }); err != nil {
		pr.TryFailure(api.ErrChannelClosed.Wrap(err))
	}
	return pr
}

// AddFirst inserts h right after the head. An empty name is generated.
func (p *Pipeline) AddFirst(name string, h Handler) *Promise {
	return p.mutate(func() error { return p.link(name, h, headIndex) })
}

// AddLast inserts h right before the tail.
func (p *Pipeline) AddLast(name string, h Handler) *Promise {
	return p.mutate(func() error { return p.link(name, h, p.tail().prev) })
}

// AddBefore inserts h in front of the handler named base.
func (p *Pipeline) AddBefore(base, name string, h Handler) *Promise {
	return p.mutate(func() error {
		idx, ok := p.names[base]
		if !ok {
			return api.ErrNotFound.WithContext("handler", base)
		}
		return p.link(name, h, p.ctxs[idx].prev)
	})
}

// AddAfter inserts h behind the handler named base.
func (p *Pipeline) AddAfter(base, name string, h Handler) *Promise {
	return p.mutate(func() error {
		idx, ok := p.names[base]
		if !ok {
			return api.ErrNotFound.WithContext("handler", base)
		}
		return p.link(name, h, idx)
	})
}

// Remove unlinks the handler named name.
func (p *Pipeline) Remove(name string) *Promise {
	return p.mutate(func() error {
		idx, ok := p.names[name]
		if !ok {
			return api.ErrNotFound.WithContext("handler", name)
		}
		p.unlink(p.ctxs[idx])
		return nil
	})
}

// RemoveHandler unlinks h.
func (p *Pipeline) RemoveHandler(h Handler) *Promise {
	return p.mutate(func() error {
		c := p.contextOf(h)
		if c == nil {
			return api.ErrNotFound.WithContext("handler", fmt.Sprintf("%T", h))
		}
		p.unlink(c)
		return nil
	})
}

// Replace swaps the handler named old for h under newName.
func (p *Pipeline) Replace(old, newName string, h Handler) *Promise {
	return p.mutate(func() error {
		idx, ok := p.names[old]
		if !ok {
			return api.ErrNotFound.WithContext("handler", old)
		}
		c, err := p.newContext(newName, h, old)
		if err != nil {
			return err
		}
		prev := p.ctxs[idx].prev
		p.unlink(p.ctxs[idx])
		return p.insert(c, prev)
	})
}

func (p *Pipeline) link(name string, h Handler, after int) error {
	c, err := p.newContext(name, h, "")
	if err != nil {
		return err
	}
	return p.insert(c, after)
}

// newContext validates h and name. A name equal to replacing is not a
// duplicate since that handler leaves before c is inserted.
func (p *Pipeline) newContext(name string, h Handler, replacing string) (*HandlerContext, error) {
	if h == nil {
		return nil, api.ErrInvalidArgument.WithContext("handler", nil)
	}
	if name == "" {
		name = p.generateName(h)
	}
	if _, dup := p.names[name]; dup && name != replacing {
		return nil, api.ErrDuplicateName.WithContext("name", name)
	}
	c := &HandlerContext{pipeline: p, name: name, handler: h}
	c.in, _ = h.(InboundHandler)
	c.out, _ = h.(OutboundHandler)
	if c.in == nil && c.out == nil {
		return nil, api.ErrInvalidArgument.WithContext("handler", fmt.Sprintf("%T is neither inbound nor outbound", h))
	}
	return c, nil
}

// insert links c behind the context at index after and runs HandlerAdded.
// A panicking HandlerAdded unlinks c again and fails the operation.
func (p *Pipeline) insert(c *HandlerContext, after int) error {
	c.idx = len(p.ctxs)
	prev := p.ctxs[after]
	c.prev, c.next = after, prev.next
	p.ctxs = append(p.ctxs, c)
	p.ctxs[c.next].prev = c.idx
	prev.next = c.idx
	p.names[c.name] = c.idx

	if err := p.callHandlerAdded(c); err != nil {
		p.unlink(c)
		p.FireExceptionCaught(err)
		return err
	}
	return nil
}

func (p *Pipeline) unlink(c *HandlerContext) {
	if c.removed || c.idx == headIndex || c.idx == tailIndex {
		return
	}
	c.removed = true
	p.ctxs[c.prev].next = c.next
	p.ctxs[c.next].prev = c.prev
	delete(p.names, c.name)
	p.callHandlerRemoved(c)
}

func (p *Pipeline) callHandlerAdded(c *HandlerContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(c.name, r)
		}
	}()
	c.handler.HandlerAdded(c)
	return nil
}

func (p *Pipeline) callHandlerRemoved(c *HandlerContext) {
	defer func() {
		if r := recover(); r != nil {
			p.FireExceptionCaught(panicError(c.name, r))
		}
	}()
	c.handler.HandlerRemoved(c)
}

func (p *Pipeline) generateName(h Handler) string {
	for {
		p.seq++
		name := fmt.Sprintf("%T#%d", h, p.seq)
		if _, dup := p.names[name]; !dup {
			return name
		}
	}
}

func (p *Pipeline) contextOf(h Handler) *HandlerContext {
	for i := p.head().next; i != tailIndex; i = p.ctxs[i].next {
		if p.ctxs[i].handler == h {
			return p.ctxs[i]
		}
	}
	return nil
}

// Get returns the handler named name or nil. Loop goroutine only.
func (p *Pipeline) Get(name string) Handler {
	if c := p.Context(name); c != nil {
		return c.handler
	}
	return nil
}

// Context returns the context of the handler named name or nil. Loop
// goroutine only.
func (p *Pipeline) Context(name string) *HandlerContext {
	if idx, ok := p.names[name]; ok {
		return p.ctxs[idx]
	}
	return nil
}

// ContextOf returns the context wrapping h or nil. Loop goroutine only.
func (p *Pipeline) ContextOf(h Handler) *HandlerContext { return p.contextOf(h) }

// Names lists handler names from head to tail. Loop goroutine only.
func (p *Pipeline) Names() []string {
	var out []string
	for i := p.head().next; i != tailIndex; i = p.ctxs[i].next {
		out = append(out, p.ctxs[i].name)
	}
	return out
}

// destroy unlinks every handler, tail side first.
func (p *Pipeline) destroy() {
	for i := p.tail().prev; i != headIndex; i = p.tail().prev {
		p.unlink(p.ctxs[i])
	}
}

// ---- pipeline-level events start at the head or the tail ----

func (p *Pipeline) inbound(fn func(head *HandlerContext), msg any) {
	if p.ch.exec.InEventLoop() {
		fn(p.head())
		return
	}
	p.head().later(func() { fn(p.head()) }, msg, nil)
}

// FireChannelRegistered starts the event at the head.
func (p *Pipeline) FireChannelRegistered() {
	p.inbound((*HandlerContext).invokeChannelRegistered, nil)
}

// FireChannelUnregistered starts the event at the head.
func (p *Pipeline) FireChannelUnregistered() {
	p.inbound((*HandlerContext).invokeChannelUnregistered, nil)
}

// FireChannelActive starts the event at the head.
func (p *Pipeline) FireChannelActive() {
	p.inbound((*HandlerContext).invokeChannelActive, nil)
}

// FireChannelInactive starts the event at the head.
func (p *Pipeline) FireChannelInactive() {
	p.inbound((*HandlerContext).invokeChannelInactive, nil)
}

// FireChannelRead hands msg to the first inbound handler.
func (p *Pipeline) FireChannelRead(msg any) {
	p.inbound(func(h *HandlerContext) { h.invokeChannelRead(msg) }, msg)
}

// FireChannelReadComplete starts the event at the head.
func (p *Pipeline) FireChannelReadComplete() {
	p.inbound((*HandlerContext).invokeChannelReadComplete, nil)
}

// FireUserEventTriggered starts evt at the head.
func (p *Pipeline) FireUserEventTriggered(evt any) {
	p.inbound(func(h *HandlerContext) { h.invokeUserEventTriggered(evt) }, evt)
}

// FireChannelWritabilityChanged starts the event at the head.
func (p *Pipeline) FireChannelWritabilityChanged() {
	p.inbound((*HandlerContext).invokeChannelWritabilityChanged, nil)
}

// FireExceptionCaught starts err at the head.
func (p *Pipeline) FireExceptionCaught(err error) {
	p.inbound(func(h *HandlerContext) { h.invokeExceptionCaught(err) }, nil)
}

// Bind starts a bind at the tail.
func (p *Pipeline) Bind(local net.Addr) *Promise { return p.tail().Bind(local, nil) }

// Connect starts a connect at the tail.
func (p *Pipeline) Connect(remote, local net.Addr) *Promise {
	return p.tail().Connect(remote, local, nil)
}

// Close starts a close at the tail.
func (p *Pipeline) Close() *Promise { return p.tail().Close(nil) }

// Read requests inbound data.
func (p *Pipeline) Read() { p.tail().Read() }

// Write starts a write at the tail.
func (p *Pipeline) Write(msg any) *Promise { return p.tail().Write(msg, nil) }

// Flush starts a flush at the tail.
func (p *Pipeline) Flush() { p.tail().Flush() }

// WriteAndFlush writes msg and flushes.
func (p *Pipeline) WriteAndFlush(msg any) *Promise { return p.tail().WriteAndFlush(msg, nil) }

// headHandler bridges outbound operations to the channel's unsafe side.
type headHandler struct {
	HandlerAdapter
	inboundPassthrough
	ch *Channel
}

func (h *headHandler) Bind(_ *HandlerContext, local net.Addr, p *Promise) {
	h.ch.unsafe.bind(local, p)
}

func (h *headHandler) Connect(_ *HandlerContext, remote, local net.Addr, p *Promise) {
	h.ch.unsafe.connect(remote, local, p)
}

func (h *headHandler) Close(_ *HandlerContext, p *Promise)          { h.ch.unsafe.close(p, nil) }
func (h *headHandler) Read(*HandlerContext)                         { h.ch.unsafe.beginRead() }
func (h *headHandler) Write(_ *HandlerContext, msg any, p *Promise) { h.ch.unsafe.write(msg, p) }
func (h *headHandler) Flush(*HandlerContext)                        { h.ch.unsafe.flush() }

func (h *headHandler) ChannelActive(ctx *HandlerContext) {
	ctx.FireChannelActive()
	h.ch.readIfAutoRead()
}

func (h *headHandler) ChannelReadComplete(ctx *HandlerContext) {
	ctx.FireChannelReadComplete()
	h.ch.readIfAutoRead()
}

// tailHandler is the last stop for inbound events nobody consumed.
type tailHandler struct {
	HandlerAdapter
}

func (*tailHandler) ChannelRegistered(*HandlerContext)         {}
func (*tailHandler) ChannelUnregistered(*HandlerContext)       {}
func (*tailHandler) ChannelActive(*HandlerContext)             {}
func (*tailHandler) ChannelInactive(*HandlerContext)           {}
func (*tailHandler) ChannelReadComplete(*HandlerContext)       {}
func (*tailHandler) ChannelWritabilityChanged(*HandlerContext) {}

func (*tailHandler) ChannelRead(ctx *HandlerContext, msg any) {
	if s, ok := ctx.pipeline.ch.transport.(UnhandledSink); ok {
		s.UnhandledInbound(msg)
		return
	}
	ctx.pipeline.log.Debug().Type("msg", msg).Msg("discarded inbound message that reached the tail")
	buffer.SafeRelease(msg)
}

func (*tailHandler) UserEventTriggered(_ *HandlerContext, evt any) {
	buffer.SafeRelease(evt)
}

func (*tailHandler) ExceptionCaught(ctx *HandlerContext, err error) {
	if s, ok := ctx.pipeline.ch.transport.(UnhandledSink); ok {
		s.UnhandledException(err)
		return
	}
	ctx.pipeline.log.Warn().Err(err).Msg("unhandled exception reached the tail, closing channel")
	ctx.pipeline.ch.Close()
}

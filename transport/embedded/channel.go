// File: transport/embedded/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package embedded runs a channel without any I/O: the test writes inbound
// messages into the pipeline and reads what came out on either end. It is
// the harness for handler and codec tests.
package embedded

import (
	"net"
	"time"

	"go.uber.org/multierr"

	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/core/buffer"
)

// Addr is the address of every embedded channel.
type Addr struct{}

func (Addr) Network() string { return "embedded" }
func (Addr) String() string  { return "embedded" }

// Transport records outbound messages and the inbound leftovers.
type Transport struct {
	inbound    []any
	outbound   []any
	exceptions []error
	reading    bool
	closed     bool
}

var (
	_ channel.Transport     = (*Transport)(nil)
	_ channel.UnhandledSink = (*Transport)(nil)
)

func (t *Transport) LocalAddr() net.Addr                      { return Addr{} }
func (t *Transport) RemoteAddr() net.Addr                     { return Addr{} }
func (t *Transport) Active() bool                             { return !t.closed }
func (t *Transport) Register(*channel.Channel) error          { return nil }
func (t *Transport) Bind(net.Addr) error                      { return nil }
func (t *Transport) Connect(net.Addr, net.Addr) (bool, error) { return false, nil }

func (t *Transport) BeginRead() error {
	t.reading = true
	return nil
}

func (t *Transport) StopRead() error {
	t.reading = false
	return nil
}

// Write takes over every flushed message.
func (t *Transport) Write(out *channel.OutboundBuffer) error {
	for {
		msg := out.Current()
		if msg == nil {
			return nil
		}
		if err := buffer.Retain(msg); err != nil {
			out.RemoveError(err)
			continue
		}
		t.outbound = append(t.outbound, msg)
		out.Remove()
	}
}

func (t *Transport) Close() error {
	t.closed = true
	return nil
}

func (t *Transport) UnhandledInbound(msg any)     { t.inbound = append(t.inbound, msg) }
func (t *Transport) UnhandledException(err error) { t.exceptions = append(t.exceptions, err) }

// Channel couples a channel with its embedded loop and transport.
type Channel struct {
	*channel.Channel
	loop *Loop
	t    *Transport
}

// New creates a registered, active channel with handlers added last in
// order.
func New(handlers ...channel.Handler) (*Channel, error) {
	return NewWithOptions(nil, handlers...)
}

// NewWithOptions is New with channel options.
func NewWithOptions(opts []channel.Option, handlers ...channel.Handler) (*Channel, error) {
	t := &Transport{}
	ch, err := channel.New(t, append([]channel.Option{channel.WithAllocator(buffer.Heap)}, opts...)...)
	if err != nil {
		return nil, err
	}
	for _, h := range handlers {
		if err := ch.Pipeline().AddLast("", h).Cause(); err != nil {
			return nil, err
		}
	}
	loop := NewLoop()
	if err := ch.Register(loop).Cause(); err != nil {
		return nil, err
	}
	e := &Channel{Channel: ch, loop: loop, t: t}
	loop.RunPendingTasks()
	return e, nil
}

// Loop returns the embedded loop.
func (c *Channel) Loop() *Loop { return c.loop }

// IsReading reports whether the transport is armed for reads.
func (c *Channel) IsReading() bool { return c.t.reading }

// WriteInbound fires msgs as one read and reports whether anything reached
// the end of the pipeline.
func (c *Channel) WriteInbound(msgs ...any) bool {
	if !c.IsOpen() {
		_ = buffer.ReleaseAll(msgs...)
		return false
	}
	p := c.Pipeline()
	for _, m := range msgs {
		p.FireChannelRead(m)
	}
	p.FireChannelReadComplete()
	c.RunPendingTasks()
	return len(c.t.inbound) > 0
}

// WriteOutbound writes and flushes msgs and reports whether anything
// reached the transport.
func (c *Channel) WriteOutbound(msgs ...any) bool {
	for _, m := range msgs {
		c.Write(m)
	}
	c.Flush()
	c.RunPendingTasks()
	return len(c.t.outbound) > 0
}

// ReadInbound pops the oldest message that reached the tail, or nil.
func (c *Channel) ReadInbound() any {
	if len(c.t.inbound) == 0 {
		return nil
	}
	m := c.t.inbound[0]
	c.t.inbound = c.t.inbound[1:]
	return m
}

// ReadOutbound pops the oldest message written to the transport, or nil.
func (c *Channel) ReadOutbound() any {
	if len(c.t.outbound) == 0 {
		return nil
	}
	m := c.t.outbound[0]
	c.t.outbound = c.t.outbound[1:]
	return m
}

// InboundMessages counts messages waiting in ReadInbound.
func (c *Channel) InboundMessages() int { return len(c.t.inbound) }

// OutboundMessages counts messages waiting in ReadOutbound.
func (c *Channel) OutboundMessages() int { return len(c.t.outbound) }

// CheckException returns and clears the exceptions that reached the tail.
func (c *Channel) CheckException() error {
	errs := multierr.Combine(c.t.exceptions...)
	c.t.exceptions = nil
	return errs
}

// RunPendingTasks runs deferred tasks and due timers.
func (c *Channel) RunPendingTasks() { c.loop.RunPendingTasks() }

// AdvanceTime moves the mock clock and runs what became due.
func (c *Channel) AdvanceTime(d time.Duration) { c.loop.AdvanceTime(d) }

// Finish closes the channel and reports whether unread messages remain on
// either side.
func (c *Channel) Finish() bool {
	c.Close()
	c.RunPendingTasks()
	return len(c.t.inbound) > 0 || len(c.t.outbound) > 0
}

// FinishAndReleaseAll closes the channel and releases every unread message.
func (c *Channel) FinishAndReleaseAll() error {
	c.Finish()
	errs := buffer.ReleaseAll(c.t.inbound...)
	errs = multierr.Append(errs, buffer.ReleaseAll(c.t.outbound...))
	c.t.inbound, c.t.outbound = nil, nil
	return errs
}

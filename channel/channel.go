// File: channel/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/core/buffer"
	"github.com/momentics/hioload-net/core/concurrency"
	"github.com/momentics/hioload-net/internal/logging"
)

// Promise completes a channel operation. Listeners run on the channel's
// loop once the channel is registered.
type Promise = concurrency.Promise[struct{}]

type loopRef struct{ Loop }

type allocRef struct{ buffer.Allocator }

// Channel is an I/O endpoint bound to one loop for its whole life.
type Channel struct {
	id        ID
	parent    *Channel
	transport Transport
	cfg       Config
	pipeline  *Pipeline
	unsafe    *Unsafe
	exec      *channelExecutor
	log       zerolog.Logger

	loop     atomic.Pointer[loopRef]
	alloc    atomic.Pointer[allocRef]
	state    atomic.Int32
	closing  atomic.Bool
	writable atomic.Bool
	autoRead atomic.Bool

	attrs       Attributes
	closeFuture *Promise
}

// New creates an unregistered channel over t.
func New(t Transport, opts ...Option) (*Channel, error) {
	return NewChild(nil, t, opts...)
}

// NewChild creates a channel accepted by parent.
func NewChild(parent *Channel, t Transport, opts ...Option) (*Channel, error) {
	if t == nil {
		return nil, api.ErrInvalidArgument.WithContext("transport", nil)
	}
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}
	ch := &Channel{
		id:        NewID(),
		parent:    parent,
		transport: t,
		cfg:       cfg,
	}
	ch.exec = &channelExecutor{ch: ch}
	ch.log = logging.For("channel").With().Str("channel", ch.id.ShortText()).Logger()
	ch.alloc.Store(&allocRef{cfg.Allocator})
	ch.writable.Store(true)
	ch.autoRead.Store(cfg.AutoRead)
	ch.closeFuture = ch.NewPromise()
	ch.pipeline = newPipeline(ch)
	ch.unsafe = newUnsafe(ch)
	return ch, nil
}

// ID returns the channel identifier.
func (c *Channel) ID() ID { return c.id }

// Parent returns the listener that accepted this channel, if any.
func (c *Channel) Parent() *Channel { return c.parent }

// Transport returns the native side.
func (c *Channel) Transport() Transport { return c.transport }

// Config returns a copy of the channel configuration.
func (c *Channel) Config() Config {
	cfg := c.cfg
	cfg.AutoRead = c.autoRead.Load()
	return cfg
}

// Pipeline returns the handler chain.
func (c *Channel) Pipeline() *Pipeline { return c.pipeline }

// Unsafe returns the transport-facing operations. Loop goroutine only.
func (c *Channel) Unsafe() *Unsafe { return c.unsafe }

// Loop returns the loop the channel is registered with, or nil.
func (c *Channel) Loop() Loop {
	if r := c.loop.Load(); r != nil {
		return r.Loop
	}
	return nil
}

// Executor returns the executor channel callbacks run on.
func (c *Channel) Executor() api.EventExecutor { return c.exec }

// Allocator returns the allocator for inbound buffers.
func (c *Channel) Allocator() buffer.Allocator { return c.alloc.Load().Allocator }

// NewPromise creates a promise owned by the channel's loop.
func (c *Channel) NewPromise() *Promise { return concurrency.NewPromise[struct{}](c.exec) }

// State returns the current lifecycle state.
func (c *Channel) State() api.ChannelState { return api.ChannelState(c.state.Load()) }

// advance moves the state forward. It never moves it back.
func (c *Channel) advance(to api.ChannelState) bool {
	for {
		cur := c.state.Load()
		if api.ChannelState(cur) >= to {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(to)) {
			c.log.Trace().Stringer("from", api.ChannelState(cur)).Stringer("to", to).Msg("state")
			return true
		}
	}
}

// IsOpen reports whether close was not initiated yet.
func (c *Channel) IsOpen() bool { return !c.closing.Load() }

// IsRegistered reports whether the channel is attached to its loop.
func (c *Channel) IsRegistered() bool {
	s := c.State()
	return s >= api.StateRegistered && s < api.StateClosed
}

// IsActive reports whether the channel is connected, or bound for a
// listener, and not closing.
func (c *Channel) IsActive() bool { return c.State() == api.StateActive && c.IsOpen() }

// IsWritable reports the backpressure hint. Writes are still accepted when
// it is false; producers should wait for a writability change.
func (c *Channel) IsWritable() bool { return c.writable.Load() && c.IsOpen() }

// AutoRead reports whether reading resumes without explicit Read calls.
func (c *Channel) AutoRead() bool { return c.autoRead.Load() }

// SetAutoRead toggles automatic reading. Enabling it requests a read.
func (c *Channel) SetAutoRead(on bool) {
	if old := c.autoRead.Swap(on); on && !old {
		c.Read()
	}
}

func (c *Channel) readIfAutoRead() {
	if c.AutoRead() {
		c.Read()
	}
}

// LocalAddr returns the local address of the transport.
func (c *Channel) LocalAddr() net.Addr { return c.transport.LocalAddr() }

// RemoteAddr returns the remote address of the transport.
func (c *Channel) RemoteAddr() net.Addr { return c.transport.RemoteAddr() }

// Outbound returns the write buffer, nil once the channel closed. Loop
// goroutine only.
func (c *Channel) Outbound() *OutboundBuffer { return c.unsafe.outbound }

// TotalPendingBytes returns bytes queued but not yet written.
func (c *Channel) TotalPendingBytes() int64 { return c.unsafe.buf.TotalPendingBytes() }

// BytesBeforeUnwritable returns how many bytes may be queued before the
// channel turns unwritable.
func (c *Channel) BytesBeforeUnwritable() int64 {
	if !c.IsOpen() {
		return 0
	}
	return c.unsafe.buf.BytesBeforeUnwritable()
}

// CloseFuture completes once the channel has been torn down.
func (c *Channel) CloseFuture() *Promise { return c.closeFuture }

// Register binds the channel to loop. A channel registers once.
func (c *Channel) Register(loop Loop) *Promise {
	if loop == nil {
		return concurrency.NewFailed[struct{}](c.exec, api.ErrInvalidArgument.WithContext("loop", nil))
	}
	if !c.loop.CompareAndSwap(nil, &loopRef{loop}) {
		return concurrency.NewFailed[struct{}](c.exec, ErrAlreadyRegistered.WithContext("channel", c.id.ShortText()))
	}
	p := c.NewPromise()
	if loop.InEventLoop() {
		c.unsafe.register(loop, p)
		return p
	}
	if err := loop.Execute(func() { c.unsafe.register(loop, p) }); err != nil {
		p.TryFailure(api.ErrIllegalState.Wrap(err))
		c.unsafe.closeForcibly()
	}
	return p
}

// Bind binds the transport to local.
func (c *Channel) Bind(local net.Addr) *Promise { return c.pipeline.Bind(local) }

// Connect connects to remote.
func (c *Channel) Connect(remote net.Addr) *Promise { return c.pipeline.Connect(remote, nil) }

// ConnectFrom connects to remote from local.
func (c *Channel) ConnectFrom(remote, local net.Addr) *Promise {
	return c.pipeline.Connect(remote, local)
}

// Close closes the channel. Repeated calls complete once the first close
// finished.
func (c *Channel) Close() *Promise { return c.pipeline.Close() }

// Read requests inbound data when AutoRead is off.
func (c *Channel) Read() { c.pipeline.Read() }

// Write queues msg. It is not sent before Flush.
func (c *Channel) Write(msg any) *Promise { return c.pipeline.Write(msg) }

// Flush sends every queued write.
func (c *Channel) Flush() { c.pipeline.Flush() }

// WriteAndFlush queues msg and flushes.
func (c *Channel) WriteAndFlush(msg any) *Promise { return c.pipeline.WriteAndFlush(msg) }

func (c *Channel) String() string {
	l, r := c.transport.LocalAddr(), c.transport.RemoteAddr()
	switch {
	case r != nil:
		return fmt.Sprintf("[id: 0x%s, L:%v - R:%v]", c.id.ShortText(), l, r)
	case l != nil:
		return fmt.Sprintf("[id: 0x%s, L:%v]", c.id.ShortText(), l)
	default:
		return fmt.Sprintf("[id: 0x%s]", c.id.ShortText())
	}
}

// channelExecutor routes to the registered loop, and runs inline before
// registration while the channel is still private to its creator.
type channelExecutor struct{ ch *Channel }

func (e *channelExecutor) current() api.EventExecutor {
	if l := e.ch.Loop(); l != nil {
		return l
	}
	return concurrency.Immediate
}

func (e *channelExecutor) Execute(task func()) error { return e.current().Execute(task) }
func (e *channelExecutor) InEventLoop() bool         { return e.current().InEventLoop() }

func (e *channelExecutor) Schedule(d time.Duration, task func()) (api.Cancelable, error) {
	return e.current().Schedule(d, task)
}

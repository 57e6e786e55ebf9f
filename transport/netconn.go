// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

// Package transport holds pieces shared by the concrete transports under
// it. NetConn lets goroutines that want blocking I/O use a channel as a
// net.Conn.
package transport

import (
	"context"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/core/buffer"
)

// DefaultReadLimit is the number of unread inbound bytes after which
// NetConn stops reading from the channel.
const DefaultReadLimit = 256 << 10

// NetConn is a net.Conn over a registered channel. Inbound buffers are
// queued until Read consumes them; reading from the channel pauses while
// more than the read limit is queued.
type NetConn struct {
	channel.InboundHandlerAdapter

	ch    *channel.Channel
	limit int

	mu            sync.Mutex
	pending       *queue.Queue
	pendingBytes  int
	paused        bool
	err           error
	readDeadline  time.Time
	writeDeadline time.Time
	notify        chan struct{}
}

var (
	_ net.Conn               = (*NetConn)(nil)
	_ channel.InboundHandler = (*NetConn)(nil)
)

// NewNetConn appends the adapter to the pipeline of ch. limit <= 0 means
// DefaultReadLimit.
func NewNetConn(ctx context.Context, ch *channel.Channel, limit int) (*NetConn, error) {
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	c := &NetConn{
		ch:      ch,
		limit:   limit,
		pending: queue.New(),
		notify:  make(chan struct{}, 1),
	}
	if err := ch.Pipeline().AddLast("netconn", c).Await(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Channel returns the underlying channel.
func (c *NetConn) Channel() *channel.Channel { return c.ch }

func (c *NetConn) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *NetConn) ChannelRead(ctx *channel.HandlerContext, msg any) {
	var b *buffer.ByteBuf
	switch m := msg.(type) {
	case *buffer.ByteBuf:
		b = m
	case []byte:
		b = buffer.Copied(m)
	default:
		ctx.FireChannelRead(msg)
		return
	}
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		buffer.SafeRelease(b)
		return
	}
	c.pending.Add(b)
	c.pendingBytes += b.ReadableBytes()
	if c.pendingBytes >= c.limit && !c.paused {
		c.paused = true
		c.ch.SetAutoRead(false)
	}
	c.mu.Unlock()
	c.wake()
}

func (c *NetConn) ChannelInactive(ctx *channel.HandlerContext) {
	c.fail(io.EOF)
	ctx.FireChannelInactive()
}

func (c *NetConn) ExceptionCaught(ctx *channel.HandlerContext, err error) {
	c.fail(err)
	ctx.Close(nil)
}

func (c *NetConn) HandlerRemoved(*channel.HandlerContext) {
	c.fail(net.ErrClosed)
}

func (c *NetConn) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.wake()
}

// Read copies queued inbound bytes into p, waiting for data, the read
// deadline or the end of the connection. Queued data is returned before
// the error that ended the connection.
func (c *NetConn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		c.mu.Lock()
		if c.pending.Length() > 0 {
			n := c.drain(p)
			c.mu.Unlock()
			return n, nil
		}
		err, deadline := c.err, c.readDeadline
		c.mu.Unlock()
		if err != nil {
			return 0, err
		}
		if err := c.wait(deadline); err != nil {
			return 0, err
		}
	}
}

// drain fills p from the queue head. Called with mu held.
func (c *NetConn) drain(p []byte) int {
	n := 0
	for n < len(p) && c.pending.Length() > 0 {
		b := c.pending.Peek().(*buffer.ByteBuf)
		m, _ := b.Read(p[n:])
		n += m
		if b.ReadableBytes() == 0 {
			c.pending.Remove()
			buffer.SafeRelease(b)
		}
	}
	c.pendingBytes -= n
	if c.paused && c.pendingBytes < c.limit/2 {
		c.paused = false
		c.ch.SetAutoRead(true)
	}
	return n
}

func (c *NetConn) wait(deadline time.Time) error {
	if deadline.IsZero() {
		<-c.notify
		return nil
	}
	d := time.Until(deadline)
	if d <= 0 {
		return os.ErrDeadlineExceeded
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.notify:
		return nil
	case <-t.C:
		return os.ErrDeadlineExceeded
	}
}

// Write copies p into a buffer from the channel's allocator and waits for
// it to be flushed or for the write deadline.
func (c *NetConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	err, deadline := c.err, c.writeDeadline
	c.mu.Unlock()
	if err != nil {
		if err == io.EOF {
			err = net.ErrClosed
		}
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	b, err := c.ch.Allocator().Buffer(len(p), len(p))
	if err != nil {
		return 0, err
	}
	if err := b.WriteBytes(p); err != nil {
		buffer.SafeRelease(b)
		return 0, err
	}
	ctx := context.Background()
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	if err := c.ch.WriteAndFlush(b).Await(ctx); err != nil {
		if api.CodeOf(err) == api.ErrCodeTimeout || ctx.Err() != nil {
			return 0, os.ErrDeadlineExceeded
		}
		return 0, err
	}
	return len(p), nil
}

// Close closes the channel and drops unread data.
func (c *NetConn) Close() error {
	c.fail(net.ErrClosed)
	err := c.ch.Close().Await(context.Background())
	c.mu.Lock()
	for c.pending.Length() > 0 {
		buffer.SafeRelease(c.pending.Remove())
	}
	c.pendingBytes = 0
	c.mu.Unlock()
	return err
}

func (c *NetConn) LocalAddr() net.Addr  { return c.ch.LocalAddr() }
func (c *NetConn) RemoteAddr() net.Addr { return c.ch.RemoteAddr() }

func (c *NetConn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline, c.writeDeadline = t, t
	c.mu.Unlock()
	c.wake()
	return nil
}

func (c *NetConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	c.mu.Unlock()
	c.wake()
	return nil
}

func (c *NetConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	c.writeDeadline = t
	c.mu.Unlock()
	return nil
}

//go:build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/core/buffer"
)

const (
	// maxIov bounds the buffers gathered into one writev call.
	maxIov = 1024
	// writeSpin bounds writev calls per flush before yielding to the loop.
	writeSpin = 16
)

// Conn is a connected or connecting TCP transport. All methods run on the
// channel's loop.
type Conn struct {
	ch     *channel.Channel
	fd     int
	poller api.Poller
	local  net.Addr
	remote net.Addr

	active     bool
	connecting bool
	closed     bool
	interest   api.IOEvents
	added      bool

	batch *buffer.Batch
}

var _ channel.Transport = (*Conn)(nil)

// NewTransport returns an unconnected client transport.
func NewTransport() *Conn {
	return &Conn{fd: -1, batch: buffer.NewBatch(16)}
}

// NewChannel creates a client channel over a fresh transport.
func NewChannel(opts ...channel.Option) (*channel.Channel, error) {
	return channel.New(NewTransport(), opts...)
}

func accepted(fd int, remote net.Addr) *Conn {
	c := &Conn{fd: fd, remote: remote, active: true, batch: buffer.NewBatch(16)}
	c.local = localAddrOf(fd)
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	return c
}

func (c *Conn) LocalAddr() net.Addr  { return c.local }
func (c *Conn) RemoteAddr() net.Addr { return c.remote }
func (c *Conn) Active() bool         { return c.active && !c.closed }

func (c *Conn) Register(ch *channel.Channel) error {
	p, err := poller(ch.Loop())
	if err != nil {
		return err
	}
	c.ch = ch
	c.poller = p
	if c.fd >= 0 {
		return c.watch()
	}
	return nil
}

func (c *Conn) watch() error {
	if err := c.poller.Add(c.fd, c.interest, c.onReady); err != nil {
		return err
	}
	c.added = true
	return nil
}

func (c *Conn) ensureSocket(family int) error {
	if c.fd >= 0 {
		return nil
	}
	fd, err := newSocket(family)
	if err != nil {
		return err
	}
	c.fd = fd
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	return c.watch()
}

func (c *Conn) Bind(local net.Addr) error {
	ta, err := tcpAddr(local)
	if err != nil {
		return err
	}
	sa, family := toSockaddr(ta)
	if err := c.ensureSocket(family); err != nil {
		return err
	}
	if err := unix.Bind(c.fd, sa); err != nil {
		return api.ErrIllegalState.WithContext("addr", ta.String()).Wrap(err)
	}
	c.local = localAddrOf(c.fd)
	return nil
}

func (c *Conn) Connect(remote, local net.Addr) (bool, error) {
	if c.active || c.connecting {
		return false, api.ErrIllegalState.WithContext("reason", "already connected")
	}
	ra, err := tcpAddr(remote)
	if err != nil {
		return false, err
	}
	if local != nil {
		if err := c.Bind(local); err != nil {
			return false, err
		}
	}
	sa, family := toSockaddr(ra)
	if err := c.ensureSocket(family); err != nil {
		return false, err
	}
	c.remote = ra
	switch err := unix.Connect(c.fd, sa); err {
	case nil:
		c.connected()
		return false, nil
	case unix.EINPROGRESS:
		c.connecting = true
		return true, c.setInterest(c.interest | api.EventWrite)
	default:
		return false, &net.OpError{Op: "dial", Net: "tcp", Addr: ra, Err: err}
	}
}

func (c *Conn) connected() {
	c.active = true
	c.local = localAddrOf(c.fd)
}

func (c *Conn) BeginRead() error { return c.setInterest(c.interest | api.EventRead) }
func (c *Conn) StopRead() error  { return c.setInterest(c.interest &^ api.EventRead) }

func (c *Conn) setInterest(ev api.IOEvents) error {
	if ev == c.interest || !c.added {
		c.interest = ev
		return nil
	}
	if err := c.poller.Modify(c.fd, ev); err != nil {
		return err
	}
	c.interest = ev
	return nil
}

func (c *Conn) onReady(ev api.IOEvents) {
	if c.closed {
		return
	}
	u := c.ch.Unsafe()
	if c.connecting {
		if ev&(api.EventWrite|api.EventError|api.EventHangup) == 0 {
			return
		}
		c.finishConnect()
		return
	}
	if ev&api.EventWrite != 0 {
		u.ForceFlush()
	}
	switch {
	case c.closed:
	case c.interest&api.EventRead != 0 && ev&(api.EventRead|api.EventHangup|api.EventError) != 0:
		u.ReadStream(c.read)
	case ev&api.EventError != 0:
		err := socketError(c.fd)
		c.ch.Pipeline().FireExceptionCaught(err)
		u.Close(err)
	case ev&api.EventHangup != 0:
		u.Close(nil)
	}
}

func (c *Conn) finishConnect() {
	c.connecting = false
	err := socketError(c.fd)
	if err == nil {
		c.connected()
		err = c.setInterest(c.interest &^ api.EventWrite)
	}
	if err != nil {
		err = &net.OpError{Op: "dial", Net: "tcp", Addr: c.remote, Err: err}
	}
	c.ch.Unsafe().FinishConnect(err)
}

func (c *Conn) read(buf *buffer.ByteBuf) (int, error) {
	p, err := buf.Writable()
	if err != nil {
		return 0, err
	}
	for {
		n, err := unix.Read(c.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, nil
		case err != nil:
			return 0, &net.OpError{Op: "read", Net: "tcp", Addr: c.remote, Err: err}
		case n == 0:
			return 0, io.EOF
		}
		return n, buf.AdvanceWriter(n)
	}
}

// Write drains flushed buffers with writev. On a short write the remainder
// stays queued and write readiness is watched until the socket accepts it.
func (c *Conn) Write(out *channel.OutboundBuffer) error {
	for spin := writeSpin; spin > 0 && !out.IsEmpty(); spin-- {
		c.batch.Reset()
		var appendErr error
		out.ForEachFlushed(func(msg any) bool {
			b, ok := msg.(*buffer.ByteBuf)
			if !ok {
				return false
			}
			if err := c.batch.Append(b); err != nil {
				appendErr = err
				return false
			}
			return c.batch.Len() < maxIov
		})
		if c.batch.Len() == 0 {
			c.dropHead(out, appendErr)
			continue
		}
		n, err := unix.Writev(c.fd, c.batch.Iovecs())
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			n = 0
		case err != nil:
			c.batch.Reset()
			return &net.OpError{Op: "write", Net: "tcp", Addr: c.remote, Err: err}
		}
		want := c.batch.Bytes()
		c.batch.Reset()
		out.RemoveBytes(n)
		if n < want {
			break
		}
	}
	if out.IsEmpty() {
		return c.setInterest(c.interest &^ api.EventWrite)
	}
	return c.setInterest(c.interest | api.EventWrite)
}

// dropHead removes a head entry that cannot be gathered.
func (c *Conn) dropHead(out *channel.OutboundBuffer, appendErr error) {
	msg := out.Current()
	switch b, ok := msg.(*buffer.ByteBuf); {
	case appendErr != nil:
		out.RemoveError(appendErr)
	case ok && !b.IsReadable():
		out.Remove()
	default:
		out.RemoveError(api.ErrNotSupported.WithContext("message", fmt.Sprintf("%T", msg)))
	}
}

func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.active = false
	c.connecting = false
	if c.fd < 0 {
		return nil
	}
	if c.added {
		_ = c.poller.Remove(c.fd)
	}
	err := unix.Close(c.fd)
	c.fd = -1
	return err
}

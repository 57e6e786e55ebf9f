//go:build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"net"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/internal/logging"
)

// DefaultBacklog is the listen(2) backlog used when none is configured.
const DefaultBacklog = 1024

// Listener accepts TCP connections. Each accepted socket is fired through
// the server pipeline as an unregistered *channel.Channel.
type Listener struct {
	ch        *channel.Channel
	fd        int
	poller    api.Poller
	local     net.Addr
	backlog   int
	childOpts []channel.Option
	closed    bool
	reading   bool
	acceptErr error
	log       zerolog.Logger
}

var _ channel.ServerTransport = (*Listener)(nil)

// NewListener returns an unbound listener transport.
func NewListener(backlog int, childOpts ...channel.Option) *Listener {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Listener{fd: -1, backlog: backlog, childOpts: childOpts, log: logging.For("tcp-listener")}
}

// NewServerChannel creates a listening channel with the default backlog.
func NewServerChannel(opts ...channel.Option) (*channel.Channel, error) {
	return channel.New(NewListener(DefaultBacklog), opts...)
}

// Available reports whether the TCP transport works on this platform.
func Available() bool { return true }

// SetChildOptions sets the options accepted children are created with.
func (l *Listener) SetChildOptions(opts ...channel.Option) { l.childOpts = opts }

func (l *Listener) IsServer() bool       { return true }
func (l *Listener) LocalAddr() net.Addr  { return l.local }
func (l *Listener) RemoteAddr() net.Addr { return nil }
func (l *Listener) Active() bool         { return l.fd >= 0 && l.local != nil && !l.closed }

func (l *Listener) Connect(net.Addr, net.Addr) (bool, error) {
	return false, api.ErrNotSupported.WithContext("op", "connect on listener")
}

func (l *Listener) Write(*channel.OutboundBuffer) error {
	return api.ErrNotSupported.WithContext("op", "write on listener")
}

func (l *Listener) Register(ch *channel.Channel) error {
	p, err := poller(ch.Loop())
	if err != nil {
		return err
	}
	l.ch = ch
	l.poller = p
	return nil
}

func (l *Listener) Bind(local net.Addr) error {
	if l.fd >= 0 {
		return api.ErrIllegalState.WithContext("reason", "already bound")
	}
	ta, err := tcpAddr(local)
	if err != nil {
		return err
	}
	sa, family := toSockaddr(ta)
	fd, err := newSocket(family)
	if err != nil {
		return err
	}
	fail := func(op string, err error) error {
		_ = unix.Close(fd)
		return &net.OpError{Op: op, Net: "tcp", Addr: ta, Err: err}
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fail("bind", err)
	}
	if err := unix.Listen(fd, l.backlog); err != nil {
		return fail("listen", err)
	}
	if err := l.poller.Add(fd, 0, l.onReady); err != nil {
		return fail("watch", err)
	}
	l.fd = fd
	l.local = localAddrOf(fd)
	return nil
}

func (l *Listener) BeginRead() error { return l.watchAccept(true) }
func (l *Listener) StopRead() error  { return l.watchAccept(false) }

func (l *Listener) watchAccept(on bool) error {
	if l.reading == on || l.fd < 0 {
		l.reading = on
		return nil
	}
	var ev api.IOEvents
	if on {
		ev = api.EventRead
	}
	if err := l.poller.Modify(l.fd, ev); err != nil {
		return err
	}
	l.reading = on
	return nil
}

func (l *Listener) onReady(api.IOEvents) {
	if l.closed {
		return
	}
	// level-triggered: a backlog left over by the read budget is reported again
	l.ch.Unsafe().ReadMessages(l.accept)
	if err := l.acceptErr; err != nil {
		l.acceptErr = nil
		l.ch.Pipeline().FireExceptionCaught(err)
	}
}

func (l *Listener) accept() (any, bool) {
	for {
		nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch err {
		case nil:
		case unix.EINTR, unix.ECONNABORTED:
			continue
		case unix.EAGAIN:
			return nil, false
		default:
			l.acceptErr = &net.OpError{Op: "accept", Net: "tcp", Addr: l.local, Err: err}
			return nil, false
		}
		child, err := channel.NewChild(l.ch, accepted(nfd, fromSockaddr(sa)), l.childOpts...)
		if err != nil {
			_ = unix.Close(nfd)
			l.log.Warn().Err(err).Msg("dropping accepted connection")
			continue
		}
		return child, true
	}
}

func (l *Listener) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	if l.fd < 0 {
		return nil
	}
	_ = l.poller.Remove(l.fd)
	err := unix.Close(l.fd)
	l.fd = -1
	return err
}

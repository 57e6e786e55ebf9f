// File: transport/local/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package local

import (
	"net"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
)

// Server listens on a local name and accepts in-process connections.
// Accepted children are fired through the server pipeline as *channel.Channel
// messages, unregistered.
type Server struct {
	ch        *channel.Channel
	addr      Addr
	bound     bool
	closed    bool
	reading   bool
	childOpts []channel.Option

	// loop only
	backlog *queue.Queue
}

var _ channel.ServerTransport = (*Server)(nil)

// NewServer returns an unbound server transport.
func NewServer(childOpts ...channel.Option) *Server {
	return &Server{backlog: queue.New(), childOpts: childOpts}
}

// NewServerChannel creates a server channel over a fresh transport.
func NewServerChannel(opts ...channel.Option) (*channel.Channel, error) {
	return channel.New(NewServer(), opts...)
}

// SetChildOptions sets the options accepted children are created with.
func (s *Server) SetChildOptions(opts ...channel.Option) { s.childOpts = opts }

func (s *Server) IsServer() bool { return true }

func (s *Server) LocalAddr() net.Addr {
	if !s.bound {
		return nil
	}
	return s.addr
}

func (s *Server) RemoteAddr() net.Addr { return nil }

func (s *Server) Active() bool { return s.bound && !s.closed }

func (s *Server) Register(ch *channel.Channel) error {
	s.ch = ch
	return nil
}

func (s *Server) Bind(local net.Addr) error {
	if s.bound {
		return api.ErrIllegalState.WithContext("reason", "already bound")
	}
	a, err := toAddr(local)
	if err != nil {
		return err
	}
	if a == Any {
		a = Addr("server-" + s.ch.ID().ShortText())
	}
	if _, loaded := registry.LoadOrStore(a, s); loaded {
		return ErrAddressInUse.WithContext("addr", string(a))
	}
	s.addr = a
	s.bound = true
	return nil
}

func (s *Server) Connect(net.Addr, net.Addr) (bool, error) {
	return false, api.ErrNotSupported.WithContext("op", "connect on server")
}

func (s *Server) BeginRead() error {
	s.reading = true
	s.drain()
	return nil
}

func (s *Server) StopRead() error {
	s.reading = false
	return nil
}

func (s *Server) Write(*channel.OutboundBuffer) error {
	return api.ErrNotSupported.WithContext("op", "write on server")
}

func (s *Server) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.bound {
		registry.CompareAndDelete(s.addr, s)
	}
	for s.backlog.Length() > 0 {
		child := s.backlog.Remove().(*channel.Channel)
		child.Close()
	}
	return nil
}

// serve hands an accepted connection to the server loop. Called from the
// client's loop.
func (s *Server) serve(peer *Transport) error {
	err := s.ch.Executor().Execute(func() {
		if s.closed {
			refuse(peer, api.ErrChannelClosed)
			return
		}
		child, err := channel.NewChild(s.ch, peer, s.childOpts...)
		if err != nil {
			refuse(peer, err)
			return
		}
		s.backlog.Add(child)
		s.drain()
	})
	if err != nil {
		return ErrConnectionRefused.Wrap(err)
	}
	return nil
}

func refuse(peer *Transport, cause error) {
	peer.state.Store(stateClosed)
	client := peer.peer
	_ = client.ch.Executor().Execute(func() {
		client.ch.Unsafe().FinishConnect(ErrConnectionRefused.Wrap(cause))
	})
}

func (s *Server) drain() {
	if !s.reading || s.backlog.Length() == 0 {
		return
	}
	more := s.ch.Unsafe().ReadMessages(func() (any, bool) {
		if s.backlog.Length() == 0 {
			return nil, false
		}
		return s.backlog.Remove(), true
	})
	if more {
		_ = s.ch.Executor().Execute(s.drain)
	}
}

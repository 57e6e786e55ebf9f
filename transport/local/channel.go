// File: transport/local/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package local

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/core/buffer"
)

const (
	stateOpen int32 = iota
	stateConnected
	stateClosed
)

// Transport is one end of a local connection.
type Transport struct {
	ch            *channel.Channel
	local, remote Addr
	peer          *Transport
	accepted      bool

	state          atomic.Int32
	deliverPending atomic.Bool

	mu      sync.Mutex
	inbound *queue.Queue

	// loop only
	reading bool
}

var _ channel.Transport = (*Transport)(nil)

// NewTransport returns an unconnected client transport.
func NewTransport() *Transport {
	return &Transport{inbound: queue.New()}
}

// NewChannel creates a client channel over a fresh transport.
func NewChannel(opts ...channel.Option) (*channel.Channel, error) {
	return channel.New(NewTransport(), opts...)
}

func (t *Transport) LocalAddr() net.Addr {
	if t.local == Any {
		return nil
	}
	return t.local
}

func (t *Transport) RemoteAddr() net.Addr {
	if t.remote == Any {
		return nil
	}
	return t.remote
}

func (t *Transport) Active() bool { return t.state.Load() == stateConnected }

func (t *Transport) Register(ch *channel.Channel) error {
	if t.state.Load() == stateClosed {
		return api.ErrChannelClosed.WithContext("transport", "local")
	}
	t.ch = ch
	if t.accepted {
		// the client's connect completes once its peer is registered
		peer := t.peer
		err := peer.ch.Executor().Execute(func() {
			if peer.state.CompareAndSwap(stateOpen, stateConnected) {
				peer.ch.Unsafe().FinishConnect(nil)
			}
		})
		if err != nil {
			return api.ErrChannelClosed.Wrap(err)
		}
	}
	return nil
}

func (t *Transport) Bind(local net.Addr) error {
	a, err := toAddr(local)
	if err != nil {
		return err
	}
	t.local = a
	return nil
}

func (t *Transport) Connect(remote, local net.Addr) (bool, error) {
	if t.state.Load() != stateOpen || t.peer != nil {
		return false, api.ErrIllegalState.WithContext("reason", "already connected")
	}
	if local != nil {
		if err := t.Bind(local); err != nil {
			return false, err
		}
	}
	if t.local == Any {
		t.local = Addr("client-" + t.ch.ID().ShortText())
	}
	srv, ok := lookup(remote)
	if !ok {
		return false, ErrConnectionRefused.WithContext("remote", remote)
	}
	child := &Transport{
		local:    srv.addr,
		remote:   t.local,
		peer:     t,
		accepted: true,
		inbound:  queue.New(),
	}
	child.state.Store(stateConnected)
	t.peer = child
	t.remote = srv.addr
	if err := srv.serve(child); err != nil {
		t.peer = nil
		return false, err
	}
	return true, nil
}

func (t *Transport) BeginRead() error {
	t.reading = true
	t.scheduleDeliver()
	return nil
}

func (t *Transport) StopRead() error {
	t.reading = false
	return nil
}

// Write hands every flushed message to the peer. The peer receives its own
// reference; the outbound buffer releases ours.
func (t *Transport) Write(out *channel.OutboundBuffer) error {
	peer := t.peer
	if peer == nil || peer.state.Load() == stateClosed {
		return api.ErrChannelClosed.WithContext("reason", "peer closed")
	}
	for msg := out.Current(); msg != nil; msg = out.Current() {
		if err := buffer.Retain(msg); err != nil {
			out.RemoveError(err)
			continue
		}
		peer.enqueue(msg)
		out.Remove()
	}
	peer.scheduleDeliver()
	return nil
}

func (t *Transport) Close() error {
	if t.state.Swap(stateClosed) == stateClosed {
		return nil
	}
	t.mu.Lock()
	var left []any
	for t.inbound.Length() > 0 {
		left = append(left, t.inbound.Remove())
	}
	t.mu.Unlock()
	errs := buffer.ReleaseAll(left...)

	if peer := t.peer; peer != nil && peer.state.Load() != stateClosed {
		if pch := peer.ch; pch != nil {
			// queued deliveries to the peer run before its close
			if err := pch.Executor().Execute(func() { pch.Unsafe().Close(nil) }); err != nil {
				_ = peer.Close()
			}
		} else {
			_ = peer.Close()
		}
	}
	return errs
}

func (t *Transport) enqueue(msg any) {
	t.mu.Lock()
	if t.state.Load() == stateClosed {
		t.mu.Unlock()
		buffer.SafeRelease(msg)
		return
	}
	t.inbound.Add(msg)
	t.mu.Unlock()
}

func (t *Transport) next() (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inbound.Length() == 0 {
		return nil, false
	}
	return t.inbound.Remove(), true
}

func (t *Transport) scheduleDeliver() {
	ch := t.ch
	if ch == nil || !t.deliverPending.CompareAndSwap(false, true) {
		return
	}
	if err := ch.Executor().Execute(t.deliver); err != nil {
		t.deliverPending.Store(false)
	}
}

func (t *Transport) deliver() {
	t.deliverPending.Store(false)
	if !t.reading || t.state.Load() == stateClosed {
		return
	}
	if t.ch.Unsafe().ReadMessages(t.next) {
		t.scheduleDeliver()
	}
}

// File: channel/transport.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"net"

	"github.com/momentics/hioload-net/api"
)

// Transport is the native side of a channel: a socket, an in-process
// pipe or a test double. The channel calls every method on its loop, so
// implementations keep their state without locks.
type Transport interface {
	LocalAddr() net.Addr
	RemoteAddr() net.Addr

	// Active reports whether the transport is connected (bound, for a
	// listener) at registration time. Accepted children are.
	Active() bool

	// Register attaches the transport to the channel's loop.
	Register(ch *Channel) error

	Bind(local net.Addr) error

	// Connect starts a connection. When pending is true the transport
	// later calls Channel.Unsafe().FinishConnect.
	Connect(remote, local net.Addr) (pending bool, err error)

	// BeginRead arms inbound delivery; StopRead disarms it.
	BeginRead() error
	StopRead() error

	// Write drains flushed entries of out. Writes it cannot finish now are
	// left in out; the transport flushes again once it can make progress.
	Write(out *OutboundBuffer) error

	// Close releases the native resource. Called once.
	Close() error
}

// Loop is the executor a channel registers with. concurrency.EventLoop
// implements it, so does the embedded test loop.
type Loop interface {
	api.EventExecutor
	// Track registers onShutdown to run when the loop begins shutting
	// down. Loop goroutine only.
	Track(key any, onShutdown func())
	Untrack(key any)
}

// ServerTransport is implemented by listeners. Accepted children reach the
// pipeline as *Channel messages.
type ServerTransport interface {
	Transport
	IsServer() bool
}

func isServer(t Transport) bool {
	s, ok := t.(ServerTransport)
	return ok && s.IsServer()
}

// UnhandledSink is implemented by transports that collect what reaches the
// tail of the pipeline instead of dropping it.
type UnhandledSink interface {
	UnhandledInbound(msg any)
	UnhandledException(err error)
}

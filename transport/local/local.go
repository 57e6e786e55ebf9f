// File: transport/local/local.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package local connects channels inside one process. Messages are handed
// to the peer by reference, without serialization; a write on one side
// becomes a read on the other, delivered on the peer's loop. Closing either
// side closes both.
package local

import (
	"net"
	"sync"

	"github.com/momentics/hioload-net/api"
)

// Addr names a local server. Any asks Bind for a fresh name.
type Addr string

// Any is the wildcard address.
const Any Addr = ""

func (Addr) Network() string  { return "local" }
func (a Addr) String() string { return "local:" + string(a) }

var (
	// ErrAddressInUse is returned by Bind when another server owns the name.
	ErrAddressInUse = api.NewError(api.ErrCodeIllegalState, "local address already in use")
	// ErrConnectionRefused fails a connect to a name nobody is bound to.
	ErrConnectionRefused = api.NewError(api.ErrCodeNotFound, "connection refused")
)

// registry maps bound names to their servers.
var registry sync.Map // Addr -> *Server

func lookup(a net.Addr) (*Server, bool) {
	addr, ok := a.(Addr)
	if !ok {
		return nil, false
	}
	s, ok := registry.Load(addr)
	if !ok {
		return nil, false
	}
	return s.(*Server), true
}

func toAddr(a net.Addr) (Addr, error) {
	switch v := a.(type) {
	case nil:
		return Any, nil
	case Addr:
		return v, nil
	default:
		return Any, api.ErrInvalidArgument.WithContext("addr", a.String()).WithContext("reason", "not a local address")
	}
}

// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants.

package api

// ChannelState enumerates the lifecycle of a channel. Values are ordered:
// a channel only ever moves to a greater state.
type ChannelState int32

const (
	StateUnregistered ChannelState = iota
	StateRegistered
	StateBound
	StateConnected
	StateActive
	StateInactive
	StateClosed
)

func (s ChannelState) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StateBound:
		return "bound"
	case StateConnected:
		return "connected"
	case StateActive:
		return "active"
	case StateInactive:
		return "inactive"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s ChannelState) Terminal() bool { return s == StateClosed }

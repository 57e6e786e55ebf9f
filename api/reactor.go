// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the abstract interface for readiness pollers used by event loops
// (epoll on Linux, a wake-only fallback elsewhere).

package api

// IOEvents is a bitmask of readiness conditions.
type IOEvents uint32

const (
	EventRead IOEvents = 1 << iota
	EventWrite
	EventError
	EventHangup
)

// IOCallback receives readiness for one registered descriptor.
type IOCallback func(events IOEvents)

// Poller multiplexes readiness for a set of descriptors. All methods except
// Wake must be called from the owning loop goroutine.
type Poller interface {
	// Add starts watching fd for events.
	Add(fd int, events IOEvents, cb IOCallback) error

	// Modify replaces the interest set of fd.
	Modify(fd int, events IOEvents) error

	// Remove stops watching fd.
	Remove(fd int) error

	// Wait blocks up to timeoutMs (-1 = forever) and dispatches callbacks
	// inline. Returns the number of dispatched descriptors.
	Wait(timeoutMs int) (int, error)

	// Wake interrupts a blocked Wait. Safe from any goroutine.
	Wake() error

	// Close releases poller resources.
	Close() error
}

// File: api/debug.go
// Author: momentics <momentics@gmail.com>
//
// Runtime introspection of loops, channels and allocators.

package api

// Debug exposes named probes evaluated on demand.
type Debug interface {
	// DumpState evaluates every probe and returns the snapshot.
	DumpState() map[string]any

	// RegisterProbe adds or replaces a probe.
	RegisterProbe(name string, fn func() any)
}

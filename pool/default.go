// File: pool/default.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sync"

	"github.com/momentics/hioload-net/core/buffer"
)

var (
	defaultOnce  sync.Once
	defaultAlloc *PooledAllocator
)

// Default returns a process-wide PooledAllocator so all components reuse
// the same arenas instead of fragmenting allocations.
func Default() *PooledAllocator {
	defaultOnce.Do(func() {
		a, err := NewPooledAllocator()
		if err != nil {
			// DefaultConfig always validates.
			panic(err)
		}
		defaultAlloc = a
	})
	return defaultAlloc
}

// DefaultBuffer is a shortcut to allocate from the default allocator.
func DefaultBuffer(initialCapacity, maxCapacity int) (*buffer.ByteBuf, error) {
	return Default().Buffer(initialCapacity, maxCapacity)
}

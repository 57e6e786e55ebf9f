// File: core/buffer/allocator.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Allocation contracts between buffers and the memory that backs them.

package buffer

import (
	"math"

	"github.com/momentics/hioload-net/api"
)

// DefaultMaxCapacity bounds buffers created without an explicit limit.
const DefaultMaxCapacity = math.MaxInt32

// Region is a block of memory handed out by a RegionAllocator. Free returns
// it to its source and must be called at most once.
type Region interface {
	Bytes() []byte
	Free()
}

// RegionAllocator produces regions of at least the requested capacity.
type RegionAllocator interface {
	Allocate(capacity int) (Region, error)
}

// Allocator is the user-facing buffer factory.
type Allocator interface {
	// Buffer returns a buffer with refCnt 1, capacity >= initialCapacity and
	// the given growth limit.
	Buffer(initialCapacity, maxCapacity int) (*ByteBuf, error)
}

// NewBuffer builds a buffer on top of a region allocator. It is the shared
// entry point for heap and pooled allocators.
func NewBuffer(ra RegionAllocator, initialCapacity, maxCapacity int) (*ByteBuf, error) {
	if maxCapacity <= 0 {
		maxCapacity = DefaultMaxCapacity
	}
	if initialCapacity < 0 || initialCapacity > maxCapacity {
		return nil, api.ErrInvalidArgument.
			WithContext("initialCapacity", initialCapacity).
			WithContext("maxCapacity", maxCapacity)
	}
	r, err := ra.Allocate(initialCapacity)
	if err != nil {
		return nil, err
	}
	return newByteBuf(ra, r, maxCapacity), nil
}

// heapRegion is garbage-collected memory; Free only drops the reference.
type heapRegion struct{ b []byte }

func (r *heapRegion) Bytes() []byte { return r.b }
func (r *heapRegion) Free()         { r.b = nil }

// HeapAllocator allocates unpooled buffers on the Go heap.
type HeapAllocator struct{}

// Heap is the shared unpooled allocator.
var Heap Allocator = HeapAllocator{}

// Allocate implements RegionAllocator.
func (HeapAllocator) Allocate(capacity int) (Region, error) {
	if capacity < 0 {
		return nil, api.ErrInvalidArgument.WithContext("capacity", capacity)
	}
	return &heapRegion{b: make([]byte, capacity)}, nil
}

// Buffer implements Allocator.
func (h HeapAllocator) Buffer(initialCapacity, maxCapacity int) (*ByteBuf, error) {
	return NewBuffer(h, initialCapacity, maxCapacity)
}

// Wrap returns a buffer whose readable bytes are p, without copying. The
// buffer grows into fresh heap memory if written past len(p).
func Wrap(p []byte) *ByteBuf {
	b := newByteBuf(HeapAllocator{}, &heapRegion{b: p[:len(p):len(p)]}, DefaultMaxCapacity)
	b.writerIndex = len(p)
	return b
}

// Copied returns a heap buffer holding a copy of p.
func Copied(p []byte) *ByteBuf {
	c := make([]byte, len(p))
	copy(c, p)
	return Wrap(c)
}

// CopiedString returns a heap buffer holding s.
func CopiedString(s string) *ByteBuf {
	return Wrap([]byte(s))
}

// File: core/buffer/bytebuf.go
// Package buffer implements reference-counted, growable byte buffers.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A ByteBuf is a view over backing storage with independent reader and
// writer indices. Storage is shared by every view derived from the same
// allocation (Slice, Duplicate) and carries one reference count; the
// storage returns to its allocator exactly once, when that count drops to
// zero. Every access after that point fails with ErrIllegalReferenceCount.
//
// Invariant: 0 <= readerIndex <= writerIndex <= capacity <= maxCapacity.
//
// ByteBuf is not safe for concurrent mutation. Concurrent read-only access
// is permitted once each reader holds its own retained reference.

package buffer

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/momentics/hioload-net/api"
)

// storage is the shared, reference-counted backing of a buffer family.
type storage struct {
	refCnt atomic.Int32
	region Region
	mem    []byte
	alloc  RegionAllocator
}

// ByteBuf is a reference-counted byte container.
type ByteBuf struct {
	s *storage

	// offset of this view within s.mem; non-zero only for slices.
	offset int
	// fixedCap is the capacity of a slice view, -1 when the view follows
	// the (growable) capacity of the storage.
	fixedCap int

	readerIndex  int
	writerIndex  int
	markedReader int
	markedWriter int
	maxCapacity  int
}

// newByteBuf wraps a fresh region. refCnt starts at 1.
func newByteBuf(alloc RegionAllocator, r Region, maxCapacity int) *ByteBuf {
	s := &storage{region: r, mem: r.Bytes(), alloc: alloc}
	s.refCnt.Store(1)
	return &ByteBuf{s: s, fixedCap: -1, maxCapacity: maxCapacity}
}

// RefCnt returns the shared reference count.
func (b *ByteBuf) RefCnt() int {
	return int(b.s.refCnt.Load())
}

// Retain increments the shared reference count. It fails when the count
// already reached zero.
func (b *ByteBuf) Retain() (*ByteBuf, error) {
	return b, b.RetainN(1)
}

// IncRef implements ReferenceCounted.
func (b *ByteBuf) IncRef() error { return b.RetainN(1) }

// RetainN increments the reference count by n.
func (b *ByteBuf) RetainN(n int) error {
	if n <= 0 {
		return api.ErrInvalidArgument.WithContext("increment", n)
	}
	for {
		c := b.s.refCnt.Load()
		if c <= 0 {
			return api.ErrIllegalReferenceCount.WithContext("refCnt", c).WithContext("increment", n)
		}
		if int64(c)+int64(n) > math.MaxInt32 {
			return api.ErrIllegalReferenceCount.WithContext("refCnt", c).WithContext("increment", n)
		}
		if b.s.refCnt.CompareAndSwap(c, c+int32(n)) {
			return nil
		}
	}
}

// Release decrements the reference count and reports whether the storage
// was returned to its source. Releasing at zero is a lifetime violation.
func (b *ByteBuf) Release() (bool, error) {
	return b.ReleaseN(1)
}

// ReleaseN decrements the reference count by n.
func (b *ByteBuf) ReleaseN(n int) (bool, error) {
	if n <= 0 {
		return false, api.ErrInvalidArgument.WithContext("decrement", n)
	}
	for {
		c := b.s.refCnt.Load()
		if c < int32(n) {
			return false, api.ErrIllegalReferenceCount.WithContext("refCnt", c).WithContext("decrement", n)
		}
		if b.s.refCnt.CompareAndSwap(c, c-int32(n)) {
			if c == int32(n) {
				b.s.deallocate()
				return true, nil
			}
			return false, nil
		}
	}
}

func (s *storage) deallocate() {
	r := s.region
	s.region = nil
	s.mem = nil
	if r != nil {
		r.Free()
	}
}

// ensureAccessible is the checked state tag: released buffers are inert.
func (b *ByteBuf) ensureAccessible() error {
	if b.s.refCnt.Load() <= 0 {
		return api.ErrIllegalReferenceCount.WithContext("refCnt", 0)
	}
	return nil
}

// Capacity returns the number of bytes this view can address.
func (b *ByteBuf) Capacity() int {
	if b.fixedCap >= 0 {
		return b.fixedCap
	}
	return len(b.s.mem)
}

// MaxCapacity is the limit EnsureWritable may grow to.
func (b *ByteBuf) MaxCapacity() int { return b.maxCapacity }

// ReaderIndex returns the reader index.
func (b *ByteBuf) ReaderIndex() int { return b.readerIndex }

// WriterIndex returns the writer index.
func (b *ByteBuf) WriterIndex() int { return b.writerIndex }

// ReadableBytes is writerIndex - readerIndex.
func (b *ByteBuf) ReadableBytes() int { return b.writerIndex - b.readerIndex }

// WritableBytes is capacity - writerIndex.
func (b *ByteBuf) WritableBytes() int { return b.Capacity() - b.writerIndex }

// MaxWritableBytes is maxCapacity - writerIndex.
func (b *ByteBuf) MaxWritableBytes() int { return b.maxCapacity - b.writerIndex }

// IsReadable reports whether at least one byte is readable.
func (b *ByteBuf) IsReadable() bool { return b.writerIndex > b.readerIndex }

// SetReaderIndex moves the reader index within [0, writerIndex].
func (b *ByteBuf) SetReaderIndex(i int) error {
	if i < 0 || i > b.writerIndex {
		return b.oob("readerIndex", i)
	}
	b.readerIndex = i
	return nil
}

// SetWriterIndex moves the writer index within [readerIndex, capacity].
func (b *ByteBuf) SetWriterIndex(i int) error {
	if i < b.readerIndex || i > b.Capacity() {
		return b.oob("writerIndex", i)
	}
	b.writerIndex = i
	return nil
}

// SetIndex sets both indices at once.
func (b *ByteBuf) SetIndex(reader, writer int) error {
	if reader < 0 || reader > writer || writer > b.Capacity() {
		return b.oob("readerIndex", reader).WithContext("writerIndex", writer)
	}
	b.readerIndex, b.writerIndex = reader, writer
	return nil
}

// Clear resets both indices to zero.
func (b *ByteBuf) Clear() {
	b.readerIndex, b.writerIndex = 0, 0
}

// MarkReaderIndex remembers the current reader index.
func (b *ByteBuf) MarkReaderIndex() { b.markedReader = b.readerIndex }

// ResetReaderIndex restores the marked reader index.
func (b *ByteBuf) ResetReaderIndex() error { return b.SetReaderIndex(b.markedReader) }

// MarkWriterIndex remembers the current writer index.
func (b *ByteBuf) MarkWriterIndex() { b.markedWriter = b.writerIndex }

// ResetWriterIndex restores the marked writer index.
func (b *ByteBuf) ResetWriterIndex() error { return b.SetWriterIndex(b.markedWriter) }

// mem returns the addressable bytes of this view.
func (b *ByteBuf) mem() ([]byte, error) {
	if err := b.ensureAccessible(); err != nil {
		return nil, err
	}
	c := b.Capacity()
	return b.s.mem[b.offset : b.offset+c : b.offset+c], nil
}

// EnsureWritable grows the buffer so that n more bytes can be written.
func (b *ByteBuf) EnsureWritable(n int) error {
	if n < 0 {
		return api.ErrInvalidArgument.WithContext("minWritableBytes", n)
	}
	if err := b.ensureAccessible(); err != nil {
		return err
	}
	if n <= b.WritableBytes() {
		return nil
	}
	if n > b.maxCapacity-b.writerIndex {
		return api.ErrIndexOutOfBounds.
			WithContext("writerIndex", b.writerIndex).
			WithContext("minWritableBytes", n).
			WithContext("maxCapacity", b.maxCapacity)
	}
	if b.fixedCap >= 0 {
		// slices cannot grow past their window.
		return b.oob("minWritableBytes", n)
	}
	return b.s.grow(calculateNewCapacity(b.writerIndex+n, b.maxCapacity))
}

// grow moves the storage into a larger region. Derived views keep their
// offsets because the full old region is copied.
func (s *storage) grow(newCap int) error {
	if s.alloc == nil {
		return api.ErrNotSupported.WithContext("op", "grow")
	}
	r, err := s.alloc.Allocate(newCap)
	if err != nil {
		return err
	}
	copy(r.Bytes(), s.mem)
	old := s.region
	s.region, s.mem = r, r.Bytes()
	if old != nil {
		old.Free()
	}
	return nil
}

const growThreshold = 4 << 20

// calculateNewCapacity doubles from 64 bytes up to a 4 MiB threshold and
// steps by the threshold above it, never exceeding maxCapacity.
func calculateNewCapacity(minNewCapacity, maxCapacity int) int {
	if minNewCapacity == growThreshold {
		return growThreshold
	}
	if minNewCapacity > growThreshold {
		newCap := minNewCapacity / growThreshold * growThreshold
		if newCap > maxCapacity-growThreshold {
			return maxCapacity
		}
		return newCap + growThreshold
	}
	newCap := 64
	for newCap < minNewCapacity {
		newCap <<= 1
	}
	if newCap > maxCapacity {
		return maxCapacity
	}
	return newCap
}

// DiscardReadBytes moves readable bytes to the start of the buffer.
func (b *ByteBuf) DiscardReadBytes() error {
	m, err := b.mem()
	if err != nil {
		return err
	}
	if b.readerIndex == 0 {
		return nil
	}
	n := copy(m, m[b.readerIndex:b.writerIndex])
	b.markedReader = max(b.markedReader-b.readerIndex, 0)
	b.markedWriter = max(b.markedWriter-b.readerIndex, 0)
	b.readerIndex, b.writerIndex = 0, n
	return nil
}

func (b *ByteBuf) oob(field string, v int) *api.Error {
	return api.ErrIndexOutOfBounds.
		WithContext(field, v).
		WithContext("readerIndex", b.readerIndex).
		WithContext("writerIndex", b.writerIndex).
		WithContext("capacity", b.Capacity())
}

// String describes indices and reference count, never content.
func (b *ByteBuf) String() string {
	return fmt.Sprintf("ByteBuf(ridx: %d, widx: %d, cap: %d/%d, refCnt: %d)",
		b.readerIndex, b.writerIndex, b.Capacity(), b.maxCapacity, b.RefCnt())
}

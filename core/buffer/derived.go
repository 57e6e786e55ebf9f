// File: core/buffer/derived.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Derived views share storage and the reference count with their parent.
// Retained variants add one reference the caller owns.

package buffer

// Slice returns a view of [index, index+length) relative to this view. The
// slice has its own indices (reader 0, writer length) and cannot grow.
func (b *ByteBuf) Slice(index, length int) (*ByteBuf, error) {
	if _, err := b.checkIndex(index, length); err != nil {
		return nil, err
	}
	return &ByteBuf{
		s:           b.s,
		offset:      b.offset + index,
		fixedCap:    length,
		writerIndex: length,
		maxCapacity: length,
	}, nil
}

// ReadableView is Slice over the readable bytes.
func (b *ByteBuf) ReadableView() (*ByteBuf, error) {
	return b.Slice(b.readerIndex, b.ReadableBytes())
}

// RetainedSlice is Slice plus one retain.
func (b *ByteBuf) RetainedSlice(index, length int) (*ByteBuf, error) {
	s, err := b.Slice(index, length)
	if err != nil {
		return nil, err
	}
	if err := b.IncRef(); err != nil {
		return nil, err
	}
	return s, nil
}

// Duplicate returns a view over the same memory with copied indices.
func (b *ByteBuf) Duplicate() (*ByteBuf, error) {
	if err := b.ensureAccessible(); err != nil {
		return nil, err
	}
	d := *b
	return &d, nil
}

// RetainedDuplicate is Duplicate plus one retain.
func (b *ByteBuf) RetainedDuplicate() (*ByteBuf, error) {
	d, err := b.Duplicate()
	if err != nil {
		return nil, err
	}
	if err := b.IncRef(); err != nil {
		return nil, err
	}
	return d, nil
}

// Copy returns an independent heap buffer holding the readable bytes.
func (b *ByteBuf) Copy() (*ByteBuf, error) {
	p, err := b.Readable()
	if err != nil {
		return nil, err
	}
	return Copied(p), nil
}

// Bytes returns a copy of the readable bytes. Released buffers yield nil.
func (b *ByteBuf) Bytes() []byte {
	p, err := b.Readable()
	if err != nil {
		return nil
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out
}

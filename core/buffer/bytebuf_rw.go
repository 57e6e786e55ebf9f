// File: core/buffer/bytebuf_rw.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Relative (index-advancing) and absolute accessors. Multi-byte values are
// big-endian.

package buffer

import (
	"bytes"
	"encoding/binary"
)

// checkReadable verifies n bytes can be read at the reader index.
func (b *ByteBuf) checkReadable(n int) ([]byte, error) {
	m, err := b.mem()
	if err != nil {
		return nil, err
	}
	if n < 0 || n > b.ReadableBytes() {
		return nil, b.oob("readLength", n)
	}
	return m, nil
}

// checkIndex verifies [index, index+n) lies inside the capacity.
func (b *ByteBuf) checkIndex(index, n int) ([]byte, error) {
	m, err := b.mem()
	if err != nil {
		return nil, err
	}
	if index < 0 || n < 0 || index+n > len(m) {
		return nil, b.oob("index", index).WithContext("length", n)
	}
	return m, nil
}

// Readable returns the readable window without copying. The slice is only
// valid until the buffer is released or grown.
func (b *ByteBuf) Readable() ([]byte, error) {
	m, err := b.mem()
	if err != nil {
		return nil, err
	}
	return m[b.readerIndex:b.writerIndex], nil
}

// Writable returns the writable window [writerIndex, capacity) without
// copying. Pair with AdvanceWriter once bytes were filled in.
func (b *ByteBuf) Writable() ([]byte, error) {
	m, err := b.mem()
	if err != nil {
		return nil, err
	}
	return m[b.writerIndex:], nil
}

// AdvanceWriter moves the writer index forward by n bytes that were filled
// through Writable.
func (b *ByteBuf) AdvanceWriter(n int) error {
	if err := b.ensureAccessible(); err != nil {
		return err
	}
	if n < 0 || n > b.WritableBytes() {
		return b.oob("advance", n)
	}
	b.writerIndex += n
	return nil
}

// Skip advances the reader index by n bytes.
func (b *ByteBuf) Skip(n int) error {
	if _, err := b.checkReadable(n); err != nil {
		return err
	}
	b.readerIndex += n
	return nil
}

// ReadBytes fills dst entirely from the readable bytes.
func (b *ByteBuf) ReadBytes(dst []byte) error {
	m, err := b.checkReadable(len(dst))
	if err != nil {
		return err
	}
	b.readerIndex += copy(dst, m[b.readerIndex:])
	return nil
}

// Read implements io.Reader over the readable bytes.
func (b *ByteBuf) Read(p []byte) (int, error) {
	m, err := b.mem()
	if err != nil {
		return 0, err
	}
	n := copy(p, m[b.readerIndex:b.writerIndex])
	b.readerIndex += n
	return n, nil
}

// ReadInto transfers up to dst.WritableBytes() readable bytes into dst.
func (b *ByteBuf) ReadInto(dst *ByteBuf, n int) error {
	src, err := b.checkReadable(n)
	if err != nil {
		return err
	}
	if err := dst.WriteBytes(src[b.readerIndex : b.readerIndex+n]); err != nil {
		return err
	}
	b.readerIndex += n
	return nil
}

// WriteBytes appends src, growing the buffer when needed.
func (b *ByteBuf) WriteBytes(src []byte) error {
	if err := b.EnsureWritable(len(src)); err != nil {
		return err
	}
	m, _ := b.mem()
	b.writerIndex += copy(m[b.writerIndex:], src)
	return nil
}

// Write implements io.Writer.
func (b *ByteBuf) Write(p []byte) (int, error) {
	if err := b.WriteBytes(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteBuf appends all readable bytes of src and advances src.
func (b *ByteBuf) WriteBuf(src *ByteBuf) error {
	return src.ReadInto(b, src.ReadableBytes())
}

// WriteZero appends n zero bytes.
func (b *ByteBuf) WriteZero(n int) error {
	if err := b.EnsureWritable(n); err != nil {
		return err
	}
	m, _ := b.mem()
	clear(m[b.writerIndex : b.writerIndex+n])
	b.writerIndex += n
	return nil
}

func (b *ByteBuf) ReadUint8() (uint8, error) {
	m, err := b.checkReadable(1)
	if err != nil {
		return 0, err
	}
	v := m[b.readerIndex]
	b.readerIndex++
	return v, nil
}

func (b *ByteBuf) ReadUint16() (uint16, error) {
	m, err := b.checkReadable(2)
	if err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(m[b.readerIndex:])
	b.readerIndex += 2
	return v, nil
}

func (b *ByteBuf) ReadUint32() (uint32, error) {
	m, err := b.checkReadable(4)
	if err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(m[b.readerIndex:])
	b.readerIndex += 4
	return v, nil
}

func (b *ByteBuf) ReadUint64() (uint64, error) {
	m, err := b.checkReadable(8)
	if err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(m[b.readerIndex:])
	b.readerIndex += 8
	return v, nil
}

func (b *ByteBuf) WriteUint8(v uint8) error {
	return b.WriteBytes([]byte{v})
}

func (b *ByteBuf) WriteUint16(v uint16) error {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return b.WriteBytes(tmp[:])
}

func (b *ByteBuf) WriteUint32(v uint32) error {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return b.WriteBytes(tmp[:])
}

func (b *ByteBuf) WriteUint64(v uint64) error {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return b.WriteBytes(tmp[:])
}

// GetUint8 reads at an absolute index without moving the reader index.
func (b *ByteBuf) GetUint8(index int) (uint8, error) {
	m, err := b.checkIndex(index, 1)
	if err != nil {
		return 0, err
	}
	return m[index], nil
}

func (b *ByteBuf) GetUint16(index int) (uint16, error) {
	m, err := b.checkIndex(index, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(m[index:]), nil
}

func (b *ByteBuf) GetUint32(index int) (uint32, error) {
	m, err := b.checkIndex(index, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(m[index:]), nil
}

func (b *ByteBuf) GetUint64(index int) (uint64, error) {
	m, err := b.checkIndex(index, 8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(m[index:]), nil
}

// GetBytes copies len(dst) bytes starting at index.
func (b *ByteBuf) GetBytes(index int, dst []byte) error {
	m, err := b.checkIndex(index, len(dst))
	if err != nil {
		return err
	}
	copy(dst, m[index:])
	return nil
}

// SetBytes overwrites bytes at index without moving the writer index.
func (b *ByteBuf) SetBytes(index int, src []byte) error {
	m, err := b.checkIndex(index, len(src))
	if err != nil {
		return err
	}
	copy(m[index:], src)
	return nil
}

// IndexOf returns the absolute index of the first c in [from, to), or -1.
func (b *ByteBuf) IndexOf(from, to int, c byte) (int, error) {
	if from > to {
		from, to = to, from
	}
	m, err := b.checkIndex(from, to-from)
	if err != nil {
		return -1, err
	}
	i := bytes.IndexByte(m[from:to], c)
	if i < 0 {
		return -1, nil
	}
	return from + i, nil
}

// ReadSlice returns a derived view of the next n readable bytes and
// advances the reader index. The view shares the reference count.
func (b *ByteBuf) ReadSlice(n int) (*ByteBuf, error) {
	if _, err := b.checkReadable(n); err != nil {
		return nil, err
	}
	s, err := b.Slice(b.readerIndex, n)
	if err != nil {
		return nil, err
	}
	b.readerIndex += n
	return s, nil
}

// ReadRetainedSlice is ReadSlice plus one retain on the shared count.
func (b *ByteBuf) ReadRetainedSlice(n int) (*ByteBuf, error) {
	s, err := b.ReadSlice(n)
	if err != nil {
		return nil, err
	}
	if err := s.IncRef(); err != nil {
		return nil, err
	}
	return s, nil
}

// File: core/buffer/batch.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Batch accumulates buffers for a single gathering write. Designed for
// single-goroutine use; no locks.

package buffer

// Batch holds buffers queued for one writev call.
type Batch struct {
	bufs  []*ByteBuf
	iov   [][]byte
	bytes int
}

// NewBatch creates a batch with initial capacity n.
func NewBatch(n int) *Batch {
	return &Batch{bufs: make([]*ByteBuf, 0, n), iov: make([][]byte, 0, n)}
}

// Append adds buf when it has readable bytes. The batch does not take
// ownership; the caller still releases buf.
func (bb *Batch) Append(buf *ByteBuf) error {
	p, err := buf.Readable()
	if err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	bb.bufs = append(bb.bufs, buf)
	bb.iov = append(bb.iov, p)
	bb.bytes += len(p)
	return nil
}

// Len reports the number of buffers in the batch.
func (bb *Batch) Len() int { return len(bb.bufs) }

// Bytes reports the total readable bytes in the batch.
func (bb *Batch) Bytes() int { return bb.bytes }

// Get returns the i-th buffer.
func (bb *Batch) Get(i int) *ByteBuf { return bb.bufs[i] }

// Iovecs returns the readable windows for a vectored write.
func (bb *Batch) Iovecs() [][]byte { return bb.iov }

// Consume advances reader indices across the batch by n written bytes and
// returns how many leading buffers were fully drained.
func (bb *Batch) Consume(n int) int {
	drained := 0
	for _, b := range bb.bufs {
		if n <= 0 {
			break
		}
		r := b.ReadableBytes()
		if n >= r {
			_ = b.Skip(r)
			n -= r
			drained++
			continue
		}
		_ = b.Skip(n)
		n = 0
	}
	return drained
}

// Reset clears the batch but retains capacity.
func (bb *Batch) Reset() {
	clear(bb.bufs)
	clear(bb.iov)
	bb.bufs = bb.bufs[:0]
	bb.iov = bb.iov[:0]
	bb.bytes = 0
}

// File: channel/recvbuf.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Adaptive receive sizing. The next buffer size follows the observed read
// sizes: it doubles as soon as a read fills the buffer and halves only
// after two consecutive reads used at most half of it.

package channel

import (
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/core/buffer"
)

// RecvBufAllocator bounds the adaptive receive buffer size.
type RecvBufAllocator struct {
	Min     int
	Initial int
	Max     int
}

// DefaultRecvBufAllocator predicts between 64 B and 64 KiB starting at 2 KiB.
func DefaultRecvBufAllocator() RecvBufAllocator {
	return RecvBufAllocator{Min: 64, Initial: 2048, Max: 64 * 1024}
}

// FixedRecvBufAllocator always allocates size bytes.
func FixedRecvBufAllocator(size int) RecvBufAllocator {
	return RecvBufAllocator{Min: size, Initial: size, Max: size}
}

func (r RecvBufAllocator) validate() error {
	if r.Min <= 0 || r.Initial < r.Min || r.Max < r.Initial {
		return api.ErrInvalidArgument.
			WithContext("min", r.Min).
			WithContext("initial", r.Initial).
			WithContext("max", r.Max)
	}
	return nil
}

// NewHandle returns per-channel prediction state.
func (r RecvBufAllocator) NewHandle() *RecvHandle {
	return &RecvHandle{min: r.Min, max: r.Max, next: r.Initial}
}

// RecvHandle tracks one channel's read loop. Loop goroutine only.
type RecvHandle struct {
	min, max, next int
	decreaseNow    bool

	maxMessages int
	messages    int
	totalBytes  int
	lastBytes   int
	attempted   int
}

// Reset starts a new read loop.
func (h *RecvHandle) Reset(maxMessages int) {
	h.maxMessages = maxMessages
	h.messages, h.totalBytes, h.lastBytes, h.attempted = 0, 0, 0, 0
}

// Guess is the size of the next buffer.
func (h *RecvHandle) Guess() int { return h.next }

// Allocate creates a buffer sized by Guess.
func (h *RecvHandle) Allocate(a buffer.Allocator) (*buffer.ByteBuf, error) {
	return a.Buffer(h.next, buffer.DefaultMaxCapacity)
}

// AttemptedBytesRead records how many bytes the transport tried to read.
func (h *RecvHandle) AttemptedBytesRead(n int) { h.attempted = n }

// LastBytesRead records the outcome of one read. A full buffer grows the
// guess right away so the rest of the loop reads in bigger chunks.
func (h *RecvHandle) LastBytesRead(n int) {
	h.lastBytes = n
	if n > 0 {
		h.totalBytes += n
		if n == h.attempted {
			h.record(n)
		}
	}
}

// IncMessagesRead counts messages fired in this loop.
func (h *RecvHandle) IncMessagesRead(n int) { h.messages += n }

// ContinueReading reports whether another read is worthwhile: the budget
// is not spent and the last read filled its buffer.
func (h *RecvHandle) ContinueReading() bool {
	return h.messages < h.maxMessages && h.lastBytes > 0 && h.lastBytes == h.attempted
}

// ReadComplete feeds the loop total into the predictor.
func (h *RecvHandle) ReadComplete() { h.record(h.totalBytes) }

// TotalBytesRead sums bytes over the current loop.
func (h *RecvHandle) TotalBytesRead() int { return h.totalBytes }

func (h *RecvHandle) record(actual int) {
	switch {
	case actual <= h.next/2:
		if h.decreaseNow {
			h.next = max(h.next/2, h.min)
			h.decreaseNow = false
		} else {
			h.decreaseNow = true
		}
	case actual >= h.next:
		h.next = min(h.next*2, h.max)
		h.decreaseNow = false
	}
}

// File: channel/recvbuf_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel_test

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/core/buffer"
	"github.com/momentics/hioload-net/transport/embedded"
)

func TestRecvHandle_GrowsOnFullRead(t *testing.T) {
	h := channel.DefaultRecvBufAllocator().NewHandle()
	h.Reset(16)
	assert.Equal(t, 2048, h.Guess())

	h.AttemptedBytesRead(2048)
	h.LastBytesRead(2048)
	h.IncMessagesRead(1)
	assert.Equal(t, 4096, h.Guess(), "a full buffer grows the next one right away")
	assert.True(t, h.ContinueReading())

	h.AttemptedBytesRead(4096)
	h.LastBytesRead(100)
	h.IncMessagesRead(1)
	assert.False(t, h.ContinueReading(), "a short read ends the loop")
	h.ReadComplete()
	assert.Equal(t, 2148, h.TotalBytesRead())
	assert.Equal(t, 4096, h.Guess())
}

func TestRecvHandle_ShrinksAfterTwoSmallLoops(t *testing.T) {
	h := channel.DefaultRecvBufAllocator().NewHandle()
	small := func() {
		h.Reset(16)
		h.AttemptedBytesRead(h.Guess())
		h.LastBytesRead(10)
		h.ReadComplete()
	}
	small()
	assert.Equal(t, 2048, h.Guess())
	small()
	assert.Equal(t, 1024, h.Guess())

	for i := 0; i < 40; i++ {
		small()
	}
	assert.Equal(t, 64, h.Guess(), "clamped at the minimum")
}

func TestRecvHandle_BudgetStopsLoop(t *testing.T) {
	h := channel.FixedRecvBufAllocator(512).NewHandle()
	h.Reset(2)
	for i := 0; i < 2; i++ {
		h.AttemptedBytesRead(512)
		h.LastBytesRead(512)
		h.IncMessagesRead(1)
	}
	assert.False(t, h.ContinueReading())
	assert.Equal(t, 512, h.Guess(), "fixed sizing never adapts")
}

func TestRecvBufAllocator_Validate(t *testing.T) {
	_, err := channel.New(&embedded.Transport{}, channel.WithRecvBufAllocator(channel.RecvBufAllocator{Min: 0, Initial: 1, Max: 2}))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	_, err = channel.New(&embedded.Transport{}, channel.WithRecvBufAllocator(channel.RecvBufAllocator{Min: 8, Initial: 4, Max: 16}))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

// chunked feeds fixed chunks to ReadStream.
type chunked struct {
	chunks [][]byte
	err    error
}

func (c *chunked) read(buf *buffer.ByteBuf) (int, error) {
	if len(c.chunks) == 0 {
		return 0, c.err
	}
	w, err := buf.Writable()
	if err != nil {
		return 0, err
	}
	n := copy(w, c.chunks[0])
	buf.AdvanceWriter(n)
	if n == len(c.chunks[0]) {
		c.chunks = c.chunks[1:]
	} else {
		c.chunks[0] = c.chunks[0][n:]
	}
	return n, nil
}

func TestUnsafe_ReadStream(t *testing.T) {
	ch, err := embedded.NewWithOptions([]channel.Option{
		channel.WithRecvBufAllocator(channel.FixedRecvBufAllocator(4)),
	})
	require.NoError(t, err)

	src := &chunked{chunks: [][]byte{[]byte("abcdefgh"), []byte("ij")}}
	ch.Unsafe().ReadStream(src.read)

	var got []byte
	for m := ch.ReadInbound(); m != nil; m = ch.ReadInbound() {
		b := m.(*buffer.ByteBuf)
		r, err := b.Readable()
		require.NoError(t, err)
		got = append(got, r...)
		_, _ = b.Release()
	}
	assert.Equal(t, "abcdefghij", string(got))
	assert.True(t, ch.IsOpen())

	src.err = io.EOF
	ch.Unsafe().ReadStream(src.read)
	assert.False(t, ch.IsOpen(), "EOF closes the channel")
}

func TestUnsafe_ReadStreamError(t *testing.T) {
	ch, err := embedded.New()
	require.NoError(t, err)
	boom := errors.New("connection reset")
	ch.Unsafe().ReadStream((&chunked{err: boom}).read)
	assert.ErrorIs(t, ch.CheckException(), boom)
	assert.False(t, ch.IsOpen())
}

func TestUnsafe_ReadMessagesBudget(t *testing.T) {
	ch, err := embedded.NewWithOptions([]channel.Option{channel.WithMaxMessagesPerRead(3)})
	require.NoError(t, err)

	left := 5
	next := func() (any, bool) {
		if left == 0 {
			return nil, false
		}
		left--
		return left, true
	}
	assert.True(t, ch.Unsafe().ReadMessages(next))
	assert.Equal(t, 3, ch.InboundMessages())
	assert.False(t, ch.Unsafe().ReadMessages(next))
	assert.Equal(t, 5, ch.InboundMessages())
}

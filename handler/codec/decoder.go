// File: handler/codec/decoder.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ByteToMessageDecoder accumulates inbound buffers until a Decoder can
// produce messages from them. Chunks are merged by copying into one
// cumulation buffer; frames handed out as retained slices keep the old
// cumulation alive until their consumers release them.

package codec

import (
	"errors"
	"fmt"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/core/buffer"
)

// Decoder turns cumulated bytes into messages. Decode returns a nil
// message when in does not hold a complete one yet; it must not consume
// bytes in that case unless it is discarding them.
type Decoder interface {
	Decode(ctx *channel.HandlerContext, in *buffer.ByteBuf) (any, error)
}

// LastDecoder is implemented by decoders that want a final call with the
// leftover bytes once the channel goes inactive.
type LastDecoder interface {
	DecodeLast(ctx *channel.HandlerContext, in *buffer.ByteBuf) (any, error)
}

// DefaultDiscardAfterReads bounds how many reads may pass before consumed
// bytes at the front of the cumulation are discarded.
const DefaultDiscardAfterReads = 16

// ByteToMessageDecoder is an inbound handler driving a Decoder. It keeps
// per-channel state; use one instance per pipeline.
type ByteToMessageDecoder struct {
	channel.InboundHandlerAdapter

	decoder           Decoder
	cumulation        *buffer.ByteBuf
	discardAfterReads int
	reads             int
	produced          bool
	// SingleDecode stops after one message per ChannelRead, for decoders
	// that replace themselves after the first message.
	SingleDecode bool
}

// NewByteToMessageDecoder wraps d.
func NewByteToMessageDecoder(d Decoder) *ByteToMessageDecoder {
	return &ByteToMessageDecoder{decoder: d, discardAfterReads: DefaultDiscardAfterReads}
}

// Cumulated returns the bytes waiting for more input. The buffer stays
// owned by the decoder.
func (b *ByteToMessageDecoder) Cumulated() int {
	if b.cumulation == nil {
		return 0
	}
	return b.cumulation.ReadableBytes()
}

func (b *ByteToMessageDecoder) ChannelRead(ctx *channel.HandlerContext, msg any) {
	in, ok := msg.(*buffer.ByteBuf)
	if !ok {
		ctx.FireChannelRead(msg)
		return
	}
	if err := b.cumulate(ctx, in); err != nil {
		ctx.FireExceptionCaught(api.ErrDecoder.Wrap(err))
		return
	}
	b.callDecode(ctx, b.cumulation)

	switch {
	case b.cumulation == nil:
	case !b.cumulation.IsReadable():
		b.releaseCumulation()
	default:
		b.reads++
		if b.reads >= b.discardAfterReads {
			b.reads = 0
			b.discardSomeReadBytes()
		}
	}
}

func (b *ByteToMessageDecoder) ChannelReadComplete(ctx *channel.HandlerContext) {
	b.reads = 0
	b.discardSomeReadBytes()
	if !b.produced && !ctx.Channel().AutoRead() {
		// nothing decoded yet; the next read was not requested by anyone
		ctx.Read()
	}
	b.produced = false
	ctx.FireChannelReadComplete()
}

func (b *ByteToMessageDecoder) ChannelInactive(ctx *channel.HandlerContext) {
	b.decodeLast(ctx)
	ctx.FireChannelInactive()
}

// HandlerRemoved passes bytes still cumulated to the next handler.
func (b *ByteToMessageDecoder) HandlerRemoved(ctx *channel.HandlerContext) {
	cum := b.cumulation
	b.cumulation = nil
	if cum == nil {
		return
	}
	if cum.IsReadable() {
		ctx.FireChannelRead(cum)
		ctx.FireChannelReadComplete()
		return
	}
	buffer.SafeRelease(cum)
}

// cumulate takes ownership of in.
func (b *ByteToMessageDecoder) cumulate(ctx *channel.HandlerContext, in *buffer.ByteBuf) error {
	if b.cumulation == nil {
		b.cumulation = in
		return nil
	}
	defer buffer.SafeRelease(in)
	cum := b.cumulation
	if cum.RefCnt() == 1 && cum.WritableBytes() >= in.ReadableBytes() {
		return cum.WriteBuf(in)
	}
	merged, err := ctx.Allocator().Buffer(cum.ReadableBytes()+in.ReadableBytes(), buffer.DefaultMaxCapacity)
	if err != nil {
		return err
	}
	if err := merged.WriteBuf(cum); err != nil {
		buffer.SafeRelease(merged)
		return err
	}
	if err := merged.WriteBuf(in); err != nil {
		buffer.SafeRelease(merged)
		return err
	}
	buffer.SafeRelease(cum)
	b.cumulation = merged
	return nil
}

func (b *ByteToMessageDecoder) callDecode(ctx *channel.HandlerContext, in *buffer.ByteBuf) {
	for in.IsReadable() && !ctx.IsRemoved() {
		before := in.ReadableBytes()
		msg, err := b.decoder.Decode(ctx, in)
		if err != nil {
			b.fireError(ctx, err)
			return
		}
		if msg == nil {
			if in.ReadableBytes() == before {
				return
			}
			continue
		}
		if in.ReadableBytes() == before {
			buffer.SafeRelease(msg)
			ctx.FireExceptionCaught(api.ErrDecoder.WithContext("decoder", fmt.Sprintf("%T", b.decoder)).
				WithContext("reason", "decoded a message without consuming input"))
			return
		}
		b.produced = true
		ctx.FireChannelRead(msg)
		if b.SingleDecode {
			return
		}
	}
}

func (b *ByteToMessageDecoder) decodeLast(ctx *channel.HandlerContext) {
	cum := b.cumulation
	if cum == nil {
		return
	}
	b.callDecode(ctx, cum)
	if ld, ok := b.decoder.(LastDecoder); ok && cum.IsReadable() && !ctx.IsRemoved() {
		msg, err := ld.DecodeLast(ctx, cum)
		switch {
		case err != nil:
			b.fireError(ctx, err)
		case msg != nil:
			ctx.FireChannelRead(msg)
		}
	}
	if b.cumulation == cum {
		b.releaseCumulation()
	}
	ctx.FireChannelReadComplete()
}

func (b *ByteToMessageDecoder) fireError(ctx *channel.HandlerContext, err error) {
	var ae *api.Error
	if !errors.As(err, &ae) {
		err = api.ErrDecoder.Wrap(err)
	}
	ctx.FireExceptionCaught(err)
}

func (b *ByteToMessageDecoder) discardSomeReadBytes() {
	// frames sliced off the cumulation share its memory
	if c := b.cumulation; c != nil && c.RefCnt() == 1 && c.ReaderIndex() > 0 {
		_ = c.DiscardReadBytes()
	}
}

func (b *ByteToMessageDecoder) releaseCumulation() {
	if b.cumulation != nil {
		buffer.SafeRelease(b.cumulation)
		b.cumulation = nil
	}
}

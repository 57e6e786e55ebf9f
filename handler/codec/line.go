// File: handler/codec/line.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package codec

import (
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/core/buffer"
)

// LineFrameDecoder splits on "\n" and "\r\n".
type LineFrameDecoder struct {
	maxLength      int
	stripDelimiter bool
	failFast       bool

	discarding bool
	discarded  int
}

// LineOption configures a LineFrameDecoder.
type LineOption func(*LineFrameDecoder)

// WithKeepDelimiter keeps the line ending in decoded frames.
func WithKeepDelimiter() LineOption {
	return func(d *LineFrameDecoder) { d.stripDelimiter = false }
}

// WithLineFailFast reports an overlong line as soon as maxLength is
// exceeded rather than once its end was found.
func WithLineFailFast() LineOption {
	return func(d *LineFrameDecoder) { d.failFast = true }
}

// NewLineBasedFrameDecoder returns a handler producing one frame per line
// of at most maxLength bytes, delimiter excluded.
func NewLineBasedFrameDecoder(maxLength int, opts ...LineOption) (*ByteToMessageDecoder, error) {
	if maxLength <= 0 {
		return nil, api.ErrInvalidArgument.WithContext("maxLength", maxLength)
	}
	d := &LineFrameDecoder{maxLength: maxLength, stripDelimiter: true}
	for _, opt := range opts {
		opt(d)
	}
	return NewByteToMessageDecoder(d), nil
}

func (d *LineFrameDecoder) Decode(ctx *channel.HandlerContext, in *buffer.ByteBuf) (any, error) {
	eol, err := in.IndexOf(in.ReaderIndex(), in.WriterIndex(), '\n')
	if err != nil {
		return nil, err
	}

	if d.discarding {
		if eol < 0 {
			d.discarded += in.ReadableBytes()
			_ = in.Skip(in.ReadableBytes())
			return nil, nil
		}
		length := d.discarded + eol - in.ReaderIndex()
		_ = in.SetReaderIndex(eol + 1)
		d.discarding, d.discarded = false, 0
		if d.failFast {
			return nil, nil
		}
		return d.fail(ctx, length)
	}

	if eol < 0 {
		if n := in.ReadableBytes(); n > d.maxLength {
			d.discarding, d.discarded = true, n
			_ = in.Skip(n)
			if d.failFast {
				return d.fail(ctx, n)
			}
		}
		return nil, nil
	}

	length := eol - in.ReaderIndex()
	delim := 1
	if eol > in.ReaderIndex() {
		if c, _ := in.GetUint8(eol - 1); c == '\r' {
			length--
			delim = 2
		}
	}
	if length > d.maxLength {
		_ = in.SetReaderIndex(eol + 1)
		return d.fail(ctx, length)
	}
	if d.stripDelimiter {
		frame, err := in.ReadRetainedSlice(length)
		if err != nil {
			return nil, err
		}
		_ = in.Skip(delim)
		return frame, nil
	}
	return in.ReadRetainedSlice(length + delim)
}

// fail reports an overlong line without stopping the decode loop; the
// offending bytes were already skipped.
func (d *LineFrameDecoder) fail(ctx *channel.HandlerContext, n int) (any, error) {
	ctx.FireExceptionCaught(api.ErrTooLongFrame.WithContext("length", n).WithContext("max", d.maxLength))
	return nil, nil
}

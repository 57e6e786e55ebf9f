// File: handler/codec/length_field.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package codec

import (
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/core/buffer"
)

// LengthFieldConfig describes a frame carrying its own length.
//
// The frame length is read big-endian from LengthFieldLength bytes at
// LengthFieldOffset, plus LengthAdjustment. InitialBytesToStrip leading
// bytes are dropped from every decoded frame, usually to remove the header.
type LengthFieldConfig struct {
	MaxFrameLength      int
	LengthFieldOffset   int
	LengthFieldLength   int
	LengthAdjustment    int
	InitialBytesToStrip int
	// FailFast reports an oversized frame as soon as its header is read
	// instead of after it was skipped entirely.
	FailFast bool
}

func (c LengthFieldConfig) validate() error {
	switch c.LengthFieldLength {
	case 1, 2, 3, 4, 8:
	default:
		return api.ErrInvalidArgument.WithContext("lengthFieldLength", c.LengthFieldLength)
	}
	if c.MaxFrameLength <= 0 {
		return api.ErrInvalidArgument.WithContext("maxFrameLength", c.MaxFrameLength)
	}
	if c.LengthFieldOffset < 0 || c.InitialBytesToStrip < 0 {
		return api.ErrInvalidArgument.
			WithContext("lengthFieldOffset", c.LengthFieldOffset).
			WithContext("initialBytesToStrip", c.InitialBytesToStrip)
	}
	if c.LengthFieldOffset > c.MaxFrameLength-c.LengthFieldLength {
		return api.ErrInvalidArgument.WithContext("reason", "length field does not fit in a frame of maxFrameLength")
	}
	return nil
}

// LengthFieldFrameDecoder splits a byte stream into frames by a length
// field. It is driven by a ByteToMessageDecoder; frames are retained slices
// of the cumulation.
type LengthFieldFrameDecoder struct {
	cfg LengthFieldConfig

	discarding int
	tooLongLen int
}

// NewLengthFieldBasedFrameDecoder returns a handler splitting frames per cfg.
func NewLengthFieldBasedFrameDecoder(cfg LengthFieldConfig) (*ByteToMessageDecoder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return NewByteToMessageDecoder(&LengthFieldFrameDecoder{cfg: cfg}), nil
}

func (d *LengthFieldFrameDecoder) Decode(_ *channel.HandlerContext, in *buffer.ByteBuf) (any, error) {
	if d.discarding > 0 {
		return nil, d.keepDiscarding(in)
	}
	c := d.cfg
	header := c.LengthFieldOffset + c.LengthFieldLength
	if in.ReadableBytes() < header {
		return nil, nil
	}
	raw, err := d.lengthAt(in, in.ReaderIndex()+c.LengthFieldOffset)
	if err != nil {
		return nil, err
	}
	if raw < 0 {
		_ = in.Skip(header)
		return nil, api.ErrDecoder.WithContext("reason", "negative frame length").WithContext("length", raw)
	}
	frame := raw + int64(c.LengthAdjustment) + int64(header)
	if frame < int64(header) {
		_ = in.Skip(header)
		return nil, api.ErrDecoder.WithContext("reason", "frame shorter than its header").WithContext("length", frame)
	}
	if frame > int64(c.MaxFrameLength) {
		return nil, d.startDiscarding(in, frame)
	}
	n := int(frame)
	if in.ReadableBytes() < n {
		return nil, nil
	}
	if c.InitialBytesToStrip > n {
		_ = in.Skip(n)
		return nil, api.ErrDecoder.
			WithContext("reason", "initialBytesToStrip exceeds frame length").
			WithContext("length", n)
	}
	if err := in.Skip(c.InitialBytesToStrip); err != nil {
		return nil, err
	}
	return in.ReadRetainedSlice(n - c.InitialBytesToStrip)
}

func (d *LengthFieldFrameDecoder) lengthAt(in *buffer.ByteBuf, idx int) (int64, error) {
	switch d.cfg.LengthFieldLength {
	case 1:
		v, err := in.GetUint8(idx)
		return int64(v), err
	case 2:
		v, err := in.GetUint16(idx)
		return int64(v), err
	case 3:
		hi, err := in.GetUint16(idx)
		if err != nil {
			return 0, err
		}
		lo, err := in.GetUint8(idx + 2)
		return int64(hi)<<8 | int64(lo), err
	case 4:
		v, err := in.GetUint32(idx)
		return int64(v), err
	default:
		v, err := in.GetUint64(idx)
		return int64(v), err
	}
}

func (d *LengthFieldFrameDecoder) startDiscarding(in *buffer.ByteBuf, frame int64) error {
	d.tooLongLen = int(min(frame, int64(^uint(0)>>1)))
	readable := in.ReadableBytes()
	if int64(readable) >= frame {
		_ = in.Skip(int(frame))
		return d.tooLong()
	}
	d.discarding = int(frame - int64(readable))
	_ = in.Skip(readable)
	if d.cfg.FailFast {
		return d.tooLong()
	}
	return nil
}

func (d *LengthFieldFrameDecoder) keepDiscarding(in *buffer.ByteBuf) error {
	n := min(d.discarding, in.ReadableBytes())
	_ = in.Skip(n)
	d.discarding -= n
	if d.discarding > 0 || d.cfg.FailFast {
		return nil
	}
	return d.tooLong()
}

func (d *LengthFieldFrameDecoder) tooLong() error {
	return api.ErrTooLongFrame.
		WithContext("length", d.tooLongLen).
		WithContext("max", d.cfg.MaxFrameLength)
}

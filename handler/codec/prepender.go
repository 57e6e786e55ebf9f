// File: handler/codec/prepender.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package codec

import (
	"math"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/core/buffer"
	"github.com/momentics/hioload-net/core/concurrency"
)

// LengthFieldPrepender writes a big-endian length header in front of
// every outbound buffer. The body is passed on without copying; header and
// body complete the caller's promise together.
type LengthFieldPrepender struct {
	channel.OutboundHandlerAdapter

	fieldLength    int
	adjustment     int
	includesHeader bool
}

// PrependerOption configures a LengthFieldPrepender.
type PrependerOption func(*LengthFieldPrepender)

// WithLengthAdjustment adds adj to every written length.
func WithLengthAdjustment(adj int) PrependerOption {
	return func(p *LengthFieldPrepender) { p.adjustment = adj }
}

// WithLengthIncludesHeader counts the header in the written length.
func WithLengthIncludesHeader() PrependerOption {
	return func(p *LengthFieldPrepender) { p.includesHeader = true }
}

// NewLengthFieldPrepender writes fieldLength-byte headers: 1, 2, 3, 4 or 8.
func NewLengthFieldPrepender(fieldLength int, opts ...PrependerOption) (*LengthFieldPrepender, error) {
	switch fieldLength {
	case 1, 2, 3, 4, 8:
	default:
		return nil, api.ErrInvalidArgument.WithContext("lengthFieldLength", fieldLength)
	}
	p := &LengthFieldPrepender{fieldLength: fieldLength}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (l *LengthFieldPrepender) Write(ctx *channel.HandlerContext, msg any, p *channel.Promise) {
	body, ok := msg.(*buffer.ByteBuf)
	if !ok {
		ctx.Write(msg, p)
		return
	}
	header, err := l.header(ctx, body.ReadableBytes())
	if err != nil {
		buffer.SafeRelease(body)
		p.TryFailure(err)
		return
	}
	c := concurrency.NewPromiseCombiner()
	_ = c.Add(ctx.Write(header, nil))
	_ = c.Add(ctx.Write(body, nil))
	_ = c.Finish(p)
}

func (l *LengthFieldPrepender) header(ctx *channel.HandlerContext, bodyLen int) (*buffer.ByteBuf, error) {
	n := bodyLen + l.adjustment
	if l.includesHeader {
		n += l.fieldLength
	}
	if n < 0 {
		return nil, api.ErrInvalidArgument.WithContext("length", n)
	}
	limit := uint64(math.MaxUint64)
	if l.fieldLength < 8 {
		limit = 1<<(8*l.fieldLength) - 1
	}
	if uint64(n) > limit {
		return nil, api.ErrTooLongFrame.WithContext("length", n).WithContext("fieldLength", l.fieldLength)
	}
	h, err := ctx.Allocator().Buffer(l.fieldLength, l.fieldLength)
	if err != nil {
		return nil, err
	}
	switch l.fieldLength {
	case 1:
		err = h.WriteUint8(uint8(n))
	case 2:
		err = h.WriteUint16(uint16(n))
	case 3:
		if err = h.WriteUint16(uint16(n >> 8)); err == nil {
			err = h.WriteUint8(uint8(n))
		}
	case 4:
		err = h.WriteUint32(uint32(n))
	default:
		err = h.WriteUint64(uint64(n))
	}
	if err != nil {
		buffer.SafeRelease(h)
		return nil, err
	}
	return h, nil
}

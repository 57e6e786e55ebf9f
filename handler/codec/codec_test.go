// File: handler/codec/codec_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/core/buffer"
	"github.com/momentics/hioload-net/transport/embedded"
)

func text(t *testing.T, msg any) string {
	t.Helper()
	b, ok := msg.(*buffer.ByteBuf)
	require.True(t, ok, "expected a buffer, got %T", msg)
	r, err := b.Readable()
	require.NoError(t, err)
	return string(r)
}

func drainText(t *testing.T, ch *embedded.Channel) []string {
	t.Helper()
	var out []string
	for m := ch.ReadInbound(); m != nil; m = ch.ReadInbound() {
		out = append(out, text(t, m))
		_, err := buffer.Release(m)
		require.NoError(t, err)
	}
	return out
}

func frameDecoder(t *testing.T, cfg LengthFieldConfig) *ByteToMessageDecoder {
	t.Helper()
	d, err := NewLengthFieldBasedFrameDecoder(cfg)
	require.NoError(t, err)
	return d
}

func TestFrameSplitterEcho(t *testing.T) {
	dec := frameDecoder(t, LengthFieldConfig{
		MaxFrameLength:      1024,
		LengthFieldLength:   2,
		InitialBytesToStrip: 2,
	})
	pre, err := NewLengthFieldPrepender(2)
	require.NoError(t, err)
	var frames []string
	echo := channel.ReadFunc(func(ctx *channel.HandlerContext, msg any) {
		frames = append(frames, text(t, msg))
		ctx.WriteAndFlush(msg, nil)
	})
	ch, err := embedded.New(dec, pre, echo)
	require.NoError(t, err)

	stream := "\x00\x05hello\x00\x05world"
	chunks := []*buffer.ByteBuf{
		buffer.CopiedString(stream[:5]),
		buffer.CopiedString(stream[5:11]),
		buffer.CopiedString(stream[11:]),
	}
	for _, c := range chunks {
		ch.WriteInbound(c)
	}
	for _, c := range chunks {
		assert.Equal(t, 0, c.RefCnt(), "input chunks are released once consumed")
	}
	assert.Equal(t, 0, dec.Cumulated())
	assert.Equal(t, []string{"hello", "world"}, frames, "one read per frame, split on frame boundaries")

	var echoed string
	var sent []*buffer.ByteBuf
	for m := ch.ReadOutbound(); m != nil; m = ch.ReadOutbound() {
		echoed += text(t, m)
		sent = append(sent, m.(*buffer.ByteBuf))
	}
	assert.Equal(t, stream, echoed)
	require.Len(t, sent, 4, "a header and a body per frame")

	for _, b := range sent {
		_, err := b.Release()
		require.NoError(t, err)
	}
	for _, b := range sent {
		assert.Equal(t, 0, b.RefCnt())
	}
	assert.False(t, ch.Finish())
}

func TestLengthField_HeaderLayouts(t *testing.T) {
	cases := []struct {
		name  string
		cfg   LengthFieldConfig
		input string
		want  []string
	}{
		{
			name:  "keeps header",
			cfg:   LengthFieldConfig{MaxFrameLength: 64, LengthFieldLength: 1},
			input: "\x02ab\x01c",
			want:  []string{"\x02ab", "\x01c"},
		},
		{
			name:  "length counts header",
			cfg:   LengthFieldConfig{MaxFrameLength: 64, LengthFieldLength: 2, LengthAdjustment: -2, InitialBytesToStrip: 2},
			input: "\x00\x05abc",
			want:  []string{"abc"},
		},
		{
			name:  "offset and three byte field",
			cfg:   LengthFieldConfig{MaxFrameLength: 64, LengthFieldOffset: 1, LengthFieldLength: 3, InitialBytesToStrip: 4},
			input: "\xca\x00\x00\x02hi",
			want:  []string{"hi"},
		},
		{
			name:  "eight byte field",
			cfg:   LengthFieldConfig{MaxFrameLength: 64, LengthFieldLength: 8, InitialBytesToStrip: 8},
			input: "\x00\x00\x00\x00\x00\x00\x00\x01z",
			want:  []string{"z"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ch, err := embedded.New(frameDecoder(t, tc.cfg))
			require.NoError(t, err)
			for i := 0; i < len(tc.input); i++ {
				ch.WriteInbound(buffer.CopiedString(tc.input[i : i+1]))
			}
			assert.Equal(t, tc.want, drainText(t, ch))
			require.NoError(t, ch.CheckException())
			assert.False(t, ch.Finish())
		})
	}
}

func TestLengthField_TooLongFrame(t *testing.T) {
	for _, failFast := range []bool{false, true} {
		ch, err := embedded.New(frameDecoder(t, LengthFieldConfig{
			MaxFrameLength:      4,
			LengthFieldLength:   1,
			InitialBytesToStrip: 1,
			FailFast:            failFast,
		}))
		require.NoError(t, err)

		ch.WriteInbound(buffer.CopiedString("\x08abc"))
		if failFast {
			assert.ErrorIs(t, ch.CheckException(), api.ErrTooLongFrame)
		} else {
			assert.NoError(t, ch.CheckException(), "reported once the frame was skipped")
		}
		ch.WriteInbound(buffer.CopiedString("defgh\x01k"))
		if !failFast {
			assert.ErrorIs(t, ch.CheckException(), api.ErrTooLongFrame)
		}
		assert.NoError(t, ch.CheckException())
		ch.WriteInbound(buffer.CopiedString("\x01m"))
		assert.Equal(t, []string{"k", "m"}, drainText(t, ch), "decoding resumes after the oversized frame")
		assert.False(t, ch.Finish())
	}
}

func TestLengthField_InvalidConfig(t *testing.T) {
	_, err := NewLengthFieldBasedFrameDecoder(LengthFieldConfig{MaxFrameLength: 10, LengthFieldLength: 5})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	_, err = NewLengthFieldBasedFrameDecoder(LengthFieldConfig{MaxFrameLength: 2, LengthFieldOffset: 1, LengthFieldLength: 2})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	_, err = NewLengthFieldPrepender(5)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestLengthFieldPrepender(t *testing.T) {
	pre, err := NewLengthFieldPrepender(1, WithLengthIncludesHeader())
	require.NoError(t, err)
	ch, err := embedded.New(pre)
	require.NoError(t, err)

	body := buffer.CopiedString("abc")
	p := ch.WriteAndFlush(body)
	require.NoError(t, p.Cause())
	hdr := ch.ReadOutbound()
	assert.Equal(t, "\x04", text(t, hdr))
	assert.Same(t, body, ch.ReadOutbound(), "the body is forwarded as is")
	require.NoError(t, buffer.ReleaseAll(hdr, body))

	big := buffer.CopiedString(string(make([]byte, 300)))
	p = ch.WriteAndFlush(big)
	assert.ErrorIs(t, p.Cause(), api.ErrTooLongFrame)
	assert.Equal(t, 0, big.RefCnt())

	p = ch.WriteAndFlush("not a buffer")
	require.NoError(t, p.Cause())
	assert.Equal(t, "not a buffer", ch.ReadOutbound())
}

func TestLineDecoder(t *testing.T) {
	d, err := NewLineBasedFrameDecoder(8)
	require.NoError(t, err)
	ch, err := embedded.New(d)
	require.NoError(t, err)

	ch.WriteInbound(buffer.CopiedString("one\r\ntw"))
	ch.WriteInbound(buffer.CopiedString("o\n\nthree\n"))
	assert.Equal(t, []string{"one", "two", "", "three"}, drainText(t, ch))
	assert.False(t, ch.Finish())
}

func TestLineDecoder_KeepDelimiter(t *testing.T) {
	d, err := NewLineBasedFrameDecoder(8, WithKeepDelimiter())
	require.NoError(t, err)
	ch, err := embedded.New(d)
	require.NoError(t, err)

	ch.WriteInbound(buffer.CopiedString("a\r\nb\n"))
	assert.Equal(t, []string{"a\r\n", "b\n"}, drainText(t, ch))
	assert.False(t, ch.Finish())
}

func TestLineDecoder_TooLong(t *testing.T) {
	for _, failFast := range []bool{false, true} {
		opts := []LineOption{}
		if failFast {
			opts = append(opts, WithLineFailFast())
		}
		d, err := NewLineBasedFrameDecoder(4, opts...)
		require.NoError(t, err)
		ch, err := embedded.New(d)
		require.NoError(t, err)

		ch.WriteInbound(buffer.CopiedString("abcdefg"))
		if failFast {
			assert.ErrorIs(t, ch.CheckException(), api.ErrTooLongFrame)
		} else {
			assert.NoError(t, ch.CheckException())
		}
		ch.WriteInbound(buffer.CopiedString("hij\nok\n"))
		if !failFast {
			assert.ErrorIs(t, ch.CheckException(), api.ErrTooLongFrame)
		}
		assert.Equal(t, []string{"ok"}, drainText(t, ch))

		ch.WriteInbound(buffer.CopiedString("toolong\n"))
		assert.ErrorIs(t, ch.CheckException(), api.ErrTooLongFrame)
		assert.False(t, ch.Finish())
	}
}

// bang decodes one message per byte until it sees '!', then removes its
// handler so the rest flows on as raw bytes.
type bang struct{ calls int }

func (b *bang) Decode(ctx *channel.HandlerContext, in *buffer.ByteBuf) (any, error) {
	b.calls++
	c, err := in.ReadUint8()
	if err != nil {
		return nil, err
	}
	if c == '!' {
		ctx.Pipeline().RemoveHandler(ctx.Handler())
		return nil, nil
	}
	return string(c), nil
}

func TestByteToMessage_RemovalHandsOverCumulation(t *testing.T) {
	ch, err := embedded.New(NewByteToMessageDecoder(&bang{}))
	require.NoError(t, err)

	ch.WriteInbound(buffer.CopiedString("ab!rest"))
	assert.Equal(t, "a", ch.ReadInbound())
	assert.Equal(t, "b", ch.ReadInbound())
	rest := ch.ReadInbound()
	assert.Equal(t, "rest", text(t, rest))
	require.NoError(t, buffer.ReleaseAll(rest))
	assert.Empty(t, ch.Pipeline().Names())
	assert.False(t, ch.Finish())
}

// lastWord emits whatever is left when the channel goes inactive.
type lastWord struct{}

func (lastWord) Decode(*channel.HandlerContext, *buffer.ByteBuf) (any, error) { return nil, nil }

func (lastWord) DecodeLast(_ *channel.HandlerContext, in *buffer.ByteBuf) (any, error) {
	s := make([]byte, in.ReadableBytes())
	if err := in.ReadBytes(s); err != nil {
		return nil, err
	}
	return string(s), nil
}

func TestByteToMessage_DecodeLastOnInactive(t *testing.T) {
	dec := NewByteToMessageDecoder(lastWord{})
	ch, err := embedded.New(dec)
	require.NoError(t, err)

	in := buffer.CopiedString("tail")
	ch.WriteInbound(in)
	assert.Equal(t, 4, dec.Cumulated())
	assert.Nil(t, ch.ReadInbound())

	require.NoError(t, ch.Close().Cause())
	assert.Equal(t, "tail", ch.ReadInbound())
	assert.Equal(t, 0, in.RefCnt())
}

func TestByteToMessage_PassesOtherMessages(t *testing.T) {
	ch, err := embedded.New(NewByteToMessageDecoder(lastWord{}))
	require.NoError(t, err)
	ch.WriteInbound(42)
	assert.Equal(t, 42, ch.ReadInbound())
}

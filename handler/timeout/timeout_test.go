// File: handler/timeout/timeout_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package timeout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/transport/embedded"
)

type events struct {
	channel.InboundHandlerAdapter
	got []IdleStateEvent
}

func (e *events) UserEventTriggered(ctx *channel.HandlerContext, evt any) {
	if ie, ok := evt.(IdleStateEvent); ok {
		e.got = append(e.got, ie)
		return
	}
	ctx.FireUserEventTriggered(evt)
}

func TestIdleState_ReaderIdle(t *testing.T) {
	rec := &events{}
	ch, err := embedded.New(NewIdleStateHandler(time.Second, 0, 0), rec)
	require.NoError(t, err)

	ch.AdvanceTime(999 * time.Millisecond)
	assert.Empty(t, rec.got)
	ch.AdvanceTime(time.Millisecond)
	ch.AdvanceTime(time.Second)
	assert.Equal(t, []IdleStateEvent{{ReaderIdle, true}, {ReaderIdle, false}}, rec.got)

	ch.AdvanceTime(500 * time.Millisecond)
	ch.WriteInbound("ping")
	ch.AdvanceTime(500 * time.Millisecond)
	assert.Len(t, rec.got, 2, "the read postponed the check")
	ch.AdvanceTime(500 * time.Millisecond)
	require.Len(t, rec.got, 3)
	assert.Equal(t, IdleStateEvent{ReaderIdle, true}, rec.got[2], "a read starts a new idle period")
	require.NoError(t, ch.FinishAndReleaseAll())
}

func TestIdleState_WriterIdle(t *testing.T) {
	rec := &events{}
	ch, err := embedded.New(NewIdleStateHandler(0, time.Second, 0), rec)
	require.NoError(t, err)

	ch.AdvanceTime(500 * time.Millisecond)
	require.NoError(t, ch.WriteAndFlush("pong").Cause())
	ch.AdvanceTime(500 * time.Millisecond)
	assert.Empty(t, rec.got)
	ch.AdvanceTime(500 * time.Millisecond)
	assert.Equal(t, []IdleStateEvent{{WriterIdle, true}}, rec.got)
	require.NoError(t, ch.FinishAndReleaseAll())
}

func TestIdleState_AllIdle(t *testing.T) {
	rec := &events{}
	ch, err := embedded.New(NewIdleStateHandler(0, 0, time.Second), rec)
	require.NoError(t, err)

	ch.AdvanceTime(600 * time.Millisecond)
	ch.WriteInbound("in")
	ch.AdvanceTime(600 * time.Millisecond)
	require.NoError(t, ch.WriteAndFlush("out").Cause())
	ch.AdvanceTime(600 * time.Millisecond)
	assert.Empty(t, rec.got, "either direction keeps the channel busy")
	ch.AdvanceTime(400 * time.Millisecond)
	assert.Equal(t, []IdleStateEvent{{AllIdle, true}}, rec.got)
	require.NoError(t, ch.FinishAndReleaseAll())
}

func TestIdleState_StopsOnClose(t *testing.T) {
	rec := &events{}
	ch, err := embedded.New(NewIdleStateHandler(time.Second, time.Second, time.Second), rec)
	require.NoError(t, err)
	require.NoError(t, ch.Close().Cause())
	ch.AdvanceTime(10 * time.Second)
	assert.Empty(t, rec.got)
	assert.Equal(t, time.Duration(-1), ch.Loop().NextScheduledDelay())
}

func TestIdleState_AddedToActiveChannel(t *testing.T) {
	ch, err := embedded.New()
	require.NoError(t, err)
	rec := &events{}
	require.NoError(t, ch.Pipeline().AddLast("idle", NewIdleStateHandler(time.Second, 0, 0)).Cause())
	require.NoError(t, ch.Pipeline().AddLast("rec", rec).Cause())
	ch.AdvanceTime(time.Second)
	assert.Equal(t, []IdleStateEvent{{ReaderIdle, true}}, rec.got)
}

func TestReadTimeout_ClosesChannel(t *testing.T) {
	ch, err := embedded.New(NewReadTimeoutHandler(2 * time.Second))
	require.NoError(t, err)

	ch.AdvanceTime(time.Second)
	ch.WriteInbound("keepalive")
	ch.AdvanceTime(time.Second)
	require.NoError(t, ch.CheckException())
	assert.True(t, ch.IsOpen())

	ch.AdvanceTime(time.Second)
	err = ch.CheckException()
	assert.ErrorIs(t, err, ErrReadTimeout)
	assert.ErrorIs(t, err, api.ErrTimeout)
	assert.False(t, ch.IsOpen())
	assert.Equal(t, "keepalive", ch.ReadInbound())
}

func TestIdleState_String(t *testing.T) {
	assert.Equal(t, "IdleStateEvent(writer-idle, first: true)", IdleStateEvent{WriterIdle, true}.String())
}

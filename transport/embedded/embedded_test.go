// File: transport/embedded/embedded_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package embedded

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/core/buffer"
)

func TestLoop_TimersFollowMockClock(t *testing.T) {
	l := NewLoop()
	var order []int
	_, err := l.Schedule(2*time.Second, func() { order = append(order, 2) })
	require.NoError(t, err)
	_, err = l.Schedule(time.Second, func() { order = append(order, 1) })
	require.NoError(t, err)
	c, err := l.Schedule(time.Second, func() { order = append(order, 99) })
	require.NoError(t, err)
	require.NoError(t, c.Cancel())

	assert.Equal(t, time.Second, l.NextScheduledDelay())
	l.AdvanceTime(time.Second)
	assert.Equal(t, []int{1}, order)
	l.AdvanceTime(time.Second)
	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, time.Duration(-1), l.NextScheduledDelay())
}

func TestLoop_TasksRunOnDemand(t *testing.T) {
	l := NewLoop()
	ran := 0
	require.NoError(t, l.Execute(func() {
		ran++
		_ = l.Execute(func() { ran++ })
	}))
	assert.Equal(t, 0, ran)
	l.RunPendingTasks()
	assert.Equal(t, 2, ran)
}

func TestLoop_CloseRunsHooksAndRejects(t *testing.T) {
	l := NewLoop()
	closed, hooked := false, false
	l.Track("res", func() { closed = true })
	l.AddShutdownHook(func() { hooked = true })
	c, err := l.Schedule(time.Hour, func() {})
	require.NoError(t, err)

	l.Close()
	assert.True(t, closed)
	assert.True(t, hooked)
	assert.ErrorIs(t, c.Cancel(), api.ErrIllegalState, "pending timers were cancelled")
	assert.ErrorIs(t, l.Execute(func() {}), api.ErrIllegalState)
}

func TestChannel_RoundTrip(t *testing.T) {
	ch, err := New()
	require.NoError(t, err)
	assert.True(t, ch.IsActive())
	assert.Equal(t, "embedded", ch.RemoteAddr().String())

	in := buffer.CopiedString("ping")
	assert.True(t, ch.WriteInbound(in))
	assert.Same(t, in, ch.ReadInbound())
	assert.Nil(t, ch.ReadInbound())

	out := buffer.CopiedString("pong")
	assert.True(t, ch.WriteOutbound(out))
	assert.Equal(t, 1, out.RefCnt(), "the transport keeps one reference")
	assert.Same(t, out, ch.ReadOutbound())
	_, _ = out.Release()
	_, _ = in.Release()

	assert.False(t, ch.Finish())
	assert.False(t, ch.WriteInbound("late"))
}

func TestChannel_FinishReleasesUnread(t *testing.T) {
	ch, err := New()
	require.NoError(t, err)
	b := buffer.CopiedString("left over")
	ch.WriteInbound(b)
	require.NoError(t, ch.FinishAndReleaseAll())
	assert.Equal(t, 0, b.RefCnt())
}

func TestChannel_LoopCloseClosesChannel(t *testing.T) {
	ch, err := New()
	require.NoError(t, err)
	ch.Loop().Close()
	assert.False(t, ch.IsOpen())
	assert.True(t, ch.CloseFuture().IsSuccess())
}

// File: bootstrap/bootstrap_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/core/concurrency"
	"github.com/momentics/hioload-net/transport/local"
)

func newGroup(t *testing.T, n int) *concurrency.EventLoopGroup {
	t.Helper()
	g, err := concurrency.NewEventLoopGroup(concurrency.WithLoops(n), concurrency.WithGroupName(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.ShutdownGracefully(context.Background(), 0, time.Second) })
	return g
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

var echo = channel.NewInitializer(func(ch *channel.Channel) error {
	return ch.Pipeline().AddLast("echo", channel.ReadFunc(func(ctx *channel.HandlerContext, msg any) {
		ctx.WriteAndFlush(msg, nil)
	})).Cause()
})

func newEchoServer(t *testing.T, opts ...ServerOption) *ServerBootstrap {
	t.Helper()
	opts = append([]ServerOption{WithGroups(newGroup(t, 1), newGroup(t, 2)), WithChildHandler(echo)}, opts...)
	srv, err := NewServer(local.NewServerChannel, opts...)
	require.NoError(t, err)
	return srv
}

type inbox struct {
	channel.InboundHandlerAdapter
	msgs chan any
}

func (i *inbox) ChannelRead(_ *channel.HandlerContext, msg any) { i.msgs <- msg }

func TestServerBootstrap_Echo(t *testing.T) {
	srv := newEchoServer(t)
	addr := local.Addr(t.Name())
	sch, err := srv.Bind(testCtx(t), addr)
	require.NoError(t, err)
	assert.True(t, sch.IsActive())

	in := &inbox{msgs: make(chan any, 4)}
	cli, err := NewClient(local.NewChannel, WithGroup(newGroup(t, 1)), WithHandler(in))
	require.NoError(t, err)
	ch, err := cli.Connect(testCtx(t), addr)
	require.NoError(t, err)

	require.NoError(t, ch.WriteAndFlush("hi").Await(testCtx(t)))
	select {
	case m := <-in.msgs:
		assert.Equal(t, "hi", m)
	case <-time.After(5 * time.Second):
		t.Fatal("no echo")
	}

	require.NoError(t, srv.Shutdown(testCtx(t)))
	assert.False(t, sch.IsOpen())
	require.NoError(t, ch.CloseFuture().Await(testCtx(t)), "loop shutdown closed the accepted peer")
}

func TestServerBootstrap_Options(t *testing.T) {
	seen := make(chan channel.Config, 1)
	srv, err := NewServer(local.NewServerChannel,
		WithGroups(newGroup(t, 1), newGroup(t, 1)),
		WithServerOptions(channel.WithMaxMessagesPerRead(4)),
		WithChildOptions(channel.WithAutoRead(false), channel.WithWaterMarks(10, 20)),
		WithChildHandler(channel.NewInitializer(func(ch *channel.Channel) error {
			seen <- ch.Config()
			return nil
		})),
	)
	require.NoError(t, err)
	addr := local.Addr(t.Name())
	sch, err := srv.Bind(testCtx(t), addr)
	require.NoError(t, err)
	assert.Equal(t, 4, sch.Config().MaxMessagesPerRead)

	cli, err := NewClient(local.NewChannel, WithGroup(newGroup(t, 1)))
	require.NoError(t, err)
	_, err = cli.Connect(testCtx(t), addr)
	require.NoError(t, err)

	cfg := <-seen
	assert.False(t, cfg.AutoRead)
	assert.Equal(t, 10, cfg.WriteBufferLowWaterMark)
	assert.Equal(t, 20, cfg.WriteBufferHighWaterMark)
}

func TestNewServer_Validation(t *testing.T) {
	g := newGroup(t, 1)
	_, err := NewServer(nil, WithGroups(g, g), WithChildHandler(echo))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	_, err = NewServer(local.NewServerChannel, WithChildHandler(echo))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	_, err = NewServer(local.NewServerChannel, WithGroups(g, g))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	_, err = NewClient(local.NewChannel)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestServerBootstrap_BindAllRollsBack(t *testing.T) {
	srv := newEchoServer(t)
	a, b := local.Addr(t.Name()+"-a"), local.Addr(t.Name()+"-b")

	_, err := srv.BindAll(testCtx(t), a, b, a)
	assert.ErrorIs(t, err, local.ErrAddressInUse)

	chans, err := srv.BindAll(testCtx(t), a, b)
	require.NoError(t, err, "the failed attempt released both names")
	assert.Len(t, chans, 2)
}

func TestClient_ConnectFailureCloses(t *testing.T) {
	cli, err := NewClient(local.NewChannel, WithGroup(newGroup(t, 1)))
	require.NoError(t, err)
	ch, err := cli.Connect(testCtx(t), local.Addr(t.Name()))
	assert.ErrorIs(t, err, local.ErrConnectionRefused)
	assert.Nil(t, ch)
}

func TestAcceptor_PausesOnException(t *testing.T) {
	srv := newEchoServer(t, WithAcceptPause(50*time.Millisecond))
	sch, err := srv.Bind(testCtx(t), local.Addr(t.Name()))
	require.NoError(t, err)

	sch.Pipeline().FireExceptionCaught(errors.New("too many open files"))
	require.Eventually(t, func() bool { return !sch.AutoRead() }, time.Second, time.Millisecond)
	assert.True(t, sch.IsOpen(), "accept failures do not close the server")
	require.Eventually(t, sch.AutoRead, 2*time.Second, 5*time.Millisecond)
}

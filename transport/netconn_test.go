// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package transport_test

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/bootstrap"
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/core/buffer"
	"github.com/momentics/hioload-net/core/concurrency"
	"github.com/momentics/hioload-net/transport"
	"github.com/momentics/hioload-net/transport/local"
)

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newGroup(t *testing.T, n int) *concurrency.EventLoopGroup {
	t.Helper()
	g, err := concurrency.NewEventLoopGroup(concurrency.WithLoops(n), concurrency.WithGroupName(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.ShutdownGracefully(context.Background(), 0, time.Second) })
	return g
}

// dial starts a server running child on every accepted channel and
// returns a NetConn connected to it.
func dial(t *testing.T, limit int, child channel.Handler) *transport.NetConn {
	t.Helper()
	srv, err := bootstrap.NewServer(local.NewServerChannel,
		bootstrap.WithGroups(newGroup(t, 1), newGroup(t, 1)),
		bootstrap.WithChildHandler(child),
	)
	require.NoError(t, err)
	addr := local.Addr(t.Name())
	_, err = srv.Bind(testCtx(t), addr)
	require.NoError(t, err)

	cli, err := bootstrap.NewClient(local.NewChannel, bootstrap.WithGroup(newGroup(t, 1)))
	require.NoError(t, err)
	ch, err := cli.Connect(testCtx(t), addr)
	require.NoError(t, err)
	conn, err := transport.NewNetConn(testCtx(t), ch, limit)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

var echo = channel.ReadFunc(func(ctx *channel.HandlerContext, msg any) { ctx.WriteAndFlush(msg, nil) })

func TestNetConn_Echo(t *testing.T) {
	conn := dial(t, 0, channel.NewInitializer(func(ch *channel.Channel) error {
		return ch.Pipeline().AddLast("echo", echo).Cause()
	}))
	assert.Equal(t, local.Addr(t.Name()), conn.RemoteAddr())

	n, err := conn.Write([]byte("hello\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)
}

func TestNetConn_ReadDeadline(t *testing.T) {
	conn := dial(t, 0, channel.InboundHandlerAdapter{})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(20*time.Millisecond)))
	_, err := conn.Read(make([]byte, 8))
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestNetConn_PeerCloseIsEOF(t *testing.T) {
	conn := dial(t, 0, channel.NewInitializer(func(ch *channel.Channel) error {
		return ch.Pipeline().AddLast("bye", channel.ReadFunc(func(ctx *channel.HandlerContext, msg any) {
			ctx.WriteAndFlush(msg, nil)
			ctx.Close(nil)
		})).Cause()
	}))
	_, err := conn.Write([]byte("last"))
	require.NoError(t, err)

	got, err := io.ReadAll(conn)
	require.NoError(t, err, "ReadAll stops at EOF")
	assert.Equal(t, "last", string(got))

	_, err = conn.Write([]byte("more"))
	assert.ErrorIs(t, err, net.ErrClosed)
}

func TestNetConn_PausesReadingOverLimit(t *testing.T) {
	conn := dial(t, 4, channel.NewInitializer(func(ch *channel.Channel) error {
		return ch.Pipeline().AddLast("burst", channel.ReadFunc(func(ctx *channel.HandlerContext, msg any) {
			for _, part := range []string{"aaaa", "bbbb", "cccc"} {
				ctx.Write([]byte(part), nil)
			}
			ctx.Flush()
			buffer.SafeRelease(msg)
		})).Cause()
	}))
	_, err := conn.Write([]byte("go"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !conn.Channel().AutoRead() }, 2*time.Second, time.Millisecond)

	buf := make([]byte, 12)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "aaaabbbbcccc", string(buf))
	assert.True(t, conn.Channel().AutoRead(), "draining resumed reading")
}

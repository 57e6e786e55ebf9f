// File: channel/group/group_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package group_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/bootstrap"
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/channel/group"
	"github.com/momentics/hioload-net/core/buffer"
	"github.com/momentics/hioload-net/core/concurrency"
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

// setup starts a server whose accepted channels join members and returns n
// connected clients with their inboxes.
func setup(t *testing.T, members *group.Group, n int) ([]*channel.Channel, []chan any) {
	t.Helper()
	srv, err := bootstrap.NewServer(local.NewServerChannel,
		bootstrap.WithGroups(newGroup(t, 1), newGroup(t, 2)),
		bootstrap.WithChildHandler(channel.NewInitializer(func(ch *channel.Channel) error {
			members.Add(ch)
			return nil
		})),
	)
	require.NoError(t, err)
	addr := local.Addr(t.Name())
	_, err = srv.Bind(testCtx(t), addr)
	require.NoError(t, err)

	loops := newGroup(t, 1)
	var clients []*channel.Channel
	var inboxes []chan any
	for i := 0; i < n; i++ {
		in := make(chan any, 4)
		cli, err := bootstrap.NewClient(local.NewChannel, bootstrap.WithGroup(loops),
			bootstrap.WithHandler(channel.ReadFunc(func(_ *channel.HandlerContext, msg any) { in <- msg })))
		require.NoError(t, err)
		ch, err := cli.Connect(testCtx(t), addr)
		require.NoError(t, err)
		clients = append(clients, ch)
		inboxes = append(inboxes, in)
	}
	require.Eventually(t, func() bool { return members.Len() == n }, 2*time.Second, time.Millisecond)
	return clients, inboxes
}

func receive(t *testing.T, in chan any) any {
	t.Helper()
	select {
	case m := <-in:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("nothing received")
		return nil
	}
}

func TestGroup_AddFindRemove(t *testing.T) {
	members := group.New("members", 3)
	assert.Equal(t, "members", members.Name())
	ch, err := channel.New(local.NewTransport(), channel.WithAllocator(buffer.Heap))
	require.NoError(t, err)

	assert.True(t, members.Add(ch))
	assert.False(t, members.Add(ch))
	assert.Same(t, ch, members.Find(ch.ID()))
	assert.Equal(t, 1, members.Len())

	assert.True(t, members.Remove(ch))
	assert.False(t, members.Remove(ch))
	assert.Nil(t, members.Find(ch.ID()))
}

func TestGroup_BroadcastDuplicatesBuffers(t *testing.T) {
	members := group.New(t.Name(), 4)
	_, inboxes := setup(t, members, 3)

	msg := buffer.Copied([]byte("hello"))
	require.NoError(t, members.WriteAndFlush(msg, nil).Await(testCtx(t)))

	for _, in := range inboxes {
		b, ok := receive(t, in).(*buffer.ByteBuf)
		require.True(t, ok)
		assert.Equal(t, "hello", string(b.Bytes()))
		_, err := b.Release()
		require.NoError(t, err)
	}
	assert.Equal(t, 0, msg.RefCnt(), "duplicates share the caller's count")
}

func TestGroup_ExceptAndCloseRemoves(t *testing.T) {
	members := group.New(t.Name(), 2)
	clients, inboxes := setup(t, members, 2)

	var first *channel.Channel
	members.Range(func(ch *channel.Channel) bool {
		first = ch
		return false
	})
	require.NotNil(t, first)
	require.NoError(t, members.WriteAndFlush("ping", group.Except(first)).Await(testCtx(t)))

	got := 0
	for _, in := range inboxes {
		select {
		case m := <-in:
			assert.Equal(t, "ping", m)
			got++
		case <-time.After(200 * time.Millisecond):
		}
	}
	assert.Equal(t, 1, got)

	require.NoError(t, clients[0].Close().Await(testCtx(t)))
	require.Eventually(t, func() bool { return members.Len() == 1 }, 2*time.Second, time.Millisecond)

	require.NoError(t, members.Close(nil).Await(testCtx(t)))
	require.Eventually(t, func() bool { return members.Len() == 0 }, 2*time.Second, time.Millisecond)
	require.NoError(t, clients[1].CloseFuture().Await(testCtx(t)))
}

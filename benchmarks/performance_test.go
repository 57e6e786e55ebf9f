// Package benchmarks
// Author: momentics <momentics@gmail.com>
//
// Performance benchmarks for hioload-net components.

package benchmarks

import (
	"context"
	"testing"

	"github.com/momentics/hioload-net/bootstrap"
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/core/buffer"
	"github.com/momentics/hioload-net/core/concurrency"
	"github.com/momentics/hioload-net/handler/codec"
	"github.com/momentics/hioload-net/pool"
	"github.com/momentics/hioload-net/transport/embedded"
	"github.com/momentics/hioload-net/transport/local"
)

// BenchmarkPooledAllocation tests pooled buffer allocate/release from many goroutines.
func BenchmarkPooledAllocation(b *testing.B) {
	p, err := pool.NewPooledAllocator()
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf, err := p.Buffer(4096, 4096)
			if err != nil {
				b.Fatal(err)
			}
			_, _ = buf.Release()
		}
	})
}

// BenchmarkHeapAllocation is the unpooled baseline.
func BenchmarkHeapAllocation(b *testing.B) {
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf, err := buffer.Heap.Buffer(4096, 4096)
			if err != nil {
				b.Fatal(err)
			}
			_, _ = buf.Release()
		}
	})
}

// BenchmarkLockFreeQueueThroughput tests the loop task queue.
func BenchmarkLockFreeQueueThroughput(b *testing.B) {
	q := concurrency.NewLockFreeQueue[int](1024)
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if !q.Enqueue(i) {
				q.Dequeue()
			}
			i++
		}
	})
}

// BenchmarkPromiseListener measures completion with one listener.
func BenchmarkPromiseListener(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		p := concurrency.NewPromise[struct{}](concurrency.Immediate)
		p.AddListener(func(*concurrency.Promise[struct{}]) {})
		p.TrySuccess(struct{}{})
	}
}

// BenchmarkLengthFieldDecoding runs frames through a decoder on an embedded channel.
func BenchmarkLengthFieldDecoding(b *testing.B) {
	dec, err := codec.NewLengthFieldBasedFrameDecoder(codec.LengthFieldConfig{
		MaxFrameLength:      1 << 16,
		LengthFieldLength:   2,
		InitialBytesToStrip: 2,
	})
	if err != nil {
		b.Fatal(err)
	}
	ch, err := embedded.New(dec)
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = ch.FinishAndReleaseAll() }()

	frame := make([]byte, 2+512)
	frame[0], frame[1] = 0x02, 0x00
	b.SetBytes(int64(len(frame)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ch.WriteInbound(buffer.Copied(frame))
		buffer.SafeRelease(ch.ReadInbound())
	}
}

// BenchmarkLocalEchoRoundTrip measures one write/echo/read cycle across two loops.
func BenchmarkLocalEchoRoundTrip(b *testing.B) {
	parent, err := concurrency.NewEventLoopGroup(concurrency.WithLoops(1), concurrency.WithGroupName("bench-accept"))
	if err != nil {
		b.Fatal(err)
	}
	child, err := concurrency.NewEventLoopGroup(concurrency.WithLoops(1), concurrency.WithGroupName("bench-io"))
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	srv, err := bootstrap.NewServer(local.NewServerChannel,
		bootstrap.WithGroups(parent, child),
		bootstrap.WithChildHandler(channel.ReadFunc(func(ctx *channel.HandlerContext, msg any) {
			ctx.WriteAndFlush(msg, nil)
		})),
	)
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = srv.Shutdown(ctx) }()
	if _, err := srv.Bind(ctx, local.Addr(b.Name())); err != nil {
		b.Fatal(err)
	}

	replies := make(chan any, 1)
	clientLoops, err := concurrency.NewEventLoopGroup(concurrency.WithLoops(1), concurrency.WithGroupName("bench-client"))
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = clientLoops.ShutdownGracefully(ctx, 0, concurrency.DefaultShutdownTimeout) }()
	cli, err := bootstrap.NewClient(local.NewChannel, bootstrap.WithGroup(clientLoops),
		bootstrap.WithHandler(channel.ReadFunc(func(_ *channel.HandlerContext, msg any) { replies <- msg })))
	if err != nil {
		b.Fatal(err)
	}
	ch, err := cli.Connect(ctx, local.Addr(b.Name()))
	if err != nil {
		b.Fatal(err)
	}

	payload := make([]byte, 1024)
	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ch.WriteAndFlush(buffer.Copied(payload))
		buffer.SafeRelease(<-replies)
	}
}

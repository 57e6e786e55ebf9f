// File: core/concurrency/group.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EventLoopGroup owns a fixed set of loops and hands them out round-robin.
// Channels pick their loop once, on registration.

package concurrency

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-net/affinity"
	"github.com/momentics/hioload-net/api"
)

// GroupOption customizes an EventLoopGroup.
type GroupOption func(*groupConfig)

type groupConfig struct {
	name     string
	loops    int
	pin      bool
	loopOpts []LoopOption
}

// WithLoops sets the number of loops. Zero means GOMAXPROCS.
func WithLoops(n int) GroupOption {
	return func(c *groupConfig) { c.loops = n }
}

// WithGroupName prefixes loop names.
func WithGroupName(name string) GroupOption {
	return func(c *groupConfig) { c.name = name }
}

// WithPinnedLoops pins loop i to CPU i modulo the CPU count.
func WithPinnedLoops(pin bool) GroupOption {
	return func(c *groupConfig) { c.pin = pin }
}

// WithLoopOptions applies opts to every loop of the group.
func WithLoopOptions(opts ...LoopOption) GroupOption {
	return func(c *groupConfig) { c.loopOpts = append(c.loopOpts, opts...) }
}

// EventLoopGroup is a fixed pool of event loops.
type EventLoopGroup struct {
	loops []*EventLoop
	next  atomic.Uint64
}

// NewEventLoopGroup creates and starts the loops.
func NewEventLoopGroup(opts ...GroupOption) (*EventLoopGroup, error) {
	cfg := groupConfig{name: "loop"}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.loops <= 0 {
		cfg.loops = runtime.GOMAXPROCS(0)
	}
	g := &EventLoopGroup{loops: make([]*EventLoop, 0, cfg.loops)}
	for i := 0; i < cfg.loops; i++ {
		lo := append([]LoopOption{WithName(fmt.Sprintf("%s-%d", cfg.name, i))}, cfg.loopOpts...)
		if cfg.pin {
			lo = append(lo, WithCPUAffinity(affinity.CPUForIndex(i)))
		}
		l, err := NewEventLoop(lo...)
		if err != nil {
			_ = g.ShutdownGracefully(context.Background(), 0, time.Second)
			return nil, err
		}
		l.Start()
		g.loops = append(g.loops, l)
	}
	return g, nil
}

// Next returns the next loop in round-robin order.
func (g *EventLoopGroup) Next() *EventLoop {
	n := g.next.Add(1) - 1
	return g.loops[n%uint64(len(g.loops))]
}

// Loops returns the loops of the group.
func (g *EventLoopGroup) Loops() []*EventLoop { return g.loops }

// Len returns the number of loops.
func (g *EventLoopGroup) Len() int { return len(g.loops) }

// ShutdownGracefully shuts every loop down and waits for all of them or
// ctx. Failures are joined.
func (g *EventLoopGroup) ShutdownGracefully(ctx context.Context, quietPeriod, timeout time.Duration) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, l := range g.loops {
		f := l.ShutdownGracefully(quietPeriod, timeout)
		eg.Go(func() error {
			if err := f.Await(ctx); err != nil {
				return api.ErrTimeout.WithContext("loop", l.Name()).Wrap(err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// Shutdown uses the default quiet period and timeout.
func (g *EventLoopGroup) Shutdown(ctx context.Context) error {
	return g.ShutdownGracefully(ctx, DefaultQuietPeriod, DefaultShutdownTimeout)
}

// IsTerminated reports whether every loop exited.
func (g *EventLoopGroup) IsTerminated() bool {
	for _, l := range g.loops {
		if !l.IsTerminated() {
			return false
		}
	}
	return true
}

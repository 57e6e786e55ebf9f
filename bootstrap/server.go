// File: bootstrap/server.go
// Package bootstrap wires channels to loop groups: servers bind a listening
// channel on a parent group and register accepted children on a child
// group; clients register and connect a single channel.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package bootstrap

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/core/concurrency"
	"github.com/momentics/hioload-net/internal/logging"
)

// ChannelFactory creates an unregistered channel with the given options,
// e.g. local.NewServerChannel or tcp.NewChannel.
type ChannelFactory func(opts ...channel.Option) (*channel.Channel, error)

// childConfigurer is implemented by server transports that build their
// accepted children.
type childConfigurer interface {
	SetChildOptions(opts ...channel.Option)
}

// DefaultAcceptPause is how long a server stops accepting after an accept
// failure.
const DefaultAcceptPause = time.Second

// ServerOption customizes a ServerBootstrap.
type ServerOption func(*ServerBootstrap)

// WithGroups sets the accepting and the serving loop groups.
func WithGroups(parent, child *concurrency.EventLoopGroup) ServerOption {
	return func(b *ServerBootstrap) {
		b.parent = parent
		b.child = child
	}
}

// WithServerOptions sets the listening channel's options.
func WithServerOptions(opts ...channel.Option) ServerOption {
	return func(b *ServerBootstrap) { b.opts = append(b.opts, opts...) }
}

// WithChildOptions sets the options of accepted channels.
func WithChildOptions(opts ...channel.Option) ServerOption {
	return func(b *ServerBootstrap) { b.childOpts = append(b.childOpts, opts...) }
}

// WithServerHandler installs h in front of the acceptor.
func WithServerHandler(h channel.Handler) ServerOption {
	return func(b *ServerBootstrap) { b.handler = h }
}

// WithChildHandler installs h on every accepted channel. Usually a
// *channel.Initializer.
func WithChildHandler(h channel.Handler) ServerOption {
	return func(b *ServerBootstrap) { b.childHandler = h }
}

// WithAcceptPause overrides DefaultAcceptPause.
func WithAcceptPause(d time.Duration) ServerOption {
	return func(b *ServerBootstrap) { b.acceptPause = d }
}

// ServerBootstrap binds listening channels.
type ServerBootstrap struct {
	factory      ChannelFactory
	parent       *concurrency.EventLoopGroup
	child        *concurrency.EventLoopGroup
	opts         []channel.Option
	childOpts    []channel.Option
	handler      channel.Handler
	childHandler channel.Handler
	acceptPause  time.Duration
	log          zerolog.Logger

	mu    sync.Mutex
	bound []*channel.Channel
}

// NewServer validates the options. Both groups and a child handler are
// required.
func NewServer(factory ChannelFactory, opts ...ServerOption) (*ServerBootstrap, error) {
	b := &ServerBootstrap{
		factory:     factory,
		acceptPause: DefaultAcceptPause,
		log:         logging.For("bootstrap"),
	}
	for _, o := range opts {
		o(b)
	}
	switch {
	case factory == nil:
		return nil, api.ErrInvalidArgument.WithContext("factory", nil)
	case b.parent == nil || b.child == nil:
		return nil, api.ErrInvalidArgument.WithContext("reason", "loop groups not set")
	case b.childHandler == nil:
		return nil, api.ErrInvalidArgument.WithContext("reason", "child handler not set")
	}
	return b, nil
}

// Bind creates a listening channel, registers it on the parent group and
// binds it to local. The channel is closed again when any step fails.
func (b *ServerBootstrap) Bind(ctx context.Context, local net.Addr) (*channel.Channel, error) {
	ch, err := b.factory(b.opts...)
	if err != nil {
		return nil, err
	}
	if cc, ok := ch.Transport().(childConfigurer); ok {
		cc.SetChildOptions(b.childOpts...)
	}
	if b.handler != nil {
		if err := ch.Pipeline().AddLast("", b.handler).Cause(); err != nil {
			return nil, err
		}
	}
	if err := ch.Pipeline().AddLast("acceptor", newAcceptor(b)).Cause(); err != nil {
		return nil, err
	}
	if err := ch.Register(b.parent.Next()).Await(ctx); err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.Bind(local).Await(ctx); err != nil {
		_ = ch.Close().Await(context.WithoutCancel(ctx))
		return nil, err
	}
	b.mu.Lock()
	b.bound = append(b.bound, ch)
	b.mu.Unlock()
	b.log.Info().Stringer("addr", ch.LocalAddr()).Stringer("channel", ch).Msg("listening")
	return ch, nil
}

// BindAll binds every address concurrently. Either all succeed or the ones
// that did are closed again.
func (b *ServerBootstrap) BindAll(ctx context.Context, addrs ...net.Addr) ([]*channel.Channel, error) {
	chans := make([]*channel.Channel, len(addrs))
	eg, gctx := errgroup.WithContext(ctx)
	for i, a := range addrs {
		eg.Go(func() error {
			ch, err := b.Bind(gctx, a)
			chans[i] = ch
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		for _, ch := range chans {
			if ch != nil {
				_ = ch.Close().Await(ctx)
			}
		}
		return nil, err
	}
	return chans, nil
}

// Shutdown closes the bound channels and shuts both groups down.
func (b *ServerBootstrap) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	bound := b.bound
	b.bound = nil
	b.mu.Unlock()
	for _, ch := range bound {
		_ = ch.Close().Await(ctx)
	}
	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return b.parent.Shutdown(gctx) })
	if b.child != b.parent {
		eg.Go(func() error { return b.child.Shutdown(gctx) })
	}
	return eg.Wait()
}

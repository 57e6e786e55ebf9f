// File: bootstrap/client.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package bootstrap

import (
	"context"
	"net"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/core/concurrency"
)

// ClientOption customizes a Bootstrap.
type ClientOption func(*Bootstrap)

// WithGroup sets the loop group client channels register with.
func WithGroup(g *concurrency.EventLoopGroup) ClientOption {
	return func(b *Bootstrap) { b.group = g }
}

// WithOptions sets the client channel options.
func WithOptions(opts ...channel.Option) ClientOption {
	return func(b *Bootstrap) { b.opts = append(b.opts, opts...) }
}

// WithHandler installs h on every client channel.
func WithHandler(h channel.Handler) ClientOption {
	return func(b *Bootstrap) { b.handler = h }
}

// WithLocalAddr binds client channels to local before connecting.
func WithLocalAddr(local net.Addr) ClientOption {
	return func(b *Bootstrap) { b.local = local }
}

// Bootstrap creates client channels.
type Bootstrap struct {
	factory ChannelFactory
	group   *concurrency.EventLoopGroup
	opts    []channel.Option
	handler channel.Handler
	local   net.Addr
}

// NewClient validates the options. A group is required.
func NewClient(factory ChannelFactory, opts ...ClientOption) (*Bootstrap, error) {
	b := &Bootstrap{factory: factory}
	for _, o := range opts {
		o(b)
	}
	if factory == nil {
		return nil, api.ErrInvalidArgument.WithContext("factory", nil)
	}
	if b.group == nil {
		return nil, api.ErrInvalidArgument.WithContext("reason", "loop group not set")
	}
	return b, nil
}

// Register creates a channel and registers it without connecting.
func (b *Bootstrap) Register(ctx context.Context) (*channel.Channel, error) {
	ch, err := b.factory(b.opts...)
	if err != nil {
		return nil, err
	}
	if b.handler != nil {
		if err := ch.Pipeline().AddLast("", b.handler).Cause(); err != nil {
			return nil, err
		}
	}
	if err := ch.Register(b.group.Next()).Await(ctx); err != nil {
		ch.Close()
		return nil, err
	}
	return ch, nil
}

// Connect registers a new channel and connects it to remote. A failed or
// abandoned connect closes the channel.
func (b *Bootstrap) Connect(ctx context.Context, remote net.Addr) (*channel.Channel, error) {
	ch, err := b.Register(ctx)
	if err != nil {
		return nil, err
	}
	p := ch.ConnectFrom(remote, b.local)
	if err := p.Await(ctx); err != nil {
		_ = p.Cancel()
		ch.Close()
		return nil, err
	}
	return ch, nil
}

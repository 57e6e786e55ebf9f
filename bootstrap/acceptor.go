// File: bootstrap/acceptor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package bootstrap

import (
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/core/buffer"
)

// acceptor sits last in a server pipeline. It installs the child handler on
// every accepted channel and registers it on the child group.
type acceptor struct {
	channel.InboundHandlerAdapter
	b *ServerBootstrap
}

func newAcceptor(b *ServerBootstrap) *acceptor { return &acceptor{b: b} }

func (a *acceptor) ChannelRead(ctx *channel.HandlerContext, msg any) {
	child, ok := msg.(*channel.Channel)
	if !ok {
		a.b.log.Warn().Type("msg", msg).Msg("server pipeline read a non-channel message")
		buffer.SafeRelease(msg)
		return
	}
	if err := child.Pipeline().AddLast("", a.b.childHandler).Cause(); err != nil {
		a.b.log.Warn().Err(err).Stringer("channel", child).Msg("installing child handler failed")
		child.Close()
		return
	}
	child.Register(a.b.child.Next()).AddListener(func(p *channel.Promise) {
		if err := p.Cause(); err != nil {
			a.b.log.Warn().Err(err).Stringer("channel", child).Msg("registering accepted channel failed")
			child.Close()
		}
	})
}

// ExceptionCaught keeps the server open. Accept failures such as descriptor
// exhaustion pause accepting for a while instead.
func (a *acceptor) ExceptionCaught(ctx *channel.HandlerContext, err error) {
	a.b.log.Warn().Err(err).Stringer("channel", ctx.Channel()).Msg("accept failed")
	ch := ctx.Channel()
	if !ch.AutoRead() || a.b.acceptPause <= 0 {
		return
	}
	ch.SetAutoRead(false)
	if _, serr := ctx.Executor().Schedule(a.b.acceptPause, func() { ch.SetAutoRead(true) }); serr != nil {
		ch.SetAutoRead(true)
	}
}

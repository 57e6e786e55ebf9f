// File: channel/initializer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import "sync"

// Initializer is a one-shot handler: on registration it calls InitChannel
// to install the real handlers and then removes itself. One Initializer may
// be shared by many channels.
type Initializer struct {
	InboundHandlerAdapter
	InitChannel func(ch *Channel) error

	initialized sync.Map // *HandlerContext -> struct{}
}

// NewInitializer wraps fn into an Initializer.
func NewInitializer(fn func(ch *Channel) error) *Initializer {
	return &Initializer{InitChannel: fn}
}

// HandlerAdded initialises right away when the channel is already
// registered.
func (i *Initializer) HandlerAdded(ctx *HandlerContext) {
	if ctx.Channel().IsRegistered() {
		i.init(ctx)
	}
}

// HandlerRemoved forgets ctx.
func (i *Initializer) HandlerRemoved(ctx *HandlerContext) {
	i.initialized.Delete(ctx)
}

// ChannelRegistered initialises and re-fires registration from the head so
// the handlers just installed observe it.
func (i *Initializer) ChannelRegistered(ctx *HandlerContext) {
	if i.init(ctx) {
		ctx.Pipeline().FireChannelRegistered()
		return
	}
	ctx.FireChannelRegistered()
}

func (i *Initializer) init(ctx *HandlerContext) bool {
	if _, loaded := i.initialized.LoadOrStore(ctx, struct{}{}); loaded {
		return false
	}
	if err := i.InitChannel(ctx.Channel()); err != nil {
		ctx.FireExceptionCaught(err)
		ctx.Channel().Close()
	}
	if !ctx.IsRemoved() {
		ctx.Pipeline().RemoveHandler(i)
	}
	return true
}

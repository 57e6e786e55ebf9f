// File: handler/timeout/read.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package timeout

import (
	"time"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
)

// ErrReadTimeout is fired when no data arrived within the read timeout.
var ErrReadTimeout = api.NewError(api.ErrCodeTimeout, "read timed out")

// ReadTimeoutHandler fires ErrReadTimeout and closes the channel when
// nothing was read for the configured duration.
type ReadTimeoutHandler struct {
	*IdleStateHandler
	closed bool
}

// NewReadTimeoutHandler closes channels idle on the read side for d.
func NewReadTimeoutHandler(d time.Duration) *ReadTimeoutHandler {
	r := &ReadTimeoutHandler{IdleStateHandler: NewIdleStateHandler(d, 0, 0)}
	r.onIdle = r.readTimedOut
	return r
}

func (r *ReadTimeoutHandler) readTimedOut(ctx *channel.HandlerContext, _ IdleStateEvent) {
	if r.closed {
		return
	}
	r.closed = true
	ctx.FireExceptionCaught(ErrReadTimeout.WithContext("timeout", r.readerIdle.String()))
	ctx.Close(nil)
}

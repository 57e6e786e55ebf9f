// File: channel/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import "github.com/momentics/hioload-net/api"

var (
	// ErrConnectTimeout fails a connect that did not finish within
	// Config.ConnectTimeout.
	ErrConnectTimeout = api.NewError(api.ErrCodeTimeout, "connect timed out")

	// ErrNotYetConnected fails flushes on a channel that is not active.
	ErrNotYetConnected = api.NewError(api.ErrCodeIllegalState, "channel not yet connected")

	// ErrConnectPending rejects a second connect while one is in flight.
	ErrConnectPending = api.NewError(api.ErrCodeIllegalState, "connection attempt already pending")

	// ErrAlreadyRegistered rejects registering a channel twice.
	ErrAlreadyRegistered = api.NewError(api.ErrCodeIllegalState, "channel already registered")
)

// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral poller factory.

package reactor

import (
	"errors"

	"github.com/momentics/hioload-net/api"
)

// ErrPollerClosed is returned by operations on a closed poller.
var ErrPollerClosed = errors.New("reactor: poller closed")

// New constructs the platform poller.
func New() (api.Poller, error) {
	return newPoller()
}

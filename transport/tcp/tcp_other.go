//go:build !linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"runtime"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
)

var errUnavailable = api.ErrNotSupported.WithContext("transport", "tcp").WithContext("os", runtime.GOOS)

// Available reports whether the TCP transport works on this platform.
func Available() bool { return false }

// NewChannel fails: the transport needs epoll.
func NewChannel(...channel.Option) (*channel.Channel, error) { return nil, errUnavailable }

// NewServerChannel fails: the transport needs epoll.
func NewServerChannel(...channel.Option) (*channel.Channel, error) { return nil, errUnavailable }

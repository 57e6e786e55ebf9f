//go:build !linux

// File: reactor/reactor_other.go
// Author: momentics <momentics@gmail.com>
//
// Wake-only poller for platforms without an epoll backend. Descriptor
// registration is unsupported; loops still run tasks, timers and
// in-process channels.

package reactor

import (
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-net/api"
)

type wakePoller struct {
	wake   chan struct{}
	closed atomic.Bool
}

func newPoller() (api.Poller, error) {
	return &wakePoller{wake: make(chan struct{}, 1)}, nil
}

func (p *wakePoller) Add(int, api.IOEvents, api.IOCallback) error { return api.ErrNotSupported }
func (p *wakePoller) Modify(int, api.IOEvents) error              { return api.ErrNotSupported }
func (p *wakePoller) Remove(int) error                            { return api.ErrNotSupported }

func (p *wakePoller) Wait(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, ErrPollerClosed
	}
	switch {
	case timeoutMs == 0:
		select {
		case <-p.wake:
		default:
		}
	case timeoutMs < 0:
		<-p.wake
	default:
		t := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
		select {
		case <-p.wake:
		case <-t.C:
		}
		t.Stop()
	}
	return 0, nil
}

func (p *wakePoller) Wake() error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

func (p *wakePoller) Close() error {
	if p.closed.CompareAndSwap(false, true) {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

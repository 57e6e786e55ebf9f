//go:build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based poller with an eventfd(2) wakeup descriptor.

package reactor

import (
	"encoding/binary"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/api"
)

const maxEvents = 256

// epollPoller is level-triggered so that a channel which stops reading
// early (read budget exhausted) is reported again on the next Wait.
type epollPoller struct {
	epfd    int
	wakefd  int
	events  [maxEvents]unix.EpollEvent
	fds     map[int]api.IOCallback // loop goroutine only
	wakeBuf [8]byte
	closed  atomic.Bool
}

func newPoller() (api.Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	ev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, err
	}
	return &epollPoller{
		epfd:   epfd,
		wakefd: wakefd,
		fds:    make(map[int]api.IOCallback),
	}, nil
}

// Add adds file descriptor to epoll.
func (p *epollPoller) Add(fd int, events api.IOEvents, cb api.IOCallback) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if _, ok := p.fds[fd]; ok {
		return api.ErrDuplicateName.WithContext("fd", fd)
	}
	ev := &unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return err
	}
	p.fds[fd] = cb
	return nil
}

func (p *epollPoller) Modify(fd int, events api.IOEvents) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if _, ok := p.fds[fd]; !ok {
		return api.ErrNotFound.WithContext("fd", fd)
	}
	ev := &unix.EpollEvent{Events: toEpoll(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *epollPoller) Remove(fd int) error {
	if _, ok := p.fds[fd]; !ok {
		return api.ErrNotFound.WithContext("fd", fd)
	}
	delete(p.fds, fd)
	if p.closed.Load() {
		return nil
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait waits for epoll events and dispatches them inline.
func (p *epollPoller) Wait(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, ErrPollerClosed
	}
	n, err := unix.EpollWait(p.epfd, p.events[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	dispatched := 0
	for i := 0; i < n; i++ {
		fd := int(p.events[i].Fd)
		if fd == p.wakefd {
			p.drainWake()
			continue
		}
		// A callback earlier in this batch may have removed fd.
		cb, ok := p.fds[fd]
		if !ok || cb == nil {
			continue
		}
		cb(fromEpoll(p.events[i].Events))
		dispatched++
	}
	return dispatched, nil
}

func (p *epollPoller) drainWake() {
	for {
		if _, err := unix.Read(p.wakefd, p.wakeBuf[:]); err != nil {
			return
		}
	}
}

// Wake writes to the eventfd. EAGAIN means the counter is already non-zero.
func (p *epollPoller) Wake() error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(p.wakefd, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

// Close closes the epoll instance.
func (p *epollPoller) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := unix.Close(p.wakefd)
	if cerr := unix.Close(p.epfd); err == nil {
		err = cerr
	}
	return err
}

func toEpoll(events api.IOEvents) uint32 {
	var out uint32
	if events&api.EventRead != 0 {
		out |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if events&api.EventWrite != 0 {
		out |= unix.EPOLLOUT
	}
	return out
}

func fromEpoll(raw uint32) api.IOEvents {
	var events api.IOEvents
	if raw&unix.EPOLLIN != 0 {
		events |= api.EventRead
	}
	if raw&unix.EPOLLOUT != 0 {
		events |= api.EventWrite
	}
	if raw&unix.EPOLLERR != 0 {
		events |= api.EventError
	}
	if raw&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		events |= api.EventHangup
	}
	return events
}

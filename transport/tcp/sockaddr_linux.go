//go:build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/api"
)

func tcpAddr(a net.Addr) (*net.TCPAddr, error) {
	switch v := a.(type) {
	case nil:
		return &net.TCPAddr{}, nil
	case *net.TCPAddr:
		return v, nil
	default:
		ta, err := net.ResolveTCPAddr("tcp", a.String())
		if err != nil {
			return nil, api.ErrInvalidArgument.WithContext("addr", a.String()).Wrap(err)
		}
		return ta, nil
	}
}

func toSockaddr(a *net.TCPAddr) (unix.Sockaddr, int) {
	if a.IP == nil || a.IP.To4() != nil {
		sa := &unix.SockaddrInet4{Port: a.Port}
		if ip4 := a.IP.To4(); ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return sa, unix.AF_INET
	}
	sa := &unix.SockaddrInet6{Port: a.Port}
	copy(sa.Addr[:], a.IP.To16())
	if a.Zone != "" {
		if ifi, err := net.InterfaceByName(a.Zone); err == nil {
			sa.ZoneId = uint32(ifi.Index)
		}
	}
	return sa, unix.AF_INET6
}

func fromSockaddr(sa unix.Sockaddr) net.Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), v.Addr[:]...)), Port: v.Port}
	case *unix.SockaddrInet6:
		a := &net.TCPAddr{IP: net.IP(append([]byte(nil), v.Addr[:]...)), Port: v.Port}
		if v.ZoneId != 0 {
			if ifi, err := net.InterfaceByIndex(int(v.ZoneId)); err == nil {
				a.Zone = ifi.Name
			}
		}
		return a
	default:
		return nil
	}
}

func newSocket(family int) (int, error) {
	return unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
}

func localAddrOf(fd int) net.Addr {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil
	}
	return fromSockaddr(sa)
}

func socketError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}

// poller returns the readiness poller behind a channel loop.
func poller(loop any) (api.Poller, error) {
	pl, ok := loop.(interface{ Poller() api.Poller })
	if !ok {
		return nil, api.ErrNotSupported.WithContext("reason", "loop has no poller")
	}
	return pl.Poller(), nil
}

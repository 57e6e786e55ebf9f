// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp implements stream channels over non-blocking sockets driven
// by the event loop's epoll poller. Reads fill buffers sized by the
// channel's receive allocator; flushed buffers leave in one writev call and
// write readiness is only watched while data remains queued.
//
// The transport needs the epoll backend and is available on Linux only.
package tcp

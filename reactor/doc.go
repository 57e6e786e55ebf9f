// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness pollers that drive event loops:
// level-triggered epoll with an eventfd wakeup on Linux, and a wake-only
// fallback on other platforms (sufficient for in-process transports).
package reactor

// File: core/concurrency/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"github.com/benbjohnson/clock"

	"github.com/momentics/hioload-net/api"
)

// LoopOption customizes an EventLoop.
type LoopOption func(*loopConfig)

type loopConfig struct {
	name            string
	clock           clock.Clock
	poller          api.Poller
	maxTasksPerTick int
	cpu             int
	lockOSThread    bool
}

func defaultLoopConfig() loopConfig {
	return loopConfig{
		name:            "eventloop",
		clock:           clock.New(),
		maxTasksPerTick: 1024,
		cpu:             -1,
		lockOSThread:    true,
	}
}

// WithName labels the loop in logs and metrics.
func WithName(name string) LoopOption {
	return func(c *loopConfig) { c.name = name }
}

// WithClock replaces the wall clock used for scheduled deadlines.
func WithClock(clk clock.Clock) LoopOption {
	return func(c *loopConfig) { c.clock = clk }
}

// WithPoller supplies the readiness poller instead of reactor.New.
func WithPoller(p api.Poller) LoopOption {
	return func(c *loopConfig) { c.poller = p }
}

// WithMaxTasksPerTick bounds the external tasks run per iteration so I/O
// and timers are not starved by a busy producer.
func WithMaxTasksPerTick(n int) LoopOption {
	return func(c *loopConfig) {
		if n > 0 {
			c.maxTasksPerTick = n
		}
	}
}

// WithCPUAffinity pins the loop's OS thread to cpu. Negative disables.
func WithCPUAffinity(cpu int) LoopOption {
	return func(c *loopConfig) { c.cpu = cpu }
}

// WithLockOSThread controls whether the loop goroutine locks its thread.
func WithLockOSThread(lock bool) LoopOption {
	return func(c *loopConfig) { c.lockOSThread = lock }
}

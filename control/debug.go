// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Runtime debug handler and probe reflector for internal inspection.

package control

import (
	"fmt"
	"sync"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/core/concurrency"
	"github.com/momentics/hioload-net/pool"
)

// DebugProbes is a registry of named state probes.
type DebugProbes struct {
	mu     sync.RWMutex
	probes map[string]func() any
}

var _ api.Debug = (*DebugProbes)(nil)

func NewDebugProbes() *DebugProbes {
	return &DebugProbes{probes: make(map[string]func() any)}
}

// RegisterProbe adds or replaces the probe called name.
func (dp *DebugProbes) RegisterProbe(name string, fn func() any) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.probes[name] = fn
}

// UnregisterProbe drops the probe called name.
func (dp *DebugProbes) UnregisterProbe(name string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	delete(dp.probes, name)
}

// DumpState evaluates every probe outside the registry lock. A probe that
// panics reports the panic value as a string.
func (dp *DebugProbes) DumpState() map[string]any {
	dp.mu.RLock()
	probes := make(map[string]func() any, len(dp.probes))
	for k, fn := range dp.probes {
		probes[k] = fn
	}
	dp.mu.RUnlock()

	out := make(map[string]any, len(probes))
	for k, fn := range probes {
		out[k] = evaluate(fn)
	}
	return out
}

func evaluate(fn func() any) (v any) {
	defer func() {
		if r := recover(); r != nil {
			v = fmt.Sprintf("probe panic: %v", r)
		}
	}()
	return fn()
}

// LoopState is the probe value of one event loop.
type LoopState struct {
	PendingTasks   int    `json:"pending_tasks"`
	ScheduledTasks int    `json:"scheduled_tasks"`
	Channels       int    `json:"channels"`
	TasksExecuted  uint64 `json:"tasks_executed"`
	ShuttingDown   bool   `json:"shutting_down"`
}

// RegisterLoopProbes adds a "loop.<name>" probe per loop of g.
func RegisterLoopProbes(dp *DebugProbes, g *concurrency.EventLoopGroup) {
	for _, l := range g.Loops() {
		dp.RegisterProbe("loop."+l.Name(), func() any {
			return LoopState{
				PendingTasks:   l.PendingTasks(),
				ScheduledTasks: l.ScheduledTasks(),
				Channels:       l.TrackedResources(),
				TasksExecuted:  l.TasksExecuted(),
				ShuttingDown:   l.IsShuttingDown(),
			}
		})
	}
}

// RegisterAllocatorProbes adds "allocator.stats" and "allocator.active_bytes".
func RegisterAllocatorProbes(dp *DebugProbes, a *pool.PooledAllocator) {
	dp.RegisterProbe("allocator.stats", func() any { return a.Stats() })
	dp.RegisterProbe("allocator.active_bytes", func() any { return a.Stats().ActiveBytes() })
}

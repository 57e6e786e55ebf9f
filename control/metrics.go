// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for pooled allocators and event loops. Values are
// read from the components' own counters at scrape time.

package control

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/momentics/hioload-net/core/concurrency"
	"github.com/momentics/hioload-net/pool"
)

const namespace = "hioload"

// AllocatorCollector exports pooled allocator statistics.
type AllocatorCollector struct {
	alloc *pool.PooledAllocator

	activeBytes   *prometheus.Desc
	chunks        *prometheus.Desc
	allocations   *prometheus.Desc
	deallocations *prometheus.Desc
	cacheHits     *prometheus.Desc
	cacheMisses   *prometheus.Desc
}

var _ prometheus.Collector = (*AllocatorCollector)(nil)

// NewAllocatorCollector describes a.
func NewAllocatorCollector(a *pool.PooledAllocator) *AllocatorCollector {
	d := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "allocator", name), help, labels, nil)
	}
	return &AllocatorCollector{
		alloc:         a,
		activeBytes:   d("active_bytes", "Bytes handed out and not yet released."),
		chunks:        d("chunks", "Chunks held by arenas.", "arena"),
		allocations:   d("allocations_total", "Allocations by size class.", "class"),
		deallocations: d("deallocations_total", "Deallocations.", "class"),
		cacheHits:     d("cache_hits_total", "Allocations served from a loop cache."),
		cacheMisses:   d("cache_misses_total", "Allocations that missed the loop cache."),
	}
}

func (c *AllocatorCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeBytes
	ch <- c.chunks
	ch <- c.allocations
	ch <- c.deallocations
	ch <- c.cacheHits
	ch <- c.cacheMisses
}

func (c *AllocatorCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.alloc.Stats()
	var tiny, small, normal, dealloc uint64
	for i, a := range s.Arenas {
		tiny += a.TinyAllocations
		small += a.SmallAllocations
		normal += a.NormalAllocations
		dealloc += a.Deallocations
		ch <- prometheus.MustNewConstMetric(c.chunks, prometheus.GaugeValue, float64(a.Chunks), arenaLabel(i))
	}
	ch <- prometheus.MustNewConstMetric(c.activeBytes, prometheus.GaugeValue, float64(s.ActiveBytes()))
	ch <- prometheus.MustNewConstMetric(c.allocations, prometheus.CounterValue, float64(tiny), "tiny")
	ch <- prometheus.MustNewConstMetric(c.allocations, prometheus.CounterValue, float64(small), "small")
	ch <- prometheus.MustNewConstMetric(c.allocations, prometheus.CounterValue, float64(normal), "normal")
	ch <- prometheus.MustNewConstMetric(c.allocations, prometheus.CounterValue, float64(s.HugeAllocations), "huge")
	ch <- prometheus.MustNewConstMetric(c.deallocations, prometheus.CounterValue, float64(dealloc), "pooled")
	ch <- prometheus.MustNewConstMetric(c.deallocations, prometheus.CounterValue, float64(s.HugeDeallocations), "huge")
	ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(s.CacheHits))
	ch <- prometheus.MustNewConstMetric(c.cacheMisses, prometheus.CounterValue, float64(s.CacheMisses))
}

func arenaLabel(i int) string {
	const digits = "0123456789"
	if i < 10 {
		return digits[i : i+1]
	}
	return arenaLabel(i/10) + digits[i%10:i%10+1]
}

// LoopCollector exports per-loop queue depths and channel counts.
type LoopCollector struct {
	group *concurrency.EventLoopGroup

	pending   *prometheus.Desc
	scheduled *prometheus.Desc
	channels  *prometheus.Desc
	executed  *prometheus.Desc
}

var _ prometheus.Collector = (*LoopCollector)(nil)

// NewLoopCollector describes every loop of g.
func NewLoopCollector(g *concurrency.EventLoopGroup) *LoopCollector {
	d := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "loop", name), help, []string{"loop"}, nil)
	}
	return &LoopCollector{
		group:     g,
		pending:   d("pending_tasks", "Tasks queued and not yet run."),
		scheduled: d("scheduled_tasks", "Timers waiting for their deadline."),
		channels:  d("channels", "Channels registered with the loop."),
		executed:  d("tasks_executed_total", "Tasks run by the loop."),
	}
}

func (c *LoopCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pending
	ch <- c.scheduled
	ch <- c.channels
	ch <- c.executed
}

func (c *LoopCollector) Collect(ch chan<- prometheus.Metric) {
	for _, l := range c.group.Loops() {
		name := l.Name()
		ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(l.PendingTasks()), name)
		ch <- prometheus.MustNewConstMetric(c.scheduled, prometheus.GaugeValue, float64(l.ScheduledTasks()), name)
		ch <- prometheus.MustNewConstMetric(c.channels, prometheus.GaugeValue, float64(l.TrackedResources()), name)
		ch <- prometheus.MustNewConstMetric(c.executed, prometheus.CounterValue, float64(l.TasksExecuted()), name)
	}
}

// Register adds collectors to reg and reports every failure.
func Register(reg prometheus.Registerer, cs ...prometheus.Collector) error {
	var errs error
	for _, c := range cs {
		errs = multierr.Append(errs, reg.Register(c))
	}
	return errs
}

var (
	registerOnce sync.Once
	registerErr  error
)

// RegisterMetrics registers collectors for alloc and groups with the
// default registry. Only the first call has an effect; alloc may be nil.
func RegisterMetrics(alloc *pool.PooledAllocator, groups ...*concurrency.EventLoopGroup) error {
	registerOnce.Do(func() {
		var cs []prometheus.Collector
		if alloc != nil {
			cs = append(cs, NewAllocatorCollector(alloc))
		}
		for _, g := range groups {
			cs = append(cs, NewLoopCollector(g))
		}
		registerErr = Register(prometheus.DefaultRegisterer, cs...)
	})
	return registerErr
}

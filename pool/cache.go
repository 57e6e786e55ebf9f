// File: pool/cache.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Cache keeps freed regions for reuse by the owning executor. Only the
// owner touches the local lists. Regions freed on any other goroutine are
// pushed onto a lock-free return queue the owner drains on its next
// allocation; when that queue is full, or the cache is closed, they go
// straight back to the arena.

package pool

import (
	"sync/atomic"

	"github.com/momentics/hioload-net/core/buffer"
	"github.com/momentics/hioload-net/core/concurrency"
)

type cacheEntry struct {
	chunk *chunk
	h     handle
}

type returned struct {
	chunk   *chunk
	h       handle
	normCap int
}

// entryList is a bounded LIFO of entries for one normalized size.
type entryList struct {
	entries []cacheEntry
	limit   int
	// allocations served since the last trim.
	used int
}

// Cache is an executor-bound front of a PooledAllocator.
type Cache struct {
	owner  Owner
	parent *PooledAllocator
	arena  *arena

	lists       map[int]*entryList
	allocations int
	returns     *concurrency.LockFreeQueue[returned]
	closed      atomic.Bool

	hits   atomic.Uint64
	misses atomic.Uint64
}

var (
	_ buffer.Allocator       = (*Cache)(nil)
	_ buffer.RegionAllocator = (*Cache)(nil)
)

func newCache(p *PooledAllocator, a *arena, owner Owner) *Cache {
	return &Cache{
		owner:   owner,
		parent:  p,
		arena:   a,
		lists:   make(map[int]*entryList),
		returns: concurrency.NewLockFreeQueue[returned](p.cfg.ReturnQueueSize),
	}
}

// Buffer implements buffer.Allocator. Off-owner callers bypass the local
// lists.
func (c *Cache) Buffer(initialCapacity, maxCapacity int) (*buffer.ByteBuf, error) {
	return buffer.NewBuffer(c, initialCapacity, maxCapacity)
}

// Allocate implements buffer.RegionAllocator.
func (c *Cache) Allocate(capacity int) (buffer.Region, error) {
	if c.closed.Load() {
		return c.parent.allocate(c.arena, nil, capacity)
	}
	if !c.owner.InEventLoop() {
		return c.parent.allocate(c.arena, c, capacity)
	}
	c.drainReturns()
	c.allocations++
	if t := c.parent.cfg.CacheTrimInterval; t > 0 && c.allocations >= t {
		c.allocations = 0
		c.Trim()
	}
	return c.parent.allocate(c.arena, c, capacity)
}

// take pops a cached entry for normCap. Off-owner callers get nil.
func (c *Cache) take(normCap, capacity int) buffer.Region {
	if !c.owner.InEventLoop() {
		return nil
	}
	l := c.lists[normCap]
	if l == nil || len(l.entries) == 0 {
		c.misses.Add(1)
		return nil
	}
	e := l.entries[len(l.entries)-1]
	l.entries = l.entries[:len(l.entries)-1]
	l.used++
	c.hits.Add(1)
	return &pooledRegion{
		mem:     e.chunk.region(e.h, normCap)[:capacity:capacity],
		arena:   c.arena,
		chunk:   e.chunk,
		h:       e.h,
		normCap: normCap,
		cache:   c,
	}
}

// put receives a freed region.
func (c *Cache) put(ch *chunk, h handle, normCap int) {
	if ch.arena != c.arena || c.closed.Load() {
		ch.arena.free(ch, h, normCap)
		return
	}
	if !c.owner.InEventLoop() {
		if !c.returns.Enqueue(returned{chunk: ch, h: h, normCap: normCap}) {
			ch.arena.free(ch, h, normCap)
			return
		}
		if c.closed.Load() {
			// raced with Close; nobody else will drain.
			c.drainToArena()
		}
		return
	}
	c.add(ch, h, normCap)
}

func (c *Cache) add(ch *chunk, h handle, normCap int) {
	l := c.lists[normCap]
	if l == nil {
		l = &entryList{limit: c.limitFor(normCap)}
		c.lists[normCap] = l
	}
	if len(l.entries) >= l.limit {
		ch.arena.free(ch, h, normCap)
		return
	}
	l.entries = append(l.entries, cacheEntry{chunk: ch, h: h})
}

func (c *Cache) limitFor(normCap int) int {
	cfg := c.parent.cfg
	switch c.parent.sc.classOf(normCap) {
	case classTiny:
		return cfg.TinyCacheSize
	case classSmall:
		return cfg.SmallCacheSize
	case classNormal:
		if normCap > cfg.MaxCachedBufferCapacity {
			return 0
		}
		return cfg.NormalCacheSize
	default:
		return 0
	}
}

func (c *Cache) drainReturns() {
	for {
		r, ok := c.returns.Dequeue()
		if !ok {
			return
		}
		c.add(r.chunk, r.h, r.normCap)
	}
}

func (c *Cache) drainToArena() {
	for {
		r, ok := c.returns.Dequeue()
		if !ok {
			return
		}
		r.chunk.arena.free(r.chunk, r.h, r.normCap)
	}
}

// Trim frees entries that were not reused since the previous trim. Must
// run on the owner.
func (c *Cache) Trim() {
	for normCap, l := range c.lists {
		surplus := len(l.entries) - l.used
		for i := 0; i < surplus; i++ {
			e := l.entries[0]
			l.entries = l.entries[1:]
			e.chunk.arena.free(e.chunk, e.h, normCap)
		}
		l.used = 0
	}
}

// Close returns every cached entry to the arena. Later frees bypass the
// cache. Must run on the owner or after the owner stopped.
func (c *Cache) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.drainToArena()
	for normCap, l := range c.lists {
		for _, e := range l.entries {
			e.chunk.arena.free(e.chunk, e.h, normCap)
		}
		l.entries = nil
	}
}

// Cached reports the number of entries held locally.
func (c *Cache) Cached() int {
	n := 0
	for _, l := range c.lists {
		n += len(l.entries)
	}
	return n
}

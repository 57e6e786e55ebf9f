// File: pool/allocator.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/core/buffer"
)

// Owner is an execution context that owns a cache, usually an event loop.
type Owner interface {
	InEventLoop() bool
}

// PooledAllocator hands out buffers from arena-managed chunks.
type PooledAllocator struct {
	cfg    Config
	sc     sizeClasses
	arenas []*arena
	next   atomic.Uint32

	cachesMu sync.Mutex
	caches   map[Owner]*Cache

	hugeAllocations   atomic.Uint64
	hugeDeallocations atomic.Uint64
	hugeActiveBytes   atomic.Int64
	hugeLimit         int64
}

var (
	_ buffer.Allocator       = (*PooledAllocator)(nil)
	_ buffer.RegionAllocator = (*PooledAllocator)(nil)
)

// NewPooledAllocator builds an allocator from DefaultConfig plus opts.
func NewPooledAllocator(opts ...Option) (*PooledAllocator, error) {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &PooledAllocator{
		cfg:    cfg,
		sc:     newSizeClasses(cfg.PageSize, cfg.MaxOrder),
		caches: make(map[Owner]*Cache),
	}
	switch {
	case cfg.MaxHugeBytes > 0:
		p.hugeLimit = int64(cfg.MaxHugeBytes)
	case cfg.MaxChunksPerArena > 0:
		p.hugeLimit = int64(p.sc.chunkSize) * int64(cfg.MaxChunksPerArena) * int64(cfg.Arenas)
	}
	p.arenas = make([]*arena, cfg.Arenas)
	for i := range p.arenas {
		p.arenas[i] = newArena(i, &p.cfg)
	}
	return p, nil
}

// ChunkSize reports the size of one chunk.
func (p *PooledAllocator) ChunkSize() int { return p.sc.chunkSize }

// Buffer implements buffer.Allocator without a cache. Regions are taken
// from arenas in round-robin order.
func (p *PooledAllocator) Buffer(initialCapacity, maxCapacity int) (*buffer.ByteBuf, error) {
	return buffer.NewBuffer(p, initialCapacity, maxCapacity)
}

// Allocate implements buffer.RegionAllocator.
func (p *PooledAllocator) Allocate(capacity int) (buffer.Region, error) {
	return p.allocate(p.nextArena(), nil, capacity)
}

func (p *PooledAllocator) nextArena() *arena {
	return p.arenas[int(p.next.Add(1)-1)%len(p.arenas)]
}

func (p *PooledAllocator) allocate(a *arena, c *Cache, capacity int) (buffer.Region, error) {
	if capacity < 0 {
		return nil, api.ErrInvalidArgument.WithContext("capacity", capacity)
	}
	if capacity == 0 {
		return &emptyRegion{}, nil
	}
	normCap := p.sc.normalize(capacity)
	if p.sc.classOf(normCap) == classHuge {
		return p.allocateHuge(capacity)
	}
	if c != nil {
		if r := c.take(normCap, capacity); r != nil {
			return r, nil
		}
	}
	ch, h, err := a.allocate(normCap)
	if err != nil {
		return nil, err
	}
	return &pooledRegion{
		mem:     ch.region(h, normCap)[:capacity:capacity],
		arena:   a,
		chunk:   ch,
		h:       h,
		normCap: normCap,
		cache:   c,
	}, nil
}

// allocateHuge reserves capacity against hugeLimit before allocating, so
// concurrent requests cannot overshoot it.
func (p *PooledAllocator) allocateHuge(capacity int) (buffer.Region, error) {
	n := int64(capacity)
	for {
		cur := p.hugeActiveBytes.Load()
		if p.hugeLimit > 0 && cur+n > p.hugeLimit {
			return nil, api.ErrAllocationExhausted.
				WithContext("request", capacity).
				WithContext("hugeActive", cur).
				WithContext("hugeLimit", p.hugeLimit)
		}
		if p.hugeActiveBytes.CompareAndSwap(cur, cur+n) {
			break
		}
	}
	p.hugeAllocations.Add(1)
	return &hugeRegion{mem: make([]byte, capacity), owner: p}, nil
}

// ForExecutor returns the cache bound to owner, creating it on first use.
// Caches are spread over arenas round-robin.
func (p *PooledAllocator) ForExecutor(owner Owner) *Cache {
	p.cachesMu.Lock()
	defer p.cachesMu.Unlock()
	if c, ok := p.caches[owner]; ok {
		return c
	}
	a := p.nextArena()
	c := newCache(p, a, owner)
	p.caches[owner] = c
	a.mu.Lock()
	a.numThreadCaches++
	a.mu.Unlock()
	return c
}

// ReleaseExecutor closes the cache bound to owner and returns its entries
// to the arena.
func (p *PooledAllocator) ReleaseExecutor(owner Owner) {
	p.cachesMu.Lock()
	c, ok := p.caches[owner]
	delete(p.caches, owner)
	p.cachesMu.Unlock()
	if !ok {
		return
	}
	c.Close()
	c.arena.mu.Lock()
	c.arena.numThreadCaches--
	c.arena.mu.Unlock()
}

// Stats is a snapshot of allocator activity.
type Stats struct {
	Arenas            []ArenaStats
	HugeAllocations   uint64
	HugeDeallocations uint64
	HugeActiveBytes   int64
	CacheHits         uint64
	CacheMisses       uint64
}

// ActiveBytes sums active bytes over arenas and huge regions.
func (s Stats) ActiveBytes() int64 {
	n := s.HugeActiveBytes
	for _, a := range s.Arenas {
		n += a.ActiveBytes
	}
	return n
}

// Stats returns a consistent-per-arena snapshot.
func (p *PooledAllocator) Stats() Stats {
	s := Stats{
		HugeAllocations:   p.hugeAllocations.Load(),
		HugeDeallocations: p.hugeDeallocations.Load(),
		HugeActiveBytes:   p.hugeActiveBytes.Load(),
	}
	for _, a := range p.arenas {
		s.Arenas = append(s.Arenas, a.stats())
	}
	p.cachesMu.Lock()
	for _, c := range p.caches {
		s.CacheHits += c.hits.Load()
		s.CacheMisses += c.misses.Load()
	}
	p.cachesMu.Unlock()
	return s
}

// pooledRegion is memory owned by an arena chunk.
type pooledRegion struct {
	mem     []byte
	arena   *arena
	chunk   *chunk
	h       handle
	normCap int
	cache   *Cache
	freed   atomic.Bool
}

func (r *pooledRegion) Bytes() []byte { return r.mem }

// Free routes the region to its cache when one is attached, else to the
// arena. A second Free is ignored.
func (r *pooledRegion) Free() {
	if !r.freed.CompareAndSwap(false, true) {
		return
	}
	r.mem = nil
	if r.cache != nil {
		r.cache.put(r.chunk, r.h, r.normCap)
		return
	}
	r.arena.free(r.chunk, r.h, r.normCap)
}

type hugeRegion struct {
	mem   []byte
	owner *PooledAllocator
	freed atomic.Bool
}

func (r *hugeRegion) Bytes() []byte { return r.mem }

func (r *hugeRegion) Free() {
	if !r.freed.CompareAndSwap(false, true) {
		return
	}
	r.owner.hugeDeallocations.Add(1)
	r.owner.hugeActiveBytes.Add(-int64(len(r.mem)))
	r.mem = nil
}

type emptyRegion struct{}

func (*emptyRegion) Bytes() []byte { return nil }
func (*emptyRegion) Free()         {}

// File: pool/arena.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// An arena owns a set of chunks plus the subpage pools for tiny and small
// sizes. All arena state is guarded by one mutex; per-executor caches keep
// the hot path off it.

package pool

import (
	"sync"

	"github.com/momentics/hioload-net/api"
)

type arena struct {
	mu     sync.Mutex
	id     int
	sc     sizeClasses
	cfg    *Config
	chunks []*chunk

	tinyPools  []*subpage
	smallPools []*subpage

	// guarded by mu
	allocations     [classHuge]uint64
	deallocations   [classHuge]uint64
	activeBytes     int64
	numThreadCaches int
}

func newArena(id int, cfg *Config) *arena {
	sc := newSizeClasses(cfg.PageSize, cfg.MaxOrder)
	a := &arena{
		id:         id,
		sc:         sc,
		cfg:        cfg,
		tinyPools:  make([]*subpage, numTinyPools),
		smallPools: make([]*subpage, sc.numSmallPools()),
	}
	for i := range a.tinyPools {
		a.tinyPools[i] = newSubpageHead()
	}
	for i := range a.smallPools {
		a.smallPools[i] = newSubpageHead()
	}
	return a
}

// poolHead returns the subpage pool for a tiny or small normalized size.
func (a *arena) poolHead(normCap int) *subpage {
	if a.sc.classOf(normCap) == classTiny {
		return a.tinyPools[tinyIdx(normCap)]
	}
	return a.smallPools[smallIdx(normCap)]
}

// allocate reserves normCap bytes (already normalized, not huge).
func (a *arena) allocate(normCap int) (*chunk, handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	class := a.sc.classOf(normCap)
	if class != classNormal {
		head := a.poolHead(normCap)
		if s := head.next; s != head {
			idx := s.allocate()
			if idx >= 0 {
				a.record(class, normCap)
				return s.chunk, handle{node: s.node, bitmapIdx: idx, subpage: true}, nil
			}
		}
		for _, c := range a.chunks {
			if h, ok := c.allocateSubpage(head, normCap); ok {
				a.record(class, normCap)
				return c, h, nil
			}
		}
		c, err := a.newChunkLocked()
		if err != nil {
			return nil, handle{}, err
		}
		h, _ := c.allocateSubpage(head, normCap)
		a.record(class, normCap)
		return c, h, nil
	}

	for _, c := range a.chunks {
		if c.freeBytes < normCap {
			continue
		}
		if h, ok := c.allocateRun(normCap); ok {
			a.record(class, normCap)
			return c, h, nil
		}
	}
	c, err := a.newChunkLocked()
	if err != nil {
		return nil, handle{}, err
	}
	h, _ := c.allocateRun(normCap)
	a.record(class, normCap)
	return c, h, nil
}

func (a *arena) newChunkLocked() (*chunk, error) {
	if a.cfg.MaxChunksPerArena > 0 && len(a.chunks) >= a.cfg.MaxChunksPerArena {
		return nil, api.ErrAllocationExhausted.
			WithContext("arena", a.id).
			WithContext("chunks", len(a.chunks))
	}
	var (
		mem   []byte
		unmap func()
	)
	if a.cfg.UseMmap {
		mem, unmap = mmapChunkMemory(a.sc.chunkSize, a.cfg.HugePages)
	} else {
		mem, unmap = heapChunkMemory(a.sc.chunkSize)
	}
	c := newChunk(a, mem, unmap, a.sc)
	a.chunks = append(a.chunks, c)
	return c, nil
}

func (a *arena) record(class sizeClass, normCap int) {
	a.allocations[class]++
	a.activeBytes += int64(normCap)
}

// free returns an allocation to its chunk. Empty chunks are destroyed
// while at least one other chunk remains.
func (a *arena) free(c *chunk, h handle, normCap int) {
	a.mu.Lock()
	var head *subpage
	if h.subpage {
		head = a.poolHead(normCap)
	}
	c.free(h, head)
	a.deallocations[a.sc.classOf(normCap)]++
	a.activeBytes -= int64(normCap)

	var dead *chunk
	if c.freeBytes == a.sc.chunkSize && len(a.chunks) > 1 && !c.hasPooledSubpages() {
		for i, x := range a.chunks {
			if x == c {
				a.chunks = append(a.chunks[:i], a.chunks[i+1:]...)
				dead = c
				break
			}
		}
	}
	a.mu.Unlock()
	if dead != nil {
		dead.destroy()
	}
}

// hasPooledSubpages reports whether any subpage of c is still linked into
// an arena pool. Such a chunk cannot be destroyed.
func (c *chunk) hasPooledSubpages() bool {
	for _, s := range c.subpages {
		if s != nil && s.doNotDestroy && s.next != nil {
			return true
		}
	}
	return false
}

// ArenaStats is a point-in-time snapshot of one arena.
type ArenaStats struct {
	Chunks             int
	ChunkSize          int
	ActiveBytes        int64
	TinyAllocations    uint64
	SmallAllocations   uint64
	NormalAllocations  uint64
	Deallocations      uint64
	ThreadCaches       int
	ChunkUsagePercents []int
}

func (a *arena) stats() ArenaStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := ArenaStats{
		Chunks:            len(a.chunks),
		ChunkSize:         a.sc.chunkSize,
		ActiveBytes:       a.activeBytes,
		TinyAllocations:   a.allocations[classTiny],
		SmallAllocations:  a.allocations[classSmall],
		NormalAllocations: a.allocations[classNormal],
		ThreadCaches:      a.numThreadCaches,
	}
	for _, d := range a.deallocations {
		s.Deallocations += d
	}
	for _, c := range a.chunks {
		s.ChunkUsagePercents = append(s.ChunkUsagePercents, c.usage())
	}
	return s
}

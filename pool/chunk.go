// File: pool/chunk.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A chunk is a complete binary tree of pages. memoryMap[id] holds the depth
// of the shallowest free subtree below id; a value of maxOrder+1 marks the
// node fully allocated. Allocating at depth d walks down from the root
// choosing the left child whenever it can satisfy d, which yields the
// leftmost fit. Freeing restores the node depth and merges buddies on the
// way up.

package pool

import "fmt"

// handle identifies an allocation within a chunk.
type handle struct {
	node      int
	bitmapIdx int
	subpage   bool
}

type chunk struct {
	arena  *arena
	mem    []byte
	unmap  func()
	sc     sizeClasses
	log2CS int

	memoryMap []byte
	depthMap  []byte
	unusable  byte
	subpages  []*subpage
	freeBytes int
}

func newChunk(a *arena, mem []byte, unmap func(), sc sizeClasses) *chunk {
	n := 1 << (sc.maxOrder + 1)
	c := &chunk{
		arena:     a,
		mem:       mem,
		unmap:     unmap,
		sc:        sc,
		log2CS:    log2(sc.chunkSize),
		memoryMap: make([]byte, n),
		depthMap:  make([]byte, n),
		unusable:  byte(sc.maxOrder + 1),
		subpages:  make([]*subpage, 1<<sc.maxOrder),
		freeBytes: sc.chunkSize,
	}
	id := 1
	for d := 0; d <= sc.maxOrder; d++ {
		for p := 0; p < 1<<d; p++ {
			c.memoryMap[id] = byte(d)
			c.depthMap[id] = byte(d)
			id++
		}
	}
	return c
}

// usage reports the allocated share of the chunk in percent.
func (c *chunk) usage() int {
	if c.freeBytes == 0 {
		return 100
	}
	return 100 - c.freeBytes*100/c.sc.chunkSize
}

// allocateRun reserves a power-of-two run of pages for normCap.
func (c *chunk) allocateRun(normCap int) (handle, bool) {
	d := c.sc.maxOrder - (log2(normCap) - c.sc.pageShifts)
	id := c.allocateNode(d)
	if id < 0 {
		return handle{}, false
	}
	c.freeBytes -= c.runLength(id)
	return handle{node: id}, true
}

// allocateSubpage reserves a single page, splits it into elemSize
// elements and hands out the first one.
func (c *chunk) allocateSubpage(head *subpage, elemSize int) (handle, bool) {
	id := c.allocateNode(c.sc.maxOrder)
	if id < 0 {
		return handle{}, false
	}
	c.freeBytes -= c.sc.pageSize
	idx := c.subpageIdx(id)
	sp := c.subpages[idx]
	if sp == nil {
		sp = newSubpage(c, id, c.runOffset(id), c.sc.pageSize)
		c.subpages[idx] = sp
	}
	sp.init(head, elemSize)
	bitmapIdx := sp.allocate()
	return handle{node: id, bitmapIdx: bitmapIdx, subpage: true}, true
}

// free releases h. Subpage elements are returned to their subpage first;
// the page itself is freed only when the subpage gives it up.
func (c *chunk) free(h handle, head *subpage) {
	if h.subpage {
		sp := c.subpages[c.subpageIdx(h.node)]
		if sp.free(head, h.bitmapIdx) {
			return
		}
	}
	c.freeBytes += c.runLength(h.node)
	c.memoryMap[h.node] = c.depthMap[h.node]
	c.updateParentsFree(h.node)
}

// region returns the bytes addressed by h.
func (c *chunk) region(h handle, normCap int) []byte {
	off := c.runOffset(h.node)
	if h.subpage {
		sp := c.subpages[c.subpageIdx(h.node)]
		off += h.bitmapIdx * sp.elemSize
	}
	return c.mem[off : off+normCap : off+normCap]
}

func (c *chunk) allocateNode(d int) int {
	id := 1
	initial := -(1 << d)
	val := c.memoryMap[id]
	if int(val) > d {
		return -1
	}
	for int(val) < d || id&initial == 0 {
		id <<= 1
		val = c.memoryMap[id]
		if int(val) > d {
			id ^= 1
			val = c.memoryMap[id]
		}
	}
	c.memoryMap[id] = c.unusable
	c.updateParentsAlloc(id)
	return id
}

func (c *chunk) updateParentsAlloc(id int) {
	for id > 1 {
		parent := id >> 1
		c.memoryMap[parent] = min(c.memoryMap[id], c.memoryMap[id^1])
		id = parent
	}
}

func (c *chunk) updateParentsFree(id int) {
	logChild := c.depthMap[id] + 1
	for id > 1 {
		parent := id >> 1
		v1, v2 := c.memoryMap[id], c.memoryMap[id^1]
		logChild--
		if v1 == logChild && v2 == logChild {
			c.memoryMap[parent] = logChild - 1
		} else {
			c.memoryMap[parent] = min(v1, v2)
		}
		id = parent
	}
}

func (c *chunk) runLength(id int) int {
	return 1 << (c.log2CS - int(c.depthMap[id]))
}

func (c *chunk) runOffset(id int) int {
	shift := id ^ (1 << c.depthMap[id])
	return shift * c.runLength(id)
}

func (c *chunk) subpageIdx(id int) int {
	return id ^ (1 << c.sc.maxOrder)
}

func (c *chunk) destroy() {
	if c.unmap != nil {
		c.unmap()
	}
	c.mem = nil
}

func (c *chunk) String() string {
	return fmt.Sprintf("Chunk(%d%%, %d/%d)", c.usage(), c.sc.chunkSize-c.freeBytes, c.sc.chunkSize)
}

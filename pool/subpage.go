// File: pool/subpage.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A subpage splits one page into equal elements tracked by a bitmap.
// Subpages with free elements sit in their arena's per-size pool, a
// circular list anchored at a sentinel head.

package pool

type subpage struct {
	chunk        *chunk
	node         int
	runOffset    int
	pageSize     int
	bitmap       []uint64
	elemSize     int
	maxNumElems  int
	bitmapLength int
	nextAvail    int
	numAvail     int
	doNotDestroy bool

	prev, next *subpage
}

// newSubpageHead creates a pool sentinel.
func newSubpageHead() *subpage {
	h := &subpage{}
	h.prev, h.next = h, h
	return h
}

func newSubpage(c *chunk, node, runOffset, pageSize int) *subpage {
	return &subpage{
		chunk:     c,
		node:      node,
		runOffset: runOffset,
		pageSize:  pageSize,
		// worst case: pageSize / tinyQuantum elements.
		bitmap: make([]uint64, pageSize/tinyQuantum/64),
	}
}

func (s *subpage) init(head *subpage, elemSize int) {
	s.doNotDestroy = true
	s.elemSize = elemSize
	s.maxNumElems = s.pageSize / elemSize
	s.numAvail = s.maxNumElems
	s.nextAvail = 0
	s.bitmapLength = (s.maxNumElems + 63) >> 6
	clear(s.bitmap[:s.bitmapLength])
	s.addToPool(head)
}

// allocate returns the bitmap index of a free element, or -1.
func (s *subpage) allocate() int {
	if s.numAvail == 0 || !s.doNotDestroy {
		return -1
	}
	idx := s.findNextAvail()
	if idx < 0 {
		return -1
	}
	s.bitmap[idx>>6] |= 1 << uint(idx&63)
	s.numAvail--
	if s.numAvail == 0 {
		s.removeFromPool()
	}
	return idx
}

// free releases an element. It returns false when the whole page should
// go back to the chunk.
func (s *subpage) free(head *subpage, idx int) bool {
	s.bitmap[idx>>6] ^= 1 << uint(idx&63)
	s.nextAvail = idx
	s.numAvail++
	if s.numAvail == 1 {
		s.addToPool(head)
		if s.maxNumElems > 1 {
			return true
		}
	}
	if s.numAvail != s.maxNumElems {
		return true
	}
	if s.prev == s.next {
		// last subpage of this size in the pool; keep it.
		return true
	}
	s.doNotDestroy = false
	s.removeFromPool()
	return false
}

func (s *subpage) findNextAvail() int {
	if s.nextAvail >= 0 {
		idx := s.nextAvail
		s.nextAvail = -1
		return idx
	}
	for i := 0; i < s.bitmapLength; i++ {
		bits := s.bitmap[i]
		if ^bits == 0 {
			continue
		}
		for j := 0; j < 64; j++ {
			if bits&(1<<uint(j)) == 0 {
				idx := i<<6 | j
				if idx < s.maxNumElems {
					return idx
				}
				return -1
			}
		}
	}
	return -1
}

func (s *subpage) addToPool(head *subpage) {
	s.prev = head
	s.next = head.next
	s.next.prev = s
	head.next = s
}

func (s *subpage) removeFromPool() {
	s.prev.next = s.next
	s.next.prev = s.prev
	s.next, s.prev = nil, nil
}

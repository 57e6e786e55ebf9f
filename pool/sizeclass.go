// File: pool/sizeclass.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Size classes:
//   tiny   (0, 512)           multiples of 16, served by subpages
//   small  [512, pageSize)    powers of two, served by subpages
//   normal [pageSize, chunk]  powers of two, served by page runs
//   huge   > chunk            unpooled, allocated directly

package pool

import "math/bits"

type sizeClass int

const (
	classTiny sizeClass = iota
	classSmall
	classNormal
	classHuge
)

func (c sizeClass) String() string {
	switch c {
	case classTiny:
		return "tiny"
	case classSmall:
		return "small"
	case classNormal:
		return "normal"
	default:
		return "huge"
	}
}

const (
	tinyQuantum  = 16
	tinyLimit    = 512
	numTinyPools = tinyLimit / tinyQuantum
)

// sizeClasses resolves request sizes for one page/chunk geometry.
type sizeClasses struct {
	pageSize   int
	pageShifts int
	maxOrder   int
	chunkSize  int
}

func newSizeClasses(pageSize, maxOrder int) sizeClasses {
	return sizeClasses{
		pageSize:   pageSize,
		pageShifts: bits.TrailingZeros(uint(pageSize)),
		maxOrder:   maxOrder,
		chunkSize:  pageSize << maxOrder,
	}
}

// numSmallPools is the count of power-of-two classes in [512, pageSize).
func (sc sizeClasses) numSmallPools() int {
	return sc.pageShifts - bits.TrailingZeros(tinyLimit)
}

// classOf reports the class of a normalized capacity.
func (sc sizeClasses) classOf(normCap int) sizeClass {
	switch {
	case normCap > sc.chunkSize:
		return classHuge
	case normCap >= sc.pageSize:
		return classNormal
	case normCap >= tinyLimit:
		return classSmall
	default:
		return classTiny
	}
}

// normalize rounds a request up to the size its class serves. Huge
// requests are returned unchanged.
func (sc sizeClasses) normalize(req int) int {
	switch {
	case req > sc.chunkSize:
		return req
	case req >= tinyLimit:
		return nextPowerOfTwo(req)
	case req <= 0:
		return tinyQuantum
	default:
		return (req + tinyQuantum - 1) &^ (tinyQuantum - 1)
	}
}

// tinyIdx maps a tiny normalized size to its pool slot.
func tinyIdx(normCap int) int { return normCap >> 4 }

// smallIdx maps a small normalized size to its pool slot.
func smallIdx(normCap int) int {
	return bits.TrailingZeros(uint(normCap)) - bits.TrailingZeros(tinyLimit)
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

func log2(n int) int { return bits.Len(uint(n)) - 1 }

package pool

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/core/buffer"
)

type fakeOwner struct{ in atomic.Bool }

func (o *fakeOwner) InEventLoop() bool { return o.in.Load() }

func smallAllocator(t *testing.T, opts ...Option) *PooledAllocator {
	t.Helper()
	base := []Option{WithPageSize(4096), WithMaxOrder(2), WithArenas(1)}
	p, err := NewPooledAllocator(append(base, opts...)...)
	require.NoError(t, err)
	return p
}

func TestNormalize(t *testing.T) {
	sc := newSizeClasses(8192, 11)
	cases := map[int]int{
		0:    16,
		1:    16,
		17:   32,
		496:  496,
		511:  512,
		513:  1024,
		5000: 8192,
		8193: 16384,
	}
	for req, want := range cases {
		assert.Equal(t, want, sc.normalize(req), "req=%d", req)
	}
	assert.Equal(t, sc.chunkSize+1, sc.normalize(sc.chunkSize+1))
	assert.Equal(t, classHuge, sc.classOf(sc.chunkSize+1))
	assert.Equal(t, classNormal, sc.classOf(sc.chunkSize))
	assert.Equal(t, classSmall, sc.classOf(4096))
	assert.Equal(t, classTiny, sc.classOf(496))
	assert.Equal(t, 4, sc.numSmallPools())
}

func TestChunkBuddyAllocation(t *testing.T) {
	sc := newSizeClasses(4096, 2)
	c := newChunk(nil, make([]byte, sc.chunkSize), nil, sc)

	offsets := map[int]bool{}
	var hs []handle
	for i := 0; i < 4; i++ {
		h, ok := c.allocateRun(4096)
		require.True(t, ok)
		offsets[c.runOffset(h.node)] = true
		hs = append(hs, h)
	}
	assert.Len(t, offsets, 4)
	assert.Equal(t, 100, c.usage())
	_, ok := c.allocateRun(4096)
	assert.False(t, ok)

	// freeing two buddies makes an 8 KiB run available again.
	c.free(hs[0], nil)
	_, ok = c.allocateRun(8192)
	assert.False(t, ok)
	c.free(hs[1], nil)
	h, ok := c.allocateRun(8192)
	require.True(t, ok)
	assert.Equal(t, 0, c.runOffset(h.node))

	c.free(h, nil)
	c.free(hs[2], nil)
	c.free(hs[3], nil)
	assert.Equal(t, byte(0), c.memoryMap[1])
	h, ok = c.allocateRun(sc.chunkSize)
	require.True(t, ok)
	assert.Equal(t, 1, h.node)
}

func TestSubpageElements(t *testing.T) {
	sc := newSizeClasses(4096, 2)
	c := newChunk(nil, make([]byte, sc.chunkSize), nil, sc)
	head := newSubpageHead()

	h, ok := c.allocateSubpage(head, 1024)
	require.True(t, ok)
	sp := c.subpages[c.subpageIdx(h.node)]
	assert.Equal(t, 4, sp.maxNumElems)

	seen := map[int]bool{h.bitmapIdx: true}
	for i := 0; i < 3; i++ {
		idx := sp.allocate()
		require.GreaterOrEqual(t, idx, 0)
		seen[idx] = true
	}
	assert.Len(t, seen, 4)
	assert.Equal(t, -1, sp.allocate())
	assert.Same(t, head, head.next, "full subpage leaves the pool")

	assert.True(t, sp.free(head, 2))
	assert.Same(t, sp, head.next)
	assert.Equal(t, 2, sp.allocate())
}

func TestPooledBufferLifecycle(t *testing.T) {
	p := smallAllocator(t)
	sizes := []int{1, 100, 600, 4096, 8000, 16384, 20000}
	var bufs []*buffer.ByteBuf
	for _, n := range sizes {
		b, err := p.Buffer(n, 0)
		require.NoError(t, err)
		assert.Equal(t, n, b.Capacity())
		require.NoError(t, b.WriteZero(n))
		bufs = append(bufs, b)
	}
	assert.Greater(t, p.Stats().ActiveBytes(), int64(0))

	for _, b := range bufs {
		freed, err := b.Release()
		require.NoError(t, err)
		assert.True(t, freed)
	}
	st := p.Stats()
	assert.Equal(t, int64(0), st.ActiveBytes())
	assert.Equal(t, uint64(1), st.HugeAllocations)
	assert.Equal(t, uint64(1), st.HugeDeallocations)
}

func TestBuffersDoNotOverlap(t *testing.T) {
	p := smallAllocator(t)
	var bufs []*buffer.ByteBuf
	for i := 0; i < 40; i++ {
		b, err := p.Buffer(100, 0)
		require.NoError(t, err)
		require.NoError(t, b.WriteZero(100))
		slot, _ := b.Readable()
		for j := range slot {
			slot[j] = byte(i)
		}
		bufs = append(bufs, b)
	}
	for i, b := range bufs {
		for _, v := range b.Bytes() {
			require.Equal(t, byte(i), v)
		}
		_, err := b.Release()
		require.NoError(t, err)
	}
}

func TestArenaExhaustion(t *testing.T) {
	p := smallAllocator(t, WithMaxChunksPerArena(1))
	b1, err := p.Buffer(16384, 0)
	require.NoError(t, err)

	_, err = p.Buffer(4096, 0)
	assert.ErrorIs(t, err, api.ErrAllocationExhausted)

	_, err = b1.Release()
	require.NoError(t, err)
	b2, err := p.Buffer(4096, 0)
	require.NoError(t, err)
	_, _ = b2.Release()

	// huge requests are bounded by the arena capacity too
	_, err = p.Buffer(64*p.ChunkSize(), 0)
	assert.ErrorIs(t, err, api.ErrAllocationExhausted)
	assert.Equal(t, int64(0), p.Stats().HugeActiveBytes)
}

func TestHugeBudget(t *testing.T) {
	p := smallAllocator(t, WithMaxHugeBytes(3*16384))
	b1, err := p.Buffer(2*16384, 0)
	require.NoError(t, err)

	_, err = p.Buffer(2*16384, 0)
	assert.ErrorIs(t, err, api.ErrAllocationExhausted)

	_, err = b1.Release()
	require.NoError(t, err)
	b2, err := p.Buffer(2*16384, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2*16384), p.Stats().HugeActiveBytes)
	_, _ = b2.Release()
	assert.Equal(t, uint64(2), p.Stats().HugeAllocations)

	_, err = NewPooledAllocator(WithMaxHugeBytes(-1))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestGrowWithinPool(t *testing.T) {
	p := smallAllocator(t)
	b, err := p.Buffer(16, 0)
	require.NoError(t, err)
	require.NoError(t, b.WriteBytes(make([]byte, 3000)))
	assert.GreaterOrEqual(t, b.Capacity(), 3000)
	_, err = b.Release()
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.Stats().ActiveBytes())
}

func TestCacheReuseOnOwner(t *testing.T) {
	p := smallAllocator(t)
	owner := &fakeOwner{}
	owner.in.Store(true)
	c := p.ForExecutor(owner)
	assert.Same(t, c, p.ForExecutor(owner))

	b, err := c.Buffer(200, 0)
	require.NoError(t, err)
	_, err = b.Release()
	require.NoError(t, err)
	assert.Equal(t, 1, c.Cached())

	b, err = c.Buffer(200, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Cached())
	assert.Equal(t, uint64(1), p.Stats().CacheHits)
	_, _ = b.Release()

	p.ReleaseExecutor(owner)
	assert.Equal(t, 0, c.Cached())
	assert.Equal(t, int64(0), p.Stats().ActiveBytes())
}

func TestCacheCrossGoroutineRelease(t *testing.T) {
	p := smallAllocator(t)
	owner := &fakeOwner{}
	owner.in.Store(true)
	c := p.ForExecutor(owner)

	const n = 64
	bufs := make([]*buffer.ByteBuf, n)
	for i := range bufs {
		b, err := c.Buffer(64, 0)
		require.NoError(t, err)
		bufs[i] = b
	}

	owner.in.Store(false)
	var wg sync.WaitGroup
	for _, b := range bufs {
		wg.Add(1)
		go func(b *buffer.ByteBuf) {
			defer wg.Done()
			_, err := b.Release()
			assert.NoError(t, err)
		}(b)
	}
	wg.Wait()
	assert.Equal(t, 0, c.Cached(), "foreign releases wait in the return queue")

	owner.in.Store(true)
	b, err := c.Buffer(64, 0)
	require.NoError(t, err)
	assert.Equal(t, n-1, c.Cached())
	_, _ = b.Release()

	c.Close()
	assert.Equal(t, int64(0), p.Stats().ActiveBytes())
}

func TestConfigValidate(t *testing.T) {
	_, err := NewPooledAllocator(WithPageSize(3000))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	_, err = NewPooledAllocator(WithArenas(0))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	assert.NotNil(t, Default())
}

package buffer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/api"
)

// countingAllocator records how often regions are freed.
type countingAllocator struct {
	allocs int
	frees  int
}

type countingRegion struct {
	b     []byte
	owner *countingAllocator
}

func (r *countingRegion) Bytes() []byte { return r.b }
func (r *countingRegion) Free()         { r.owner.frees++ }

func (a *countingAllocator) Allocate(n int) (Region, error) {
	a.allocs++
	return &countingRegion{b: make([]byte, n), owner: a}, nil
}

func TestRetainReleaseReclaimsOnce(t *testing.T) {
	for _, n := range []int{1, 2, 5, 17} {
		ca := &countingAllocator{}
		b, err := NewBuffer(ca, 32, 0)
		require.NoError(t, err)
		if n > 1 {
			require.NoError(t, b.RetainN(n-1))
		}
		require.Equal(t, n, b.RefCnt())

		for i := 0; i < n-1; i++ {
			freed, err := b.Release()
			require.NoError(t, err)
			assert.False(t, freed)
		}
		freed, err := b.Release()
		require.NoError(t, err)
		assert.True(t, freed)
		assert.Equal(t, 1, ca.frees)

		_, err = b.Release()
		assert.ErrorIs(t, err, api.ErrIllegalReferenceCount)
		assert.Equal(t, 1, ca.frees, "storage must be reclaimed exactly once")
	}
}

func TestReleasedBufferIsInert(t *testing.T) {
	b, err := Heap.Buffer(8, 0)
	require.NoError(t, err)
	require.NoError(t, b.WriteUint32(7))
	_, err = b.Release()
	require.NoError(t, err)

	_, err = b.ReadUint32()
	assert.ErrorIs(t, err, api.ErrIllegalReferenceCount)
	assert.ErrorIs(t, b.WriteUint8(1), api.ErrIllegalReferenceCount)
	_, err = b.Retain()
	assert.ErrorIs(t, err, api.ErrIllegalReferenceCount)
	_, err = b.Slice(0, 1)
	assert.ErrorIs(t, err, api.ErrIllegalReferenceCount)
	assert.True(t, api.IsLifetimeViolation(err))
}

func TestReadWriteRoundTrip(t *testing.T) {
	b, err := Heap.Buffer(4, 0)
	require.NoError(t, err)
	defer b.Release()

	require.NoError(t, b.WriteUint8(0xAB))
	require.NoError(t, b.WriteUint16(0x0102))
	require.NoError(t, b.WriteUint32(0xDEADBEEF))
	require.NoError(t, b.WriteUint64(1<<40))
	require.NoError(t, b.WriteBytes([]byte("tail")))
	assert.Equal(t, 19, b.ReadableBytes())
	assert.GreaterOrEqual(t, b.Capacity(), 19)

	v8, _ := b.ReadUint8()
	v16, _ := b.ReadUint16()
	v32, _ := b.ReadUint32()
	v64, _ := b.ReadUint64()
	assert.Equal(t, uint8(0xAB), v8)
	assert.Equal(t, uint16(0x0102), v16)
	assert.Equal(t, uint32(0xDEADBEEF), v32)
	assert.Equal(t, uint64(1<<40), v64)

	tail := make([]byte, 4)
	require.NoError(t, b.ReadBytes(tail))
	assert.Equal(t, "tail", string(tail))
	assert.False(t, b.IsReadable())

	_, err = b.ReadUint8()
	assert.ErrorIs(t, err, api.ErrIndexOutOfBounds)
}

func TestIndexBounds(t *testing.T) {
	b, err := Heap.Buffer(16, 16)
	require.NoError(t, err)
	defer b.Release()

	assert.ErrorIs(t, b.SetReaderIndex(1), api.ErrIndexOutOfBounds)
	require.NoError(t, b.SetWriterIndex(10))
	require.NoError(t, b.SetReaderIndex(4))
	assert.ErrorIs(t, b.SetWriterIndex(3), api.ErrIndexOutOfBounds)
	assert.ErrorIs(t, b.SetWriterIndex(17), api.ErrIndexOutOfBounds)
	assert.ErrorIs(t, b.SetIndex(5, 4), api.ErrIndexOutOfBounds)

	b.MarkReaderIndex()
	require.NoError(t, b.Skip(3))
	require.NoError(t, b.ResetReaderIndex())
	assert.Equal(t, 4, b.ReaderIndex())

	require.NoError(t, b.DiscardReadBytes())
	assert.Equal(t, 0, b.ReaderIndex())
	assert.Equal(t, 6, b.WriterIndex())
}

func TestEnsureWritableRespectsMaxCapacity(t *testing.T) {
	ca := &countingAllocator{}
	b, err := NewBuffer(ca, 4, 100)
	require.NoError(t, err)
	defer b.Release()

	require.NoError(t, b.WriteBytes([]byte("abcd")))
	require.NoError(t, b.WriteUint32(1))
	assert.Equal(t, 64, b.Capacity())
	assert.Equal(t, 1, ca.frees, "grow frees the previous region")

	err = b.EnsureWritable(200)
	assert.ErrorIs(t, err, api.ErrIndexOutOfBounds)
	require.NoError(t, b.EnsureWritable(92))
	assert.Equal(t, 100, b.Capacity())
	assert.Equal(t, "abcd", string(b.Bytes()[:4]))
}

func TestCalculateNewCapacity(t *testing.T) {
	assert.Equal(t, 64, calculateNewCapacity(1, DefaultMaxCapacity))
	assert.Equal(t, 128, calculateNewCapacity(65, DefaultMaxCapacity))
	assert.Equal(t, growThreshold, calculateNewCapacity(growThreshold, DefaultMaxCapacity))
	assert.Equal(t, 2*growThreshold, calculateNewCapacity(growThreshold+1, DefaultMaxCapacity))
	assert.Equal(t, 1000, calculateNewCapacity(700, 1000))
}

func TestSliceSharesRefCount(t *testing.T) {
	ca := &countingAllocator{}
	b, err := NewBuffer(ca, 16, 0)
	require.NoError(t, err)
	require.NoError(t, b.WriteBytes([]byte("hello world")))

	s, err := b.ReadRetainedSlice(5)
	require.NoError(t, err)
	assert.Equal(t, 2, b.RefCnt())
	assert.Equal(t, "hello", string(s.Bytes()))
	assert.Equal(t, 5, b.ReaderIndex())

	// slices cannot grow past their window.
	assert.Error(t, s.WriteUint8('!'))

	freed, err := b.Release()
	require.NoError(t, err)
	assert.False(t, freed)
	assert.Equal(t, "hello", string(s.Bytes()))

	freed, err = s.Release()
	require.NoError(t, err)
	assert.True(t, freed)
	assert.Equal(t, 1, ca.frees)
}

func TestDuplicateAndCopy(t *testing.T) {
	b := CopiedString("abcdef")
	d, err := b.RetainedDuplicate()
	require.NoError(t, err)
	require.NoError(t, d.Skip(3))
	assert.Equal(t, 0, b.ReaderIndex())
	assert.Equal(t, "def", string(d.Bytes()))

	c, err := b.Copy()
	require.NoError(t, err)
	require.NoError(t, b.SetBytes(0, []byte("X")))
	assert.Equal(t, "abcdef", string(c.Bytes()))
	assert.Equal(t, "Xbcdef", string(b.Bytes()))

	require.NoError(t, ReleaseAll(b, d, c))
	assert.Equal(t, 0, b.RefCnt())
}

func TestIndexOf(t *testing.T) {
	b := CopiedString("line one\nline two\n")
	i, err := b.IndexOf(0, b.WriterIndex(), '\n')
	require.NoError(t, err)
	assert.Equal(t, 8, i)
	i, err = b.IndexOf(9, b.WriterIndex(), 'x')
	require.NoError(t, err)
	assert.Equal(t, -1, i)
}

func TestReleaseHelpers(t *testing.T) {
	freed, err := Release("not counted")
	assert.NoError(t, err)
	assert.False(t, freed)
	assert.NoError(t, Retain(42))

	b := CopiedString("x")
	SafeRelease(b)
	SafeRelease(b) // logged, not returned

	err = ReleaseAll(b, CopiedString("y"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrIllegalReferenceCount))
}

func TestBatchConsume(t *testing.T) {
	a, b := CopiedString("abc"), CopiedString("defg")
	bt := NewBatch(2)
	require.NoError(t, bt.Append(a))
	require.NoError(t, bt.Append(CopiedString("")))
	require.NoError(t, bt.Append(b))
	assert.Equal(t, 2, bt.Len())
	assert.Equal(t, 7, bt.Bytes())
	assert.Len(t, bt.Iovecs(), 2)

	assert.Equal(t, 1, bt.Consume(5))
	assert.Equal(t, 0, a.ReadableBytes())
	assert.Equal(t, "fg", string(b.Bytes()))
	bt.Reset()
	assert.Equal(t, 0, bt.Len())
}

package arena

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shmuring/shmuring/internal/addrspan"
)

func newTestArena(size int, strategy Strategy) *Arena {
	buf := make([]byte, size)
	return New(buf, 8, strategy, false)
}

func TestBumpAllocBasic(t *testing.T) {
	a := newTestArena(4096, Pessimistic)
	m, err := a.Alloc(64, 8)
	require.NoError(t, err)
	assert.False(t, m.Null())
	assert.Equal(t, uint32(64), m.View.Size)
	assert.Equal(t, uint32(0), m.View.StartOffset%8)
}

func TestAllocZeroSizeIsNull(t *testing.T) {
	a := newTestArena(4096, Pessimistic)
	m, err := a.Alloc(0, 8)
	require.NoError(t, err)
	assert.True(t, m.Null())
}

func TestAllocExceedsArenaReturnsUnenoughSpace(t *testing.T) {
	a := newTestArena(128, Pessimistic)
	_, err := a.Alloc(4096, 8)
	require.Error(t, err)
}

func TestReadOnlyArenaRejectsAlloc(t *testing.T) {
	buf := make([]byte, 4096)
	a := New(buf, 8, Pessimistic, true)
	_, err := a.Alloc(64, 8)
	require.Error(t, err)
}

func TestDeallocShrinksBumpPointerWhenTail(t *testing.T) {
	a := newTestArena(4096, Pessimistic)
	before := a.Allocated()
	m, err := a.Alloc(64, 8)
	require.NoError(t, err)

	ok := a.Dealloc(m)
	assert.True(t, ok)
	assert.Equal(t, before, a.Allocated())
}

func TestFreelistRecyclesNonTailSegment(t *testing.T) {
	// 136 bytes: the two 64-byte allocations below fill the bump area
	// exactly, so the next Alloc can only be served from the freelist.
	a := newTestArena(136, Pessimistic)
	m1, err := a.Alloc(64, 8)
	require.NoError(t, err)
	_, err = a.Alloc(64, 8)
	require.NoError(t, err)

	// m1 is no longer the tail; Dealloc must go through the freelist.
	ok := a.Dealloc(m1)
	assert.True(t, ok)

	m3, err := a.Alloc(32, 8)
	require.NoError(t, err)
	assert.False(t, m3.Null())
	assert.Equal(t, m1.View.StartOffset, m3.View.StartOffset)
}

func TestTinySegmentsAreDiscardedNotLeakedSilently(t *testing.T) {
	a := newTestArena(4096, Pessimistic)
	m1, err := a.Alloc(64, 8)
	require.NoError(t, err)
	_, err = a.Alloc(8, 8)
	require.NoError(t, err)

	ok := a.free(addrspan.Span{StartOffset: m1.Raw.StartOffset, Size: 4})
	assert.False(t, ok)
	assert.Equal(t, uint32(4), a.Discarded())
}

type countingObserver struct {
	slowPaths int
	discards  int
}

func (c *countingObserver) ObserveSlowPath()      { c.slowPaths++ }
func (c *countingObserver) ObserveDiscard(uint32) { c.discards++ }

func TestObserverSeesSlowPathAndDiscard(t *testing.T) {
	// Sized so the two 64-byte allocations exhaust the bump area.
	a := newTestArena(136, Pessimistic)
	obs := &countingObserver{}
	a.SetObserver(obs)

	m1, err := a.Alloc(64, 8)
	require.NoError(t, err)
	_, err = a.Alloc(64, 8)
	require.NoError(t, err)
	assert.Equal(t, 0, obs.slowPaths)

	require.True(t, a.Dealloc(m1))
	_, err = a.Alloc(32, 8)
	require.NoError(t, err)
	assert.Equal(t, 1, obs.slowPaths)

	ok := a.free(addrspan.Span{StartOffset: 4000, Size: 4})
	assert.False(t, ok)
	assert.Equal(t, 1, obs.discards)
}

func TestConcurrentAllocNoOverlap(t *testing.T) {
	a := newTestArena(1 << 20, Pessimistic)
	const n = 200
	spans := make([]uint32, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			m, err := a.Alloc(128, 8)
			require.NoError(t, err)
			spans[i] = m.View.StartOffset
		}()
	}
	wg.Wait()

	seen := map[uint32]bool{}
	for _, s := range spans {
		assert.False(t, seen[s], "duplicate offset %d", s)
		seen[s] = true
	}
}

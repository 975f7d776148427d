package arena

import (
	"testing"
	"unsafe"

	"github.com/quartzmem/arena/memutil"
	"github.com/stretchr/testify/require"
)

func createArena(t *testing.T, options CreateOptions) *Arena {
	t.Helper()

	a, err := New(nil, options)
	require.NoError(t, err)
	t.Cleanup(func() {
		if !a.disposed.Load() {
			a.Dispose()
		}
	})
	return a
}

func TestNewDefaults(t *testing.T) {
	a := createArena(t, CreateOptions{})

	require.Equal(t, 1, a.BlockCount())
	require.Equal(t, DefaultInitialBlockSize, a.InitialBlockSize())
	require.Equal(t, DefaultInitialBlockSize, a.TotalBytes())
	require.Equal(t, uint64(0), a.Generation())
	require.NoError(t, a.Validate())
}

func TestNewRoundsInitialBlockSize(t *testing.T) {
	a := createArena(t, CreateOptions{InitialBlockSize: 1000})

	require.Equal(t, memutil.AlignUp(1000, CacheLineSize), a.InitialBlockSize())
}

func TestNewRejectsNegativeInitialBlockSize(t *testing.T) {
	_, err := New(nil, CreateOptions{InitialBlockSize: -1})
	require.Error(t, err)
}

func TestAllocateZeroSize(t *testing.T) {
	a := createArena(t, CreateOptions{})

	require.Nil(t, a.Allocate(0, 8))
	require.Equal(t, 1, a.BlockCount())
}

func TestAllocateRejectsBadArguments(t *testing.T) {
	a := createArena(t, CreateOptions{})

	require.Panics(t, func() { a.Allocate(-1, 8) })
	require.Panics(t, func() { a.Allocate(64, 0) })
	require.Panics(t, func() { a.Allocate(64, 3) })
	require.Panics(t, func() { a.Allocate(64, 128*1024) })
}

func TestAllocationsStayInFirstBlock(t *testing.T) {
	a := createArena(t, CreateOptions{InitialBlockSize: 128 * 1024})

	for i := 0; i < 64; i++ {
		ptr := a.Allocate(1024, 8)
		require.NotNil(t, ptr)
	}

	require.Equal(t, 1, a.BlockCount())
	require.NoError(t, a.Validate())
}

func TestAllocationAlignment(t *testing.T) {
	a := createArena(t, CreateOptions{})

	for _, alignment := range []uint{1, 8, 64, 256, 4096} {
		for i := 0; i < 10; i++ {
			ptr := a.Allocate(100, alignment)
			require.True(t, memutil.IsAligned(uintptr(ptr), alignment),
				"pointer %p is not aligned to %d", ptr, alignment)
		}
	}
}

func TestAllocationsDoNotOverlap(t *testing.T) {
	a := createArena(t, CreateOptions{InitialBlockSize: 4096})

	type span struct {
		start, end uintptr
	}
	var spans []span

	sizes := []int{1, 64, 100, 1024, 4000}
	for i := 0; i < 200; i++ {
		size := sizes[i%len(sizes)]
		ptr := a.Allocate(size, 8)
		require.NotNil(t, ptr)
		spans = append(spans, span{uintptr(ptr), uintptr(ptr) + uintptr(size)})
	}

	for i := 0; i < len(spans); i++ {
		for j := i + 1; j < len(spans); j++ {
			disjoint := spans[i].end <= spans[j].start || spans[j].end <= spans[i].start
			require.True(t, disjoint, "allocation %d and %d overlap", i, j)
		}
	}
	require.NoError(t, a.Validate())
}

func TestOversizedAllocationAppendsOneBlock(t *testing.T) {
	a := createArena(t, CreateOptions{InitialBlockSize: 128 * 1024})

	ptr := a.Allocate(1024*1024, 8)
	require.NotNil(t, ptr)

	require.Equal(t, 2, a.BlockCount())
	require.GreaterOrEqual(t, a.TotalBytes()-a.InitialBlockSize(), 1024*1024)

	// Smaller allocations keep succeeding without further growth.
	for i := 0; i < 10; i++ {
		require.NotNil(t, a.Allocate(512, 8))
	}
	require.Equal(t, 2, a.BlockCount())
	require.NoError(t, a.Validate())
}

func TestAllocationLargerThanMaxBlockSize(t *testing.T) {
	a := createArena(t, CreateOptions{})

	before := a.BlockCount()
	ptr := a.Allocate(MaxBlockSize+64, 8)
	require.NotNil(t, ptr)
	require.Equal(t, before+1, a.BlockCount())
	require.NoError(t, a.Validate())
}

func TestRewindReusesBlocks(t *testing.T) {
	a := createArena(t, CreateOptions{InitialBlockSize: 4096})

	workload := func() {
		for i := 0; i < 50; i++ {
			require.NotNil(t, a.Allocate(1024, 8))
		}
	}

	workload()
	grownTo := a.BlockCount()
	require.Greater(t, grownTo, 1)

	for cycle := 0; cycle < 5; cycle++ {
		a.Rewind()
		workload()
		require.Equal(t, grownTo, a.BlockCount(),
			"block count should stabilize across identical rewind cycles")
	}
	require.NoError(t, a.Validate())
}

func TestRewindReleasesOverGrownBlocks(t *testing.T) {
	a := createArena(t, CreateOptions{InitialBlockSize: 4096})

	// Force growth, then rewind and run a cycle that fits in block 0. The
	// next rewind must release the blocks past the new high-water mark.
	for i := 0; i < 50; i++ {
		a.Allocate(1024, 8)
	}
	require.Greater(t, a.BlockCount(), 1)

	a.Rewind()
	a.Allocate(64, 8)
	a.Rewind()

	require.Equal(t, 1, a.BlockCount())
	require.NoError(t, a.Validate())
}

func TestRewindBumpsGeneration(t *testing.T) {
	a := createArena(t, CreateOptions{})

	require.Equal(t, uint64(0), a.Generation())
	a.Rewind()
	require.Equal(t, uint64(1), a.Generation())
	a.Rewind()
	require.Equal(t, uint64(2), a.Generation())
}

func TestDoubleRewind(t *testing.T) {
	a := createArena(t, CreateOptions{})

	a.Rewind()
	a.Rewind()

	require.Equal(t, int32(0), a.used.Load())
	require.Equal(t, 1, a.BlockCount())

	var stats memutil.Statistics
	a.AddStatistics(&stats)
	require.Equal(t, 0, stats.AllocationCount)
	require.Equal(t, 0, stats.AllocationBytes)
}

func TestCursorIsMonotonicBetweenRewinds(t *testing.T) {
	a := createArena(t, CreateOptions{})

	previous := 0
	for i := 0; i < 20; i++ {
		require.NotNil(t, a.Allocate(100, 8))
		cursor, _ := a.blocks[0].stateSnapshot()
		require.Greater(t, cursor, previous)
		previous = cursor
	}

	a.Rewind()
	cursor, liveCount := a.blocks[0].stateSnapshot()
	require.Zero(t, cursor)
	require.Zero(t, liveCount)
}

func TestFreeIsNoOpWithoutTracking(t *testing.T) {
	a := createArena(t, CreateOptions{})

	first := a.Allocate(128, 8)
	require.NoError(t, a.Free(first))

	// Nothing was reclaimed: the next allocation advances the cursor.
	second := a.Allocate(128, 8)
	require.NotEqual(t, first, second)
}

func TestFreeNil(t *testing.T) {
	a := createArena(t, CreateOptions{Flags: CreateIndividualFree})
	require.NoError(t, a.Free(nil))
}

func TestFreeResetsEmptyBlock(t *testing.T) {
	a := createArena(t, CreateOptions{Flags: CreateIndividualFree})

	pointers := make([]unsafe.Pointer, 10)
	for i := range pointers {
		pointers[i] = a.Allocate(256, 8)
	}
	for _, ptr := range pointers {
		require.NoError(t, a.Free(ptr))
	}

	// The block emptied out, so its cursor was reset and the next allocation
	// of the same size starts at offset 0 again.
	reused := a.Allocate(256, 8)
	require.Equal(t, pointers[0], reused)
	require.Equal(t, 1, a.BlockCount())
}

func TestFreeUnknownPointer(t *testing.T) {
	a := createArena(t, CreateOptions{Flags: CreateIndividualFree})

	var local int64
	err := a.Free(unsafe.Pointer(&local))
	require.Error(t, err)
}

func TestFreeKeepsCursorWhileBlockOccupied(t *testing.T) {
	a := createArena(t, CreateOptions{Flags: CreateIndividualFree})

	first := a.Allocate(256, 8)
	second := a.Allocate(256, 8)
	require.NoError(t, a.Free(first))

	// One allocation is still live, so the cursor must not move backward.
	third := a.Allocate(256, 8)
	require.NotEqual(t, first, third)
	require.NotEqual(t, second, third)

	var stats memutil.Statistics
	a.AddStatistics(&stats)
	require.Equal(t, 2, stats.AllocationCount)
}

func TestDispose(t *testing.T) {
	a, err := New(nil, CreateOptions{})
	require.NoError(t, err)

	a.Allocate(1024, 8)
	handle := a.Handle()
	a.Dispose()

	require.Panics(t, func() { a.Allocate(64, 8) })
	require.Panics(t, func() { a.Rewind() })
	require.Panics(t, func() { a.Dispose() })

	_, ok := FromHandle(handle)
	require.False(t, ok)
}

func TestAddStatistics(t *testing.T) {
	a := createArena(t, CreateOptions{InitialBlockSize: 128 * 1024})

	a.Allocate(1024, 8)
	a.Allocate(1024, 8)

	var stats memutil.Statistics
	a.AddStatistics(&stats)

	require.Equal(t, 1, stats.BlockCount)
	require.Equal(t, 2, stats.AllocationCount)
	require.Equal(t, a.TotalBytes(), stats.BlockBytes)
	require.GreaterOrEqual(t, stats.AllocationBytes, 2048)
}

func TestCheckAllocationCorruption(t *testing.T) {
	a := createArena(t, CreateOptions{})

	ptr := a.Allocate(100, 8)
	require.NoError(t, a.CheckAllocationCorruption(ptr, 100, 8))
}

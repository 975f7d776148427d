package arena

import (
	"context"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/quartzmem/arena/memutil"
	"github.com/quartzmem/arena/sysmem"
	"golang.org/x/exp/slog"
)

const (
	// CacheLineSize is the minimum alignment and minimum spacing of every
	// allocation, so that allocations made by different workers never share a
	// cache line.
	CacheLineSize uint = 64

	// maxBlockCount is the fixed capacity of the block table. The table is
	// append-only, so growth never invalidates another worker's in-flight
	// pointer into an existing block.
	maxBlockCount = 64
)

// Arena is a thread-safe rewindable bump allocator. It hands out linearly
// increasing offsets from a fixed table of contiguous blocks and reclaims all
// outstanding allocations at once through Rewind instead of individual frees.
//
// Allocate and Free may be called concurrently from any number of workers;
// both are lock-free except for the rare path that appends a new block.
// Rewind and Dispose are stop-the-world operations that the caller must
// serialize against every other use of the arena.
type Arena struct {
	logger *slog.Logger

	blocks [maxBlockCount]*block

	// last is the highest block index that currently holds memory. used is
	// the highest block index actually allocated from since the last rewind;
	// used <= last always.
	last atomic.Int32
	used atomic.Int32

	// growMu guards the append-a-new-block path only. Ordinary allocation
	// from existing blocks never takes it.
	growMu sync.Mutex

	generation atomic.Uint64
	inFlight   atomic.Int64
	disposed   atomic.Bool

	initialBlockSize    int
	individualFree      bool
	reachedMaxBlockSize bool // guarded by growMu

	handle Handle
}

var _ memutil.Validatable = &Arena{}

// Allocate reserves size bytes aligned to alignment and returns a pointer to
// the first byte. The pointer stays valid until the next Rewind or Dispose.
// The alignment must be a power of two; it is raised to CacheLineSize when
// smaller, and when it is larger the request size is rounded up as well so an
// aligned region of exactly size usable bytes can always be carved out.
//
// Allocate never fails for lack of arena space: when no block has room, a new
// block is appended. Exhaustion of the backing system allocator panics.
// A size of zero returns nil.
func (a *Arena) Allocate(size int, alignment uint) unsafe.Pointer {
	if size == 0 {
		return nil
	}
	if size < 0 {
		panic(errors.Errorf("arena: allocation size must not be negative, got %d", size))
	}
	if err := memutil.CheckPow2(alignment, "alignment"); err != nil {
		panic(err)
	}
	if alignment > sysmem.MaxAlignment {
		panic(errors.Errorf("arena: alignment %d exceeds the maximum supported alignment %d", alignment, sysmem.MaxAlignment))
	}

	a.beginOp("Allocate")
	defer a.endOp()

	if alignment < CacheLineSize {
		alignment = CacheLineSize
	}
	usableSize := memutil.AlignUp(size, alignment)
	alignedSize := usableSize + memutil.DebugMargin

	ptr, ok := a.allocateFromBlocks(0, alignedSize, alignment)
	if !ok {
		ptr = a.allocateSlow(alignedSize, alignment)
	}

	memutil.WriteMagicValue(ptr, usableSize)
	return ptr
}

// allocateFromBlocks scans the block table from index from through the last
// created block and tries to reserve space in each. It records the winning
// index as the new high-water mark.
func (a *Arena) allocateFromBlocks(from, alignedSize int, alignment uint) (unsafe.Pointer, bool) {
	last := int(a.last.Load())
	for i := from; i <= last; i++ {
		ptr, ok := a.blocks[i].tryAllocate(alignedSize, alignment)
		if !ok {
			continue
		}
		a.advanceUsed(int32(i))
		return ptr, true
	}
	return nil, false
}

// allocateSlow appends a new block. It re-runs the scan from the previously
// observed table end first, because another worker may have grown the table
// while this one waited on the lock. At most one block is appended per
// Allocate call.
func (a *Arena) allocateSlow(alignedSize int, alignment uint) unsafe.Pointer {
	scanFrom := int(a.last.Load())

	a.growMu.Lock()
	defer a.growMu.Unlock()

	if ptr, ok := a.allocateFromBlocks(scanFrom, alignedSize, alignment); ok {
		return ptr
	}

	lastIndex := int(a.last.Load())
	newIndex := lastIndex + 1
	if newIndex >= maxBlockCount {
		panic(errors.Errorf("arena: block table is full at %d blocks", maxBlockCount))
	}

	capacity := a.nextBlockSize(a.blocks[lastIndex].capacity, alignedSize)
	newBlk, err := newBlock(capacity, sysmem.MaxAlignment)
	if err != nil {
		// Arena allocators have no fallback path for backing-memory
		// exhaustion.
		panic(errors.Wrapf(err, "arena: failed to append block %d of %d bytes", newIndex, capacity))
	}

	a.blocks[newIndex] = newBlk
	// The atomic store publishes the fully initialized block to lock-free
	// scanners.
	a.last.Store(int32(newIndex))

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "arena: appended block",
		slog.Int("index", newIndex),
		slog.Int("capacity", capacity))

	ptr, ok := newBlk.tryAllocate(alignedSize, alignment)
	if !ok {
		panic(errors.Errorf("arena: freshly appended block of %d bytes cannot fit %d bytes", capacity, alignedSize))
	}
	a.advanceUsed(int32(newIndex))

	memutil.DebugValidate(a)
	return ptr
}

// advanceUsed raises the high-water block index to at least index. The
// monotonic CAS loop keeps it correct under races between workers landing in
// different blocks.
func (a *Arena) advanceUsed(index int32) {
	for {
		current := a.used.Load()
		if current >= index || a.used.CompareAndSwap(current, index) {
			return
		}
	}
}

// Free drops the allocation that starts at ptr. It only reclaims anything
// when the arena was created with CreateIndividualFree: the block containing
// ptr has its live count decremented, and a block that empties out is reset
// for immediate reuse without waiting for the next Rewind. Without the flag,
// Free unconditionally reports success and reclaims nothing.
func (a *Arena) Free(ptr unsafe.Pointer) error {
	if ptr == nil || !a.individualFree {
		return nil
	}

	a.beginOp("Free")
	defer a.endOp()

	last := int(a.last.Load())
	for i := 0; i <= last; i++ {
		if a.blocks[i].contains(ptr) {
			return a.blocks[i].release()
		}
	}
	return errors.Errorf("arena: pointer %p was not allocated from this arena", ptr)
}

// Rewind invalidates every allocation made since the arena was created or
// last rewound. Blocks past the high-water mark are released back to the
// system; every remaining block has its cursor and live count reset so the
// next cycle reuses the same space without growing.
//
// Rewind must not run concurrently with any Allocate or Free call; doing so
// is a usage error and panics.
func (a *Arena) Rewind() {
	a.assertIdle("Rewind")
	a.rewind()
}

func (a *Arena) rewind() {
	a.generation.Add(1)

	used := int(a.used.Load())
	last := int(a.last.Load())

	// Blocks past the high-water mark were grown in a previous cycle but
	// never allocated from since.
	for i := last; i > used; i-- {
		a.destroyBlock(i)
	}
	a.last.Store(int32(used))

	for i := 0; i <= used; i++ {
		a.blocks[i].reset()
	}
	a.used.Store(0)

	memutil.DebugValidate(a)
}

// Dispose releases every block and the arena's handle. The arena is unusable
// afterward. Like Rewind, Dispose must be serialized against all other use.
func (a *Arena) Dispose() {
	a.assertIdle("Dispose")
	a.disposed.Store(true)

	a.logOutstandingAllocations()

	a.used.Store(0)
	a.rewind()

	a.destroyBlock(0)
	a.last.Store(-1)

	unregisterArena(a.handle)
}

func (a *Arena) destroyBlock(index int) {
	err := a.blocks[index].destroy()
	if err != nil {
		a.logger.LogAttrs(context.Background(), slog.LevelError, "arena: failed to release block memory",
			slog.Int("index", index),
			slog.Any("error", err))
	}
	a.blocks[index] = nil
}

func (a *Arena) logOutstandingAllocations() {
	if !a.individualFree {
		return
	}

	var outstanding int
	last := int(a.last.Load())
	for i := 0; i <= last; i++ {
		_, liveCount := a.blocks[i].stateSnapshot()
		outstanding += liveCount
	}
	if outstanding > 0 {
		a.logger.LogAttrs(context.Background(), slog.LevelWarn, "[UNRELEASED MEMORY] arena disposed with outstanding tracked allocations",
			slog.Int("allocations", outstanding))
	}
}

func (a *Arena) beginOp(op string) {
	a.inFlight.Add(1)
	if a.disposed.Load() {
		a.inFlight.Add(-1)
		panic(errors.Errorf("arena: %s called on a disposed arena", op))
	}
}

func (a *Arena) endOp() {
	a.inFlight.Add(-1)
}

func (a *Arena) assertIdle(op string) {
	if a.disposed.Load() {
		panic(errors.Errorf("arena: %s called on a disposed arena", op))
	}
	if n := a.inFlight.Load(); n != 0 {
		panic(errors.Errorf("arena: %s called while %d Allocate or Free calls are in flight", op, n))
	}
}

// BlockCount returns the number of blocks currently holding memory.
func (a *Arena) BlockCount() int {
	return int(a.last.Load()) + 1
}

// InitialBlockSize returns the capacity in bytes of the first block.
func (a *Arena) InitialBlockSize() int {
	return a.initialBlockSize
}

// TotalBytes returns the total capacity in bytes held across all blocks.
func (a *Arena) TotalBytes() int {
	var total int
	last := int(a.last.Load())
	for i := 0; i <= last; i++ {
		total += a.blocks[i].capacity
	}
	return total
}

// Generation returns the arena's rewind generation. It is bumped by every
// Rewind, so collaborators that hold arena-backed views can cross-check them
// against the generation they were created in.
func (a *Arena) Generation() uint64 {
	return a.generation.Load()
}

// AddStatistics sums this arena's usage numbers into stats.
func (a *Arena) AddStatistics(stats *memutil.Statistics) {
	last := int(a.last.Load())
	for i := 0; i <= last; i++ {
		cursor, liveCount := a.blocks[i].stateSnapshot()
		stats.BlockCount++
		stats.BlockBytes += a.blocks[i].capacity
		stats.AllocationCount += liveCount
		stats.AllocationBytes += cursor
	}
}

// Validate performs internal consistency checks on the block table and each
// block's packed state. When the arena is functioning correctly it should not
// be possible for this method to return an error.
func (a *Arena) Validate() error {
	last := int(a.last.Load())
	used := int(a.used.Load())

	if last >= maxBlockCount {
		return errors.Errorf("the last created block index %d is past the fixed table capacity %d", last, maxBlockCount)
	}
	if used > last {
		return errors.Errorf("the high-water block index %d is past the last created block %d", used, last)
	}

	for i := 0; i < maxBlockCount; i++ {
		b := a.blocks[i]
		if i <= last && b == nil {
			return errors.Errorf("block %d should hold memory but is nil", i)
		}
		if i > last && b != nil {
			return errors.Errorf("block %d is past the last created index %d but still holds memory", i, last)
		}
		if b == nil {
			continue
		}

		if b.capacity > maxBlockCursor {
			return errors.Errorf("block %d capacity %d cannot be represented in %d cursor bits", i, b.capacity, cursorBits)
		}
		cursor, liveCount := b.stateSnapshot()
		if cursor > b.capacity {
			return errors.Errorf("block %d cursor %d is past its capacity %d", i, cursor, b.capacity)
		}
		if liveCount > maxBlockLiveCount {
			return errors.Errorf("block %d live count %d overflows its %d-bit field", i, liveCount, liveCountBits)
		}
	}

	return nil
}

// CheckAllocationCorruption verifies the anti-corruption marker written after
// the allocation that starts at ptr. size and alignment must be the values
// passed to Allocate. This is a no-op success unless the module was built
// with the debug_mem_utils tag.
func (a *Arena) CheckAllocationCorruption(ptr unsafe.Pointer, size int, alignment uint) error {
	if memutil.DebugMargin == 0 {
		return nil
	}
	if alignment < CacheLineSize {
		alignment = CacheLineSize
	}
	usableSize := memutil.AlignUp(size, alignment)
	if !memutil.ValidateMagicValue(ptr, usableSize) {
		return errors.Errorf("arena: memory corruption detected after the allocation at %p", ptr)
	}
	return nil
}

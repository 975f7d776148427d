package arena

import (
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/quartzmem/arena/memutil"
	"github.com/quartzmem/arena/sysmem"
)

const (
	// cursorBits bounds the bump offset a block state can represent, so the
	// largest usable block is just under 1 TiB.
	cursorBits = 40
	// liveCountBits bounds the number of outstanding allocations per block.
	liveCountBits = 24

	maxBlockCursor    = 1<<cursorBits - 1
	maxBlockLiveCount = 1<<liveCountBits - 1
)

// packBlockState packs a bump cursor and a live-allocation count into a single
// word so that both can be advanced together with one compare-and-swap.
func packBlockState(cursor, liveCount int) uint64 {
	return uint64(cursor) | uint64(liveCount)<<cursorBits
}

func unpackBlockState(state uint64) (cursor, liveCount int) {
	return int(state & maxBlockCursor), int(state >> cursorBits)
}

// block is one contiguous backing buffer plus its packed bump state. The
// buffer is materialized once at creation and released once, either when a
// rewind finds the block past the high-water mark or when the arena is
// disposed.
type block struct {
	buffer   *sysmem.Buffer
	base     unsafe.Pointer
	capacity int

	// state holds the packed cursor/liveCount word. All steady-state mutation
	// goes through compare-and-swap; no lock protects it.
	state atomic.Uint64
}

func newBlock(capacity int, baseAlignment uint) (*block, error) {
	if capacity > maxBlockCursor {
		return nil, errors.Errorf("arena: block capacity %d cannot be represented in %d cursor bits", capacity, cursorBits)
	}

	buffer, err := sysmem.Allocate(capacity, baseAlignment)
	if err != nil {
		return nil, err
	}

	return &block{
		buffer:   buffer,
		base:     buffer.Base(),
		capacity: len(buffer.Bytes()),
	}, nil
}

func (b *block) stateSnapshot() (cursor, liveCount int) {
	return unpackBlockState(b.state.Load())
}

// tryAllocate reserves size bytes at the next cursor position aligned to
// alignment. It retries the compare-and-swap on contention and reports false
// only when the aligned request does not fit in the block.
func (b *block) tryAllocate(size int, alignment uint) (unsafe.Pointer, bool) {
	for {
		oldState := b.state.Load()
		cursor, liveCount := unpackBlockState(oldState)
		if liveCount >= maxBlockLiveCount {
			return nil, false
		}

		offset := memutil.AlignUp(cursor, alignment)
		if offset+size > b.capacity {
			return nil, false
		}

		newState := packBlockState(offset+size, liveCount+1)
		if b.state.CompareAndSwap(oldState, newState) {
			return unsafe.Add(b.base, offset), true
		}
	}
}

// release drops one outstanding allocation. When the last one goes away the
// cursor is reset to zero as well, so the block's space can be reused before
// the next rewind. Callers must have discarded every pointer into the block
// before its count can reach zero; the arena does not enforce that contract.
func (b *block) release() error {
	for {
		oldState := b.state.Load()
		cursor, liveCount := unpackBlockState(oldState)
		if liveCount == 0 {
			return errors.New("arena: free of a pointer in a block with no outstanding allocations")
		}

		newState := packBlockState(cursor, liveCount-1)
		if liveCount == 1 {
			newState = packBlockState(0, 0)
		}
		if b.state.CompareAndSwap(oldState, newState) {
			return nil
		}
	}
}

func (b *block) contains(ptr unsafe.Pointer) bool {
	p := uintptr(ptr)
	base := uintptr(b.base)
	return p >= base && p < base+uintptr(b.capacity)
}

func (b *block) reset() {
	b.state.Store(0)
}

func (b *block) destroy() error {
	err := sysmem.Free(b.buffer)
	b.buffer = nil
	b.base = nil
	return err
}

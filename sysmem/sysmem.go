// Package sysmem materializes and releases the raw backing buffers that arena
// blocks are carved from. On unix platforms buffers are anonymous private
// mappings obtained with mmap, so releasing a buffer returns its pages to the
// operating system immediately. Other platforms fall back to heap-backed
// buffers that are released by the garbage collector once unreferenced.
package sysmem

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/quartzmem/arena/memutil"
)

// MaxAlignment is the largest base alignment Allocate will honor.
const MaxAlignment uint = 64 * 1024

// Buffer is one contiguous region of system memory. The usable, aligned view
// is returned by Bytes; the raw backing region may be larger than requested.
type Buffer struct {
	raw  []byte
	data []byte
}

// Bytes returns the aligned usable region of the buffer. Its length is exactly
// the size passed to Allocate.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Base returns a pointer to the first usable byte of the buffer.
func (b *Buffer) Base() unsafe.Pointer {
	return unsafe.Pointer(&b.data[0])
}

// Allocate obtains size bytes of system memory whose base address is aligned
// to alignment. The alignment must be a power of two no greater than
// MaxAlignment.
func Allocate(size int, alignment uint) (*Buffer, error) {
	if size <= 0 {
		return nil, errors.Errorf("sysmem: allocation size must be positive, got %d", size)
	}
	if err := memutil.CheckPow2(alignment, "alignment"); err != nil {
		return nil, err
	}
	if alignment > MaxAlignment {
		return nil, errors.Errorf("sysmem: alignment %d exceeds the maximum supported alignment %d", alignment, MaxAlignment)
	}

	return allocate(size, alignment)
}

// Free releases a buffer obtained from Allocate. The buffer and every pointer
// into it must not be used afterward.
func Free(b *Buffer) error {
	if b == nil || b.raw == nil {
		return nil
	}
	err := release(b.raw)
	b.raw = nil
	b.data = nil
	return err
}

func alignedView(raw []byte, size int, alignment uint) []byte {
	base := uintptr(unsafe.Pointer(&raw[0]))
	padding := memutil.AlignUp(int(base), alignment) - int(base)
	return raw[padding : padding+size]
}

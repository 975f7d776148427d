package arena

import (
	"unsafe"
)

// Make allocates arena-backed storage for one value of type T and returns a
// typed pointer to it. The storage is valid until the next Rewind or Dispose
// and is not tracked by the garbage collector, so T should not contain
// pointers into the Go heap.
func Make[T any](a *Arena) *T {
	var zero T
	ptr := a.Allocate(int(unsafe.Sizeof(zero)), uint(unsafe.Alignof(zero)))
	return (*T)(ptr)
}

// MakeSlice allocates one contiguous arena-backed region sized for count
// elements of type T and returns it as a slice of length and capacity count.
// Array and list style containers use this to obtain storage without separate
// disposal: the whole region goes away on the next Rewind. Like Make, the
// storage is invisible to the garbage collector, so T should not contain
// pointers into the Go heap.
//
// The returned memory is not guaranteed to be zeroed; reused blocks keep the
// bytes of the previous cycle.
func MakeSlice[T any](a *Arena, count int) []T {
	if count == 0 {
		return nil
	}
	var zero T
	ptr := a.Allocate(int(unsafe.Sizeof(zero))*count, uint(unsafe.Alignof(zero)))
	return unsafe.Slice((*T)(ptr), count)
}

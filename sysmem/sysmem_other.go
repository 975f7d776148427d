//go:build !unix

package sysmem

func allocate(size int, alignment uint) (*Buffer, error) {
	// Go's heap does not take an alignment request, so over-allocate and
	// carve an aligned view out of the slice.
	raw := make([]byte, size+int(alignment))

	return &Buffer{
		raw:  raw,
		data: alignedView(raw, size, alignment),
	}, nil
}

func release(raw []byte) error {
	// Heap-backed buffers are reclaimed by the garbage collector.
	return nil
}

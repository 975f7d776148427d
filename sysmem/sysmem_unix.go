//go:build unix

package sysmem

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

func allocate(size int, alignment uint) (*Buffer, error) {
	mapSize := size
	if int(alignment) > unix.Getpagesize() {
		// mmap only guarantees page alignment, so over-map and carve an
		// aligned view out of the mapping.
		mapSize += int(alignment)
	}

	raw, err := unix.Mmap(-1, 0, mapSize,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(err, "sysmem: mmap of %d bytes failed", mapSize)
	}

	return &Buffer{
		raw:  raw,
		data: alignedView(raw, size, alignment),
	}, nil
}

func release(raw []byte) error {
	err := unix.Munmap(raw)
	if err != nil {
		return errors.Wrap(err, "sysmem: munmap failed")
	}
	return nil
}

package memutil

import (
	cerrors "github.com/cockroachdb/errors"
)

type Number interface {
	~int | ~uint | ~uintptr
}

// CheckPow2 verifies that the provided number is a power of two and returns a
// wrapped PowerOfTwoError if it is not. Zero is not considered a power of two.
func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// AlignUp rounds value up to the nearest multiple of alignment. The alignment
// must be a power of two.
func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

// AlignDown rounds value down to the nearest multiple of alignment. The
// alignment must be a power of two.
func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// IsAligned returns true if value is a multiple of alignment. The alignment
// must be a power of two.
func IsAligned[T Number](value T, alignment uint) bool {
	return value&T(alignment-1) == 0
}

package sysmem

import (
	"testing"
	"unsafe"

	"github.com/quartzmem/arena/memutil"
	"github.com/stretchr/testify/require"
)

func TestAllocateAndFree(t *testing.T) {
	buffer, err := Allocate(4096, 64)
	require.NoError(t, err)
	require.Len(t, buffer.Bytes(), 4096)
	require.True(t, memutil.IsAligned(uintptr(buffer.Base()), 64))

	// The buffer must be usable memory.
	data := buffer.Bytes()
	for i := range data {
		data[i] = byte(i)
	}
	require.Equal(t, byte(255), data[255])

	require.NoError(t, Free(buffer))
}

func TestAllocateLargeAlignment(t *testing.T) {
	buffer, err := Allocate(100, MaxAlignment)
	require.NoError(t, err)
	require.Len(t, buffer.Bytes(), 100)
	require.True(t, memutil.IsAligned(uintptr(buffer.Base()), MaxAlignment))
	require.NoError(t, Free(buffer))
}

func TestAllocateRejectsBadArguments(t *testing.T) {
	_, err := Allocate(0, 64)
	require.Error(t, err)

	_, err = Allocate(-1, 64)
	require.Error(t, err)

	_, err = Allocate(4096, 0)
	require.Error(t, err)
	require.ErrorIs(t, err, memutil.PowerOfTwoError)

	_, err = Allocate(4096, 3)
	require.Error(t, err)
	require.ErrorIs(t, err, memutil.PowerOfTwoError)

	_, err = Allocate(4096, MaxAlignment*2)
	require.Error(t, err)
}

func TestFreeNil(t *testing.T) {
	require.NoError(t, Free(nil))

	var empty Buffer
	require.NoError(t, Free(&empty))
}

func TestBaseMatchesBytes(t *testing.T) {
	buffer, err := Allocate(128, 64)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, Free(buffer))
	}()

	require.Equal(t, unsafe.Pointer(&buffer.Bytes()[0]), buffer.Base())
}

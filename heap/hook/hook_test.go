package hook

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestMallocFree(t *testing.T) {
	p := Malloc(100)
	require.NotNil(t, p)
	require.Zero(t, uintptr(p)%MaxAlign)

	b := unsafe.Slice((*byte)(p), 100)
	b[0], b[99] = 0x11, 0x22
	Free(p, 100)
}

func TestMallocZeroSize(t *testing.T) {
	p := Malloc(0)
	require.NotNil(t, p)
	Free(p, 0)
}

func TestCallocZeroes(t *testing.T) {
	// Dirty a span, free it, and count on reuse to prove Calloc
	// clears what Malloc may recycle.
	p := Malloc(64)
	b := unsafe.Slice((*byte)(p), 64)
	for i := range b {
		b[i] = 0xFF
	}
	Free(p, 64)

	q := Calloc(64)
	c := unsafe.Slice((*byte)(q), 64)
	for i := range c {
		require.Equal(t, byte(0), c[i], "byte %d", i)
	}
	Free(q, 64)
}

func TestReallocPreserves(t *testing.T) {
	p := Malloc(40)
	b := unsafe.Slice((*byte)(p), 40)
	for i := range b {
		b[i] = byte(i)
	}

	q := Realloc(p, 40, 200)
	c := unsafe.Slice((*byte)(q), 200)
	for i := 0; i < 40; i++ {
		require.Equal(t, byte(i), c[i])
	}
	Free(q, 200)
}

func TestReallocInplaceReportsSize(t *testing.T) {
	p := Malloc(64)
	got := ReallocInplace(p, 64, 32)
	require.Equal(t, uintptr(32), got, "shrink always succeeds")
	Free(p, 32)

	require.Equal(t, uintptr(8), UsableSize(8))
}

package block

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/internal/platform"
)

func spanOf(buf []byte) Block {
	return New(uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
}

func TestSplitAt(t *testing.T) {
	buf := make([]byte, 26)
	b := spanOf(buf)

	left, right := b.SplitAt(5)
	require.Equal(t, uintptr(5), left.Size())
	require.Equal(t, uintptr(21), right.Size())
	require.Equal(t, left.End(), right.Base())
	require.True(t, left.Less(right))
	require.True(t, left.Adjacent(right))
}

func TestSplitOutOfBound(t *testing.T) {
	old := platform.Fatal
	defer func() { platform.Fatal = old }()
	platform.Fatal = func(msg string) { panic(msg) }

	buf := make([]byte, 5)
	require.Panics(t, func() {
		spanOf(buf).SplitAt(6)
	})
}

func TestAlignSplit(t *testing.T) {
	buf := make([]byte, 64)
	b := spanOf(buf)

	pad, rest, ok := b.AlignSplit(2)
	require.True(t, ok)
	require.True(t, rest.AlignedTo(2))
	require.Equal(t, b.Size(), pad.Size()+rest.Size())

	// Odd alignments are honored with the general formula.
	pad, rest, ok = b.AlignSplit(7)
	require.True(t, ok)
	require.True(t, rest.AlignedTo(7))
	require.Equal(t, pad.End(), rest.Base())

	// An already aligned base yields empty padding.
	pad, _, ok = rest.AlignSplit(7)
	require.True(t, ok)
	require.True(t, pad.IsEmpty())
}

func TestAlignSplitFails(t *testing.T) {
	// A one-byte block at an odd address cannot be aligned to a large
	// power of two.
	buf := make([]byte, 16)
	b := spanOf(buf)
	odd := New(b.Base()+1, 1)

	_, intact, ok := odd.AlignSplit(1 << 30)
	require.False(t, ok)
	require.Equal(t, odd, intact)
}

func TestMergeRight(t *testing.T) {
	buf := make([]byte, 26)
	left, right := spanOf(buf).SplitAt(5)

	require.True(t, left.MergeRight(&right))
	require.Equal(t, uintptr(26), left.Size())
	require.True(t, right.IsEmpty())

	// Merging an empty block succeeds even without adjacency.
	empty := Empty(0xdead)
	require.True(t, left.MergeRight(&empty))
	require.Equal(t, uintptr(26), left.Size())

	// Non-adjacent non-empty blocks refuse to merge.
	far := New(left.End()+8, 4)
	require.False(t, left.MergeRight(&far))
	require.Equal(t, uintptr(4), far.Size())
}

func TestTake(t *testing.T) {
	buf := make([]byte, 8)
	b := spanOf(buf)
	base := b.Base()

	got := b.Take()
	require.Equal(t, uintptr(8), got.Size())
	require.True(t, b.IsEmpty())
	require.Equal(t, base, b.Base())
}

func TestCopyTo(t *testing.T) {
	buf := []byte{0, 2, 0, 0, 255, 255}
	b := spanOf(buf)

	src, dst := b.SplitAt(2)
	src.CopyTo(dst)
	require.Equal(t, []byte{0, 2, 0, 2, 255, 255}, buf)
}

func TestZero(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	spanOf(buf).Zero()
	require.Equal(t, []byte{0, 0, 0, 0}, buf)
}

func TestEmptyEdges(t *testing.T) {
	buf := make([]byte, 26)
	b := spanOf(buf)

	require.True(t, b.EmptyLeft().IsEmpty())
	require.True(t, b.EmptyRight().IsEmpty())
	require.Equal(t, b.Base(), b.EmptyLeft().Base())
	require.Equal(t, b.End(), b.EmptyRight().Base())
}

// Package block defines the unit of memory bookkeeping: a uniquely
// owned, contiguous span of bytes.
//
// A Block is a value (base address, size). The allocator's central
// safety property is that at any instant each byte of the heap is
// covered by at most one live Block. Operations that consume a block
// either take it by value and return the pieces covering the same span,
// or invalidate the source through Take, so a span is never reachable
// from two places.
//
// Empty blocks (size zero) are legal and useful as placeholders. They
// have no meaningful address and merge with anything.
package block

import (
	"fmt"
	"unsafe"

	"github.com/joshuapare/heapkit/internal/align"
	"github.com/joshuapare/heapkit/internal/platform"
)

// Block is a contiguous memory span. The zero value is an empty block
// at address zero.
type Block struct {
	base uintptr
	size uintptr
}

// New constructs a block from its raw parts. No zero check: empty
// blocks are legal.
func New(base, size uintptr) Block {
	return Block{base: base, size: size}
}

// Empty returns an empty block at base.
func Empty(base uintptr) Block {
	return Block{base: base}
}

// Base returns the start address.
func (b Block) Base() uintptr { return b.base }

// Size returns the length in bytes.
func (b Block) Size() uintptr { return b.size }

// End returns the first address past the span.
func (b Block) End() uintptr { return b.base + b.size }

// IsEmpty reports whether the block has size zero.
func (b Block) IsEmpty() bool { return b.size == 0 }

// EmptyLeft returns an empty block at the left edge of b.
func (b Block) EmptyLeft() Block { return Empty(b.base) }

// EmptyRight returns an empty block at the right edge of b.
func (b Block) EmptyRight() Block { return Empty(b.End()) }

// Adjacent reports whether b ends exactly where other begins.
func (b Block) Adjacent(other Block) bool {
	return b.End() == other.base
}

// AlignedTo reports whether the base is a multiple of a.
func (b Block) AlignedTo(a uintptr) bool {
	return align.Aligned(b.base, a)
}

// Take invalidates b and returns its old value. This is the move
// operation: the caller of Take becomes the owner of the span, and the
// receiver is left as an empty placeholder at the same base.
func (b *Block) Take() Block {
	old := *b
	*b = Empty(b.base)
	return old
}

// MergeRight extends b with an adjacent block to its right, leaving
// other empty. Merging an empty block always succeeds, regardless of
// adjacency. Reports whether the merge happened; on false both blocks
// are unchanged. This is the only way to reconstitute adjacency.
func (b *Block) MergeRight(other *Block) bool {
	if other.IsEmpty() {
		return true
	}
	if b.Adjacent(*other) {
		b.size += other.Take().size
		return true
	}
	return false
}

// SplitAt consumes b and returns (prefix of length n, suffix), which
// together cover exactly the original span. n must not exceed the size;
// an out-of-range split is a programming bug and hits the fatal hook.
func (b Block) SplitAt(n uintptr) (Block, Block) {
	if n > b.size {
		platform.Fatal(fmt.Sprintf("block: split %d out of bound (size is %d)", n, b.size))
	}
	return Block{base: b.base, size: n},
		Block{base: b.base + n, size: b.size - n}
}

// AlignSplit consumes b and returns a padding block advancing the base
// to the next multiple of a, plus the aligned remainder. If the base is
// already aligned the padding is empty. Fails, returning b intact, when
// the padding would exceed the block's size.
func (b Block) AlignSplit(a uintptr) (pad, rest Block, ok bool) {
	k := align.PadFor(b.base, a)
	if k > b.size {
		return Block{}, b, false
	}
	pad, rest = b.SplitAt(k)
	return pad, rest, true
}

// CopyTo copies b's bytes into dst. dst must be at least as large;
// anything else is a programming bug.
func (b Block) CopyTo(dst Block) {
	if b.size > dst.size {
		platform.Fatal(fmt.Sprintf("block: copy %s into smaller %s", b, dst))
	}
	platform.Copy(dst.base, b.base, b.size)
}

// Zero overwrites the span with zero bytes. Used in secure mode so
// freed memory does not leak its contents.
func (b Block) Zero() {
	platform.Set(b.base, 0, b.size)
}

// Bytes returns the span as a byte slice. The slice aliases the block's
// memory; it must not outlive the block's ownership.
func (b Block) Bytes() []byte {
	if b.size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(b.base)), b.size)
}

// Less orders blocks by base address.
func (b Block) Less(other Block) bool {
	return b.base < other.base
}

func (b Block) String() string {
	return fmt.Sprintf("0x%x[%d]", b.base, b.size)
}

// Package pool implements the ordered free-block pool backing the
// bookkeeper.
//
// The pool is a densely packed array of blocks sorted by base address,
// living in a backing block that is itself allocated from the heap it
// describes (the bookkeeper supplies and swaps the storage). Invariants:
//
//  1. Bases strictly increase among non-empty entries.
//  2. Entries never overlap.
//  3. No two adjacent-address non-empty entries sit side by side; they
//     are coalesced on every return.
//
// Empty entries are legal placeholders. They may appear anywhere, are
// skipped by searches, harvested by inserts, and garbage-collected
// opportunistically from the tail. Their bases are kept non-decreasing
// with their neighbors so binary search stays valid.
package pool

import (
	"fmt"
	"unsafe"

	"github.com/joshuapare/heapkit/heap/block"
	"github.com/joshuapare/heapkit/internal/align"
	"github.com/joshuapare/heapkit/internal/platform"
)

// Headroom is the number of spare entry slots the bookkeeper keeps
// available. Growth of the backing storage happens while this many
// slots remain, so the inserts performed by the growth itself (and by
// any single operation) cannot exhaust the pool.
const Headroom = 8

// EntrySize is the size of one pool entry in the backing storage.
var EntrySize = unsafe.Sizeof(block.Block{})

// EntryAlign is the alignment the backing storage must satisfy.
var EntryAlign = uintptr(unsafe.Alignof(block.Block{}))

// List is the ordered free-block pool. The zero value is an empty pool
// with no storage; SetStorage must run before the first insert.
type List struct {
	storage block.Block
	slots   []block.Block
	n       int
}

// Len returns the number of entries, including empty placeholders.
func (l *List) Len() int { return l.n }

// Cap returns the number of entry slots the storage can hold.
func (l *List) Cap() int { return len(l.slots) }

// NeedGrow reports whether the headroom guarantee is no longer met and
// the backing storage must be grown before further operations.
func (l *List) NeedGrow() bool { return l.n+Headroom > len(l.slots) }

// At returns a copy of the entry at index i.
func (l *List) At(i int) block.Block { return l.slots[i] }

// Storage returns the current backing block.
func (l *List) Storage() block.Block { return l.storage }

// SetStorage moves the pool into a new backing block and returns the
// old one for the caller to free. The new block must be aligned for
// entries and large enough for the current population.
func (l *List) SetStorage(b block.Block) block.Block {
	cnt := int(b.Size() / EntrySize)
	if cnt < l.n {
		platform.Fatal("pool: replacement storage too small")
	}
	if !b.AlignedTo(EntryAlign) {
		platform.Fatal("pool: misaligned storage")
	}
	var view []block.Block
	if cnt > 0 {
		view = unsafe.Slice((*block.Block)(unsafe.Pointer(b.Base())), cnt)
	}
	copy(view, l.slots[:l.n])
	old := l.storage
	l.storage = b
	l.slots = view
	return old
}

// FindFit scans left to right for the first non-empty entry that can
// satisfy size bytes at the given alignment, accounting for the padding
// needed to align the entry's base. First-fit is used deliberately:
// coalescing keeps the leading region large, and first-fit preserves
// locality of reuse.
func (l *List) FindFit(size, a uintptr) (int, bool) {
	for i := 0; i < l.n; i++ {
		e := l.slots[i]
		if e.IsEmpty() {
			continue
		}
		pad := align.PadFor(e.Base(), a)
		if e.Size() >= pad+size {
			return i, true
		}
	}
	return 0, false
}

// TakeAt splits the entry at index i into up to three pieces: alignment
// padding, the taken block of exactly size bytes, and the tail
// remainder. Padding and tail are re-inserted; the taken block is
// returned to the caller, who becomes its owner. The entry must have
// been validated by FindFit.
func (l *List) TakeAt(i int, size, a uintptr) block.Block {
	entry := l.slots[i].Take()

	pad, rest, ok := entry.AlignSplit(a)
	if !ok {
		platform.Fatal(fmt.Sprintf("pool: entry %s cannot align to %d", entry, a))
	}
	taken, tail := rest.SplitAt(size)

	if !pad.IsEmpty() {
		// The padding reoccupies the slot: same base, so order holds.
		l.slots[i] = pad
	}
	l.Insert(tail)
	l.shrinkTail()
	return taken
}

// Insert places a block into the pool, coalescing with its neighbors.
// When merges are possible in both directions the left merge runs
// first, then the right merge of the result, preserving insertion-point
// locality. Empty blocks are dropped. The caller asserts ownership of
// the span; inserting an overlapping block corrupts the pool.
func (l *List) Insert(b block.Block) {
	if b.IsEmpty() {
		return
	}
	i := l.searchBase(b.Base())

	// Merge left with the nearest non-empty predecessor.
	if j := l.prevNonEmpty(i - 1); j >= 0 && l.slots[j].Adjacent(b) {
		merged := l.slots[j].Take()
		merged.MergeRight(&b)
		if k := l.nextNonEmpty(i); k >= 0 && merged.Adjacent(l.slots[k]) {
			nb := l.slots[k].Take()
			merged.MergeRight(&nb)
		}
		l.slots[j] = merged
		l.shrinkTail()
		return
	}

	// Merge right only.
	if k := l.nextNonEmpty(i); k >= 0 && b.Adjacent(l.slots[k]) {
		nb := l.slots[k].Take()
		b.MergeRight(&nb)
		l.slots[k] = b
		// The merged entry's base moved down past any empty
		// placeholders in between; renormalize their bases so the
		// slot array stays sorted.
		for m := i; m < k; m++ {
			l.slots[m] = block.Empty(b.Base())
		}
		return
	}

	l.insertAt(i, b)
}

// RemoveAt takes the entry at index i out of the pool and returns it.
// If the removal leaves the two surviving neighbors adjacent they are
// merged, keeping the canonical form.
func (l *List) RemoveAt(i int) block.Block {
	e := l.slots[i].Take()
	j := l.prevNonEmpty(i - 1)
	k := l.nextNonEmpty(i + 1)
	if j >= 0 && k >= 0 && l.slots[j].Adjacent(l.slots[k]) {
		nb := l.slots[k].Take()
		l.slots[j].MergeRight(&nb)
	}
	l.shrinkTail()
	return e
}

// NeighborAt returns the index of the non-empty entry starting exactly
// at end, if any. Used for in-place reallocation.
func (l *List) NeighborAt(end uintptr) (int, bool) {
	for m := l.searchBase(end); m < l.n; m++ {
		e := l.slots[m]
		if e.IsEmpty() {
			continue
		}
		if e.Base() == end {
			return m, true
		}
		if e.Base() > end {
			break
		}
	}
	return 0, false
}

// Overlaps reports whether b intersects any entry. Used by the debug
// tables to catch double frees before they corrupt the pool.
func (l *List) Overlaps(b block.Block) bool {
	if b.IsEmpty() {
		return false
	}
	for i := 0; i < l.n; i++ {
		e := l.slots[i]
		if e.IsEmpty() {
			continue
		}
		if b.Base() < e.End() && e.Base() < b.End() {
			return true
		}
	}
	return false
}

// Tail returns the index of the last non-empty entry.
func (l *List) Tail() (int, bool) {
	if i := l.prevNonEmpty(l.n - 1); i >= 0 {
		return i, true
	}
	return 0, false
}

// Bytes returns the total free bytes held by the pool.
func (l *List) Bytes() uintptr {
	var sum uintptr
	for i := 0; i < l.n; i++ {
		sum += l.slots[i].Size()
	}
	return sum
}

// Snapshot copies the non-empty entries into a fresh slice, in order.
// For instrumentation and tests only.
func (l *List) Snapshot() []block.Block {
	out := make([]block.Block, 0, l.n)
	for i := 0; i < l.n; i++ {
		if !l.slots[i].IsEmpty() {
			out = append(out, l.slots[i])
		}
	}
	return out
}

// Validate checks the pool invariants: sorted, non-overlapping, fully
// coalesced, and non-decreasing slot bases including placeholders.
func (l *List) Validate() error {
	var prev block.Block
	havePrev := false
	for i := 0; i < l.n; i++ {
		e := l.slots[i]
		if i > 0 && e.Base() < l.slots[i-1].Base() {
			return fmt.Errorf("pool: unsorted slots at %d (%s after %s)", i, e, l.slots[i-1])
		}
		if e.IsEmpty() {
			continue
		}
		if havePrev {
			if prev.End() > e.Base() {
				return fmt.Errorf("pool: overlap at %d (%s then %s)", i, prev, e)
			}
			if prev.End() == e.Base() {
				return fmt.Errorf("pool: adjacent uncoalesced entries at %d (%s then %s)", i, prev, e)
			}
		}
		prev = e
		havePrev = true
	}
	return nil
}

// searchBase returns the first index whose slot base is >= base.
func (l *List) searchBase(base uintptr) int {
	lo, hi := 0, l.n
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if l.slots[mid].Base() < base {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (l *List) prevNonEmpty(from int) int {
	if from >= l.n {
		from = l.n - 1
	}
	for m := from; m >= 0; m-- {
		if !l.slots[m].IsEmpty() {
			return m
		}
	}
	return -1
}

func (l *List) nextNonEmpty(from int) int {
	if from < 0 {
		from = 0
	}
	for m := from; m < l.n; m++ {
		if !l.slots[m].IsEmpty() {
			return m
		}
	}
	return -1
}

// insertAt writes b at index i, shifting entries right until the first
// empty slot, which is harvested. The headroom guarantee means a slot
// is always available; running out is a bookkeeping bug.
func (l *List) insertAt(i int, b block.Block) {
	g := -1
	for m := i; m < l.n; m++ {
		if l.slots[m].IsEmpty() {
			g = m
			break
		}
	}
	if g == -1 {
		if l.n == len(l.slots) {
			platform.Fatal("pool: block pool exhausted (headroom violated)")
		}
		g = l.n
		l.n++
	}
	copy(l.slots[i+1:g+1], l.slots[i:g])
	l.slots[i] = b
}

// shrinkTail drops empty placeholders from the end of the slot array.
func (l *List) shrinkTail() {
	for l.n > 0 && l.slots[l.n-1].IsEmpty() {
		l.n--
	}
}

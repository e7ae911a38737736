// Package audit provides the debug-build side tables: a ledger of
// handed-out blocks for leak detection and for catching allocations or
// frees that cut across a live block. A second free of a span that is
// no longer live looks like a donation to the ledger and passes; the
// bookkeeper catches that case against its pool. The tables live
// on the ordinary Go heap, outside the managed arena, so recording
// never reenters the allocator.
package audit

import (
	"fmt"

	"github.com/joshuapare/heapkit/heap/block"
	"github.com/joshuapare/heapkit/internal/platform"
)

// Ledger records every block handed out and not yet returned.
type Ledger struct {
	live map[uintptr]uintptr // base -> size
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{live: make(map[uintptr]uintptr)}
}

// OnAlloc records a block leaving the allocator. Overlap with a block
// already out is an ownership violation and hits the fatal hook.
func (l *Ledger) OnAlloc(b block.Block) {
	if b.IsEmpty() {
		return
	}
	if base, size, ok := l.overlap(b); ok {
		platform.Fatal(fmt.Sprintf("audit: alloc %s overlaps live block 0x%x[%d]", b, base, size))
	}
	l.live[b.Base()] = b.Size()
}

// OnFree records a span coming back. Three cases are legal: the span
// is exactly a live block; the span is contained in a live block
// (returning an allocation piecewise is part of the contract — the
// uncovered remainder stays live); or the span intersects nothing
// live at all (a donation). A span that crosses the boundary of a
// live block is corruption and hits the fatal hook.
func (l *Ledger) OnFree(b block.Block) {
	if b.IsEmpty() {
		return
	}
	base, size, ok := l.overlap(b)
	if !ok {
		return // donation
	}
	end := base + size
	if b.Base() < base || b.End() > end {
		platform.Fatal(fmt.Sprintf("audit: free %s crosses live block 0x%x[%d]", b, base, size))
	}
	delete(l.live, base)
	if b.Base() > base {
		l.live[base] = b.Base() - base
	}
	if b.End() < end {
		l.live[b.End()] = end - b.End()
	}
}

// LiveBytes returns the total bytes currently out.
func (l *Ledger) LiveBytes() uintptr {
	var sum uintptr
	for _, size := range l.live {
		sum += size
	}
	return sum
}

// LiveCount returns the number of blocks currently out.
func (l *Ledger) LiveCount() int { return len(l.live) }

// AssertNoLeak hits the fatal hook if any handed-out block was never
// returned. Run it after everything owning memory has been destroyed.
func (l *Ledger) AssertNoLeak() {
	if len(l.live) != 0 {
		platform.Fatal(fmt.Sprintf("audit: %d blocks (%d bytes) never freed", len(l.live), l.LiveBytes()))
	}
}

func (l *Ledger) overlap(b block.Block) (uintptr, uintptr, bool) {
	for base, size := range l.live {
		if b.Base() < base+size && base < b.End() {
			return base, size, true
		}
	}
	return 0, 0, false
}

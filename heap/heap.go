package heap

import (
	"github.com/joshuapare/heapkit/heap/block"
	"github.com/joshuapare/heapkit/heap/book"
	"github.com/joshuapare/heapkit/heap/brk"
	"github.com/joshuapare/heapkit/internal/platform"
)

// Options configures an allocator.
type Options struct {
	// TrimThreshold is the free-tail size above which memory is
	// returned to the platform. Zero disables trimming. Ignored by
	// local allocators, whose memory belongs to the global pool.
	TrimThreshold uintptr

	// Security zeroes blocks on free.
	Security bool

	// DebugTools enables invariant checking and the double-free and
	// leak tables.
	DebugTools bool

	// OOMHandler is invoked when an infallible operation runs out of
	// memory. It must not return; a guard aborts if it does. Nil
	// selects the default handler, which aborts.
	OOMHandler func()
}

// Span describes one free region, for instrumentation and tooling.
type Span struct {
	Base uintptr
	Size uintptr
}

// Allocator is a memory allocator with its own bookkeeper. The zero
// value is not usable; construct with New or NewWithSource.
//
// A local allocator requires no locking: it is owned by the scope that
// created it and must not be shared across goroutines.
type Allocator struct {
	keeper *book.Keeper
	oom    func()
	local  bool
}

// New creates a local allocator drawing fresh space from the global
// allocator. Close returns everything it holds to the global pool.
func New(opts Options) *Allocator {
	cfg := book.Config{
		Security:   opts.Security,
		DebugTools: opts.DebugTools,
	}
	return &Allocator{
		keeper: book.New(globalSource{}, cfg),
		oom:    opts.OOMHandler,
		local:  true,
	}
}

// NewArena creates an allocator over a private reservation of the
// given size, fully independent of the process-wide heap. Exhausting
// the reservation is this allocator's out-of-memory condition, which
// makes arenas convenient for tools and tests.
func NewArena(reserve int, opts Options) *Allocator {
	return NewWithSource(brk.New(platform.NewSliceBreak(reserve)), opts)
}

// NewWithSource creates an allocator over a custom heap source, for
// embedders bringing their own reservation and for tests.
func NewWithSource(src book.Source, opts Options) *Allocator {
	cfg := book.Config{
		TrimThreshold: opts.TrimThreshold,
		Security:      opts.Security,
		DebugTools:    opts.DebugTools,
	}
	return &Allocator{
		keeper: book.New(src, cfg),
		oom:    opts.OOMHandler,
	}
}

// Alloc returns the base of a span of at least size bytes aligned to
// align. Diverges through the OOM handler on exhaustion.
func (a *Allocator) Alloc(size, align uintptr) uintptr {
	b, err := a.keeper.Alloc(size, align)
	if err != nil {
		a.handleOOM()
	}
	return b.Base()
}

// TryAlloc is Alloc returning failure instead of diverging.
func (a *Allocator) TryAlloc(size, align uintptr) (uintptr, error) {
	b, err := a.keeper.Alloc(size, align)
	if err != nil {
		return 0, err
	}
	return b.Base(), nil
}

// Free returns the span [base, base+size) to the allocator. Freeing a
// zero-sized span (the sentinel included) is a no-op.
func (a *Allocator) Free(base, size uintptr) {
	a.keeper.Free(block.New(base, size))
}

// Realloc resizes the span at base from oldSize to newSize, moving it
// if necessary, and returns the new base. The first min(old, new)
// bytes are preserved. Diverges through the OOM handler on exhaustion.
func (a *Allocator) Realloc(base, oldSize, newSize, align uintptr) uintptr {
	b, err := a.keeper.Realloc(block.New(base, oldSize), newSize, align)
	if err != nil {
		a.handleOOM()
	}
	return b.Base()
}

// TryReallocInplace grows or shrinks the span without moving it.
// On success the returned base equals the input base; on failure the
// span is untouched and an error is returned.
func (a *Allocator) TryReallocInplace(base, oldSize, newSize uintptr) (uintptr, error) {
	b, err := a.keeper.ReallocInplace(block.New(base, oldSize), newSize)
	if err != nil {
		return 0, err
	}
	return b.Base(), nil
}

// SetOOMHandler installs this allocator's out-of-memory handler.
func (a *Allocator) SetOOMHandler(f func()) {
	a.oom = f
}

// Stats returns the bookkeeper's counters.
func (a *Allocator) Stats() book.Stats {
	return a.keeper.Stats()
}

// Spans returns the free regions currently pooled, in address order.
func (a *Allocator) Spans() []Span {
	snap := a.keeper.Snapshot()
	out := make([]Span, len(snap))
	for i, b := range snap {
		out[i] = Span{Base: b.Base(), Size: b.Size()}
	}
	return out
}

// AssertNoLeak verifies, under DebugTools, that everything handed out
// has been returned.
func (a *Allocator) AssertNoLeak() {
	a.keeper.AssertNoLeak()
}

// Close destroys a local allocator, releasing its held blocks back to
// the global pool. Close on a non-local allocator only drops the
// bookkeeper state.
func (a *Allocator) Close() {
	if !a.local {
		a.keeper.Drain(func(block.Block) {})
		return
	}
	h := Lock()
	defer h.Close()
	a.keeper.Drain(func(b block.Block) {
		h.a.keeper.Free(b)
	})
}

func (a *Allocator) handleOOM() {
	f := a.oom
	if f == nil {
		f = defaultOOM
	}
	f()
	// The handler contract is a diverging signature; Go cannot state
	// it in the type system, so enforce it at runtime.
	platform.Fatal("heap: OOM handler returned")
}

var defaultOOM = func() {
	platform.Fatal("heap: out of memory")
}

// globalSource feeds local allocators from the global pool. The fresh
// block is a regular global allocation, so a destroyed local allocator
// simply frees everything back.
type globalSource struct{}

func (globalSource) Extend(n uintptr) (block.Block, error) {
	h := Lock()
	defer h.Close()
	return h.a.keeper.Alloc(n, 1)
}

package heap

import (
	"os"

	"github.com/joshuapare/heapkit/heap/book"
	"github.com/joshuapare/heapkit/heap/brk"
	"github.com/joshuapare/heapkit/internal/platform"
	"github.com/joshuapare/heapkit/internal/spin"
)

// The process-wide allocator: one bookkeeper behind one spinlock.
// Created lazily on first use, never destroyed. The spinlock yields to
// the scheduler on contention; allocator code cannot park into a
// primitive that might itself allocate.
var (
	globalMu  spin.Mutex
	global    *Allocator
	globalBrk *brk.Manager
)

// initGlobal runs with globalMu held.
func initGlobal() {
	if global != nil {
		return
	}
	prim, err := platform.DefaultBreak()
	if err != nil {
		platform.Fatal("heap: cannot reserve the default break: " + err.Error())
	}
	globalBrk = brk.New(prim)

	cfg := book.DefaultConfig()
	if os.Getenv("HEAPKIT_DEBUG") != "" {
		cfg.DebugTools = true
	}
	if os.Getenv("HEAPKIT_SECURE") != "" {
		cfg.Security = true
	}
	global = &Allocator{keeper: book.New(globalBrk, cfg)}
}

// Handle is a scoped lock on the global allocator. Holding one across
// several operations avoids repeated acquire/release. Close releases
// the lock and is idempotent.
type Handle struct {
	a    *Allocator
	done bool
}

// Lock acquires the global allocator and returns the scoped handle.
func Lock() *Handle {
	globalMu.Lock()
	initGlobal()
	return &Handle{a: global}
}

// Close releases the lock.
func (h *Handle) Close() {
	if h.done {
		return
	}
	h.done = true
	globalMu.Unlock()
}

// Alloc allocates under the held lock. See Allocator.Alloc.
func (h *Handle) Alloc(size, align uintptr) uintptr {
	return h.a.Alloc(size, align)
}

// TryAlloc allocates under the held lock, reporting failure.
func (h *Handle) TryAlloc(size, align uintptr) (uintptr, error) {
	return h.a.TryAlloc(size, align)
}

// Free returns a span under the held lock.
func (h *Handle) Free(base, size uintptr) {
	h.a.Free(base, size)
}

// Realloc resizes a span under the held lock.
func (h *Handle) Realloc(base, oldSize, newSize, align uintptr) uintptr {
	return h.a.Realloc(base, oldSize, newSize, align)
}

// TryReallocInplace resizes without moving, under the held lock.
func (h *Handle) TryReallocInplace(base, oldSize, newSize uintptr) (uintptr, error) {
	return h.a.TryReallocInplace(base, oldSize, newSize)
}

// Stats returns the global bookkeeper's counters.
func (h *Handle) Stats() book.Stats { return h.a.Stats() }

// Spans returns the global free pool, in address order.
func (h *Handle) Spans() []Span { return h.a.Spans() }

// One-shot convenience operations: acquire, one bookkeeper call,
// release.

// Alloc allocates size bytes aligned to align from the global
// allocator. Diverges through the OOM handler on exhaustion.
func Alloc(size, align uintptr) uintptr {
	h := Lock()
	defer h.Close()
	return h.Alloc(size, align)
}

// TryAlloc is Alloc returning failure instead of diverging.
func TryAlloc(size, align uintptr) (uintptr, error) {
	h := Lock()
	defer h.Close()
	return h.TryAlloc(size, align)
}

// Free returns [base, base+size) to the global allocator.
func Free(base, size uintptr) {
	h := Lock()
	defer h.Close()
	h.Free(base, size)
}

// Realloc resizes a global allocation. See Allocator.Realloc.
func Realloc(base, oldSize, newSize, align uintptr) uintptr {
	h := Lock()
	defer h.Close()
	return h.Realloc(base, oldSize, newSize, align)
}

// TryReallocInplace resizes a global allocation without moving it.
func TryReallocInplace(base, oldSize, newSize uintptr) (uintptr, error) {
	h := Lock()
	defer h.Close()
	return h.TryReallocInplace(base, oldSize, newSize)
}

// SetOOMHandler installs the global out-of-memory handler. The handler
// must not return.
func SetOOMHandler(f func()) {
	h := Lock()
	defer h.Close()
	h.a.SetOOMHandler(f)
}

// Sbrk moves the global break by a signed delta and returns the old
// break. It coexists with the allocator: going through the facade
// keeps the bookkeeper's view of the break consistent.
func Sbrk(delta int) (uintptr, error) {
	h := Lock()
	h.Close() // only needed to force initialization
	return globalBrk.Sbrk(delta)
}

// Stats returns the global allocator's counters.
func Stats() book.Stats {
	h := Lock()
	defer h.Close()
	return h.Stats()
}

// AssertNoLeak verifies, when the global allocator runs with debug
// tools, that all handed-out bytes have been returned.
func AssertNoLeak() {
	h := Lock()
	defer h.Close()
	h.a.AssertNoLeak()
}

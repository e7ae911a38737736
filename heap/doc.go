// Package heap is the allocator facade: the user-facing entry points
// that glue allocation requests to the bookkeeper.
//
// # Overview
//
// The package exposes two flavors of allocator:
//
//   - The process-wide global allocator: a lazily created singleton
//     bookkeeper protected by a yielding spinlock. The package-level
//     functions (Alloc, Free, Realloc, ...) acquire the lock, perform
//     one operation, and release. Lock() returns a scoped handle for
//     callers that want to amortize the acquire/release over several
//     operations.
//
//   - Local allocators: created with New, owned by the constructing
//     scope, and requiring no locking because they are single-owner.
//     A local allocator draws its fresh space from the global one and
//     hands everything back on Close. Local allocators must not be
//     shared across goroutines.
//
// # Usage Example
//
//	p := heap.Alloc(256, 16)       // 256 bytes, 16-byte aligned
//	defer heap.Free(p, 256)
//
//	h := heap.Lock()               // several ops under one lock
//	a := h.Alloc(64, 8)
//	b := h.Alloc(64, 8)
//	h.Free(a, 64)
//	h.Free(b, 64)
//	h.Close()
//
// # Sized deallocation
//
// Free takes the base and the size of the span being returned. The
// span need not be an entire prior allocation: returning an allocation
// piecewise is legal, as is donating memory that never came from this
// allocator, provided it overlaps nothing live.
//
// # Out of memory
//
// The infallible operations never return an invalid address: on
// exhaustion they invoke the OOM handler, which must not return (a
// guard aborts the process if it does). TryAlloc and TryReallocInplace
// report failure as an error instead. Handlers are per-allocator;
// SetOOMHandler configures the global one.
//
// # Thread Safety
//
// Operations on the global allocator linearize under its lock. Local
// allocators are not safe for concurrent use.
package heap

// Package hook adapts external allocation traffic to the allocator
// facade: a runtime that wants its allocation calls served by this
// heap routes them through Malloc, Calloc, Realloc, and Free.
//
// The adapter speaks unsafe.Pointer and a fixed maximal alignment, the
// contract foreign runtimes expect from a malloc-shaped interface.
// Because deallocation here is sized, callers must hand back the same
// size they requested.
package hook

import (
	"unsafe"

	"github.com/joshuapare/heapkit/heap"
)

// MaxAlign is the alignment every hook allocation satisfies, matching
// the strictest fundamental alignment callers assume from malloc.
const MaxAlign = 16

// Malloc allocates size bytes. Diverges through the OOM handler on
// exhaustion. A zero size returns the non-nil sentinel.
func Malloc(size uintptr) unsafe.Pointer {
	return unsafe.Pointer(heap.Alloc(size, MaxAlign))
}

// Calloc allocates size bytes of zeroed memory.
func Calloc(size uintptr) unsafe.Pointer {
	p := heap.Alloc(size, MaxAlign)
	b := unsafe.Slice((*byte)(unsafe.Pointer(p)), size)
	for i := range b {
		b[i] = 0
	}
	return unsafe.Pointer(p)
}

// Realloc resizes the allocation at p from oldSize to newSize,
// preserving the first min(old, new) bytes.
func Realloc(p unsafe.Pointer, oldSize, newSize uintptr) unsafe.Pointer {
	return unsafe.Pointer(heap.Realloc(uintptr(p), oldSize, newSize, MaxAlign))
}

// ReallocInplace resizes without moving and reports the size in effect
// afterwards: newSize on success, oldSize on failure.
func ReallocInplace(p unsafe.Pointer, oldSize, newSize uintptr) uintptr {
	if _, err := heap.TryReallocInplace(uintptr(p), oldSize, newSize); err != nil {
		return oldSize
	}
	return newSize
}

// Free returns the allocation at p with the given size.
func Free(p unsafe.Pointer, size uintptr) {
	heap.Free(uintptr(p), size)
}

// UsableSize reports the usable bytes of an allocation of the given
// size. Allocations are exact, so it is the identity.
func UsableSize(size uintptr) uintptr {
	return size
}

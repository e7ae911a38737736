// Package platform isolates the primitives the allocator needs from the
// host: a single break pointer moved by signed deltas, a scheduler
// yield, bulk memory operations, and a fatal hook. Everything above this
// package is platform independent.
package platform

import (
	"errors"
	"runtime"
	"unsafe"
)

// ErrNoMem is returned when the break cannot be moved by the requested
// delta.
var ErrNoMem = errors.New("platform: cannot move break")

// Break is the primitive source of heap bytes: move the break by a
// signed delta and return the previous break. Sbrk(0) reads the current
// break without moving it.
type Break interface {
	Sbrk(delta int) (old uintptr, err error)
}

// Yield hands the processor to the scheduler. Used by spinlocks under
// contention, since the allocator cannot park into a primitive that may
// itself allocate.
func Yield() {
	runtime.Gosched()
}

// Fatal is the hook invoked on unrecoverable allocator failures, such
// as invariant violations detected in debug builds. It must not return.
var Fatal = func(msg string) {
	panic("heapkit: " + msg)
}

// Copy moves n bytes from src to dst. The regions may not overlap.
func Copy(dst, src uintptr, n uintptr) {
	if n == 0 {
		return
	}
	d := unsafe.Slice((*byte)(unsafe.Pointer(dst)), n)
	s := unsafe.Slice((*byte)(unsafe.Pointer(src)), n)
	copy(d, s)
}

// Set fills n bytes at addr with b.
func Set(addr uintptr, b byte, n uintptr) {
	if n == 0 {
		return
	}
	s := unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
	for i := range s {
		s[i] = b
	}
}

// SliceBreak is a Break backed by an ordinary byte slice. It is the
// fallback on platforms without an anonymous mapping primitive, and the
// workhorse for hermetic tests: out-of-memory behavior is a matter of
// picking a small reservation.
type SliceBreak struct {
	buf []byte
	brk int
}

// NewSliceBreak reserves size bytes and places the break at the start
// of the reservation.
func NewSliceBreak(size int) *SliceBreak {
	return &SliceBreak{buf: make([]byte, size)}
}

// Sbrk moves the break by delta and returns the previous break.
func (s *SliceBreak) Sbrk(delta int) (uintptr, error) {
	next := s.brk + delta
	if next < 0 || next > len(s.buf) {
		return 0, ErrNoMem
	}
	old := s.base() + uintptr(s.brk)
	s.brk = next
	return old, nil
}

func (s *SliceBreak) base() uintptr {
	return uintptr(unsafe.Pointer(&s.buf[0]))
}

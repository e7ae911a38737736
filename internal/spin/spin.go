// Package spin provides the mutual-exclusion primitive guarding the
// global bookkeeper. It spins and yields to the scheduler rather than
// parking: allocator code cannot call into a blocking primitive that
// might itself allocate.
package spin

import (
	"sync/atomic"

	"github.com/joshuapare/heapkit/internal/platform"
)

// Mutex is a yielding spinlock. The zero value is unlocked.
type Mutex struct {
	locked atomic.Bool
}

// Lock acquires the mutex, yielding to the scheduler on contention.
func (m *Mutex) Lock() {
	for !m.locked.CompareAndSwap(false, true) {
		platform.Yield()
	}
}

// TryLock acquires the mutex if it is free.
func (m *Mutex) TryLock() bool {
	return m.locked.CompareAndSwap(false, true)
}

// Unlock releases the mutex.
func (m *Mutex) Unlock() {
	m.locked.Store(false)
}

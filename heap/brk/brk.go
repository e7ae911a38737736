// Package brk wraps the platform break primitive in a safe manager:
// monotonic growth, a cached break read lazily once, and tail release
// that refuses spans the manager never handed out.
package brk

import (
	"errors"

	"github.com/joshuapare/heapkit/heap/block"
	"github.com/joshuapare/heapkit/internal/platform"
	"github.com/joshuapare/heapkit/internal/spin"
)

var (
	// ErrNoMem indicates the platform refused to move the break.
	ErrNoMem = errors.New("brk: out of memory")

	// ErrNotTail indicates a release of a block that does not end at
	// the current break.
	ErrNotTail = errors.New("brk: block is not the heap tail")

	// ErrForeignSpan indicates a release of memory this manager never
	// handed out (donated memory is never trimmed).
	ErrForeignSpan = errors.New("brk: span was not obtained from the break")

	// ErrOverflow indicates a request too large for the address space.
	ErrOverflow = errors.New("brk: request overflows the address space")
)

const maxDelta = int(^uint(0) >> 1)

// Manager serializes access to a Break and enforces its invariants.
// The global bookkeeper's operations already run under the facade lock;
// the manager carries its own lock so the raw Sbrk escape hatch can
// coexist with allocator traffic.
type Manager struct {
	mu   spin.Mutex
	prim platform.Break

	cur   uintptr // cached break, 0 until first read
	floor uintptr // break position when first observed; nothing below it is ours
}

// New creates a manager over the given primitive.
func New(prim platform.Break) *Manager {
	return &Manager{prim: prim}
}

// Current returns the break, reading it from the platform on first use.
func (m *Manager) Current() uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current()
}

// Extend grows the heap by n bytes and returns the fresh block spanning
// [old break, old break + n). The block is uninitialized memory owned
// by the caller.
func (m *Manager) Extend(n uintptr) (block.Block, error) {
	if n > uintptr(maxDelta) {
		return block.Block{}, ErrOverflow
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current() // establish cache and floor
	old, err := m.prim.Sbrk(int(n))
	if err != nil {
		return block.Block{}, ErrNoMem
	}
	m.cur = old + n
	return block.New(old, n), nil
}

// Release returns a block to the platform by lowering the break. The
// block must end exactly at the current break and must lie within the
// region this manager obtained; donated memory is refused. On failure
// the block is still owned by the caller.
func (m *Manager) Release(b block.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b.End() != m.current() {
		return ErrNotTail
	}
	if b.Base() < m.floor {
		return ErrForeignSpan
	}
	if _, err := m.prim.Sbrk(-int(b.Size())); err != nil {
		return ErrNoMem
	}
	m.cur = b.Base()
	return nil
}

// Sbrk moves the break by a signed delta and returns the old break.
// This is the escape hatch for callers that want raw heap bytes while
// coexisting with the allocator; going through the manager keeps the
// cached break consistent.
func (m *Manager) Sbrk(delta int) (uintptr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current()
	old, err := m.prim.Sbrk(delta)
	if err != nil {
		return 0, ErrNoMem
	}
	m.cur = uintptr(int(old) + delta)
	return old, nil
}

func (m *Manager) current() uintptr {
	if m.cur == 0 {
		old, err := m.prim.Sbrk(0)
		if err != nil {
			platform.Fatal("brk: cannot read the program break")
		}
		m.cur = old
		m.floor = old
	}
	return m.cur
}

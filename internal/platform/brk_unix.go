//go:build unix

package platform

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// DefaultReserve is the size of the anonymous mapping backing the
// default break on unix hosts. The mapping is demand-paged, so
// reserving generously costs address space, not memory.
const DefaultReserve = 256 << 20

// MmapBreak is a Break living inside a private anonymous mapping. The
// real brk(2) is off-limits in a hosted Go process (the runtime owns
// the data segment), so the break moves within a reservation instead.
// The contract is identical: monotonic growth, old break returned.
type MmapBreak struct {
	data []byte
	brk  int
}

// NewMmapBreak maps a reservation of the given size and places the
// break at its start.
func NewMmapBreak(reserve int) (*MmapBreak, error) {
	data, err := unix.Mmap(-1, 0, reserve,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	return &MmapBreak{data: data}, nil
}

// Sbrk moves the break by delta and returns the previous break.
func (m *MmapBreak) Sbrk(delta int) (uintptr, error) {
	next := m.brk + delta
	if next < 0 || next > len(m.data) {
		return 0, ErrNoMem
	}
	old := uintptr(unsafe.Pointer(&m.data[0])) + uintptr(m.brk)
	m.brk = next
	return old, nil
}

// Close unmaps the reservation. No block handed out from this break may
// be touched afterwards.
func (m *MmapBreak) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}

// DefaultBreak returns the break used by the process-wide allocator.
func DefaultBreak() (Break, error) {
	return NewMmapBreak(DefaultReserve)
}

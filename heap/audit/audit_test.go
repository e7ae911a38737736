package audit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/heap/block"
	"github.com/joshuapare/heapkit/internal/platform"
)

func trapFatal(t *testing.T) {
	t.Helper()
	old := platform.Fatal
	t.Cleanup(func() { platform.Fatal = old })
	platform.Fatal = func(msg string) { panic(msg) }
}

func TestLedgerRoundtrip(t *testing.T) {
	trapFatal(t)
	l := NewLedger()

	b := block.New(0x1000, 64)
	l.OnAlloc(b)
	require.Equal(t, uintptr(64), l.LiveBytes())
	require.Equal(t, 1, l.LiveCount())

	l.OnFree(b)
	require.Equal(t, uintptr(0), l.LiveBytes())
	l.AssertNoLeak()
}

func TestLedgerPartialFree(t *testing.T) {
	trapFatal(t)
	l := NewLedger()
	l.OnAlloc(block.New(0x1000, 64))

	// Returning the middle of an allocation leaves both remainders
	// live.
	l.OnFree(block.New(0x1010, 16))
	require.Equal(t, uintptr(48), l.LiveBytes())
	require.Equal(t, 2, l.LiveCount())

	l.OnFree(block.New(0x1000, 16))
	l.OnFree(block.New(0x1020, 32))
	l.AssertNoLeak()
}

func TestLedgerCrossingFree(t *testing.T) {
	trapFatal(t)
	l := NewLedger()
	l.OnAlloc(block.New(0x1000, 64))

	// A span straddling the end of a live block is corruption.
	require.Panics(t, func() {
		l.OnFree(block.New(0x1020, 64))
	})
}

func TestLedgerDonationIsLegal(t *testing.T) {
	trapFatal(t)
	l := NewLedger()
	l.OnAlloc(block.New(0x1000, 64))

	// Disjoint foreign span: fine.
	l.OnFree(block.New(0x8000, 256))
}

func TestLedgerLeak(t *testing.T) {
	trapFatal(t)
	l := NewLedger()
	l.OnAlloc(block.New(0x1000, 64))

	require.Panics(t, func() {
		l.AssertNoLeak()
	})
}

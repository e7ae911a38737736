package book

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/heap/block"
)

// checkAccounting verifies that every byte obtained from the source is
// accounted for: live with callers, free in the pool, held as pool
// storage, or trimmed back.
func checkAccounting(t *testing.T, k *Keeper, liveBytes uintptr) {
	t.Helper()
	s := k.Stats()
	require.Equal(t, int64(liveBytes), s.LiveBytes)
	require.Equal(t, s.BrkBytes,
		uintptr(s.LiveBytes)+s.PooledBytes+s.StorageBytes+s.TrimmedBytes,
		"BRK bytes unaccounted for")
}

func Test_Fuzz_RandomAllocFree_GuardInvariants(t *testing.T) {
	k := newKeeper(t, 1<<22, debugConfig())
	rng := rand.New(rand.NewSource(42)) // fixed seed for reproducibility

	aligns := []uintptr{1, 2, 4, 8, 16, 64, 3, 5, 12}
	var live []block.Block
	var liveBytes uintptr

	for i := 0; i < 2000; i++ {
		switch op := rng.Intn(3); {
		case op == 0 || len(live) == 0: // alloc
			size := uintptr(1 + rng.Intn(1024))
			a := aligns[rng.Intn(len(aligns))]
			b, err := k.Alloc(size, a)
			require.NoError(t, err, "step %d: alloc(%d, %d)", i, size, a)
			require.Equal(t, uintptr(0), b.Base()%a, "step %d: misaligned", i)
			require.Equal(t, size, b.Size())
			live = append(live, b)
			liveBytes += size

		case op == 1: // free
			j := rng.Intn(len(live))
			b := live[j]
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
			liveBytes -= b.Size()
			k.Free(b)

		default: // realloc
			j := rng.Intn(len(live))
			b := live[j]
			newSize := uintptr(1 + rng.Intn(1024))
			r, err := k.Realloc(b, newSize, 8)
			require.NoError(t, err, "step %d: realloc", i)
			liveBytes += newSize - b.Size()
			live[j] = r
		}

		require.NoError(t, k.Validate(), "step %d", i)
		checkAccounting(t, k, liveBytes)
	}

	for _, b := range live {
		k.Free(b)
	}
	require.NoError(t, k.Validate())
	k.AssertNoLeak()
	checkAccounting(t, k, 0)
}

func Test_Fuzz_ReallocPreservesPrefix(t *testing.T) {
	k := newKeeper(t, 1<<22, DefaultConfig())
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		size := uintptr(1 + rng.Intn(256))
		b, err := k.Alloc(size, 1)
		require.NoError(t, err)
		for j := range b.Bytes() {
			b.Bytes()[j] = byte(rng.Int())
		}
		want := append([]byte(nil), b.Bytes()...)

		newSize := uintptr(1 + rng.Intn(512))
		r, err := k.Realloc(b, newSize, 1)
		require.NoError(t, err, "step %d", i)

		n := min(len(want), int(newSize))
		require.Equal(t, want[:n], r.Bytes()[:n], "step %d: prefix changed", i)
		k.Free(r)
	}
}

func Test_Fuzz_InplaceNeverMoves(t *testing.T) {
	k := newKeeper(t, 1<<22, DefaultConfig())
	rng := rand.New(rand.NewSource(99))

	var live []block.Block
	for i := 0; i < 64; i++ {
		b, err := k.Alloc(uintptr(16+rng.Intn(128)), 8)
		require.NoError(t, err)
		live = append(live, b)
	}
	// Free a random half to create holes.
	for i := 0; i < len(live); i++ {
		if rng.Intn(2) == 0 {
			k.Free(live[i])
			live[i] = live[len(live)-1]
			live = live[:len(live)-1]
			i--
		}
	}

	for i, b := range live {
		newSize := b.Size() + uintptr(rng.Intn(64))
		r, err := k.ReallocInplace(b, newSize)
		if err != nil {
			require.ErrorIs(t, err, ErrCannotInplace)
			continue
		}
		require.Equal(t, b.Base(), r.Base(), "step %d: in-place realloc moved the block", i)
		require.Equal(t, newSize, r.Size())
		live[i] = r
	}
	require.NoError(t, k.Validate())
}

func TestRoundtripRestoresPool(t *testing.T) {
	k := newKeeper(t, 1<<20, DefaultConfig())

	// Settle the heap so the roundtrip below has a stable baseline.
	warm, err := k.Alloc(64, 8)
	require.NoError(t, err)
	k.Free(warm)
	before := k.Snapshot()

	b, err := k.Alloc(64, 8)
	require.NoError(t, err)
	k.Free(b)

	after := k.Snapshot()
	require.Equal(t, before, after, "free(alloc(s,a)) must restore the pool")
}

func TestNoAdjacentEntriesAfterFree(t *testing.T) {
	k := newKeeper(t, 1<<21, DefaultConfig())
	rng := rand.New(rand.NewSource(3))

	var live []block.Block
	for i := 0; i < 300; i++ {
		if rng.Intn(2) == 0 || len(live) == 0 {
			b, err := k.Alloc(uintptr(8+rng.Intn(200)), 1)
			require.NoError(t, err)
			live = append(live, b)
		} else {
			j := rng.Intn(len(live))
			k.Free(live[j])
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
		}
		// P7: the pool never holds two adjacent non-empty entries.
		snap := k.Snapshot()
		for i := 1; i < len(snap); i++ {
			require.NotEqual(t, snap[i-1].End(), snap[i].Base(),
				"adjacent entries %s / %s", snap[i-1], snap[i])
		}
	}
}

func TestCanonicalizeBrk(t *testing.T) {
	require.Equal(t, uintptr(brkMin), canonicalizeBrk(1))
	require.Equal(t, uintptr(brkMin), canonicalizeBrk(100))
	require.Equal(t, uintptr(300), canonicalizeBrk(150))
	require.Equal(t, uintptr(20000+brkMaxExtra), canonicalizeBrk(20000))
	for _, n := range []uintptr{1, 8, 100, 4096, 1 << 20} {
		require.GreaterOrEqual(t, canonicalizeBrk(n), n)
	}
}

package book

import (
	"math/rand"
	"testing"

	"github.com/joshuapare/heapkit/heap/block"
	"github.com/joshuapare/heapkit/heap/brk"
	"github.com/joshuapare/heapkit/internal/platform"
)

func benchKeeper(b *testing.B) *Keeper {
	b.Helper()
	return New(brk.New(platform.NewSliceBreak(256<<20)), DefaultConfig())
}

func BenchmarkAllocFree(b *testing.B) {
	k := benchKeeper(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		blk, err := k.Alloc(64, 8)
		if err != nil {
			b.Fatal(err)
		}
		k.Free(blk)
	}
}

func BenchmarkAllocFreeInterleaved(b *testing.B) {
	k := benchKeeper(b)
	rng := rand.New(rand.NewSource(1))
	live := make([]block.Block, 0, 1024)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if len(live) < 512 || rng.Intn(2) == 0 {
			blk, err := k.Alloc(uintptr(16+rng.Intn(240)), 8)
			if err != nil {
				// Recycle everything and continue.
				for _, l := range live {
					k.Free(l)
				}
				live = live[:0]
				continue
			}
			live = append(live, blk)
		} else {
			j := rng.Intn(len(live))
			k.Free(live[j])
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
		}
	}
}

func BenchmarkReallocInplace(b *testing.B) {
	k := benchKeeper(b)
	blk, err := k.Alloc(64, 8)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		grown, err := k.ReallocInplace(blk, 128)
		if err != nil {
			b.Fatal(err)
		}
		blk, err = k.ReallocInplace(grown, 64)
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFirstFitScan(b *testing.B) {
	k := benchKeeper(b)
	rng := rand.New(rand.NewSource(2))
	// Build a fragmented pool.
	var live []block.Block
	for i := 0; i < 2048; i++ {
		blk, err := k.Alloc(uintptr(16+rng.Intn(64)), 8)
		if err != nil {
			b.Fatal(err)
		}
		live = append(live, blk)
	}
	for i := 0; i < len(live); i += 2 {
		k.Free(live[i])
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		blk, err := k.Alloc(32, 8)
		if err != nil {
			b.Fatal(err)
		}
		k.Free(blk)
	}
}

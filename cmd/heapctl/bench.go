package main

import (
	"math/rand"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/heapkit/heap"
)

var (
	benchOps     int
	benchMaxSize int
	benchAlign   uint
	benchSeed    int64
	benchReserve int
	benchSecure  bool
)

func init() {
	cmd := newBenchCmd()
	cmd.Flags().IntVar(&benchOps, "ops", 100000, "Number of operations to run")
	cmd.Flags().IntVar(&benchMaxSize, "max-size", 4096, "Maximum allocation size in bytes")
	cmd.Flags().UintVar(&benchAlign, "align", 8, "Alignment for every allocation")
	cmd.Flags().Int64Var(&benchSeed, "seed", 1, "Workload random seed")
	cmd.Flags().IntVar(&benchReserve, "reserve", 256<<20, "Arena reservation in bytes")
	cmd.Flags().BoolVar(&benchSecure, "secure", false, "Zero memory on free")
	rootCmd.AddCommand(cmd)
}

func newBenchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bench",
		Short: "Run a synthetic workload and report allocator statistics",
		Long: `The bench command runs a randomized alloc/free/realloc workload
against a private heap and reports the bookkeeper's counters: how often
the break moved, how much memory flowed through the pool, and how well
coalescing kept the pool small.

Example:
  heapctl bench --ops 1000000 --max-size 512
  heapctl bench --seed 7 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench()
		},
	}
}

type benchReport struct {
	Ops       int
	Duration  string
	OpsPerSec float64

	AllocCalls   int
	FreeCalls    int
	ReallocCalls int
	InplaceHits  int
	FreshAllocs  int

	BrkBytes     uint64
	PooledBytes  uint64
	TrimmedBytes uint64
	FreeSpans    int
}

func runBench() error {
	a := heap.NewArena(benchReserve, heap.Options{
		TrimThreshold: 64 << 10,
		Security:      benchSecure,
	})
	rng := rand.New(rand.NewSource(benchSeed))

	printVerbose("Running %d operations (seed %d)...\n", benchOps, benchSeed)
	start := time.Now()
	runWorkload(a, rng, benchOps, benchMaxSize, uintptr(benchAlign))
	elapsed := time.Since(start)

	s := a.Stats()
	report := benchReport{
		Ops:          benchOps,
		Duration:     elapsed.String(),
		OpsPerSec:    float64(benchOps) / elapsed.Seconds(),
		AllocCalls:   s.AllocCalls,
		FreeCalls:    s.FreeCalls,
		ReallocCalls: s.ReallocCalls,
		InplaceHits:  s.InplaceHits,
		FreshAllocs:  s.FreshAllocs,
		BrkBytes:     uint64(s.BrkBytes),
		PooledBytes:  uint64(s.PooledBytes),
		TrimmedBytes: uint64(s.TrimmedBytes),
		FreeSpans:    len(a.Spans()),
	}

	if jsonOut {
		return printJSON(report)
	}

	p := message.NewPrinter(language.English)
	printInfo("Workload: %s ops in %s (%s ops/s)\n",
		p.Sprint(report.Ops), report.Duration, p.Sprintf("%.0f", report.OpsPerSec))
	printInfo("\nBookkeeper:\n")
	printInfo("  alloc calls:     %s\n", p.Sprint(report.AllocCalls))
	printInfo("  free calls:      %s\n", p.Sprint(report.FreeCalls))
	printInfo("  realloc calls:   %s (%s in place)\n",
		p.Sprint(report.ReallocCalls), p.Sprint(report.InplaceHits))
	printInfo("  heap extensions: %s\n", p.Sprint(report.FreshAllocs))
	printInfo("\nMemory:\n")
	printInfo("  obtained via BRK: %s B\n", p.Sprint(report.BrkBytes))
	printInfo("  pooled free:      %s B in %s spans\n",
		p.Sprint(report.PooledBytes), p.Sprint(report.FreeSpans))
	printInfo("  trimmed back:     %s B\n", p.Sprint(report.TrimmedBytes))
	return nil
}

// runWorkload drives a mixed workload against a live set: half
// allocations, a third frees, and a sixth reallocs.
func runWorkload(a *heap.Allocator, rng *rand.Rand, ops, maxSize int, align uintptr) {
	type ref struct{ base, size uintptr }
	var live []ref

	for range ops {
		switch r := rng.Intn(6); {
		case r < 3 || len(live) == 0:
			size := uintptr(1 + rng.Intn(maxSize))
			base, err := a.TryAlloc(size, align)
			if err != nil {
				// Arena exhausted: release everything and keep going.
				for _, l := range live {
					a.Free(l.base, l.size)
				}
				live = live[:0]
				continue
			}
			live = append(live, ref{base, size})
		case r < 5:
			i := rng.Intn(len(live))
			a.Free(live[i].base, live[i].size)
			live[i] = live[len(live)-1]
			live = live[:len(live)-1]
		default:
			i := rng.Intn(len(live))
			size := uintptr(1 + rng.Intn(maxSize))
			base := a.Realloc(live[i].base, live[i].size, size, align)
			live[i] = ref{base, size}
		}
	}
	for _, l := range live {
		a.Free(l.base, l.size)
	}
}

package main

import (
	"log/slog"
	"math/rand"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/heap/trace"
)

var (
	walkSteps int
	walkSeed  int64
	walkJSON  bool
)

func init() {
	cmd := newWalkCmd()
	cmd.Flags().IntVar(&walkSteps, "steps", 32, "Number of operations to trace")
	cmd.Flags().Int64Var(&walkSeed, "seed", 1, "Workload random seed")
	cmd.Flags().BoolVar(&walkJSON, "trace-json", false, "Emit trace records as JSON")
	rootCmd.AddCommand(cmd)
}

func newWalkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "walk",
		Short: "Replay a small workload with a trace of every operation",
		Long: `The walk command replays a short randomized workload with trace
emission enabled, printing one structured record per state-changing
operation: the operation, the affected block, and a compact picture of
the free pool afterwards.

Example:
  heapctl walk --steps 64
  heapctl walk --trace-json --seed 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWalk()
		},
	}
}

func runWalk() error {
	trace.Init(trace.Options{
		Enabled: true,
		Output:  os.Stdout,
		Level:   slog.LevelDebug,
		JSON:    walkJSON,
	})
	defer trace.Init(trace.Options{})

	a := heap.NewArena(16<<20, heap.Options{
		TrimThreshold: 64 << 10,
		DebugTools:    true,
	})
	rng := rand.New(rand.NewSource(walkSeed))
	runWorkload(a, rng, walkSteps, 512, 8)
	a.AssertNoLeak()

	printVerbose("walked %d steps, %d free spans remain\n", walkSteps, len(a.Spans()))
	return nil
}

package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/inhies/go-bytesize"
	"github.com/lazypower/marksweep/internal/engine"
	"github.com/lazypower/marksweep/internal/gc"
	"github.com/lazypower/marksweep/internal/store"
	"github.com/spf13/cobra"
)

var (
	benchHeap      heapFlags
	benchRounds    int
	benchDepth     int
	benchNoHistory bool
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run the push/pop allocation benchmark",
	Long: "Each round pushes --depth scalars and pops them all again, so every round " +
		"leaves only garbage behind. The heap is torn down at the end.",
	Args: cobra.NoArgs,
	RunE: runBench,
}

func init() {
	benchHeap.register(benchCmd)
	benchCmd.Flags().IntVar(&benchRounds, "rounds", 1000, "number of push/pop rounds")
	benchCmd.Flags().IntVar(&benchDepth, "depth", 20, "scalars pushed per round")
	benchCmd.Flags().BoolVar(&benchNoHistory, "no-history", false, "do not record the run in the database")
}

// benchResult summarizes one benchmark run.
type benchResult struct {
	RunID     string
	Rounds    int
	Depth     int
	Allocated uint64
	Freed     uint64
	Cycles    int
	PeakArena uint64
	Elapsed   time.Duration
}

func runBench(cmd *cobra.Command, args []string) error {
	if benchRounds < 1 || benchDepth < 1 {
		return fmt.Errorf("--rounds and --depth must be positive")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	heapCfg, err := benchHeap.apply(cmd, cfg.Heap.GC())
	if err != nil {
		return err
	}

	hist := maybeHistory(cfg, benchNoHistory)
	defer hist.Close()

	res, err := bench(hist.engine(heapCfg), benchRounds, benchDepth)
	if err != nil {
		return err
	}
	printBench(cmd.OutOrStdout(), res)
	return nil
}

// bench runs rounds of depth pushes followed by depth pops. Cycles are
// written to history after the clock stops.
func bench(eng *engine.Engine, rounds, depth int) (benchResult, error) {
	eng.BufferCycles = true
	res := benchResult{Rounds: rounds, Depth: depth}
	label := fmt.Sprintf("%dx%d", rounds, depth)

	var start time.Time
	runID, err := eng.Run(store.SourceBench, label, gc.Config{}, func(h *gc.Heap) error {
		if depth > h.Config().StackCapacity {
			return fmt.Errorf("depth %d exceeds stack capacity %d: %w", depth, h.Config().StackCapacity, gc.ErrStackOverflow)
		}
		start = time.Now()
		for i := 0; i < rounds; i++ {
			for j := 0; j < depth; j++ {
				if _, err := h.PushScalar(int64(i)); err != nil {
					return err
				}
			}
			res.PeakArena = max(res.PeakArena, h.Stats().ArenaBytes)
			for j := 0; j < depth; j++ {
				if _, err := h.Pop(); err != nil {
					return err
				}
			}
		}
		if _, err := h.Teardown(); err != nil {
			return err
		}
		res.Elapsed = time.Since(start)

		st := h.Stats()
		res.Allocated = st.Allocated
		res.Freed = st.Freed
		res.Cycles = st.Cycles
		return nil
	})
	res.RunID = runID
	if err != nil {
		return res, fmt.Errorf("bench: %w", err)
	}
	return res, nil
}

func printBench(w io.Writer, r benchResult) {
	rate := 0.0
	if r.Elapsed > 0 {
		rate = float64(r.Allocated) / r.Elapsed.Seconds()
	}
	fmt.Fprintf(w, "rounds:     %s x %d\n", humanize.Comma(int64(r.Rounds)), r.Depth)
	fmt.Fprintf(w, "allocated:  %s objects\n", humanize.Comma(int64(r.Allocated)))
	fmt.Fprintf(w, "freed:      %s objects\n", humanize.Comma(int64(r.Freed)))
	fmt.Fprintf(w, "cycles:     %s\n", humanize.Comma(int64(r.Cycles)))
	fmt.Fprintf(w, "peak arena: %s\n", bytesize.New(float64(r.PeakArena)))
	fmt.Fprintf(w, "elapsed:    %s\n", r.Elapsed)
	fmt.Fprintf(w, "throughput: %s allocs/s\n", humanize.CommafWithDigits(rate, 0))
	if r.RunID != "" {
		fmt.Fprintf(w, "run:        %s\n", r.RunID)
	}
}

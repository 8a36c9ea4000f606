package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lazypower/marksweep/internal/store"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recorded runs, or the cycles of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of runs")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		return printRun(out, db, args[0])
	}
	return printRuns(out, db, historyLimit)
}

func printRuns(w io.Writer, db *store.DB, limit int) error {
	runs, err := db.ListRuns(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSOURCE\tLABEL\tSTATUS\tALLOCATED\tFREED\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RunID, r.Source, r.Label, r.Status,
			humanize.Comma(r.Allocated), humanize.Comma(r.Freed),
			humanize.Time(time.UnixMilli(r.StartedAt)))
	}
	return tw.Flush()
}

func printRun(w io.Writer, db *store.DB, runID string) error {
	run, err := db.GetRun(runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run not found: %s", runID)
	}
	cycles, err := db.GetCycles(runID)
	if err != nil {
		return err
	}
	sum, err := db.SummarizeCycles(runID)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "run %s (%s", run.RunID, run.Source)
	if run.Label != "" {
		fmt.Fprintf(w, ", %s", run.Label)
	}
	fmt.Fprintf(w, ") %s, started %s\n", run.Status, humanize.Time(time.UnixMilli(run.StartedAt)))
	if run.EndedAt != nil {
		fmt.Fprintf(w, "  duration:  %s\n", time.Duration(*run.EndedAt-run.StartedAt)*time.Millisecond)
	}
	fmt.Fprintf(w, "  heap:      stack %d, threshold %d, max objects %d\n",
		run.StackCapacity, run.InitialThreshold, run.MaxObjects)
	fmt.Fprintf(w, "  objects:   %s allocated, %s freed\n", humanize.Comma(run.Allocated), humanize.Comma(run.Freed))
	fmt.Fprintf(w, "  cycles:    %d, %s freed, peak live %d, %s in collector\n",
		sum.Count, humanize.Comma(sum.Freed), sum.MaxLiveBefore, time.Duration(sum.TotalNS))

	if len(cycles) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTRIGGER\tLIVE\tMARKED\tFREED\tREMAINING\tNEXT\tTIME")
	for _, c := range cycles {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			c.Seq, c.Trigger, c.LiveBefore, c.Marked, c.Freed, c.Remaining, c.Threshold, time.Duration(c.DurationNS))
	}
	return tw.Flush()
}

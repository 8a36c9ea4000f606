package cli

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/lazypower/marksweep/internal/engine"
	"github.com/lazypower/marksweep/internal/gc"
	"github.com/lazypower/marksweep/internal/script"
	"github.com/lazypower/marksweep/internal/store"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var (
	runHeap      heapFlags
	runTrace     bool
	runNoHistory bool
)

var runCmd = &cobra.Command{
	Use:   "run [script]",
	Short: "Execute a heap script",
	Long: "Execute a script of push, pop, pair, dup, collect, stats, print, roots and teardown " +
		"commands. Reads the named file, or stdin; on a terminal it starts an interactive prompt.",
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runHeap.register(runCmd)
	runCmd.Flags().BoolVar(&runTrace, "trace", false, "log every collection cycle to stderr")
	runCmd.Flags().BoolVar(&runNoHistory, "no-history", false, "do not record the run in the database")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	heapCfg, err := runHeap.apply(cmd, cfg.Heap.GC())
	if err != nil {
		return err
	}

	hist := maybeHistory(cfg, runNoHistory)
	defer hist.Close()

	eng := hist.engine(heapCfg)
	if runTrace {
		eng.Logger = log.New(os.Stderr, "", log.Ltime|log.Lmicroseconds)
	}

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		cmds, err := script.ParseFile(args[0])
		if err != nil {
			return err
		}
		return runScript(eng, filepath.Base(args[0]), cmds, out)
	}

	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return runPrompt(eng, os.Stdin, out, colorable.NewColorableStderr())
	}

	cmds, err := script.Parse(os.Stdin)
	if err != nil {
		return err
	}
	return runScript(eng, "stdin", cmds, out)
}

// runScript executes cmds in a fresh recorded session.
func runScript(eng *engine.Engine, label string, cmds []script.Command, out io.Writer) error {
	_, err := eng.Run(store.SourceRun, label, gc.Config{}, func(h *gc.Heap) error {
		_, err := script.NewRunner(h, out).Run(cmds)
		return err
	})
	if err != nil {
		return fmt.Errorf("run %s: %w", label, err)
	}
	return nil
}

const (
	ansiRed   = "\x1b[31m"
	ansiReset = "\x1b[0m"
)

// runPrompt reads commands one line at a time. A failing command is reported
// and the prompt continues.
func runPrompt(eng *engine.Engine, in io.Reader, out, errOut io.Writer) error {
	sess, err := eng.Create(store.SourceRun, "interactive", gc.Config{})
	if err != nil {
		return err
	}
	runner := script.NewRunner(nil, out)

	fmt.Fprintln(out, "marksweep: type commands, or quit to exit")
	scanner := bufio.NewScanner(in)
	lineNo := 0
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "quit" || line == "exit" {
			break
		}

		c, err := script.ParseLine(lineNo, line)
		if err == nil && c != nil {
			err = sess.Do(func(h *gc.Heap) error {
				runner.Heap = h
				return runner.Exec(*c)
			})
		}
		if err != nil {
			fmt.Fprintf(errOut, "%serror: %v%s\n", ansiRed, err, ansiReset)
		}
	}
	// The run is finished even when input fails.
	cycle, err := eng.Close(sess.ID)
	if scanErr := scanner.Err(); scanErr != nil {
		return fmt.Errorf("read input: %w", scanErr)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nteardown: collected %d objects, %d remaining\n", cycle.Freed, cycle.Remaining)
	return nil
}

package script

import (
	"fmt"
	"io"

	"github.com/lazypower/marksweep/internal/gc"
)

// ExecError reports the command a script failed on.
type ExecError struct {
	Line int
	Op   Op
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("line %d: %s: %v", e.Line, e.Op, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// Runner executes commands against a heap, writing reports to Out.
type Runner struct {
	Heap *gc.Heap
	Out  io.Writer
}

// NewRunner creates a Runner. A nil out discards reports.
func NewRunner(h *gc.Heap, out io.Writer) *Runner {
	if out == nil {
		out = io.Discard
	}
	return &Runner{Heap: h, Out: out}
}

// Run executes cmds in order and stops at the first failure. It returns the
// number of commands that completed.
func (r *Runner) Run(cmds []Command) (int, error) {
	for i, cmd := range cmds {
		if err := r.Exec(cmd); err != nil {
			return i, err
		}
	}
	return len(cmds), nil
}

// Exec runs one command Count times.
func (r *Runner) Exec(cmd Command) error {
	for i := 0; i < max(cmd.Count, 1); i++ {
		if err := r.exec(cmd); err != nil {
			return &ExecError{Line: cmd.Line, Op: cmd.Op, Err: err}
		}
	}
	return nil
}

func (r *Runner) exec(cmd Command) error {
	h := r.Heap
	switch cmd.Op {
	case OpPush:
		_, err := h.PushScalar(cmd.Value)
		return err
	case OpPop:
		_, err := h.Pop()
		return err
	case OpPair:
		_, err := h.MakePair()
		return err
	case OpDup:
		top, err := h.Peek()
		if err != nil {
			return err
		}
		return h.PushRoot(top)
	case OpCollect:
		s, err := h.Collect()
		if err != nil {
			return err
		}
		fmt.Fprintf(r.Out, "collected %d objects, %d remaining\n", s.Freed, s.Remaining)
	case OpTeardown:
		s, err := h.Teardown()
		if err != nil {
			return err
		}
		fmt.Fprintf(r.Out, "collected %d objects, %d remaining\n", s.Freed, s.Remaining)
	case OpStats:
		s := h.Stats()
		fmt.Fprintf(r.Out, "live=%d threshold=%d roots=%d/%d cycles=%d allocated=%d freed=%d\n",
			s.Live, s.Threshold, s.Roots, s.RootCapacity, s.Cycles, s.Allocated, s.Freed)
	case OpPrint:
		top, err := h.Peek()
		if err != nil {
			return err
		}
		out, err := h.Render(top)
		if err != nil {
			return err
		}
		fmt.Fprintln(r.Out, out)
	case OpRoots:
		for i, ref := range h.Roots() {
			out, err := h.Render(ref)
			if err != nil {
				return err
			}
			fmt.Fprintf(r.Out, "[%d] %s\n", i, out)
		}
	default:
		return fmt.Errorf("%w %q", ErrUnknownCommand, cmd.Op)
	}
	return nil
}

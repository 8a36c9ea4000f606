package script

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/lazypower/marksweep/internal/gc"
)

func runScript(t *testing.T, content string) (*gc.Heap, string, error) {
	t.Helper()
	cmds, err := ParseLines(content)
	if err != nil {
		t.Fatalf("ParseLines: %v", err)
	}
	h := gc.New(gc.DefaultConfig())
	var out bytes.Buffer
	_, err = NewRunner(h, &out).Run(cmds)
	return h, out.String(), err
}

func TestRunScenarios(t *testing.T) {
	tests := []struct {
		name   string
		script string
		live   int
	}{
		{"preserved", "push 1\npush 2\ncollect", 2},
		{"collected", "push 1\npush 2\npop\npop\ncollect", 0},
		{"one pop", "push 1\npush 2\npop\ncollect", 1},
		{"nested", "push 1\npush 2\npair\npush 3\npush 4\npair\npair\ncollect", 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, err := runScript(t, tt.script)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if h.LiveCount() != tt.live {
				t.Errorf("LiveCount = %d, want %d", h.LiveCount(), tt.live)
			}
		})
	}
}

func TestRunOutput(t *testing.T) {
	_, out, err := runScript(t, `
push 1
push 2
pair
push 3
dup
roots
print
collect
stats
`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, want := range []string{
		"[0] (1,2)\n[1] 3\n[2] 3\n",
		"\n3\n",
		"collected 0 objects, 4 remaining\n",
		"live=4 threshold=8 roots=3/256 cycles=1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunStopsAtFailure(t *testing.T) {
	cmds, err := ParseLines("push 1\npair\npush 2")
	if err != nil {
		t.Fatalf("ParseLines: %v", err)
	}
	h := gc.New(gc.DefaultConfig())
	done, err := NewRunner(h, nil).Run(cmds)

	if !errors.Is(err, gc.ErrStackUnderflow) {
		t.Fatalf("err = %v, want ErrStackUnderflow", err)
	}
	var ee *ExecError
	if !errors.As(err, &ee) || ee.Line != 2 || ee.Op != OpPair {
		t.Errorf("err = %v, want ExecError at line 2 pair", err)
	}
	if done != 1 {
		t.Errorf("completed = %d, want 1", done)
	}
	if h.LiveCount() != 1 {
		t.Errorf("LiveCount = %d, want 1", h.LiveCount())
	}
}

func TestRunRepeatPerfLoop(t *testing.T) {
	h, _, err := runScript(t, "repeat 100 repeat 20 push 7\nrepeat 2000 pop\ncollect")
	if err == nil {
		t.Fatal("expected overflow past 256 roots")
	}
	if !errors.Is(err, gc.ErrStackOverflow) {
		t.Fatalf("err = %v, want ErrStackOverflow", err)
	}
	if h.Stats().Roots != gc.DefaultStackCapacity {
		t.Errorf("Roots = %d, want %d", h.Stats().Roots, gc.DefaultStackCapacity)
	}
}

func TestRunTeardown(t *testing.T) {
	h, out, err := runScript(t, "push 1\npush 2\npair\nteardown\npush 3")
	if !errors.Is(err, gc.ErrHeapReleased) {
		t.Fatalf("err = %v, want ErrHeapReleased", err)
	}
	if !strings.Contains(out, "collected 3 objects, 0 remaining") {
		t.Errorf("output = %q", out)
	}
	if !h.Stats().Released {
		t.Error("heap not released")
	}
}

package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/lazypower/marksweep/internal/engine"
	"github.com/lazypower/marksweep/internal/gc"
	"github.com/lazypower/marksweep/internal/script"
	"github.com/lazypower/marksweep/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunScriptScenarioC(t *testing.T) {
	db := testDB(t)
	eng := engine.New(db, gc.DefaultConfig())
	cmds, err := script.ParseLines(`
push 1
push 2
pair
push 3
push 4
pair
pair
collect
stats
`)
	if err != nil {
		t.Fatalf("ParseLines: %v", err)
	}

	var out bytes.Buffer
	if err := runScript(eng, "scenario-c", cmds, &out); err != nil {
		t.Fatalf("runScript: %v", err)
	}
	if !strings.Contains(out.String(), "collected 0 objects, 7 remaining") {
		t.Errorf("output = %q, want 7 remaining", out.String())
	}

	runs, err := db.ListRuns(10)
	if err != nil || len(runs) != 1 {
		t.Fatalf("ListRuns = %v, %v; want one run", runs, err)
	}
	if runs[0].Label != "scenario-c" || runs[0].Status != "completed" {
		t.Errorf("run = %+v, want completed scenario-c", runs[0])
	}
}

func TestRunScriptFailure(t *testing.T) {
	eng := engine.New(nil, gc.DefaultConfig())
	cmds, _ := script.ParseLines("push 1\npop\npop")

	err := runScript(eng, "bad", cmds, &bytes.Buffer{})
	if !errors.Is(err, gc.ErrStackUnderflow) {
		t.Errorf("runScript err = %v, want ErrStackUnderflow", err)
	}
}

func TestPromptContinuesAfterErrors(t *testing.T) {
	eng := engine.New(nil, gc.DefaultConfig())
	in := strings.NewReader("push 1\npop\npop\nbogus\npush 2\nprint\nquit\npush 3\n")

	var out, errOut bytes.Buffer
	if err := runPrompt(eng, in, &out, &errOut); err != nil {
		t.Fatalf("runPrompt: %v", err)
	}
	if n := strings.Count(errOut.String(), "error:"); n != 2 {
		t.Errorf("got %d errors, want 2: %q", n, errOut.String())
	}
	if !strings.Contains(out.String(), "2\n") {
		t.Errorf("output = %q, want printed 2", out.String())
	}
	if !strings.Contains(out.String(), "teardown: collected 2 objects, 0 remaining") {
		t.Errorf("output = %q, want teardown of both scalars", out.String())
	}
	if len(eng.List()) != 0 {
		t.Error("prompt session left open")
	}
}

func TestBench(t *testing.T) {
	db := testDB(t)
	eng := engine.New(db, gc.DefaultConfig())

	res, err := bench(eng, 1000, 20)
	if err != nil {
		t.Fatalf("bench: %v", err)
	}
	if res.Allocated != 20000 || res.Freed != 20000 {
		t.Errorf("allocated %d freed %d, want 20000 each", res.Allocated, res.Freed)
	}
	if res.Cycles == 0 || res.PeakArena == 0 {
		t.Errorf("result = %+v, want cycles and arena", res)
	}

	var out bytes.Buffer
	printBench(&out, res)
	if !strings.Contains(out.String(), "20,000 objects") {
		t.Errorf("output = %q, want humanized allocation count", out.String())
	}

	run, _ := db.GetRun(res.RunID)
	if run == nil || run.Source != store.SourceBench || run.Status != "completed" {
		t.Errorf("run = %+v, want completed bench", run)
	}
}

func TestBenchDepthExceedsStack(t *testing.T) {
	eng := engine.New(nil, gc.Config{StackCapacity: 8})
	if _, err := bench(eng, 1, 9); !errors.Is(err, gc.ErrStackOverflow) {
		t.Errorf("bench err = %v, want ErrStackOverflow", err)
	}
}

func TestHistoryOutput(t *testing.T) {
	db := testDB(t)
	eng := engine.New(db, gc.DefaultConfig())
	cmds, _ := script.ParseLines("push 1\npush 2\npop\ncollect")
	if err := runScript(eng, "hist", cmds, &bytes.Buffer{}); err != nil {
		t.Fatalf("runScript: %v", err)
	}

	var out bytes.Buffer
	if err := printRuns(&out, db, 10); err != nil {
		t.Fatalf("printRuns: %v", err)
	}
	if !strings.Contains(out.String(), "hist") || !strings.Contains(out.String(), "completed") {
		t.Errorf("runs output = %q", out.String())
	}

	runs, _ := db.ListRuns(1)
	out.Reset()
	if err := printRun(&out, db, runs[0].RunID); err != nil {
		t.Fatalf("printRun: %v", err)
	}
	for _, want := range []string{"explicit", "teardown", "2 allocated, 2 freed"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("run output missing %q:\n%s", want, out.String())
		}
	}

	if err := printRun(&out, db, "missing"); err == nil {
		t.Error("printRun on missing run returned nil")
	}
}

func TestHistoryEmpty(t *testing.T) {
	var out bytes.Buffer
	if err := printRuns(&out, testDB(t), 10); err != nil {
		t.Fatalf("printRuns: %v", err)
	}
	if !strings.Contains(out.String(), "No runs recorded.") {
		t.Errorf("output = %q", out.String())
	}
}

package store

import "testing"

func TestAddAndGetCycles(t *testing.T) {
	db := testDB(t)
	startRun(t, db, "run-001", SourceRun)

	cycles := []Cycle{
		{RunID: "run-001", Seq: 1, Trigger: "allocation", LiveBefore: 4, Marked: 2, Freed: 2, Remaining: 2, Threshold: 4, DurationNS: 1500},
		{RunID: "run-001", Seq: 2, Trigger: "explicit", LiveBefore: 7, Marked: 7, Freed: 0, Remaining: 7, Threshold: 14, DurationNS: 900},
		{RunID: "run-001", Seq: 3, Trigger: "teardown", LiveBefore: 7, Marked: 0, Freed: 7, Remaining: 0, Threshold: 4, DurationNS: 300},
	}
	for _, c := range cycles {
		if err := db.AddCycle(c); err != nil {
			t.Fatalf("AddCycle(%d): %v", c.Seq, err)
		}
	}

	got, err := db.GetCycles("run-001")
	if err != nil {
		t.Fatalf("GetCycles: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, c := range got {
		if c.Seq != i+1 {
			t.Errorf("cycles[%d].Seq = %d, want %d", i, c.Seq, i+1)
		}
		if c.Trigger != cycles[i].Trigger || c.Freed != cycles[i].Freed {
			t.Errorf("cycles[%d] = %+v, want %+v", i, c, cycles[i])
		}
		if c.CreatedAt == 0 {
			t.Errorf("cycles[%d].CreatedAt = 0", i)
		}
	}
}

func TestAddCycleDuplicateSeq(t *testing.T) {
	db := testDB(t)
	startRun(t, db, "run-001", SourceRun)

	c := Cycle{RunID: "run-001", Seq: 1, Trigger: "explicit"}
	if err := db.AddCycle(c); err != nil {
		t.Fatalf("AddCycle: %v", err)
	}
	if err := db.AddCycle(c); err == nil {
		t.Error("expected error for duplicate seq, got nil")
	}
}

func TestSummarizeCycles(t *testing.T) {
	db := testDB(t)
	startRun(t, db, "run-001", SourceRun)

	db.AddCycle(Cycle{RunID: "run-001", Seq: 1, Trigger: "allocation", LiveBefore: 4, Freed: 4, DurationNS: 100})
	db.AddCycle(Cycle{RunID: "run-001", Seq: 2, Trigger: "allocation", LiveBefore: 9, Freed: 3, DurationNS: 200})

	s, err := db.SummarizeCycles("run-001")
	if err != nil {
		t.Fatalf("SummarizeCycles: %v", err)
	}
	if s.Count != 2 || s.Freed != 7 || s.MaxLiveBefore != 9 || s.TotalNS != 300 {
		t.Errorf("summary = %+v, want count 2 freed 7 max 9 total 300", s)
	}

	empty, err := db.SummarizeCycles("run-none")
	if err != nil {
		t.Fatalf("SummarizeCycles(empty): %v", err)
	}
	if empty.Count != 0 {
		t.Errorf("empty Count = %d, want 0", empty.Count)
	}
}

func TestCyclesCascadeWithRun(t *testing.T) {
	db := testDB(t)
	startRun(t, db, "run-001", SourceRun)
	db.AddCycle(Cycle{RunID: "run-001", Seq: 1, Trigger: "explicit"})

	if _, err := db.Exec(`DELETE FROM runs WHERE run_id = ?`, "run-001"); err != nil {
		t.Fatalf("delete run: %v", err)
	}
	got, err := db.GetCycles("run-001")
	if err != nil {
		t.Fatalf("GetCycles: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0 after cascade", len(got))
	}
}

func TestAddCyclesBatch(t *testing.T) {
	db := testDB(t)
	startRun(t, db, "run-001", SourceBench)

	batch := []Cycle{
		{RunID: "run-001", Seq: 1, Trigger: "allocation", LiveBefore: 4, Marked: 0, Freed: 4, Threshold: 4},
		{RunID: "run-001", Seq: 2, Trigger: "teardown", LiveBefore: 3, Marked: 0, Freed: 3, Threshold: 4},
	}
	if err := db.AddCycles(batch); err != nil {
		t.Fatalf("AddCycles: %v", err)
	}
	if err := db.AddCycles(nil); err != nil {
		t.Errorf("AddCycles(nil): %v", err)
	}

	// A failing batch leaves nothing behind.
	bad := []Cycle{
		{RunID: "run-001", Seq: 3, Trigger: "explicit"},
		{RunID: "run-001", Seq: 1, Trigger: "explicit"},
	}
	if err := db.AddCycles(bad); err == nil {
		t.Fatal("AddCycles with duplicate seq returned nil")
	}

	got, err := db.GetCycles("run-001")
	if err != nil {
		t.Fatalf("GetCycles: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2 after rolled back batch", len(got))
	}
}

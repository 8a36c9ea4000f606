package engine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lazypower/marksweep/internal/gc"
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

func TestCreateRecordsRun(t *testing.T) {
	db := testDB(t)
	eng := New(db, gc.DefaultConfig())

	s, err := eng.Create(store.SourceServer, "demo", gc.Config{StackCapacity: 8})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	run, err := db.GetRun(s.ID)
	if err != nil || run == nil {
		t.Fatalf("GetRun(%s) = %v, %v", s.ID, run, err)
	}
	if run.Status != "active" || run.Label != "demo" {
		t.Errorf("run = %+v, want active demo", run)
	}
	if run.StackCapacity != 8 || run.InitialThreshold != gc.DefaultInitialThreshold {
		t.Errorf("run config = %d/%d, want 8/%d", run.StackCapacity, run.InitialThreshold, gc.DefaultInitialThreshold)
	}
}

func TestCyclesArePersisted(t *testing.T) {
	db := testDB(t)
	eng := New(db, gc.DefaultConfig())
	s, err := eng.Create(store.SourceServer, "", gc.Config{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	err = s.Do(func(h *gc.Heap) error {
		for i := 0; i < 2; i++ {
			if _, err := h.PushScalar(int64(i)); err != nil {
				return err
			}
		}
		if _, err := h.Pop(); err != nil {
			return err
		}
		_, err := h.Collect()
		return err
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}

	stats, err := eng.Close(s.ID)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if stats.Trigger != gc.TriggerTeardown || stats.Freed != 1 {
		t.Errorf("teardown = %+v, want teardown freeing 1", stats)
	}

	cycles, err := db.GetCycles(s.ID)
	if err != nil {
		t.Fatalf("GetCycles: %v", err)
	}
	if len(cycles) != 2 {
		t.Fatalf("got %d cycles, want 2", len(cycles))
	}
	if cycles[0].Trigger != "explicit" || cycles[0].Freed != 1 {
		t.Errorf("cycle 1 = %+v, want explicit freeing 1", cycles[0])
	}
	if cycles[1].Trigger != "teardown" || cycles[1].Remaining != 0 {
		t.Errorf("cycle 2 = %+v, want teardown leaving 0", cycles[1])
	}

	run, _ := db.GetRun(s.ID)
	if run.Status != "completed" || run.Allocated != 2 || run.Freed != 2 {
		t.Errorf("run = %+v, want completed with 2 allocated and 2 freed", run)
	}
}

func TestUnknownSession(t *testing.T) {
	eng := New(nil, gc.DefaultConfig())
	if _, err := eng.Get("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get err = %v, want ErrSessionNotFound", err)
	}
	if _, err := eng.Close("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Close err = %v, want ErrSessionNotFound", err)
	}

	s, err := eng.Create(store.SourceServer, "", gc.Config{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := eng.Close(s.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err = s.Do(func(h *gc.Heap) error { return nil })
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Do on closed session err = %v, want ErrSessionNotFound", err)
	}
}

func TestRunMarksFailure(t *testing.T) {
	db := testDB(t)
	eng := New(db, gc.DefaultConfig())

	id, err := eng.Run(store.SourceRun, "underflow", gc.Config{}, func(h *gc.Heap) error {
		_, err := h.Pop()
		return err
	})
	if !errors.Is(err, gc.ErrStackUnderflow) {
		t.Fatalf("Run err = %v, want ErrStackUnderflow", err)
	}
	run, _ := db.GetRun(id)
	if run == nil || run.Status != "failed" {
		t.Errorf("run = %+v, want failed", run)
	}
	if len(eng.List()) != 0 {
		t.Errorf("List() = %v, want empty after Run", eng.List())
	}

	id, err = eng.Run(store.SourceRun, "ok", gc.Config{}, func(h *gc.Heap) error {
		_, err := h.PushScalar(1)
		return err
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	run, _ = db.GetRun(id)
	if run.Status != "completed" {
		t.Errorf("status = %q, want completed", run.Status)
	}
}

func TestListOrder(t *testing.T) {
	eng := New(nil, gc.DefaultConfig())
	var ids []string
	for i := 0; i < 3; i++ {
		s, err := eng.Create(store.SourceServer, "", gc.Config{})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, s.ID)
		time.Sleep(time.Millisecond)
	}

	infos := eng.List()
	if len(infos) != 3 {
		t.Fatalf("List() returned %d, want 3", len(infos))
	}
	for i, info := range infos {
		if info.ID != ids[i] {
			t.Errorf("infos[%d] = %s, want %s", i, info.ID, ids[i])
		}
		if info.Stats.RootCapacity != gc.DefaultStackCapacity {
			t.Errorf("root capacity = %d, want default", info.Stats.RootCapacity)
		}
	}
}

func TestReapIdle(t *testing.T) {
	db := testDB(t)
	eng := New(db, gc.DefaultConfig())
	old, _ := eng.Create(store.SourceServer, "old", gc.Config{})
	cutoff := time.Now()
	time.Sleep(time.Millisecond)
	fresh, _ := eng.Create(store.SourceServer, "fresh", gc.Config{})

	if n := eng.reapIdle(cutoff.Add(time.Microsecond)); n != 1 {
		t.Fatalf("reapIdle closed %d, want 1", n)
	}
	if _, err := eng.Get(old.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("old session still open: %v", err)
	}
	if _, err := eng.Get(fresh.ID); err != nil {
		t.Errorf("fresh session reaped: %v", err)
	}
	run, _ := db.GetRun(old.ID)
	if run.Status != "completed" {
		t.Errorf("reaped run status = %q, want completed", run.Status)
	}
}

func TestStopClosesSessions(t *testing.T) {
	eng := New(nil, gc.DefaultConfig())
	eng.StartReaper(time.Hour, time.Hour)
	s, _ := eng.Create(store.SourceServer, "", gc.Config{})

	eng.Stop()
	eng.Stop()
	if len(eng.List()) != 0 {
		t.Error("sessions left open after Stop")
	}
	if err := s.Do(func(h *gc.Heap) error { return nil }); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Do after Stop err = %v, want ErrSessionNotFound", err)
	}
}

func TestConcurrentSessionAccess(t *testing.T) {
	db := testDB(t)
	eng := New(db, gc.Config{StackCapacity: 1024, InitialThreshold: 4})
	s, err := eng.Create(store.SourceServer, "", gc.Config{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				err := eng.Do(s.ID, func(h *gc.Heap) error {
					if _, err := h.PushScalar(int64(i)); err != nil {
						return err
					}
					_, err := h.Pop()
					return err
				})
				if err != nil {
					t.Errorf("Do: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	err = s.Do(func(h *gc.Heap) error {
		if _, err := h.Collect(); err != nil {
			return err
		}
		if h.LiveCount() != 0 {
			t.Errorf("LiveCount = %d, want 0", h.LiveCount())
		}
		if st := h.Stats(); st.Allocated != 400 {
			t.Errorf("Allocated = %d, want 400", st.Allocated)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
}

func TestBufferedCyclesWrittenOnClose(t *testing.T) {
	db := testDB(t)
	eng := New(db, gc.DefaultConfig())
	eng.BufferCycles = true
	eng.Owner = "owner-1"

	s, err := eng.Create(store.SourceBench, "", gc.Config{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	err = s.Do(func(h *gc.Heap) error {
		for i := 0; i < 3; i++ {
			if _, err := h.PushScalar(int64(i)); err != nil {
				return err
			}
			if _, err := h.Collect(); err != nil {
				return err
			}
		}
		rows, err := db.GetCycles(s.ID)
		if err != nil {
			return err
		}
		if len(rows) != 0 {
			t.Errorf("%d cycles written while the session is open, want 0", len(rows))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}

	if _, err := eng.Close(s.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	rows, err := db.GetCycles(s.ID)
	if err != nil {
		t.Fatalf("GetCycles: %v", err)
	}
	if len(rows) != 4 {
		t.Errorf("got %d cycles, want 3 explicit + teardown", len(rows))
	}
	run, _ := db.GetRun(s.ID)
	if run.Owner != "owner-1" || run.Status != "completed" {
		t.Errorf("run = %+v, want completed by owner-1", run)
	}
}

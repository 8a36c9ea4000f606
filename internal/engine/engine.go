package engine

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lazypower/marksweep/internal/gc"
	"github.com/lazypower/marksweep/internal/store"
)

// ErrSessionNotFound is returned for an unknown or already closed session.
var ErrSessionNotFound = errors.New("session not found")

// Engine hosts heap sessions for concurrent callers. A heap is not safe for
// concurrent use, so every session serializes access to its heap behind its
// own lock. When a DB is configured, each session is recorded as a run and
// every collection cycle as a cycle row.
type Engine struct {
	DB     *store.DB
	Config gc.Config
	Logger *log.Logger // optional per-cycle log for every heap
	Owner  string      // recorded on every run; see store.AcquireOwner

	// BufferCycles holds each session's cycles in memory and writes them
	// when the session closes, keeping inserts out of timed heap work.
	BufferCycles bool

	mu       sync.Mutex
	sessions map[string]*Session
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a new Engine. db may be nil to run without history.
func New(db *store.DB, cfg gc.Config) *Engine {
	return &Engine{
		DB:       db,
		Config:   cfg,
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
	}
}

// Session is one heap plus the lock that guards it.
type Session struct {
	ID        string
	Source    string
	Label     string
	CreatedAt time.Time

	mu       sync.Mutex
	heap     *gc.Heap
	lastUsed time.Time
	closed   bool
	pending  []store.Cycle
}

// SessionInfo is a snapshot of a session for listings.
type SessionInfo struct {
	ID        string    `json:"session_id"`
	Source    string    `json:"source"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
	Stats     gc.Stats  `json:"stats"`
}

// Do runs fn with exclusive access to the session's heap.
func (s *Session) Do(fn func(h *gc.Heap) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, s.ID)
	}
	s.lastUsed = time.Now()
	return fn(s.heap)
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:        s.ID,
		Source:    s.Source,
		Label:     s.Label,
		CreatedAt: s.CreatedAt,
		LastUsed:  s.lastUsed,
		Stats:     s.heap.Stats(),
	}
}

// merge fills the zero fields of cfg from the engine defaults.
func (e *Engine) merge(cfg gc.Config) gc.Config {
	if cfg.StackCapacity <= 0 {
		cfg.StackCapacity = e.Config.StackCapacity
	}
	if cfg.InitialThreshold <= 0 {
		cfg.InitialThreshold = e.Config.InitialThreshold
	}
	if cfg.MaxObjects <= 0 {
		cfg.MaxObjects = e.Config.MaxObjects
	}
	return cfg
}

// Create starts a new session with its own heap. Zero fields in cfg take the
// engine's defaults.
func (e *Engine) Create(source, label string, cfg gc.Config) (*Session, error) {
	h := gc.New(e.merge(cfg))
	eff := h.Config()
	now := time.Now()
	s := &Session{
		ID:        uuid.NewString(),
		Source:    source,
		Label:     label,
		CreatedAt: now,
		heap:      h,
		lastUsed:  now,
	}

	if e.Logger != nil {
		h.SetLogger(e.Logger)
	}
	if e.DB != nil {
		_, err := e.DB.StartRun(store.Run{
			RunID:            s.ID,
			Source:           source,
			Owner:            e.Owner,
			Label:            label,
			StackCapacity:    eff.StackCapacity,
			InitialThreshold: eff.InitialThreshold,
			MaxObjects:       eff.MaxObjects,
		})
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		h.Observe(e.recordCycle(s))
	}

	e.mu.Lock()
	e.sessions[s.ID] = s
	e.mu.Unlock()
	return s, nil
}

// recordCycle returns a heap observer that persists every cycle of a
// session. Observers run inside heap calls, so s.mu is already held.
func (e *Engine) recordCycle(s *Session) func(gc.CycleStats) {
	return func(c gc.CycleStats) {
		row := store.Cycle{
			RunID:      s.ID,
			Seq:        c.Seq,
			Trigger:    c.Trigger.String(),
			LiveBefore: c.LiveBefore,
			Marked:     c.Marked,
			Freed:      c.Freed,
			Remaining:  c.Remaining,
			Threshold:  c.Threshold,
			DurationNS: c.Duration.Nanoseconds(),
		}
		if e.BufferCycles {
			s.pending = append(s.pending, row)
			return
		}
		if err := e.DB.AddCycle(row); err != nil {
			log.Printf("record cycle %d of %s: %v", c.Seq, s.ID, err)
		}
	}
}

// Get returns a live session.
func (e *Engine) Get(id string) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Do runs fn against the heap of session id.
func (e *Engine) Do(id string, fn func(h *gc.Heap) error) error {
	s, err := e.Get(id)
	if err != nil {
		return err
	}
	return s.Do(fn)
}

// List returns every live session, oldest first.
func (e *Engine) List() []SessionInfo {
	e.mu.Lock()
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Close tears down a session's heap and finishes its run.
func (e *Engine) Close(id string) (gc.CycleStats, error) {
	e.mu.Lock()
	s, ok := e.sessions[id]
	delete(e.sessions, id)
	e.mu.Unlock()
	if !ok {
		return gc.CycleStats{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return e.finish(s, "completed")
}

func (e *Engine) finish(s *Session, status string) (gc.CycleStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return gc.CycleStats{}, nil
	}
	s.closed = true

	stats, err := s.heap.Teardown()
	if err != nil {
		status = "failed"
	}
	if e.DB != nil {
		if perr := e.DB.AddCycles(s.pending); perr != nil {
			log.Printf("record cycles of %s: %v", s.ID, perr)
		}
		s.pending = nil
		hs := s.heap.Stats()
		if ferr := e.DB.FinishRun(s.ID, status, hs.Allocated, hs.Freed); ferr != nil {
			log.Printf("finish run %s: %v", s.ID, ferr)
		}
	}
	if err != nil {
		return stats, fmt.Errorf("teardown %s: %w", s.ID, err)
	}
	return stats, nil
}

// Run executes fn in a fresh session and closes it afterwards. The run is
// recorded as failed if fn returns an error.
func (e *Engine) Run(source, label string, cfg gc.Config, fn func(h *gc.Heap) error) (string, error) {
	s, err := e.Create(source, label, cfg)
	if err != nil {
		return "", err
	}
	fnErr := s.Do(fn)

	e.mu.Lock()
	delete(e.sessions, s.ID)
	e.mu.Unlock()

	status := "completed"
	if fnErr != nil {
		status = "failed"
	}
	if _, err := e.finish(s, status); err != nil && fnErr == nil {
		return s.ID, err
	}
	return s.ID, fnErr
}

// StartReaper closes sessions idle for longer than idle, checking every
// interval, until Stop is called.
func (e *Engine) StartReaper(idle, interval time.Duration) {
	if idle <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case now := <-ticker.C:
				if n := e.reapIdle(now.Add(-idle)); n > 0 {
					log.Printf("reaper: closed %d idle sessions", n)
				}
			case <-e.stopCh:
				return
			}
		}
	}()
}

// reapIdle closes every session last used before cutoff.
func (e *Engine) reapIdle(cutoff time.Time) int {
	var idle []*Session
	e.mu.Lock()
	for id, s := range e.sessions {
		s.mu.Lock()
		stale := s.lastUsed.Before(cutoff)
		s.mu.Unlock()
		if stale {
			idle = append(idle, s)
			delete(e.sessions, id)
		}
	}
	e.mu.Unlock()

	for _, s := range idle {
		if _, err := e.finish(s, "completed"); err != nil {
			log.Printf("reaper: %v", err)
		}
	}
	return len(idle)
}

// Stop shuts down the reaper and closes every open session.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })

	e.mu.Lock()
	open := make([]*Session, 0, len(e.sessions))
	for id, s := range e.sessions {
		open = append(open, s)
		delete(e.sessions, id)
	}
	e.mu.Unlock()

	for _, s := range open {
		if _, err := e.finish(s, "completed"); err != nil {
			log.Printf("stop: %v", err)
		}
	}
}

package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/lazypower/marksweep/internal/engine"
	"github.com/lazypower/marksweep/internal/gc"
	"github.com/lazypower/marksweep/internal/script"
	"github.com/lazypower/marksweep/internal/store"
)

const defaultRunLimit = 20

// errStatus maps heap and engine errors to HTTP status codes.
func errStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, gc.ErrStackOverflow),
		errors.Is(err, gc.ErrStackUnderflow),
		errors.Is(err, gc.ErrCollectionInProgress):
		return http.StatusConflict
	case errors.Is(err, gc.ErrAllocationFailure):
		return http.StatusInsufficientStorage
	case errors.Is(err, gc.ErrHeapReleased):
		return http.StatusGone
	case errors.Is(err, gc.ErrStaleRef),
		errors.Is(err, script.ErrUnknownCommand),
		errors.Is(err, script.ErrBadArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label            string `json:"label"`
		StackCapacity    int    `json:"stack_capacity"`
		InitialThreshold int    `json:"initial_threshold"`
		MaxObjects       int    `json:"max_objects"`
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body failed")
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}
	if req.StackCapacity < 0 || req.InitialThreshold < 0 || req.MaxObjects < 0 {
		writeError(w, http.StatusBadRequest, "sizes must not be negative")
		return
	}

	sess, err := s.engine.Create(store.SourceServer, req.Label, gc.Config{
		StackCapacity:    req.StackCapacity,
		InitialThreshold: req.InitialThreshold,
		MaxObjects:       req.MaxObjects,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sess.Info())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": s.engine.List(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}

	var roots []string
	err = sess.Do(func(h *gc.Heap) error {
		for _, ref := range h.Roots() {
			text, err := h.Render(ref)
			if err != nil {
				return err
			}
			roots = append(roots, text)
		}
		return nil
	})
	if err != nil && !errors.Is(err, gc.ErrHeapReleased) {
		writeError(w, errStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session": sess.Info(),
		"roots":   roots,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	cycle, err := s.engine.Close(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "released",
		"cycle":  cycle,
	})
}

// heapOp runs fn against the session named in the URL and reports the
// resulting ref along with the heap's stats.
func (s *Server) heapOp(w http.ResponseWriter, r *http.Request, fn func(h *gc.Heap) (gc.Ref, error)) {
	var (
		ref   gc.Ref
		stats gc.Stats
	)
	err := s.engine.Do(chi.URLParam(r, "sessionID"), func(h *gc.Heap) error {
		var err error
		ref, err = fn(h)
		stats = h.Stats()
		return err
	})
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ref":   ref.String(),
		"stats": stats,
	})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value *int64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "value required")
		return
	}
	s.heapOp(w, r, func(h *gc.Heap) (gc.Ref, error) {
		return h.PushScalar(*req.Value)
	})
}

func (s *Server) handlePop(w http.ResponseWriter, r *http.Request) {
	s.heapOp(w, r, (*gc.Heap).Pop)
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	s.heapOp(w, r, (*gc.Heap).MakePair)
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	var (
		cycle gc.CycleStats
		stats gc.Stats
	)
	err := s.engine.Do(chi.URLParam(r, "sessionID"), func(h *gc.Heap) error {
		var err error
		cycle, err = h.Collect()
		stats = h.Stats()
		return err
	})
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cycle": cycle,
		"stats": stats,
	})
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Script string `json:"script"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	cmds, err := script.ParseLines(req.Script)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		out      bytes.Buffer
		executed int
		stats    gc.Stats
	)
	err = s.engine.Do(chi.URLParam(r, "sessionID"), func(h *gc.Heap) error {
		var err error
		executed, err = script.NewRunner(h, &out).Run(cmds)
		stats = h.Stats()
		return err
	})

	resp := map[string]any{
		"output":   out.String(),
		"executed": executed,
		"stats":    stats,
	}
	code := http.StatusOK
	if err != nil {
		code = errStatus(err)
		resp["error"] = err.Error()
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "sessionID")
	run, err := s.db.GetRun(runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found: "+runID)
		return
	}

	cycles, err := s.db.GetCycles(runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	summary, err := s.db.SummarizeCycles(runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run":     run,
		"cycles":  cycles,
		"summary": summary,
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.db.ListRuns(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs": runs,
	})
}

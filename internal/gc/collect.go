package gc

import (
	"fmt"
	"time"
)

// Phase is the collector state. A heap is Idle except while Collect runs.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseMarking
	PhaseSweeping
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseMarking:
		return "marking"
	case PhaseSweeping:
		return "sweeping"
	default:
		return "unknown"
	}
}

// Trigger records why a cycle ran.
type Trigger uint8

const (
	TriggerAllocation Trigger = iota + 1
	TriggerExplicit
	TriggerTeardown
)

func (t Trigger) String() string {
	switch t {
	case TriggerAllocation:
		return "allocation"
	case TriggerExplicit:
		return "explicit"
	case TriggerTeardown:
		return "teardown"
	default:
		return "unknown"
	}
}

// MarshalText encodes t by name.
func (t Trigger) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a trigger name written by MarshalText.
func (t *Trigger) UnmarshalText(text []byte) error {
	switch string(text) {
	case "allocation":
		*t = TriggerAllocation
	case "explicit":
		*t = TriggerExplicit
	case "teardown":
		*t = TriggerTeardown
	case "unknown":
		*t = 0
	default:
		return fmt.Errorf("unknown trigger %q", text)
	}
	return nil
}

// CycleStats describes one completed collection cycle.
type CycleStats struct {
	Seq        int           `json:"seq"`
	Trigger    Trigger       `json:"trigger"`
	LiveBefore int           `json:"live_before"`
	Marked     int           `json:"marked"`
	Freed      int           `json:"freed"`
	Remaining  int           `json:"remaining"`
	Threshold  int           `json:"threshold"`
	Duration   time.Duration `json:"duration_ns"`
}

// Phase returns the current collector state.
func (h *Heap) Phase() Phase {
	return h.phase
}

// Collect runs a full mark and sweep cycle over the current roots.
func (h *Heap) Collect() (CycleStats, error) {
	if h.released {
		return CycleStats{}, ErrHeapReleased
	}
	return h.collect(TriggerExplicit)
}

func (h *Heap) collect(trigger Trigger) (CycleStats, error) {
	if h.phase != PhaseIdle {
		return CycleStats{}, ErrCollectionInProgress
	}
	defer func() { h.phase = PhaseIdle }()

	start := time.Now()
	before := h.live

	h.phase = PhaseMarking
	marked := h.markAll()

	h.phase = PhaseSweeping
	freed := h.sweep()

	h.threshold = nextThreshold(h.live, h.cfg.InitialThreshold)
	h.cycles++
	h.freed += uint64(freed)

	stats := CycleStats{
		Seq:        h.cycles,
		Trigger:    trigger,
		LiveBefore: before,
		Marked:     marked,
		Freed:      freed,
		Remaining:  h.live,
		Threshold:  h.threshold,
		Duration:   time.Since(start),
	}
	if h.logger != nil {
		h.logger.Printf("gc %d (%s): collected %d objects, %d remaining, next at %d",
			stats.Seq, trigger, freed, h.live, h.threshold)
	}
	for _, fn := range h.observers {
		fn(stats)
	}
	return stats, nil
}

// Teardown drops every root, runs a final cycle and releases the arena.
// Every later call on h fails with ErrHeapReleased; a second Teardown is a
// no-op.
func (h *Heap) Teardown() (CycleStats, error) {
	if h.released {
		return CycleStats{}, nil
	}
	if h.phase != PhaseIdle {
		return CycleStats{}, ErrCollectionInProgress
	}
	h.roots.clear()
	stats, err := h.collect(TriggerTeardown)
	if err != nil {
		return stats, err
	}
	h.slots = nil
	h.worklist = nil
	h.registry = noSlot
	h.free = noSlot
	h.released = true
	return stats, nil
}

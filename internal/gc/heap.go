package gc

import (
	"fmt"
	"iter"
	"log"
	"math"
	"unsafe"
)

const (
	DefaultStackCapacity    = 256
	DefaultInitialThreshold = 4

	maxSlots = math.MaxInt32
)

// Config holds the sizing knobs of a heap.
type Config struct {
	StackCapacity    int // maximum number of roots
	InitialThreshold int // live count that triggers the first cycle, and the floor after each cycle
	MaxObjects       int // hard limit on live objects; 0 means unbounded
}

// DefaultConfig returns the stock sizes: 256 roots,
// first collection at 4 live objects, no hard limit.
func DefaultConfig() Config {
	return Config{
		StackCapacity:    DefaultStackCapacity,
		InitialThreshold: DefaultInitialThreshold,
	}
}

// Heap owns every allocated object. It is not safe for concurrent use.
type Heap struct {
	cfg Config

	slots     []object
	registry  int32 // head of the list of registered objects, newest first
	free      int32 // head of the free slot list
	live      int
	threshold int
	roots     rootStack
	worklist  []Ref

	phase    Phase
	released bool

	cycles    int
	allocated uint64
	freed     uint64

	logger    *log.Logger
	observers []func(CycleStats)
}

// New creates an empty heap. Non-positive sizes in cfg fall back to the
// defaults.
func New(cfg Config) *Heap {
	def := DefaultConfig()
	if cfg.StackCapacity <= 0 {
		cfg.StackCapacity = def.StackCapacity
	}
	if cfg.InitialThreshold <= 0 {
		cfg.InitialThreshold = def.InitialThreshold
	}
	if cfg.MaxObjects < 0 {
		cfg.MaxObjects = 0
	}
	return &Heap{
		cfg:       cfg,
		registry:  noSlot,
		free:      noSlot,
		threshold: cfg.InitialThreshold,
		roots:     newRootStack(cfg.StackCapacity),
	}
}

// Config returns the effective configuration of h.
func (h *Heap) Config() Config {
	return h.cfg
}

// SetLogger attaches a logger that receives one line per collection cycle.
// A nil logger silences the heap.
func (h *Heap) SetLogger(l *log.Logger) {
	h.logger = l
}

// Observe registers fn to be called after every collection cycle. Observers
// run before the heap returns to PhaseIdle: they may read the heap but any
// mutation fails with ErrCollectionInProgress.
func (h *Heap) Observe(fn func(CycleStats)) {
	h.observers = append(h.observers, fn)
}

func (h *Heap) checkMutable() error {
	if h.released {
		return ErrHeapReleased
	}
	if h.phase != PhaseIdle {
		return ErrCollectionInProgress
	}
	return nil
}

func (h *Heap) atLimit() bool {
	return h.cfg.MaxObjects > 0 && h.live >= h.cfg.MaxObjects
}

// allocate registers a new object of the given kind, running a collection
// first when the live count has reached the threshold. The returned slot
// pointer is valid until the next allocation.
func (h *Heap) allocate(kind Kind) (Ref, *object, error) {
	if h.live >= h.threshold || h.atLimit() {
		if _, err := h.collect(TriggerAllocation); err != nil {
			return Nil, nil, err
		}
	}
	if h.atLimit() {
		return Nil, nil, fmt.Errorf("%w: %d objects live, limit %d", ErrAllocationFailure, h.live, h.cfg.MaxObjects)
	}

	var idx int32
	if h.free != noSlot {
		idx = h.free
		h.free = h.slots[idx].next
	} else {
		if len(h.slots) >= maxSlots {
			return Nil, nil, fmt.Errorf("%w: arena exhausted at %d slots", ErrAllocationFailure, len(h.slots))
		}
		h.slots = append(h.slots, object{})
		idx = int32(len(h.slots) - 1)
	}

	o := &h.slots[idx]
	gen := o.gen + 1
	if gen == 0 {
		gen = 1
	}
	*o = object{kind: kind, gen: gen, next: h.registry}
	h.registry = idx
	h.live++
	h.allocated++
	return Ref{index: uint32(idx), gen: gen}, o, nil
}

// lookup resolves r to its slot, failing if the object has been reclaimed.
func (h *Heap) lookup(r Ref) (*object, error) {
	if r.IsNil() || int(r.index) >= len(h.slots) {
		return nil, fmt.Errorf("%w: %s", ErrStaleRef, r)
	}
	o := &h.slots[r.index]
	if o.kind == 0 || o.gen != r.gen {
		return nil, fmt.Errorf("%w: %s", ErrStaleRef, r)
	}
	return o, nil
}

// PushScalar allocates a scalar holding v and pushes it as a new root.
func (h *Heap) PushScalar(v int64) (Ref, error) {
	if err := h.checkMutable(); err != nil {
		return Nil, err
	}
	if h.roots.full() {
		return Nil, ErrStackOverflow
	}
	r, o, err := h.allocate(KindScalar)
	if err != nil {
		return Nil, err
	}
	o.value = v
	return r, h.roots.push(r)
}

// MakePair pops the top two roots into a new pair and pushes the pair. The
// former top becomes Second and the entry beneath it First. The operands
// stay rooted while the pair is allocated, so a collection triggered by the
// allocation cannot reclaim them.
func (h *Heap) MakePair() (Ref, error) {
	if err := h.checkMutable(); err != nil {
		return Nil, err
	}
	if h.roots.len() < 2 {
		return Nil, ErrStackUnderflow
	}
	r, o, err := h.allocate(KindPair)
	if err != nil {
		return Nil, err
	}
	o.second, _ = h.roots.pop()
	o.first, _ = h.roots.pop()
	return r, h.roots.push(r)
}

// Pop removes the top root and returns it. The object stays allocated until
// a cycle finds it unreachable.
func (h *Heap) Pop() (Ref, error) {
	if err := h.checkMutable(); err != nil {
		return Nil, err
	}
	return h.roots.pop()
}

// PushRoot pushes an existing live object as a new root.
func (h *Heap) PushRoot(r Ref) error {
	if err := h.checkMutable(); err != nil {
		return err
	}
	if _, err := h.lookup(r); err != nil {
		return err
	}
	return h.roots.push(r)
}

// Peek returns the top root without removing it.
func (h *Heap) Peek() (Ref, error) {
	if h.released {
		return Nil, ErrHeapReleased
	}
	return h.roots.peek()
}

// Get returns a view of the object r refers to.
func (h *Heap) Get(r Ref) (Object, error) {
	if h.released {
		return Object{}, ErrHeapReleased
	}
	o, err := h.lookup(r)
	if err != nil {
		return Object{}, err
	}
	return o.view(r), nil
}

// LiveCount returns the number of registered objects, reachable or not.
func (h *Heap) LiveCount() int {
	return h.live
}

// Threshold returns the live count at which the next allocation collects.
func (h *Heap) Threshold() int {
	return h.threshold
}

// Roots returns a copy of the root stack, bottom first.
func (h *Heap) Roots() []Ref {
	return append([]Ref(nil), h.roots.refs...)
}

// Objects yields every registered object, most recently allocated first.
func (h *Heap) Objects() iter.Seq[Ref] {
	return func(yield func(Ref) bool) {
		for idx := h.registry; idx != noSlot; {
			o := &h.slots[idx]
			next := o.next
			if !yield(Ref{index: uint32(idx), gen: o.gen}) {
				return
			}
			idx = next
		}
	}
}

// Stats is a point-in-time snapshot of heap counters.
type Stats struct {
	Live         int    `json:"live"`
	Threshold    int    `json:"threshold"`
	Roots        int    `json:"roots"`
	RootCapacity int    `json:"root_capacity"`
	Slots        int    `json:"slots"`
	FreeSlots    int    `json:"free_slots"`
	Cycles       int    `json:"cycles"`
	Allocated    uint64 `json:"allocated"`
	Freed        uint64 `json:"freed"`
	ArenaBytes   uint64 `json:"arena_bytes"`
	Released     bool   `json:"released"`
}

// Stats returns the current counters.
func (h *Heap) Stats() Stats {
	return Stats{
		Live:         h.live,
		Threshold:    h.threshold,
		Roots:        h.roots.len(),
		RootCapacity: h.roots.capacity,
		Slots:        len(h.slots),
		FreeSlots:    len(h.slots) - h.live,
		Cycles:       h.cycles,
		Allocated:    h.allocated,
		Freed:        h.freed,
		ArenaBytes:   uint64(cap(h.slots)) * uint64(unsafe.Sizeof(object{})),
		Released:     h.released,
	}
}

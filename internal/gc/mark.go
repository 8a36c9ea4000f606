package gc

// markAll marks every object reachable from the root stack and returns how
// many objects were marked. Pairs waiting to be scanned go on h.worklist,
// which keeps its backing array between cycles.
func (h *Heap) markAll() int {
	marked := 0
	work := h.worklist[:0]

	for _, r := range h.roots.refs {
		if h.mark(r) {
			marked++
			work = h.enqueue(work, r)
		}
	}

	for len(work) > 0 {
		r := work[len(work)-1]
		work = work[:len(work)-1]

		first, second, ok := h.slots[r.index].children()
		if !ok {
			continue
		}
		// Pushed in reverse so first is scanned before second.
		if h.mark(second) {
			marked++
			work = h.enqueue(work, second)
		}
		if h.mark(first) {
			marked++
			work = h.enqueue(work, first)
		}
	}

	h.worklist = work[:0]
	return marked
}

// mark sets the mark bit on r's object. It returns false if the object was
// already marked in this cycle, which is what terminates cycles in the graph.
func (h *Heap) mark(r Ref) bool {
	o := &h.slots[r.index]
	if o.marked {
		return false
	}
	o.marked = true
	return true
}

// enqueue adds r to the worklist if it has outgoing references.
func (h *Heap) enqueue(work []Ref, r Ref) []Ref {
	if h.slots[r.index].kind != KindPair {
		return work
	}
	return append(work, r)
}

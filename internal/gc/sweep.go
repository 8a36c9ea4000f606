package gc

// sweep walks the registry once, releasing every unmarked object and clearing
// the mark bit of every survivor. It returns the number of objects freed.
// It must only run after markAll in the same cycle.
func (h *Heap) sweep() int {
	freed := 0
	link := &h.registry
	for *link != noSlot {
		idx := *link
		o := &h.slots[idx]
		if o.marked {
			o.marked = false
			link = &o.next
			continue
		}
		*link = o.next
		h.release(idx)
		freed++
	}
	return freed
}

// release returns a slot to the free list. The generation is kept so the
// next allocation in this slot gets a fresh one and old handles go stale.
func (h *Heap) release(idx int32) {
	o := &h.slots[idx]
	*o = object{gen: o.gen, next: h.free}
	h.free = idx
	h.live--
}

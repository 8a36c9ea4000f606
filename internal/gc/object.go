// Package gc implements a stop-the-world mark-and-sweep collector for a
// two-shape object model: integer scalars and pairs of references. Objects
// are owned by an arena and named by generation-checked handles; an operand
// stack of handles is the only root set.
package gc

import "fmt"

// Kind is the shape of an object.
type Kind uint8

const (
	KindScalar Kind = iota + 1
	KindPair
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindPair:
		return "pair"
	default:
		return "free"
	}
}

// Ref is a handle to a heap object: an arena index plus the generation the
// slot had when the object was allocated. The zero Ref never names an object.
type Ref struct {
	index uint32
	gen   uint32
}

// Nil is the zero Ref.
var Nil Ref

// IsNil reports whether r is the zero Ref.
func (r Ref) IsNil() bool {
	return r.gen == 0
}

func (r Ref) String() string {
	if r.IsNil() {
		return "#nil"
	}
	return fmt.Sprintf("#%d.%d", r.index, r.gen)
}

// Object is a read-only view of a live heap object.
type Object struct {
	Ref    Ref
	Kind   Kind
	Value  int64 // scalars only
	First  Ref   // pairs only
	Second Ref   // pairs only
}

// object is an arena slot. next threads the slot through either the
// registry of live objects or the free list, never both.
type object struct {
	kind   Kind
	marked bool
	gen    uint32
	value  int64
	first  Ref
	second Ref
	next   int32
}

// noSlot terminates the registry and the free list.
const noSlot int32 = -1

// children returns the outgoing references of o. Scalars have none.
func (o *object) children() (Ref, Ref, bool) {
	if o.kind != KindPair {
		return Nil, Nil, false
	}
	return o.first, o.second, true
}

func (o *object) view(r Ref) Object {
	obj := Object{Ref: r, Kind: o.kind}
	switch o.kind {
	case KindScalar:
		obj.Value = o.value
	case KindPair:
		obj.First, obj.Second = o.first, o.second
	}
	return obj
}

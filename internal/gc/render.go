package gc

import (
	"strconv"
	"strings"
)

// renderLimit bounds Render output; shared subgraphs print once per path.
const renderLimit = 64 << 10

// Render prints r the way the runtime displays values: scalars in decimal,
// pairs as (first,second). Output past renderLimit is cut and ends in "...".
func (h *Heap) Render(r Ref) (string, error) {
	if h.released {
		return "", ErrHeapReleased
	}
	if _, err := h.lookup(r); err != nil {
		return "", err
	}

	type item struct {
		ref  Ref
		text string
	}
	var sb strings.Builder
	stack := []item{{ref: r}}
	for len(stack) > 0 {
		if sb.Len() > renderLimit {
			sb.WriteString("...")
			break
		}
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if it.ref.IsNil() {
			sb.WriteString(it.text)
			continue
		}
		o := &h.slots[it.ref.index]
		switch o.kind {
		case KindScalar:
			sb.WriteString(strconv.FormatInt(o.value, 10))
		case KindPair:
			sb.WriteByte('(')
			stack = append(stack,
				item{text: ")"},
				item{ref: o.second},
				item{text: ","},
				item{ref: o.first},
			)
		}
	}
	return sb.String(), nil
}

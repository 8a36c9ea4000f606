package gc

// rootStack is the operand stack. Its entries are the only roots the
// collector traces from; popping an entry unbinds it without freeing anything.
type rootStack struct {
	refs     []Ref
	capacity int
}

func newRootStack(capacity int) rootStack {
	return rootStack{
		refs:     make([]Ref, 0, min(capacity, 64)),
		capacity: capacity,
	}
}

func (s *rootStack) len() int {
	return len(s.refs)
}

func (s *rootStack) full() bool {
	return len(s.refs) >= s.capacity
}

func (s *rootStack) push(r Ref) error {
	if s.full() {
		return ErrStackOverflow
	}
	s.refs = append(s.refs, r)
	return nil
}

func (s *rootStack) pop() (Ref, error) {
	n := len(s.refs)
	if n == 0 {
		return Nil, ErrStackUnderflow
	}
	r := s.refs[n-1]
	s.refs[n-1] = Nil
	s.refs = s.refs[:n-1]
	return r, nil
}

func (s *rootStack) peek() (Ref, error) {
	if len(s.refs) == 0 {
		return Nil, ErrStackUnderflow
	}
	return s.refs[len(s.refs)-1], nil
}

func (s *rootStack) clear() {
	clear(s.refs)
	s.refs = s.refs[:0]
}

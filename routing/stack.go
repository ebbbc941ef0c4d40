package routing

// FlowWalkFrame is a suspended-walk record: a stack of these represents
// a depth-first upstream (or downstream) traversal over the implicit
// flow graph, with NextNeighbor recording how many of the 8 neighbors
// have already been consumed so the walk can be preempted and resumed
// without recomputation.
type FlowWalkFrame struct {
	X, Y         int
	NextNeighbor int
	Running      float64
}

// frameStack is a dynamically-grown, vector-backed explicit stack of
// FlowWalkFrame. Its depth is bounded only by available heap memory, not
// the OS thread stack — rasters with millions of cells routinely exceed
// default call-stack limits under naive recursion.
type frameStack struct {
	data []FlowWalkFrame
}

func newFrameStack() *frameStack { return &frameStack{} }

func (s *frameStack) Len() int { return len(s.data) }

func (s *frameStack) Push(f FlowWalkFrame) { s.data = append(s.data, f) }

func (s *frameStack) Pop() FlowWalkFrame {
	top := s.data[len(s.data)-1]
	s.data = s.data[:len(s.data)-1]
	return top
}

// Peek returns a pointer to the top frame so callers can mutate
// NextNeighbor/Running in place before deciding whether to pop.
func (s *frameStack) Peek() *FlowWalkFrame {
	return &s.data[len(s.data)-1]
}

package routing

import "testing"

func TestFrameStackLIFOAndResume(t *testing.T) {
	s := newFrameStack()
	s.Push(FlowWalkFrame{X: 1, Y: 1, Running: 10})
	s.Push(FlowWalkFrame{X: 2, Y: 2, Running: 20})

	top := s.Peek()
	top.NextNeighbor = 3
	if s.Peek().NextNeighbor != 3 {
		t.Fatal("mutation through Peek should be visible")
	}

	f := s.Pop()
	if f.X != 2 || f.NextNeighbor != 3 {
		t.Fatalf("unexpected frame popped: %+v", f)
	}
	f = s.Pop()
	if f.X != 1 || f.Running != 10 {
		t.Fatalf("unexpected frame popped: %+v", f)
	}
	if s.Len() != 0 {
		t.Fatal("expected empty stack")
	}
}

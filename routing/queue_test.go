package routing

import "testing"

func TestCoordQueueFIFO(t *testing.T) {
	q := newCoordQueue()
	for i := 0; i < 20; i++ {
		q.Push(Coordinate{X: i, Y: -i})
	}
	for i := 0; i < 20; i++ {
		c := q.Pop()
		if c.X != i || c.Y != -i {
			t.Fatalf("pop %d: got %+v, want {%d %d}", i, c, i, -i)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, len=%d", q.Len())
	}
}

func TestCoordQueueGrowsAcrossWrap(t *testing.T) {
	q := newCoordQueue()
	// Fill past the initial capacity, interleaving pushes and pops to
	// exercise the ring-buffer wraparound before a grow.
	for i := 0; i < 4; i++ {
		q.Push(Coordinate{X: i})
	}
	q.Pop()
	q.Pop()
	for i := 4; i < 12; i++ {
		q.Push(Coordinate{X: i})
	}
	var got []int
	for q.Len() > 0 {
		got = append(got, q.Pop().X)
	}
	want := []int{2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

package geo

import "testing"

func TestReverseIsInvolution(t *testing.T) {
	for i := 0; i < NumDirections; i++ {
		if Reverse[Reverse[i]] != i {
			t.Fatalf("reverse(reverse(%d)) = %d, want %d", i, Reverse[Reverse[i]], i)
		}
	}
}

func TestNeighborOffsets(t *testing.T) {
	x, y := Neighbor(5, 5, East)
	if x != 6 || y != 5 {
		t.Fatalf("east neighbor = (%d,%d), want (6,5)", x, y)
	}
	x, y = Neighbor(5, 5, North)
	if x != 5 || y != 4 {
		t.Fatalf("north neighbor = (%d,%d), want (5,4)", x, y)
	}
}

func TestDiagonalCost(t *testing.T) {
	if Diagonal(East) || Diagonal(North) || Diagonal(West) || Diagonal(South) {
		t.Fatal("cardinal directions misclassified as diagonal")
	}
	if !Diagonal(NorthEast) || !Diagonal(NorthWest) || !Diagonal(SouthEast) || !Diagonal(SouthWest) {
		t.Fatal("diagonal directions misclassified as cardinal")
	}
	if Cost(East) != 1 {
		t.Fatalf("cardinal cost = %v, want 1", Cost(East))
	}
	if Cost(NorthEast) != Sqrt2 {
		t.Fatalf("diagonal cost = %v, want sqrt2", Cost(NorthEast))
	}
}

func TestInBounds(t *testing.T) {
	if !InBounds(0, 0, 10, 10) {
		t.Fatal("origin should be in bounds")
	}
	if InBounds(10, 0, 10, 10) || InBounds(-1, 0, 10, 10) {
		t.Fatal("boundary should be out of bounds")
	}
}

package routing

import (
	"context"
	"testing"

	"github.com/geoflow/router/internal/geo"
	"github.com/geoflow/router/internal/xlog"
	"github.com/geoflow/router/rasterio"
	"github.com/geoflow/router/rasterio/memdataset"
)

func newMFDFixture(t *testing.T, rows [][]float64) (get func(x, y int) geo.MFDValue) {
	t.Helper()
	h := len(rows)
	w := 0
	if h > 0 {
		w = len(rows[0])
	}

	demDS := memdataset.FromRows(rows, 8, 8)
	dirDS := memdataset.New(w, h, 8, 8, 1)
	visitedDS := memdataset.New(w, h, 8, 8, 1)
	distDS := memdataset.New(w, h, 8, 8, 1)

	demMR := mustOpen(t, demDS, rasterio.ModeRead)
	dirMR := mustOpen(t, dirDS, rasterio.ModeReadWrite)
	visitedMR := mustOpen(t, visitedDS, rasterio.ModeReadWrite)
	distMR := mustOpen(t, distDS, rasterio.ModeReadWrite)

	if err := flowDirMFD(context.Background(), demMR, dirMR, visitedMR, distMR, xlog.Default()); err != nil {
		t.Fatalf("flowDirMFD: %v", err)
	}
	if err := dirMR.Close(); err != nil {
		t.Fatalf("dirMR.Close: %v", err)
	}
	return func(x, y int) geo.MFDValue { return geo.MFDValue(uint32(dirDS.Get(1, x, y))) }
}

// TestFlowDirMFDSplit grounds scenario S3: the center pixel's three
// downhill neighbors (SW, S, SE) are its only outflow directions, and
// their packed weights sum to the fixed-point total.
func TestFlowDirMFDSplit(t *testing.T) {
	rows := [][]float64{
		{2, 2, 2},
		{2, 1, 2},
		{0, 0, 0},
	}
	get := newMFDFixture(t, rows)
	v := get(1, 1)

	for _, dir := range []int{geo.SouthWest, geo.South, geo.SouthEast} {
		if v.Weight(dir) == 0 {
			t.Errorf("direction %d has zero weight, want nonzero", dir)
		}
	}
	for dir := 0; dir < geo.NumDirections; dir++ {
		switch dir {
		case geo.SouthWest, geo.South, geo.SouthEast:
			continue
		default:
			if v.Weight(dir) != 0 {
				t.Errorf("direction %d has weight %d, want 0", dir, v.Weight(dir))
			}
		}
	}
	if v.Sum() != geo.MFDWeightSum {
		t.Errorf("Sum() = %d, want %d", v.Sum(), geo.MFDWeightSum)
	}
}

func TestFlowDirMFDSingleDownhillGetsFullWeight(t *testing.T) {
	rows := [][]float64{{3, 2, 1}}
	get := newMFDFixture(t, rows)

	v := get(0, 0)
	if v.Weight(geo.East) != geo.MFDWeightSum {
		t.Errorf("Weight(East) = %d, want %d (single downhill neighbor takes the whole distribution)", v.Weight(geo.East), geo.MFDWeightSum)
	}

	last := get(2, 0)
	if last.Sum() != 0 {
		t.Errorf("edge-bound global minimum Sum() = %d, want 0 (no direction)", last.Sum())
	}
}

func TestFlowDirMFDPlateauInterior(t *testing.T) {
	rows := [][]float64{
		{5, 5, 5, 5, 0},
		{5, 5, 5, 5, 5},
		{5, 5, 5, 5, 5},
	}
	get := newMFDFixture(t, rows)

	for x := 0; x < 4; x++ {
		v := get(x, 0)
		if v.Weight(geo.East) == 0 {
			t.Errorf("row0 col%d: Weight(East) = 0, want nonzero", x)
		}
	}
}

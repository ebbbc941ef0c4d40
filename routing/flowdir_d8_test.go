package routing

import (
	"context"
	"testing"

	"github.com/geoflow/router/internal/geo"
	"github.com/geoflow/router/internal/xlog"
	"github.com/geoflow/router/rasterio"
	"github.com/geoflow/router/rasterio/memdataset"
)

// newD8Fixture wires dem plus the three rasters flowDirD8 needs (direction
// output, flat-region visited mask, plateau distance) against memdataset.
func newD8Fixture(t *testing.T, rows [][]float64) (get func(x, y int) float64) {
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

	if err := flowDirD8(context.Background(), demMR, dirMR, visitedMR, distMR, xlog.Default()); err != nil {
		t.Fatalf("flowDirD8: %v", err)
	}
	if err := dirMR.Close(); err != nil {
		t.Fatalf("dirMR.Close: %v", err)
	}
	return func(x, y int) float64 { return dirDS.Get(1, x, y) }
}

func withNoData(t *testing.T, rows [][]float64, nodata float64) (get func(x, y int) float64) {
	t.Helper()
	h := len(rows)
	w := 0
	if h > 0 {
		w = len(rows[0])
	}

	demDS := memdataset.FromRows(rows, 8, 8)
	demDS.SetNoData(1, nodata)
	dirDS := memdataset.New(w, h, 8, 8, 1)
	visitedDS := memdataset.New(w, h, 8, 8, 1)
	distDS := memdataset.New(w, h, 8, 8, 1)

	demMR := mustOpen(t, demDS, rasterio.ModeRead)
	dirMR := mustOpen(t, dirDS, rasterio.ModeReadWrite)
	visitedMR := mustOpen(t, visitedDS, rasterio.ModeReadWrite)
	distMR := mustOpen(t, distDS, rasterio.ModeReadWrite)

	if err := flowDirD8(context.Background(), demMR, dirMR, visitedMR, distMR, xlog.Default()); err != nil {
		t.Fatalf("flowDirD8: %v", err)
	}
	if err := dirMR.Close(); err != nil {
		t.Fatalf("dirMR.Close: %v", err)
	}
	return func(x, y int) float64 { return dirDS.Get(1, x, y) }
}

// TestFlowDirD8Ramp grounds scenario S2: a strictly decreasing 1x3 row
// flows east except at the edge-bound global minimum, which has no
// in-raster lower neighbor and no nodata neighbor to point at, so it gets
// the no-direction sentinel.
func TestFlowDirD8Ramp(t *testing.T) {
	rows := [][]float64{{3, 2, 1}}
	get := newD8Fixture(t, rows)

	want := []float64{float64(geo.East), float64(geo.East), noDirection}
	for x, w := range want {
		if got := get(x, 0); got != w {
			t.Errorf("direction(%d,0) = %v, want %v", x, got, w)
		}
	}
}

// TestFlowDirD8PlateauDrainRow grounds scenario S5's unambiguous part: a
// plateau whose only real downhill escape is in row 0, so every row-0
// cell points toward it, and the cell directly south of the drain takes
// the shortest possible cardinal hop.
func TestFlowDirD8PlateauDrainRow(t *testing.T) {
	rows := [][]float64{
		{5, 5, 5, 5, 0},
		{5, 5, 5, 5, 5},
		{5, 5, 5, 5, 5},
	}
	get := newD8Fixture(t, rows)

	for x := 0; x < 4; x++ {
		if got := get(x, 0); got != float64(geo.East) {
			t.Errorf("direction(%d,0) = %v, want East", x, got)
		}
	}
	if got := get(4, 1); got != float64(geo.North) {
		t.Errorf("direction(4,1) = %v, want North (shortest hop to the drain row)", got)
	}
}

func TestFlowDirD8NoDataDrain(t *testing.T) {
	nodata := -9999.0
	rows := [][]float64{
		{nodata, nodata, nodata},
		{nodata, 5, 5},
		{nodata, 5, 5},
	}
	get := withNoData(t, rows, nodata)

	// The 2x2 plateau at (1,1)-(2,2) has no real downhill neighbor and
	// must fall back to its nodata-bordering cells.
	d := get(1, 1)
	if d == noDirection {
		t.Errorf("direction(1,1) = no-direction, want a nodata-drain direction")
	}
}

func TestFlowDirD8NoDataPixelsGetNoDirection(t *testing.T) {
	nodata := -9999.0
	rows := [][]float64{{3, nodata, 1}}
	get := withNoData(t, rows, nodata)
	if got := get(1, 0); got != noDirection {
		t.Errorf("direction of nodata pixel = %v, want no-direction", got)
	}
}

func TestFlowDirD8Deterministic(t *testing.T) {
	rows := [][]float64{
		{5, 5, 5, 5, 0},
		{5, 5, 5, 5, 5},
		{5, 5, 5, 5, 5},
	}
	get1 := newD8Fixture(t, rows)
	get2 := newD8Fixture(t, rows)
	for y := range rows {
		for x := range rows[y] {
			if get1(x, y) != get2(x, y) {
				t.Errorf("direction(%d,%d) not deterministic: %v vs %v", x, y, get1(x, y), get2(x, y))
			}
		}
	}
}

package routing

import (
	"context"
	"testing"

	"github.com/geoflow/router/internal/xlog"
	"github.com/geoflow/router/rasterio"
	"github.com/geoflow/router/rasterio/memdataset"
)

// newAccumD8Fixture runs flowDirD8 over rows to get a direction raster,
// then flowAccumulationD8 over that, returning a getter on the
// accumulation output.
func newAccumD8Fixture(t *testing.T, rows [][]float64) (get func(x, y int) float64) {
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

	dirRO := mustOpen(t, dirDS, rasterio.ModeRead)
	outDS := memdataset.New(w, h, 8, 8, 1)
	outMR := mustOpen(t, outDS, rasterio.ModeReadWrite)

	if err := flowAccumulationD8(context.Background(), dirRO, nil, outMR, xlog.Default()); err != nil {
		t.Fatalf("flowAccumulationD8: %v", err)
	}
	if err := outMR.Close(); err != nil {
		t.Fatalf("outMR.Close: %v", err)
	}
	return func(x, y int) float64 { return outDS.Get(1, x, y) }
}

// TestFlowAccumulationD8Ramp grounds scenario S4: a strictly decreasing
// 1x3 row accumulates 1, 2, 3 pixel-weights eastward.
func TestFlowAccumulationD8Ramp(t *testing.T) {
	rows := [][]float64{{3, 2, 1}}
	get := newAccumD8Fixture(t, rows)

	want := []float64{1, 2, 3}
	for x, w := range want {
		if got := get(x, 0); got != w {
			t.Errorf("accum(%d,0) = %v, want %v", x, got, w)
		}
	}
}

func TestFlowAccumulationD8WithWeights(t *testing.T) {
	rows := [][]float64{{3, 2, 1}}
	weightRows := [][]float64{{5, 1, 1}}

	h := len(rows)
	w := len(rows[0])
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

	dirRO := mustOpen(t, dirDS, rasterio.ModeRead)
	weightDS := memdataset.FromRows(weightRows, 8, 8)
	weightMR := mustOpen(t, weightDS, rasterio.ModeRead)
	outDS := memdataset.New(w, h, 8, 8, 1)
	outMR := mustOpen(t, outDS, rasterio.ModeReadWrite)

	if err := flowAccumulationD8(context.Background(), dirRO, weightMR, outMR, xlog.Default()); err != nil {
		t.Fatalf("flowAccumulationD8: %v", err)
	}
	if err := outMR.Close(); err != nil {
		t.Fatalf("outMR.Close: %v", err)
	}

	// accum(0,0)=5, accum(1,0)=5+1=6, accum(2,0)=6+1=7.
	want := []float64{5, 6, 7}
	for x, w := range want {
		if got := outDS.Get(1, x, 0); got != w {
			t.Errorf("weighted accum(%d,0) = %v, want %v", x, got, w)
		}
	}
}

func TestFlowAccumulationMFDSplitConservesMass(t *testing.T) {
	rows := [][]float64{
		{2, 2, 2},
		{2, 1, 2},
		{0, 0, 0},
	}
	h := len(rows)
	w := len(rows[0])

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

	dirRO := mustOpen(t, dirDS, rasterio.ModeRead)
	outDS := memdataset.New(w, h, 8, 8, 1)
	outMR := mustOpen(t, outDS, rasterio.ModeReadWrite)
	if err := flowAccumulationMFD(context.Background(), dirRO, nil, outMR, xlog.Default()); err != nil {
		t.Fatalf("flowAccumulationMFD: %v", err)
	}
	if err := outMR.Close(); err != nil {
		t.Fatalf("outMR.Close: %v", err)
	}

	center := outDS.Get(1, 1, 1)
	if center <= 1 {
		t.Errorf("center accum = %v, want > 1 (own weight plus upstream contribution)", center)
	}

	var bottomSum float64
	for x := 0; x < w; x++ {
		bottomSum += outDS.Get(1, x, 2)
	}
	if bottomSum < float64(w*h)-1e-9 {
		t.Errorf("bottom row accum sum = %v, want >= %v (conservation of mass: every cell's weight reaches a sink)", bottomSum, w*h)
	}
}

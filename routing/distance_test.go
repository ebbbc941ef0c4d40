package routing

import (
	"context"
	"math"
	"testing"

	"github.com/geoflow/router/internal/geo"
	"github.com/geoflow/router/internal/xlog"
	"github.com/geoflow/router/rasterio"
	"github.com/geoflow/router/rasterio/memdataset"
)

// TestDistanceToChannelD8Ramp grounds a D8 variant of scenario S4: the same
// strictly decreasing 1x3 row, with only its global minimum marked as
// channel, accumulates cardinal-hop distance walking back upstream.
func TestDistanceToChannelD8Ramp(t *testing.T) {
	rows := [][]float64{{3, 2, 1}}
	channelRows := [][]float64{{0, 0, 1}}
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
	channelDS := memdataset.FromRows(channelRows, 8, 8)
	channelMR := mustOpen(t, channelDS, rasterio.ModeRead)
	outDS := memdataset.New(w, h, 8, 8, 1)
	outMR := mustOpen(t, outDS, rasterio.ModeReadWrite)

	if err := distanceToChannelD8(context.Background(), dirRO, channelMR, nil, outMR, xlog.Default()); err != nil {
		t.Fatalf("distanceToChannelD8: %v", err)
	}
	if err := outMR.Close(); err != nil {
		t.Fatalf("outMR.Close: %v", err)
	}

	want := []float64{2, 1, 0}
	for x, w := range want {
		if got := outDS.Get(1, x, 0); got != w {
			t.Errorf("distance(%d,0) = %v, want %v", x, got, w)
		}
	}
}

// TestDistanceToChannelD8WeightedCost grounds the optional edge-cost
// override: the weight raster's value at the upstream pixel replaces the
// unit cardinal cost.
func TestDistanceToChannelD8WeightedCost(t *testing.T) {
	rows := [][]float64{{3, 2, 1}}
	channelRows := [][]float64{{0, 0, 1}}
	weightRows := [][]float64{{7, 10, 0}}
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
	channelDS := memdataset.FromRows(channelRows, 8, 8)
	channelMR := mustOpen(t, channelDS, rasterio.ModeRead)
	weightDS := memdataset.FromRows(weightRows, 8, 8)
	weightMR := mustOpen(t, weightDS, rasterio.ModeRead)
	outDS := memdataset.New(w, h, 8, 8, 1)
	outMR := mustOpen(t, outDS, rasterio.ModeReadWrite)

	if err := distanceToChannelD8(context.Background(), dirRO, channelMR, weightMR, outMR, xlog.Default()); err != nil {
		t.Fatalf("distanceToChannelD8: %v", err)
	}
	if err := outMR.Close(); err != nil {
		t.Fatalf("outMR.Close: %v", err)
	}

	if got := outDS.Get(1, 2, 0); got != 0 {
		t.Errorf("distance(2,0) = %v, want 0 (channel)", got)
	}
	if got := outDS.Get(1, 1, 0); got != 10 {
		t.Errorf("distance(1,0) = %v, want 10 (weight raster value at the hop's own pixel, not the unit cardinal cost)", got)
	}
	if got := outDS.Get(1, 0, 0); got != 17 {
		t.Errorf("distance(0,0) = %v, want 17 (10 plus this pixel's own weighted cost of 7)", got)
	}
}

// TestDistanceToChannelMFDSplit grounds an MFD variant of scenario S3: the
// bottom row is marked channel, so the center pixel's distance is a
// weighted blend of the unit diagonal/cardinal hops to its three
// downhill neighbors, all of which are channel cells at distance 0.
func TestDistanceToChannelMFDSplit(t *testing.T) {
	rows := [][]float64{
		{2, 2, 2},
		{2, 1, 2},
		{0, 0, 0},
	}
	channelRows := [][]float64{
		{0, 0, 0},
		{0, 0, 0},
		{1, 1, 1},
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
	channelDS := memdataset.FromRows(channelRows, 8, 8)
	channelMR := mustOpen(t, channelDS, rasterio.ModeRead)
	outDS := memdataset.New(w, h, 8, 8, 1)
	outMR := mustOpen(t, outDS, rasterio.ModeReadWrite)

	if err := distanceToChannelMFD(context.Background(), dirRO, channelMR, outMR, xlog.Default()); err != nil {
		t.Fatalf("distanceToChannelMFD: %v", err)
	}
	if err := outMR.Close(); err != nil {
		t.Fatalf("outMR.Close: %v", err)
	}

	for x := 0; x < w; x++ {
		if got := outDS.Get(1, x, 2); got != 0 {
			t.Errorf("channel distance(%d,2) = %v, want 0", x, got)
		}
	}

	center := outDS.Get(1, 1, 1)
	if center <= 0 || center > math.Sqrt2+1e-9 {
		t.Errorf("center distance = %v, want in (0, sqrt(2)] (blend of unit cardinal/diagonal hops)", center)
	}
}

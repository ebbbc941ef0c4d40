package routing

import (
	"context"
	"time"

	"github.com/geoflow/router/internal/geo"
	"github.com/geoflow/router/internal/rastermgr"
	"github.com/geoflow/router/internal/xlog"
)

// mfdSentinel is the plateau_distance value meaning "not yet reached by
// the drain-distance propagation", large enough that no real plateau
// (bounded by width*height hops of cost <= sqrt2 each) could exceed it.
const mfdSentinel = 1 << 30

// flowDirMFD assigns each non-nodata dem pixel a packed multiple-flow-
// direction distribution (internal/geo.MFDValue). Nodata input pixels,
// and any plateau interior that no drain reaches, are not written and keep
// the output raster's initial value (0, the sink/nodata encoding).
//
// flatVisited and plateauDistance serve the same role as in flowDirD8:
// flatVisited marks pixels already swept into a flat-region discovery so
// a later scan position never re-discovers the same plateau;
// plateauDistance holds the shortest-path distance to a drain, used in a
// second pass to decide which same-height neighbors of an interior cell
// count as downstream.
func flowDirMFD(ctx context.Context, dem, dirOut, flatVisited, plateauDistance *rastermgr.ManagedRaster, log *xlog.Logger) error {
	w, h := dem.Size()
	nodata, hasNoData := dem.NoData()
	progress := xlog.NewThrottled(log, 5*time.Second)
	queue := newCoordQueue()

	for y := 0; y < h; y++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		progress.Progress("flow_dir_mfd scanning", "row", y, "height", h)
		for x := 0; x < w; x++ {
			v, err := dem.Get(x, y)
			if err != nil {
				return ioError("flow_dir_mfd", err)
			}
			if hasNoData && v == nodata {
				continue
			}

			raw, anyDownhill, err := downhillWeights(dem, x, y, v, w, h, nodata, hasNoData)
			if err != nil {
				return err
			}
			if anyDownhill {
				if err := writeMFD(dirOut, x, y, raw); err != nil {
					return err
				}
				continue
			}

			visited, err := flatVisited.Get(x, y)
			if err != nil {
				return ioError("flow_dir_mfd", err)
			}
			if visited != 0 {
				continue
			}
			if err := resolvePlateauMFD(dem, dirOut, flatVisited, plateauDistance, queue, x, y, v, w, h, nodata, hasNoData); err != nil {
				return err
			}
		}
	}
	return nil
}

// downhillWeights computes the slope weight (elevation drop times
// geo.SlopeFactor) for every neighbor of (x, y) whose elevation is
// strictly below v, zero elsewhere, reporting whether at least one
// qualifying neighbor exists.
func downhillWeights(dem *rastermgr.ManagedRaster, x, y int, v float64, w, h int, nodata float64, hasNoData bool) (raw [geo.NumDirections]float64, any bool, err error) {
	for i := 0; i < geo.NumDirections; i++ {
		nx, ny := geo.Neighbor(x, y, i)
		if !geo.InBounds(nx, ny, w, h) {
			continue
		}
		nv, gerr := dem.Get(nx, ny)
		if gerr != nil {
			return raw, false, ioError("flow_dir_mfd", gerr)
		}
		if hasNoData && nv == nodata {
			continue
		}
		if nv < v {
			raw[i] = (v - nv) * geo.SlopeFactor(i)
			any = true
		}
	}
	return raw, any, nil
}

// edgeWeights computes the uniform weight for every in-raster neighbor of
// (x, y) that is nodata, for the plateau nodata-drain case. A neighbor
// that falls off the raster entirely is not a candidate: there is no
// pixel index to point an outflow fraction at.
func edgeWeights(dem *rastermgr.ManagedRaster, x, y, w, h int, nodata float64, hasNoData bool) (raw [geo.NumDirections]float64, any bool, err error) {
	if !hasNoData {
		return raw, false, nil
	}
	for i := 0; i < geo.NumDirections; i++ {
		nx, ny := geo.Neighbor(x, y, i)
		if !geo.InBounds(nx, ny, w, h) {
			continue
		}
		nv, gerr := dem.Get(nx, ny)
		if gerr != nil {
			return raw, false, ioError("flow_dir_mfd", gerr)
		}
		if nv == nodata {
			raw[i] = geo.SlopeFactor(i)
			any = true
		}
	}
	return raw, any, nil
}

func writeMFD(dirOut *rastermgr.ManagedRaster, x, y int, raw [geo.NumDirections]float64) error {
	packed := geo.PackMFD(raw)
	if err := dirOut.Set(x, y, float64(uint32(packed))); err != nil {
		return ioError("flow_dir_mfd", err)
	}
	return nil
}

// resolvePlateauMFD discovers the maximal same-height region containing
// the seed, classifies each member (downhill drain / nodata drain /
// interior), propagates a plateau_distance from whichever drain class
// wins, then assigns every interior cell an MFD distribution over its
// same-height neighbors that are strictly closer to a drain.
func resolvePlateauMFD(dem, dirOut, flatVisited, plateauDistance *rastermgr.ManagedRaster, queue *coordQueue, seedX, seedY int, seedVal float64, w, h int, nodata float64, hasNoData bool) error {
	var members []Coordinate
	var realDrains []Coordinate
	var nodataDrains []Coordinate
	realWeights := make(map[Coordinate][geo.NumDirections]float64)
	nodataWeights := make(map[Coordinate][geo.NumDirections]float64)

	for queue.Len() > 0 {
		queue.Pop()
	}
	queue.Push(Coordinate{X: seedX, Y: seedY})
	if err := flatVisited.Set(seedX, seedY, 1); err != nil {
		return ioError("flow_dir_mfd", err)
	}

	for queue.Len() > 0 {
		p := queue.Pop()
		members = append(members, p)

		raw, any, err := downhillWeights(dem, p.X, p.Y, seedVal, w, h, nodata, hasNoData)
		if err != nil {
			return err
		}
		if any {
			realDrains = append(realDrains, p)
			realWeights[p] = raw
		} else {
			eraw, eany, err := edgeWeights(dem, p.X, p.Y, w, h, nodata, hasNoData)
			if err != nil {
				return err
			}
			if eany {
				nodataDrains = append(nodataDrains, p)
				nodataWeights[p] = eraw
			}
			// otherwise interior: resolved in the distance pass below.
		}

		for i := 0; i < geo.NumDirections; i++ {
			nx, ny := geo.Neighbor(p.X, p.Y, i)
			if !geo.InBounds(nx, ny, w, h) {
				continue
			}
			nv, err := dem.Get(nx, ny)
			if err != nil {
				return ioError("flow_dir_mfd", err)
			}
			if nv != seedVal {
				continue
			}
			visited, err := flatVisited.Get(nx, ny)
			if err != nil {
				return ioError("flow_dir_mfd", err)
			}
			if visited != 0 {
				continue
			}
			if err := flatVisited.Set(nx, ny, 1); err != nil {
				return ioError("flow_dir_mfd", err)
			}
			queue.Push(Coordinate{X: nx, Y: ny})
		}
	}

	for _, m := range members {
		if err := plateauDistance.Set(m.X, m.Y, mfdSentinel); err != nil {
			return ioError("flow_dir_mfd", err)
		}
	}

	drains := realDrains
	weights := realWeights
	if len(drains) == 0 {
		drains = nodataDrains
		weights = nodataWeights
	}
	for _, d := range drains {
		if err := writeMFD(dirOut, d.X, d.Y, weights[d]); err != nil {
			return err
		}
	}
	if len(drains) == 0 {
		// No escape anywhere in this plateau; interior cells stay at the
		// raster's zero-fill value (undefined-behaviour case, e.g. an
		// unfilled pit).
		return nil
	}

	for queue.Len() > 0 {
		queue.Pop()
	}
	for _, d := range drains {
		if err := plateauDistance.Set(d.X, d.Y, 0); err != nil {
			return ioError("flow_dir_mfd", err)
		}
		queue.Push(d)
	}
	for queue.Len() > 0 {
		c := queue.Pop()
		cd, err := plateauDistance.Get(c.X, c.Y)
		if err != nil {
			return ioError("flow_dir_mfd", err)
		}
		for i := 0; i < geo.NumDirections; i++ {
			nx, ny := geo.Neighbor(c.X, c.Y, i)
			if !geo.InBounds(nx, ny, w, h) {
				continue
			}
			nv, err := dem.Get(nx, ny)
			if err != nil {
				return ioError("flow_dir_mfd", err)
			}
			if nv != seedVal {
				continue
			}
			nd, err := plateauDistance.Get(nx, ny)
			if err != nil {
				return ioError("flow_dir_mfd", err)
			}
			candidate := cd + geo.Cost(i)
			if candidate < nd {
				if err := plateauDistance.Set(nx, ny, candidate); err != nil {
					return ioError("flow_dir_mfd", err)
				}
				queue.Push(Coordinate{X: nx, Y: ny})
			}
		}
	}

	for _, m := range members {
		if _, isRealDrain := realWeights[m]; isRealDrain && len(realDrains) > 0 {
			continue
		}
		if _, isNodataDrain := nodataWeights[m]; isNodataDrain && len(realDrains) == 0 {
			continue
		}
		md, err := plateauDistance.Get(m.X, m.Y)
		if err != nil {
			return ioError("flow_dir_mfd", err)
		}
		var raw [geo.NumDirections]float64
		any := false
		for i := 0; i < geo.NumDirections; i++ {
			nx, ny := geo.Neighbor(m.X, m.Y, i)
			if !geo.InBounds(nx, ny, w, h) {
				continue
			}
			nv, err := dem.Get(nx, ny)
			if err != nil {
				return ioError("flow_dir_mfd", err)
			}
			if nv != seedVal {
				continue
			}
			nd, err := plateauDistance.Get(nx, ny)
			if err != nil {
				return ioError("flow_dir_mfd", err)
			}
			if nd < md {
				raw[i] = geo.SlopeFactor(i)
				any = true
			}
		}
		if any {
			if err := writeMFD(dirOut, m.X, m.Y, raw); err != nil {
				return err
			}
		}
		// else: no strictly-closer same-height neighbor was reached by the
		// distance propagation; the cell keeps the raster's zero fill.
	}
	return nil
}

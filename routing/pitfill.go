package routing

import (
	"context"
	"time"

	"github.com/geoflow/router/internal/geo"
	"github.com/geoflow/router/internal/rastermgr"
	"github.com/geoflow/router/internal/xlog"
)

// fillPits raises every hydrologically undrained region of dem to the
// elevation of its lowest pour point, writing the result to out (already
// sized and typed like dem; out must start as a copy of dem, since
// pixels that belong to plateaus are never touched and must already
// carry the original value).
//
// regionID is a scratch raster (0 = unvisited) marking every pixel with
// the sequence number of the flat region discovery that first classified
// it — whether that region turned out to be a plateau or a pit. Reaching
// a neighbour stamped with someone else's region id during a pour-point
// search means the flood has reached already-resolved terrain (plateaus
// are drained by construction), which ends the search there regardless
// of its exact elevation; reaching a neighbour stamped with the current
// region's own id means it's part of the same pit's flat floor, not an
// escape. pitMask is a scratch raster reused as the per-search frontier
// marker for the pour-point heap expansion, tagged with the same region
// id so stale marks from earlier searches are never mistaken for the
// current one.
func fillPits(ctx context.Context, dem, out, regionID, pitMask *rastermgr.ManagedRaster, log *xlog.Logger) error {
	w, h := dem.Size()
	nodata, hasNoData := dem.NoData()
	progress := xlog.NewThrottled(log, 5*time.Second)

	queue := newCoordQueue()
	heap := newPixelHeap()
	nextRegionID := 1

	for y := 0; y < h; y++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		progress.Progress("fill_pits scanning", "row", y, "height", h)
		for x := 0; x < w; x++ {
			v, err := dem.Get(x, y)
			if err != nil {
				return ioError("fill_pits", err)
			}
			if hasNoData && v == nodata {
				continue
			}
			rid, err := regionID.Get(x, y)
			if err != nil {
				return ioError("fill_pits", err)
			}
			if rid != 0 {
				continue
			}

			id := nextRegionID
			nextRegionID++
			seed := Coordinate{X: x, Y: y}
			drains, err := classifyRegion(dem, regionID, queue, seed, v, float64(id), w, h, nodata, hasNoData)
			if err != nil {
				return err
			}
			if drains {
				// Plateau: leave DEM values untouched; its region id now
				// marks it as resolved, draining terrain for later pits.
				continue
			}

			fillHeight, pourFound, err := findPourPoint(dem, regionID, pitMask, heap, seed, v, float64(id), w, h, nodata, hasNoData)
			if err != nil {
				return err
			}
			if !pourFound {
				return undrainedRaster("fill_pits", "region seeded at pixel has no reachable pour point")
			}
			if err := raiseRegion(out, seed, fillHeight, w, h, nodata, hasNoData); err != nil {
				return err
			}
		}
	}
	return nil
}

// classifyRegion runs the discovery BFS over the maximal same-height
// connected region containing the seed pixel, stamping every member with
// id in regionID and reporting whether the region drains (has any
// boundary neighbour that is off-raster, nodata, or strictly lower).
func classifyRegion(dem, regionID *rastermgr.ManagedRaster, queue *coordQueue, seed Coordinate, seedVal, id float64, w, h int, nodata float64, hasNoData bool) (bool, error) {
	for queue.Len() > 0 {
		queue.Pop()
	}
	queue.Push(seed)
	if err := regionID.Set(seed.X, seed.Y, id); err != nil {
		return false, ioError("fill_pits", err)
	}
	drains := false

	for queue.Len() > 0 {
		p := queue.Pop()
		for i := 0; i < geo.NumDirections; i++ {
			nx, ny := geo.Neighbor(p.X, p.Y, i)
			if !geo.InBounds(nx, ny, w, h) {
				drains = true
				continue
			}
			nv, err := dem.Get(nx, ny)
			if err != nil {
				return false, ioError("fill_pits", err)
			}
			if hasNoData && nv == nodata {
				drains = true
				continue
			}
			if nv < seedVal {
				drains = true
				continue
			}
			if nv > seedVal {
				continue
			}
			nrid, err := regionID.Get(nx, ny)
			if err != nil {
				return false, ioError("fill_pits", err)
			}
			if nrid != 0 {
				continue
			}
			if err := regionID.Set(nx, ny, id); err != nil {
				return false, ioError("fill_pits", err)
			}
			queue.Push(Coordinate{X: nx, Y: ny})
		}
	}
	return drains, nil
}

// findPourPoint expands outward from seed in increasing-elevation order
// (a priority-flood search over pitMask, tagged with id) until it either
// reaches the raster edge, nodata, an already-resolved neighbouring
// region (a different nonzero regionID — necessarily drained terrain, by
// construction of classifyRegion), or an as-yet-unresolved neighbour
// strictly lower than the cell just popped. That cell's elevation is the
// fill height.
func findPourPoint(dem, regionID, pitMask *rastermgr.ManagedRaster, heap *pixelHeap, seed Coordinate, seedVal, id float64, w, h int, nodata float64, hasNoData bool) (float64, bool, error) {
	for heap.Len() > 0 {
		heap.Pop()
	}
	heap.Push(PixelRecord{Value: seedVal, X: seed.X, Y: seed.Y, Tiebreak: pitMask.BlockIndex(seed.X, seed.Y)})
	if err := pitMask.Set(seed.X, seed.Y, id); err != nil {
		return 0, false, ioError("fill_pits", err)
	}

	for heap.Len() > 0 {
		popped := heap.Pop()
		pourPoint := false
		for i := 0; i < geo.NumDirections; i++ {
			nx, ny := geo.Neighbor(popped.X, popped.Y, i)
			if !geo.InBounds(nx, ny, w, h) {
				pourPoint = true
				continue
			}
			nv, err := dem.Get(nx, ny)
			if err != nil {
				return 0, false, ioError("fill_pits", err)
			}
			if hasNoData && nv == nodata {
				pourPoint = true
				continue
			}
			pmv, err := pitMask.Get(nx, ny)
			if err != nil {
				return 0, false, ioError("fill_pits", err)
			}
			if pmv == id {
				// Already part of this search's own frontier/floor.
				continue
			}
			nrid, err := regionID.Get(nx, ny)
			if err != nil {
				return 0, false, ioError("fill_pits", err)
			}
			if nrid != 0 && nrid != id {
				// Reached a different, already-resolved region.
				pourPoint = true
				continue
			}
			if nv < popped.Value {
				pourPoint = true
				continue
			}
			if err := pitMask.Set(nx, ny, id); err != nil {
				return 0, false, ioError("fill_pits", err)
			}
			heap.Push(PixelRecord{Value: nv, X: nx, Y: ny, Tiebreak: pitMask.BlockIndex(nx, ny)})
		}
		if pourPoint {
			return popped.Value, true, nil
		}
	}
	return 0, false, nil
}

// raiseRegion performs the final BFS from seed over the output DEM,
// raising every connected pixel whose current value is below fillHeight
// to exactly fillHeight. Pixels already at or above fillHeight act as
// barriers that stop the flood; nodata pixels are always barriers,
// regardless of their raw sentinel value, and are never overwritten.
func raiseRegion(out *rastermgr.ManagedRaster, seed Coordinate, fillHeight float64, w, h int, nodata float64, hasNoData bool) error {
	queue := newCoordQueue()
	queued := map[Coordinate]struct{}{seed: {}}
	queue.Push(seed)

	for queue.Len() > 0 {
		p := queue.Pop()
		v, err := out.Get(p.X, p.Y)
		if err != nil {
			return ioError("fill_pits", err)
		}
		if hasNoData && v == nodata {
			continue
		}
		if v >= fillHeight {
			continue
		}
		if err := out.Set(p.X, p.Y, fillHeight); err != nil {
			return ioError("fill_pits", err)
		}
		for i := 0; i < geo.NumDirections; i++ {
			nx, ny := geo.Neighbor(p.X, p.Y, i)
			if !geo.InBounds(nx, ny, w, h) {
				continue
			}
			nc := Coordinate{X: nx, Y: ny}
			if _, ok := queued[nc]; ok {
				continue
			}
			nv, err := out.Get(nx, ny)
			if err != nil {
				return ioError("fill_pits", err)
			}
			if hasNoData && nv == nodata {
				continue
			}
			if nv >= fillHeight {
				continue
			}
			queued[nc] = struct{}{}
			queue.Push(nc)
		}
	}
	return nil
}

package routing

import (
	"context"
	"time"

	"github.com/geoflow/router/internal/geo"
	"github.com/geoflow/router/internal/rastermgr"
	"github.com/geoflow/router/internal/xlog"
)

// D8 output conventions: unresolvedDir is an internal bookkeeping value
// never written to the final raster; noDirection is the persisted nodata
// sentinel for both true DEM nodata and the (undefined-behaviour) case of
// an interior cell no phase ever resolves.
const (
	unresolvedDir = -1
	noDirection   = 128
)

// flowDirD8 assigns each non-nodata dem pixel one of the eight D8
// directions (0..7, see internal/geo), writing noDirection for nodata
// input and for any plateau interior a filled DEM should never produce.
//
// flatVisited and plateauDistance are scratch rasters: flatVisited (0/1)
// marks pixels already classified by a flat-region discovery pass so a
// later seed never re-discovers the same plateau; plateauDistance (reset
// per-region as it is discovered) holds the running shortest-path
// distance used to assign directions across a plateau's interior.
func flowDirD8(ctx context.Context, dem, dirOut, flatVisited, plateauDistance *rastermgr.ManagedRaster, log *xlog.Logger) error {
	w, h := dem.Size()
	nodata, hasNoData := dem.NoData()
	progress := xlog.NewThrottled(log, 5*time.Second)
	queue := newCoordQueue()

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v, err := dem.Get(x, y)
			if err != nil {
				return ioError("flow_dir_d8", err)
			}
			if hasNoData && v == nodata {
				if err := dirOut.Set(x, y, noDirection); err != nil {
					return ioError("flow_dir_d8", err)
				}
				continue
			}
			if err := dirOut.Set(x, y, unresolvedDir); err != nil {
				return ioError("flow_dir_d8", err)
			}
		}
	}

	for y := 0; y < h; y++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		progress.Progress("flow_dir_d8 scanning", "row", y, "height", h)
		for x := 0; x < w; x++ {
			v, err := dem.Get(x, y)
			if err != nil {
				return ioError("flow_dir_d8", err)
			}
			if hasNoData && v == nodata {
				continue
			}
			cur, err := dirOut.Get(x, y)
			if err != nil {
				return ioError("flow_dir_d8", err)
			}
			if cur != unresolvedDir {
				continue
			}
			dir, _, positive, err := localMaxSlope(dem, x, y, v, w, h, nodata, hasNoData)
			if err != nil {
				return err
			}
			if positive {
				if err := dirOut.Set(x, y, float64(dir)); err != nil {
					return ioError("flow_dir_d8", err)
				}
				continue
			}
			visited, err := flatVisited.Get(x, y)
			if err != nil {
				return ioError("flow_dir_d8", err)
			}
			if visited != 0 {
				continue
			}
			if err := resolvePlateauD8(dem, dirOut, flatVisited, plateauDistance, queue, x, y, v, w, h, nodata, hasNoData); err != nil {
				return err
			}
		}
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			cur, err := dirOut.Get(x, y)
			if err != nil {
				return ioError("flow_dir_d8", err)
			}
			if cur == unresolvedDir {
				if err := dirOut.Set(x, y, noDirection); err != nil {
					return ioError("flow_dir_d8", err)
				}
			}
		}
	}
	return nil
}

// localMaxSlope finds the direction of steepest descent from (x, y) among
// its 8 neighbours (slope adjusted by geo.SlopeFactor for diagonals),
// considering only neighbours that are in-raster and non-nodata. Ties at
// equal adjusted slope keep whichever direction was scanned first (E, NE,
// N, ...), matching geo.NumDirections iteration order.
func localMaxSlope(dem *rastermgr.ManagedRaster, x, y int, v float64, w, h int, nodata float64, hasNoData bool) (dir int, slope float64, found bool, err error) {
	dir = -1
	for i := 0; i < geo.NumDirections; i++ {
		nx, ny := geo.Neighbor(x, y, i)
		if !geo.InBounds(nx, ny, w, h) {
			continue
		}
		nv, gerr := dem.Get(nx, ny)
		if gerr != nil {
			return 0, 0, false, ioError("flow_dir_d8", gerr)
		}
		if hasNoData && nv == nodata {
			continue
		}
		s := (v - nv) * geo.SlopeFactor(i)
		if s > 0 && s > slope {
			slope = s
			dir = i
			found = true
		}
	}
	return dir, slope, found, nil
}

// drainDir reports the direction of the first (in scan order) in-raster
// neighbour of (x, y) that is nodata, for a plateau cell with no real
// downhill escape that borders the nodata mask. A neighbour that falls
// off the raster entirely is not a candidate: there is no pixel index to
// point a persisted direction at, so an edge-of-raster local minimum with
// no nodata neighbour is simply left without a direction.
func drainDir(x, y, w, h int, nodata float64, hasNoData bool, dem *rastermgr.ManagedRaster) (int, bool, error) {
	if !hasNoData {
		return 0, false, nil
	}
	for i := 0; i < geo.NumDirections; i++ {
		nx, ny := geo.Neighbor(x, y, i)
		if !geo.InBounds(nx, ny, w, h) {
			continue
		}
		nv, err := dem.Get(nx, ny)
		if err != nil {
			return 0, false, ioError("flow_dir_d8", err)
		}
		if nv == nodata {
			return i, true, nil
		}
	}
	return 0, false, nil
}

// resolvePlateauD8 runs the three-phase flat-region resolution (BFS
// discovery + classification, then shortest-path direction assignment)
// for the maximal same-height connected region containing the seed.
func resolvePlateauD8(dem, dirOut, flatVisited, plateauDistance *rastermgr.ManagedRaster, queue *coordQueue, seedX, seedY int, seedVal float64, w, h int, nodata float64, hasNoData bool) error {
	const sentinel = 1 << 30

	var members []Coordinate
	var realDrains []Coordinate
	var nodataDrains []Coordinate
	nodataDir := make(map[Coordinate]int)

	for queue.Len() > 0 {
		queue.Pop()
	}
	queue.Push(Coordinate{X: seedX, Y: seedY})
	if err := flatVisited.Set(seedX, seedY, 1); err != nil {
		return ioError("flow_dir_d8", err)
	}

	for queue.Len() > 0 {
		p := queue.Pop()
		members = append(members, p)

		dir, _, positive, err := localMaxSlope(dem, p.X, p.Y, seedVal, w, h, nodata, hasNoData)
		if err != nil {
			return err
		}
		switch {
		case positive:
			if err := dirOut.Set(p.X, p.Y, float64(dir)); err != nil {
				return ioError("flow_dir_d8", err)
			}
			realDrains = append(realDrains, p)
		default:
			if di, ok, err := drainDir(p.X, p.Y, w, h, nodata, hasNoData, dem); err != nil {
				return err
			} else if ok {
				nodataDrains = append(nodataDrains, p)
				nodataDir[p] = di
			}
			// otherwise interior: left unresolved for phase 3.
		}

		for i := 0; i < geo.NumDirections; i++ {
			nx, ny := geo.Neighbor(p.X, p.Y, i)
			if !geo.InBounds(nx, ny, w, h) {
				continue
			}
			nv, err := dem.Get(nx, ny)
			if err != nil {
				return ioError("flow_dir_d8", err)
			}
			if nv != seedVal {
				continue
			}
			visited, err := flatVisited.Get(nx, ny)
			if err != nil {
				return ioError("flow_dir_d8", err)
			}
			if visited != 0 {
				continue
			}
			if err := flatVisited.Set(nx, ny, 1); err != nil {
				return ioError("flow_dir_d8", err)
			}
			queue.Push(Coordinate{X: nx, Y: ny})
		}
	}

	for _, m := range members {
		if err := plateauDistance.Set(m.X, m.Y, sentinel); err != nil {
			return ioError("flow_dir_d8", err)
		}
	}

	drains := realDrains
	if len(drains) == 0 {
		for _, nd := range nodataDrains {
			if err := dirOut.Set(nd.X, nd.Y, float64(nodataDir[nd])); err != nil {
				return ioError("flow_dir_d8", err)
			}
		}
		drains = nodataDrains
	}
	if len(drains) == 0 {
		// No escape anywhere in this plateau; leave every interior cell
		// unresolved (undefined-behaviour case, e.g. an unfilled pit).
		return nil
	}

	for queue.Len() > 0 {
		queue.Pop()
	}
	for _, d := range drains {
		if err := plateauDistance.Set(d.X, d.Y, 0); err != nil {
			return ioError("flow_dir_d8", err)
		}
		queue.Push(d)
	}

	for queue.Len() > 0 {
		c := queue.Pop()
		cd, err := plateauDistance.Get(c.X, c.Y)
		if err != nil {
			return ioError("flow_dir_d8", err)
		}
		for i := 0; i < geo.NumDirections; i++ {
			nx, ny := geo.Neighbor(c.X, c.Y, i)
			if !geo.InBounds(nx, ny, w, h) {
				continue
			}
			nv, err := dem.Get(nx, ny)
			if err != nil {
				return ioError("flow_dir_d8", err)
			}
			if nv != seedVal {
				continue
			}
			nd, err := plateauDistance.Get(nx, ny)
			if err != nil {
				return ioError("flow_dir_d8", err)
			}
			candidate := cd + geo.Cost(i)
			if candidate < nd {
				if err := plateauDistance.Set(nx, ny, candidate); err != nil {
					return ioError("flow_dir_d8", err)
				}
				if err := dirOut.Set(nx, ny, float64(geo.Reverse[i])); err != nil {
					return ioError("flow_dir_d8", err)
				}
				queue.Push(Coordinate{X: nx, Y: ny})
			}
		}
	}
	return nil
}

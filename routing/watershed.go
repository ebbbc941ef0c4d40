package routing

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/geoflow/router/internal/geo"
	"github.com/geoflow/router/internal/rastermgr"
	"github.com/geoflow/router/internal/xlog"
)

// noWatershed is the scratch ws_id raster's nodata/unassigned sentinel.
const noWatershed = -1

// outflowSeed pairs a dense watershed id with the pixel it was
// rasterized onto.
type outflowSeed struct {
	ID   int64
	X, Y int
}

// watershedAssignment is the result of walking the reverse D8 flow graph
// from one outflow's seed pixel: every pixel claimed for wsID, plus the
// set of other, already-claimed watershed ids its flood touched but did
// not absorb — the fragments immediately upstream of this one.
type watershedAssignment struct {
	wsID   int64
	nested map[int64]struct{}
}

// findSeeds scans wsID once, in row-major order, recording the first
// pixel carrying each distinct positive id. A rasterized outflow whose
// point fell outside the raster bounds never appears and is silently
// dropped, which is how clipping falls out without separate bbox math.
// Returned seeds are sorted by id, which is also insertion order since
// ids were assigned 1..N in that order.
func findSeeds(wsID *rastermgr.ManagedRaster, w, h int) ([]outflowSeed, error) {
	seen := make(map[int64]outflowSeed)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v, err := wsID.Get(x, y)
			if err != nil {
				return nil, ioError("delineate_watersheds", err)
			}
			id := int64(v)
			if id == noWatershed {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = outflowSeed{ID: id, X: x, Y: y}
		}
	}
	seeds := make([]outflowSeed, 0, len(seen))
	for _, s := range seen {
		seeds = append(seeds, s)
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i].ID < seeds[j].ID })
	return seeds, nil
}

// delineateWatersheds walks the reverse D8 flow graph from each outflow
// seed in turn (in ascending id order), flooding every pixel that drains
// into the current fragment: a neighbour is absorbed when its own D8
// direction points back at the pixel that discovered it, or when
// rasterization already stamped it with the same id (a seed whose
// footprint spans more than one pixel). A neighbour carrying a
// different, already-assigned id is recorded as a nested upstream
// fragment but left untouched — downstream callers union a fragment with
// its nested set lazily, rather than this pass doing it eagerly, since
// the same fragment can be nested under more than one downstream
// outflow.
func delineateWatersheds(ctx context.Context, dir, wsID, mask *rastermgr.ManagedRaster, seeds []outflowSeed, log *xlog.Logger) ([]watershedAssignment, error) {
	w, h := dir.Size()
	assignments := make([]watershedAssignment, len(seeds))
	queue := newCoordQueue()

	for i, seed := range seeds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		assignments[i] = watershedAssignment{wsID: seed.ID, nested: make(map[int64]struct{})}

		mv, err := mask.Get(seed.X, seed.Y)
		if err != nil {
			return nil, ioError("delineate_watersheds", err)
		}
		if mv != 0 {
			// Already swept up by an earlier-processed, converging flood
			// that reached this same rasterized pixel first.
			continue
		}
		if err := mask.Set(seed.X, seed.Y, 1); err != nil {
			return nil, ioError("delineate_watersheds", err)
		}
		if err := wsID.Set(seed.X, seed.Y, float64(seed.ID)); err != nil {
			return nil, ioError("delineate_watersheds", err)
		}
		queue.Push(Coordinate{X: seed.X, Y: seed.Y})

		for queue.Len() > 0 {
			p := queue.Pop()
			for i8 := 0; i8 < geo.NumDirections; i8++ {
				nx, ny := geo.Neighbor(p.X, p.Y, i8)
				if !geo.InBounds(nx, ny, w, h) {
					continue
				}
				nmask, err := mask.Get(nx, ny)
				if err != nil {
					return nil, ioError("delineate_watersheds", err)
				}
				if nmask != 0 {
					continue
				}
				ndv, err := dir.Get(nx, ny)
				if err != nil {
					return nil, ioError("delineate_watersheds", err)
				}
				flowsIntoP := int(ndv) != noDirection && int(ndv) == geo.Reverse[i8]

				nws, err := wsID.Get(nx, ny)
				if err != nil {
					return nil, ioError("delineate_watersheds", err)
				}
				nwsID := int64(nws)

				if nwsID != noWatershed && nwsID != seed.ID {
					// Already rasterized as a different outflow's own seed
					// pixel: it marks the boundary of an upstream fragment,
					// never absorbed regardless of flow direction.
					assignments[i].nested[nwsID] = struct{}{}
					continue
				}
				if nwsID != seed.ID && !flowsIntoP {
					// Unclaimed territory that doesn't drain here.
					continue
				}
				if err := mask.Set(nx, ny, 1); err != nil {
					return nil, ioError("delineate_watersheds", err)
				}
				if err := wsID.Set(nx, ny, float64(seed.ID)); err != nil {
					return nil, ioError("delineate_watersheds", err)
				}
				queue.Push(Coordinate{X: nx, Y: ny})
			}
		}
	}
	return assignments, nil
}

// upstreamFragments renders a nested-id set as the sorted, comma-joined
// string persisted in the upstream_fragments output attribute.
func upstreamFragments(nested map[int64]struct{}) string {
	if len(nested) == 0 {
		return ""
	}
	ids := make([]int64, 0, len(nested))
	for id := range nested {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

package routing

import (
	"context"
	"time"

	"github.com/geoflow/router/internal/geo"
	"github.com/geoflow/router/internal/rastermgr"
	"github.com/geoflow/router/internal/xlog"
)

// distNoData is the persisted nodata sentinel for distance-to-channel
// output (no convention is spelled out for this raster beyond the other
// float64 outputs, so it follows flow accumulation's -1) and, as with
// accumulation, doubles as the "not yet computed" marker.
const distNoData = -1

// distanceToChannelD8 assigns every non-channel D8-routed pixel its
// downstream cost-weighted distance to the nearest channel pixel, via a
// multi-source BFS seeded at every channel cell. Because each pixel has
// exactly one D8 successor, the reversed graph explored here is a
// forest: no preemption/resumption is needed, a pixel's distance is
// always known before any of its upstream neighbours are visited.
func distanceToChannelD8(ctx context.Context, dir, channel, weight, out *rastermgr.ManagedRaster, log *xlog.Logger) error {
	w, h := dir.Size()
	progress := xlog.NewThrottled(log, 5*time.Second)
	queue := newCoordQueue()

	for y := 0; y < h; y++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		progress.Progress("distance_to_channel_d8 seeding", "row", y, "height", h)
		for x := 0; x < w; x++ {
			cv, err := channel.Get(x, y)
			if err != nil {
				return ioError("distance_to_channel_d8", err)
			}
			if cv != 0 {
				if err := out.Set(x, y, 0); err != nil {
					return ioError("distance_to_channel_d8", err)
				}
				queue.Push(Coordinate{X: x, Y: y})
				continue
			}
			if err := out.Set(x, y, distNoData); err != nil {
				return ioError("distance_to_channel_d8", err)
			}
		}
	}

	for queue.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := queue.Pop()
		pd, err := out.Get(p.X, p.Y)
		if err != nil {
			return ioError("distance_to_channel_d8", err)
		}
		for i := 0; i < geo.NumDirections; i++ {
			nx, ny := geo.Neighbor(p.X, p.Y, i)
			if !geo.InBounds(nx, ny, w, h) {
				continue
			}
			ndv, err := dir.Get(nx, ny)
			if err != nil {
				return ioError("distance_to_channel_d8", err)
			}
			if int(ndv) == noDirection || int(ndv) != geo.Reverse[i] {
				// n does not flow into p.
				continue
			}
			cv, err := channel.Get(nx, ny)
			if err != nil {
				return ioError("distance_to_channel_d8", err)
			}
			if cv != 0 {
				// Already seeded at 0; never overwritten.
				continue
			}
			nd, err := out.Get(nx, ny)
			if err != nil {
				return ioError("distance_to_channel_d8", err)
			}
			if nd != distNoData {
				continue
			}
			cost := geo.Cost(i)
			if weight != nil {
				wv, err := weight.Get(nx, ny)
				if err != nil {
					return ioError("distance_to_channel_d8", err)
				}
				cost = wv
			}
			if err := out.Set(nx, ny, pd+cost); err != nil {
				return ioError("distance_to_channel_d8", err)
			}
			queue.Push(Coordinate{X: nx, Y: ny})
		}
	}
	return nil
}

// distanceToChannelMFD assigns every non-channel, flow-defined pixel the
// fraction-weighted sum of (cost + downstream distance) over its MFD
// outflow directions, using the same explicit-stack preemption scheme as
// flow accumulation, walked downstream instead of upstream: a pixel's
// distance can't be committed until every downstream neighbour it
// outflows to has a resolved distance.
func distanceToChannelMFD(ctx context.Context, dir, channel, out *rastermgr.ManagedRaster, log *xlog.Logger) error {
	w, h := dir.Size()
	progress := xlog.NewThrottled(log, 5*time.Second)

	for y := 0; y < h; y++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		progress.Progress("distance_to_channel_mfd seeding", "row", y, "height", h)
		for x := 0; x < w; x++ {
			cv, err := channel.Get(x, y)
			if err != nil {
				return ioError("distance_to_channel_mfd", err)
			}
			if cv != 0 {
				if err := out.Set(x, y, 0); err != nil {
					return ioError("distance_to_channel_mfd", err)
				}
				continue
			}
			if err := out.Set(x, y, distNoData); err != nil {
				return ioError("distance_to_channel_mfd", err)
			}
		}
	}

	stack := newFrameStack()
	for y := 0; y < h; y++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for x := 0; x < w; x++ {
			cv, err := channel.Get(x, y)
			if err != nil {
				return ioError("distance_to_channel_mfd", err)
			}
			if cv != 0 {
				continue
			}
			cur, err := out.Get(x, y)
			if err != nil {
				return ioError("distance_to_channel_mfd", err)
			}
			if cur != distNoData {
				continue
			}
			stack.Push(FlowWalkFrame{X: x, Y: y, NextNeighbor: 0, Running: 0})
			if err := runDistanceMFD(stack, dir, channel, out, w, h); err != nil {
				return err
			}
		}
	}
	return nil
}

// runDistanceMFD drains stack to completion, the downstream-walk mirror
// of runAccumMFD: a neighbour landing off-raster or on an undefined
// (nodata/sink) cell contributes nothing to Running, a channel neighbour
// contributes its fraction of cost alone (distance 0), and a defined,
// unresolved interior neighbour preempts the current frame.
func runDistanceMFD(stack *frameStack, dir, channel, out *rastermgr.ManagedRaster, w, h int) error {
	for stack.Len() > 0 {
		frame := stack.Peek()
		dv, err := dir.Get(frame.X, frame.Y)
		if err != nil {
			return ioError("distance_to_channel_mfd", err)
		}
		mv := geo.MFDValue(uint32(dv))
		preempted := false
		for i := frame.NextNeighbor; i < geo.NumDirections; i++ {
			if mv.Weight(i) == 0 {
				continue
			}
			nx, ny := geo.Neighbor(frame.X, frame.Y, i)
			if !geo.InBounds(nx, ny, w, h) {
				continue
			}
			frac := mv.Fraction(i)
			cv, err := channel.Get(nx, ny)
			if err != nil {
				return ioError("distance_to_channel_mfd", err)
			}
			if cv != 0 {
				frame.Running += frac * geo.Cost(i)
				continue
			}
			ndv, err := dir.Get(nx, ny)
			if err != nil {
				return ioError("distance_to_channel_mfd", err)
			}
			if geo.MFDValue(uint32(ndv)).IsSink() {
				// Undefined downstream (nodata or no outflow): contributes
				// nothing.
				continue
			}
			nd, err := out.Get(nx, ny)
			if err != nil {
				return ioError("distance_to_channel_mfd", err)
			}
			if nd != distNoData {
				frame.Running += frac * (geo.Cost(i) + nd)
				continue
			}
			frame.NextNeighbor = i
			stack.Push(FlowWalkFrame{X: nx, Y: ny, NextNeighbor: 0, Running: 0})
			preempted = true
			break
		}
		if preempted {
			continue
		}
		done := stack.Pop()
		if err := out.Set(done.X, done.Y, done.Running); err != nil {
			return ioError("distance_to_channel_mfd", err)
		}
	}
	return nil
}

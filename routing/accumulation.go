package routing

import (
	"context"
	"time"

	"github.com/geoflow/router/internal/geo"
	"github.com/geoflow/router/internal/rastermgr"
	"github.com/geoflow/router/internal/xlog"
)

// accumNoData is the persisted nodata sentinel for flow-accumulation
// output, and also the "not yet computed" marker used internally: a
// pixel's accumulation is always >= its own weight (> 0 for a positive
// weight raster), so accumNoData can never arise as a legitimate result.
const accumNoData = -1

// flowAccumulationD8 computes accum(p) = w(p) + sum over upstream
// neighbours q of accum(q), for a D8 direction raster. dir carries
// uint8 D8 directions (0..7) with noDirection for nodata/undefined cells;
// weight is nil for a uniform weight of 1, otherwise a per-pixel weight
// raster; out is the float64 accumulation output.
func flowAccumulationD8(ctx context.Context, dir, weight, out *rastermgr.ManagedRaster, log *xlog.Logger) error {
	w, h := dir.Size()
	progress := xlog.NewThrottled(log, 5*time.Second)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if err := out.Set(x, y, accumNoData); err != nil {
				return ioError("flow_accumulation_d8", err)
			}
		}
	}

	stack := newFrameStack()
	for y := 0; y < h; y++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		progress.Progress("flow_accumulation_d8 scanning", "row", y, "height", h)
		for x := 0; x < w; x++ {
			dv, err := dir.Get(x, y)
			if err != nil {
				return ioError("flow_accumulation_d8", err)
			}
			isRoot := int(dv) == noDirection
			if !isRoot {
				isRoot, err = d8IsRoot(dir, x, y, int(dv), w, h)
				if err != nil {
					return err
				}
			}
			if !isRoot {
				continue
			}
			wv, err := pixelWeight(weight, x, y)
			if err != nil {
				return err
			}
			stack.Push(FlowWalkFrame{X: x, Y: y, NextNeighbor: 0, Running: wv})
			if err := runAccumD8(stack, dir, weight, out, w, h); err != nil {
				return err
			}
		}
	}
	return nil
}

// d8IsRoot reports whether (x, y)'s own outflow (the direction it was
// assigned) leaves the raster or lands on nodata, making it a root of
// the accumulation walk.
func d8IsRoot(dir *rastermgr.ManagedRaster, x, y, dirVal, w, h int) (bool, error) {
	nx, ny := geo.Neighbor(x, y, dirVal)
	if !geo.InBounds(nx, ny, w, h) {
		return true, nil
	}
	nv, err := dir.Get(nx, ny)
	if err != nil {
		return false, ioError("flow_accumulation_d8", err)
	}
	return int(nv) == noDirection, nil
}

func pixelWeight(weight *rastermgr.ManagedRaster, x, y int) (float64, error) {
	if weight == nil {
		return 1, nil
	}
	v, err := weight.Get(x, y)
	if err != nil {
		return 0, ioError("flow_accumulation_d8", err)
	}
	return v, nil
}

// runAccumD8 drains stack (already carrying one root frame) to
// completion using the explicit preemption/resumption scheme: a frame is
// only popped for good once every upstream neighbour feeding it has a
// committed accum() value.
func runAccumD8(stack *frameStack, dir, weight, out *rastermgr.ManagedRaster, w, h int) error {
	for stack.Len() > 0 {
		frame := stack.Peek()
		preempted := false
		for i := frame.NextNeighbor; i < geo.NumDirections; i++ {
			nx, ny := geo.Neighbor(frame.X, frame.Y, i)
			if !geo.InBounds(nx, ny, w, h) {
				continue
			}
			ndv, err := dir.Get(nx, ny)
			if err != nil {
				return ioError("flow_accumulation_d8", err)
			}
			if int(ndv) == noDirection || int(ndv) != geo.Reverse[i] {
				continue
			}
			acc, err := out.Get(nx, ny)
			if err != nil {
				return ioError("flow_accumulation_d8", err)
			}
			if acc != accumNoData {
				frame.Running += acc
				continue
			}
			frame.NextNeighbor = i
			wv, err := pixelWeight(weight, nx, ny)
			if err != nil {
				return err
			}
			stack.Push(FlowWalkFrame{X: nx, Y: ny, NextNeighbor: 0, Running: wv})
			preempted = true
			break
		}
		if preempted {
			continue
		}
		done := stack.Pop()
		if err := out.Set(done.X, done.Y, done.Running); err != nil {
			return ioError("flow_accumulation_d8", err)
		}
	}
	return nil
}

// flowAccumulationMFD is the MFD analogue of flowAccumulationD8: dir
// carries packed geo.MFDValue distributions, and a neighbour's
// contribution is weighted by its outflow fraction toward the current
// pixel rather than taken whole.
func flowAccumulationMFD(ctx context.Context, dir, weight, out *rastermgr.ManagedRaster, log *xlog.Logger) error {
	w, h := dir.Size()
	progress := xlog.NewThrottled(log, 5*time.Second)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if err := out.Set(x, y, accumNoData); err != nil {
				return ioError("flow_accumulation_mfd", err)
			}
		}
	}

	stack := newFrameStack()
	for y := 0; y < h; y++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		progress.Progress("flow_accumulation_mfd scanning", "row", y, "height", h)
		for x := 0; x < w; x++ {
			dv, err := dir.Get(x, y)
			if err != nil {
				return ioError("flow_accumulation_mfd", err)
			}
			// A sink (zero nibbles) has no outflow and is always a root;
			// MFD nodata is also 0, indistinguishable from a legitimate
			// no-downhill-neighbour cell, so every zero-valued pixel is
			// simply treated as a root.
			mv := geo.MFDValue(uint32(dv))
			isRoot, err := mfdIsRoot(dir, x, y, mv, w, h)
			if err != nil {
				return err
			}
			if !isRoot {
				continue
			}
			wv, err := pixelWeight(weight, x, y)
			if err != nil {
				return err
			}
			stack.Push(FlowWalkFrame{X: x, Y: y, NextNeighbor: 0, Running: wv})
			if err := runAccumMFD(stack, dir, weight, out, w, h); err != nil {
				return err
			}
		}
	}
	return nil
}

// mfdIsRoot reports whether (x, y) is a sink or every direction it
// weights points off the raster. In-raster neighbours are not inspected.
func mfdIsRoot(dir *rastermgr.ManagedRaster, x, y int, v geo.MFDValue, w, h int) (bool, error) {
	if v.IsSink() {
		return true, nil
	}
	for i := 0; i < geo.NumDirections; i++ {
		if v.Weight(i) == 0 {
			continue
		}
		nx, ny := geo.Neighbor(x, y, i)
		if !geo.InBounds(nx, ny, w, h) {
			continue
		}
		return false, nil
	}
	return true, nil
}

func runAccumMFD(stack *frameStack, dir, weight, out *rastermgr.ManagedRaster, w, h int) error {
	for stack.Len() > 0 {
		frame := stack.Peek()
		preempted := false
		for i := frame.NextNeighbor; i < geo.NumDirections; i++ {
			nx, ny := geo.Neighbor(frame.X, frame.Y, i)
			if !geo.InBounds(nx, ny, w, h) {
				continue
			}
			ndv, err := dir.Get(nx, ny)
			if err != nil {
				return ioError("flow_accumulation_mfd", err)
			}
			nmv := geo.MFDValue(uint32(ndv))
			if nmv.IsSink() {
				continue
			}
			rev := geo.Reverse[i]
			if nmv.Weight(rev) == 0 {
				continue
			}
			acc, err := out.Get(nx, ny)
			if err != nil {
				return ioError("flow_accumulation_mfd", err)
			}
			if acc != accumNoData {
				frame.Running += acc * nmv.Fraction(rev)
				continue
			}
			frame.NextNeighbor = i
			wv, err := pixelWeight(weight, nx, ny)
			if err != nil {
				return err
			}
			stack.Push(FlowWalkFrame{X: nx, Y: ny, NextNeighbor: 0, Running: wv})
			preempted = true
			break
		}
		if preempted {
			continue
		}
		done := stack.Pop()
		if err := out.Set(done.X, done.Y, done.Running); err != nil {
			return ioError("flow_accumulation_mfd", err)
		}
	}
	return nil
}

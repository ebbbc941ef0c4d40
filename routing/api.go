package routing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/geoflow/router/internal/rastermgr"
	"github.com/geoflow/router/internal/xlog"
	"github.com/geoflow/router/rasterio"
	"github.com/geoflow/router/vectorio"
)

// PathBand names one band of an on-disk raster — the unit every public
// entry point below reads or writes.
type PathBand struct {
	Path string
	Band int
}

// Validate reports whether pb names an existing file and a 1-based band
// index.
func (pb PathBand) Validate() error {
	if pb.Band < 1 {
		return invalidArgument("path_band", nil, "band must be >= 1, got "+strconv.Itoa(pb.Band))
	}
	if _, err := os.Stat(pb.Path); err != nil {
		return invalidArgument("path_band", err, "input path "+pb.Path)
	}
	return nil
}

// FillPits raises every undrained depression in the DEM named by demPath
// to its lowest pour point's elevation, writing the result to outPath.
func FillPits(ctx context.Context, opts Options, demPath, outPath PathBand) (err error) {
	const op = "fill_pits"
	if verr := demPath.Validate(); verr != nil {
		return verr
	}
	opts, cleanup, err := opts.normalize(op)
	if err != nil {
		return err
	}
	defer func() { finishCleanup(cleanup, &err) }()

	demDS, demMR, err := openInput(opts.RasterDriver, demPath, opts, op, false)
	if err != nil {
		return err
	}
	defer demDS.Close()

	nodata, hasNoData := demDS.NoData(demPath.Band)
	dtype := rasterio.Float64
	if t, ok := demDS.(rasterio.Typed); ok {
		dtype = t.DType(demPath.Band)
	}
	outMR, err := createOutputLike(opts.RasterDriver, outPath, demDS, dtype, nodata, hasNoData, opts, op)
	if err != nil {
		return err
	}
	if err = copyRaster(demMR, outMR); err != nil {
		return err
	}

	regionMR, err := openScratch(opts.RasterDriver, opts.ScratchDir, demDS, scratchSpec{name: "region", dtype: rasterio.Int32, fill: floatPtr(0)}, opts.CacheCapacity, opts.Logger)
	if err != nil {
		return err
	}
	pitMaskMR, err := openScratch(opts.RasterDriver, opts.ScratchDir, demDS, scratchSpec{name: "pitmask", dtype: rasterio.Byte, fill: floatPtr(0)}, opts.CacheCapacity, opts.Logger)
	if err != nil {
		return err
	}

	if err = fillPits(ctx, demMR, outMR, regionMR, pitMaskMR, opts.Logger); err != nil {
		return err
	}
	if err = outMR.Close(); err != nil {
		return ioError(op, err)
	}
	if err = regionMR.Close(); err != nil {
		return ioError(op, err)
	}
	if err = pitMaskMR.Close(); err != nil {
		return ioError(op, err)
	}
	return nil
}

// FlowDirD8 assigns every pixel of the (already pit-filled) DEM named by
// demPath one of the eight single-flow directions. As in FlowDirMFD and
// unlike the other entry points, a DEM whose block geometry isn't power-of-two is not a
// hard error here: it is logged as a warning and transparently copied to
// a scratch raster with compatible block geometry before routing.
func FlowDirD8(ctx context.Context, opts Options, demPath, outPath PathBand) (err error) {
	const op = "flow_dir_d8"
	if verr := demPath.Validate(); verr != nil {
		return verr
	}
	opts, cleanup, err := opts.normalize(op)
	if err != nil {
		return err
	}
	defer func() { finishCleanup(cleanup, &err) }()

	demDS, demMR, err := openInput(opts.RasterDriver, demPath, opts, op, true)
	if err != nil {
		return err
	}
	defer demDS.Close()

	outMR, err := createOutputLike(opts.RasterDriver, outPath, demDS, rasterio.Byte, noDirection, true, opts, op)
	if err != nil {
		return err
	}
	flatVisitedMR, err := openScratch(opts.RasterDriver, opts.ScratchDir, demDS, scratchSpec{name: "flat_visited", dtype: rasterio.Byte, fill: floatPtr(0)}, opts.CacheCapacity, opts.Logger)
	if err != nil {
		return err
	}
	w, h := demMR.Size()
	plateauDistMR, err := openScratch(opts.RasterDriver, opts.ScratchDir, demDS, scratchSpec{name: "plateau_dist", dtype: rasterio.Float64, fill: floatPtr(float64(w * h))}, opts.CacheCapacity, opts.Logger)
	if err != nil {
		return err
	}

	if err = flowDirD8(ctx, demMR, outMR, flatVisitedMR, plateauDistMR, opts.Logger); err != nil {
		return err
	}
	return closeManaged(op, outMR, flatVisitedMR, plateauDistMR)
}

// FlowAccumulationD8 accumulates upstream weight along a D8 direction
// raster produced by FlowDirD8. weightPath is optional; nil means every
// pixel contributes a weight of 1.
func FlowAccumulationD8(ctx context.Context, opts Options, dirPath PathBand, weightPath *PathBand, outPath PathBand) (err error) {
	const op = "flow_accumulation_d8"
	if verr := dirPath.Validate(); verr != nil {
		return verr
	}
	opts, cleanup, err := opts.normalize(op)
	if err != nil {
		return err
	}
	defer func() { finishCleanup(cleanup, &err) }()

	dirDS, dirMR, err := openInput(opts.RasterDriver, dirPath, opts, op, false)
	if err != nil {
		return err
	}
	defer dirDS.Close()

	weightMR, weightDS, err := openOptionalInput(opts.RasterDriver, weightPath, opts, op)
	if err != nil {
		return err
	}
	if weightDS != nil {
		defer weightDS.Close()
	}

	outMR, err := createOutputLike(opts.RasterDriver, outPath, dirDS, rasterio.Float64, accumNoData, true, opts, op)
	if err != nil {
		return err
	}
	if err = flowAccumulationD8(ctx, dirMR, weightMR, outMR, opts.Logger); err != nil {
		return err
	}
	return closeManaged(op, outMR)
}

// FlowDirMFD assigns every pixel of demPath its packed multiple-flow-
// direction distribution, with the same block-geometry leniency as
// FlowDirD8.
func FlowDirMFD(ctx context.Context, opts Options, demPath, outPath PathBand) (err error) {
	const op = "flow_dir_mfd"
	if verr := demPath.Validate(); verr != nil {
		return verr
	}
	opts, cleanup, err := opts.normalize(op)
	if err != nil {
		return err
	}
	defer func() { finishCleanup(cleanup, &err) }()

	demDS, demMR, err := openInput(opts.RasterDriver, demPath, opts, op, true)
	if err != nil {
		return err
	}
	defer demDS.Close()

	outMR, err := createOutputLike(opts.RasterDriver, outPath, demDS, rasterio.Int32, 0, true, opts, op)
	if err != nil {
		return err
	}
	flatVisitedMR, err := openScratch(opts.RasterDriver, opts.ScratchDir, demDS, scratchSpec{name: "flat_visited", dtype: rasterio.Byte, fill: floatPtr(0)}, opts.CacheCapacity, opts.Logger)
	if err != nil {
		return err
	}
	w, h := demMR.Size()
	plateauDistMR, err := openScratch(opts.RasterDriver, opts.ScratchDir, demDS, scratchSpec{name: "plateau_dist", dtype: rasterio.Float64, fill: floatPtr(float64(w * h))}, opts.CacheCapacity, opts.Logger)
	if err != nil {
		return err
	}

	if err = flowDirMFD(ctx, demMR, outMR, flatVisitedMR, plateauDistMR, opts.Logger); err != nil {
		return err
	}
	return closeManaged(op, outMR, flatVisitedMR, plateauDistMR)
}

// FlowAccumulationMFD is the MFD analogue of FlowAccumulationD8.
func FlowAccumulationMFD(ctx context.Context, opts Options, dirPath PathBand, weightPath *PathBand, outPath PathBand) (err error) {
	const op = "flow_accumulation_mfd"
	if verr := dirPath.Validate(); verr != nil {
		return verr
	}
	opts, cleanup, err := opts.normalize(op)
	if err != nil {
		return err
	}
	defer func() { finishCleanup(cleanup, &err) }()

	dirDS, dirMR, err := openInput(opts.RasterDriver, dirPath, opts, op, false)
	if err != nil {
		return err
	}
	defer dirDS.Close()

	weightMR, weightDS, err := openOptionalInput(opts.RasterDriver, weightPath, opts, op)
	if err != nil {
		return err
	}
	if weightDS != nil {
		defer weightDS.Close()
	}

	outMR, err := createOutputLike(opts.RasterDriver, outPath, dirDS, rasterio.Float64, accumNoData, true, opts, op)
	if err != nil {
		return err
	}
	if err = flowAccumulationMFD(ctx, dirMR, weightMR, outMR, opts.Logger); err != nil {
		return err
	}
	return closeManaged(op, outMR)
}

// DistanceToChannelD8 assigns every non-channel pixel its cost-weighted
// D8 distance to the nearest pixel of the channel mask named by
// channelPath. weightPath, if given, overrides the unit/diagonal hop
// cost with a per-pixel edge cost.
func DistanceToChannelD8(ctx context.Context, opts Options, dirPath, channelPath PathBand, weightPath *PathBand, outPath PathBand) (err error) {
	const op = "distance_to_channel_d8"
	if verr := dirPath.Validate(); verr != nil {
		return verr
	}
	if verr := channelPath.Validate(); verr != nil {
		return verr
	}
	opts, cleanup, err := opts.normalize(op)
	if err != nil {
		return err
	}
	defer func() { finishCleanup(cleanup, &err) }()

	dirDS, dirMR, err := openInput(opts.RasterDriver, dirPath, opts, op, false)
	if err != nil {
		return err
	}
	defer dirDS.Close()

	channelDS, channelMR, err := openInput(opts.RasterDriver, channelPath, opts, op, false)
	if err != nil {
		return err
	}
	defer channelDS.Close()

	weightMR, weightDS, err := openOptionalInput(opts.RasterDriver, weightPath, opts, op)
	if err != nil {
		return err
	}
	if weightDS != nil {
		defer weightDS.Close()
	}

	outMR, err := createOutputLike(opts.RasterDriver, outPath, dirDS, rasterio.Float64, distNoData, true, opts, op)
	if err != nil {
		return err
	}
	if err = distanceToChannelD8(ctx, dirMR, channelMR, weightMR, outMR, opts.Logger); err != nil {
		return err
	}
	return closeManaged(op, outMR)
}

// DistanceToChannelMFD is the MFD analogue of DistanceToChannelD8; it has
// no edge-cost override, since an MFD pixel's cost already blends across
// every one of its outflow directions.
func DistanceToChannelMFD(ctx context.Context, opts Options, dirPath, channelPath PathBand, outPath PathBand) (err error) {
	const op = "distance_to_channel_mfd"
	if verr := dirPath.Validate(); verr != nil {
		return verr
	}
	if verr := channelPath.Validate(); verr != nil {
		return verr
	}
	opts, cleanup, err := opts.normalize(op)
	if err != nil {
		return err
	}
	defer func() { finishCleanup(cleanup, &err) }()

	dirDS, dirMR, err := openInput(opts.RasterDriver, dirPath, opts, op, false)
	if err != nil {
		return err
	}
	defer dirDS.Close()

	channelDS, channelMR, err := openInput(opts.RasterDriver, channelPath, opts, op, false)
	if err != nil {
		return err
	}
	defer channelDS.Close()

	outMR, err := createOutputLike(opts.RasterDriver, outPath, dirDS, rasterio.Float64, distNoData, true, opts, op)
	if err != nil {
		return err
	}
	if err = distanceToChannelMFD(ctx, dirMR, channelMR, outMR, opts.Logger); err != nil {
		return err
	}
	return closeManaged(op, outMR)
}

// DelineateWatersheds computes, for every outflow point in outflowsPath's
// outflowsLayer, the catchment fragment that drains directly to it along
// dirPath, writing one polygon feature per fragment to outPath/outLayer
// with an upstream_fragments attribute listing the ids of any
// fragments nested immediately upstream.
func DelineateWatersheds(ctx context.Context, opts Options, dirPath PathBand, outflowsPath, outflowsLayer string, outPath, outLayer string) (err error) {
	const op = "delineate_watersheds"
	if verr := dirPath.Validate(); verr != nil {
		return verr
	}
	opts, cleanup, err := opts.normalize(op)
	if err != nil {
		return err
	}
	defer func() { finishCleanup(cleanup, &err) }()

	dirDS, dirMR, err := openInput(opts.RasterDriver, dirPath, opts, op, false)
	if err != nil {
		return err
	}
	defer dirDS.Close()

	outflows, err := opts.VectorDriver.OpenLayer(outflowsPath, outflowsLayer)
	if err != nil {
		return invalidArgument(op, err, "opening outflow layer")
	}
	defer outflows.Close()
	feats, err := outflows.Features()
	if err != nil {
		return ioError(op, err)
	}

	// Assign dense ids 1..N in insertion order, and stage the seeded
	// features (original geometry/attributes plus the id) in a scratch
	// layer so Rasterize can burn them without mutating the caller's
	// layer.
	seeded, err := opts.VectorDriver.CreateLayer(filepath.Join(opts.ScratchDir, "outflows_seeded.gpkg"), "outflows_seeded", outflows.SpatialRef(), vectorio.GeomPoint)
	if err != nil {
		return ioError(op, err)
	}
	if err = seeded.AddField("ws_id", vectorio.FieldInt); err != nil {
		return ioError(op, err)
	}
	byID := make(map[int64]vectorio.Feature, len(feats))
	for i, f := range feats {
		id := int64(i + 1)
		attrs := make(map[string]any, len(f.Attributes)+1)
		for k, v := range f.Attributes {
			attrs[k] = v
		}
		attrs["ws_id"] = id
		if err = seeded.Write(vectorio.Feature{Geometry: f.Geometry, Attributes: attrs}); err != nil {
			return ioError(op, err)
		}
		byID[id] = f
	}

	w, h := dirMR.Size()
	wsCreate := rasterio.DefaultCreateOptions(dirDS)
	wsCreate.DType = rasterio.Int32
	wsCreate.HasNoData = true
	wsCreate.NoData = noWatershed
	wsCreate.Fill = floatPtr(noWatershed)
	wsDS, err := opts.RasterDriver.Create(filepath.Join(opts.ScratchDir, "ws_id.tif"), wsCreate)
	if err != nil {
		return ioError(op, err)
	}
	defer wsDS.Close()
	if err = opts.VectorDriver.Rasterize(seeded, wsDS, 1, true, "ws_id"); err != nil {
		return ioError(op, err)
	}

	wsMR, err := rastermgr.Open(wsDS, 1, rasterio.ModeReadWrite, rastermgr.Options{CacheCapacity: opts.CacheCapacity, Logger: opts.Logger})
	if err != nil {
		return badBlockGeometry(op, err, "ws_id scratch raster")
	}
	maskMR, err := openScratch(opts.RasterDriver, opts.ScratchDir, dirDS, scratchSpec{name: "ws_mask", dtype: rasterio.Byte, fill: floatPtr(0)}, opts.CacheCapacity, opts.Logger)
	if err != nil {
		return err
	}

	seeds, err := findSeeds(wsMR, w, h)
	if err != nil {
		return err
	}
	assignments, err := delineateWatersheds(ctx, dirMR, wsMR, maskMR, seeds, opts.Logger)
	if err != nil {
		return err
	}
	if err = wsMR.Close(); err != nil {
		return ioError(op, err)
	}
	if err = maskMR.Close(); err != nil {
		return ioError(op, err)
	}

	maskDS, err := opts.RasterDriver.Open(filepath.Join(opts.ScratchDir, "ws_mask.tif"), rasterio.ModeRead)
	if err != nil {
		return ioError(op, err)
	}
	defer maskDS.Close()
	polygons, err := opts.VectorDriver.Polygonize(wsDS, 1, maskDS, 1)
	if err != nil {
		return ioError(op, err)
	}

	nestedByID := make(map[int64]map[int64]struct{}, len(assignments))
	for _, a := range assignments {
		nestedByID[a.wsID] = a.nested
	}

	out, err := opts.VectorDriver.CreateLayer(outPath, outLayer, outflows.SpatialRef(), vectorio.GeomPolygon)
	if err != nil {
		return ioError(op, err)
	}
	if ferr := declareAttributeFields(out, byID); ferr != nil {
		return ferr
	}
	if ferr := out.AddField("upstream_fragments", vectorio.FieldString); ferr != nil {
		return ioError(op, ferr)
	}
	if ferr := out.AddField("ws_id", vectorio.FieldInt); ferr != nil {
		return ioError(op, ferr)
	}
	for _, poly := range polygons {
		src, ok := byID[poly.Label]
		if !ok {
			continue
		}
		attrs := make(map[string]any, len(src.Attributes)+2)
		for k, v := range src.Attributes {
			attrs[k] = v
		}
		attrs["ws_id"] = poly.Label
		attrs["upstream_fragments"] = upstreamFragments(nestedByID[poly.Label])
		feature := vectorio.Feature{
			Geometry:   vectorio.Geometry{Type: vectorio.GeomPolygon, Rings: poly.Rings},
			Attributes: attrs,
		}
		if werr := out.Write(feature); werr != nil {
			return ioError(op, werr)
		}
	}
	return out.Close()
}

// declareAttributeFields adds one output field per distinct attribute
// key found across byID's source features, inferring its type from the
// first value observed.
func declareAttributeFields(out vectorio.WritableLayer, byID map[int64]vectorio.Feature) error {
	declared := make(map[string]bool)
	ids := make([]int64, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	for _, id := range ids {
		for k, v := range byID[id].Attributes {
			if declared[k] {
				continue
			}
			declared[k] = true
			if err := out.AddField(k, inferFieldType(v)); err != nil {
				return ioError("delineate_watersheds", err)
			}
		}
	}
	return nil
}

func inferFieldType(v any) vectorio.FieldType {
	switch v.(type) {
	case int, int64:
		return vectorio.FieldInt
	case float32, float64:
		return vectorio.FieldReal
	default:
		return vectorio.FieldString
	}
}

// openInput opens path's raster and wraps it as a read-only ManagedRaster.
// When allowRewrite is set (only true for the DEM input of the
// flow-direction engines) and the dataset's block geometry is not
// power-of-two, the dataset is transparently copied to a scratch raster
// with compatible geometry instead of failing.
func openInput(driver rasterio.Driver, pb PathBand, opts Options, op string, allowRewrite bool) (rasterio.Dataset, *rastermgr.ManagedRaster, error) {
	ds, err := driver.Open(pb.Path, rasterio.ModeRead)
	if err != nil {
		return nil, nil, invalidArgument(op, err, "opening "+pb.Path)
	}
	mr, err := rastermgr.Open(ds, pb.Band, rasterio.ModeRead, rastermgr.Options{CacheCapacity: opts.CacheCapacity, Logger: opts.Logger})
	if err == nil {
		return ds, mr, nil
	}
	if !errors.Is(err, rastermgr.ErrBadBlockGeometry) {
		ds.Close()
		return nil, nil, ioError(op, err)
	}
	if !allowRewrite {
		ds.Close()
		return nil, nil, badBlockGeometry(op, err, pb.Path)
	}
	opts.Logger.Warn("input block geometry is not power-of-two, rewriting a scratch copy", "op", op, "path", pb.Path)
	rewritten, rerr := rewriteBlockGeometry(driver, opts, ds, pb.Band, op)
	ds.Close()
	if rerr != nil {
		return nil, nil, rerr
	}
	mr, err = rastermgr.Open(rewritten, pb.Band, rasterio.ModeRead, rastermgr.Options{CacheCapacity: opts.CacheCapacity, Logger: opts.Logger})
	if err != nil {
		rewritten.Close()
		return nil, nil, badBlockGeometry(op, err, "rewritten copy still has incompatible block geometry")
	}
	return rewritten, mr, nil
}

// openOptionalInput opens pb's raster if non-nil, returning (nil, nil, nil)
// otherwise — the shape every weight-raster parameter needs.
func openOptionalInput(driver rasterio.Driver, pb *PathBand, opts Options, op string) (*rastermgr.ManagedRaster, rasterio.Dataset, error) {
	if pb == nil {
		return nil, nil, nil
	}
	if verr := pb.Validate(); verr != nil {
		return nil, nil, verr
	}
	ds, mr, err := openInput(driver, *pb, opts, op, false)
	if err != nil {
		return nil, nil, err
	}
	return mr, ds, nil
}

// rewriteBlockGeometry copies ds's single band into a freshly created
// scratch raster using the library's default (power-of-two) tiling.
func rewriteBlockGeometry(driver rasterio.Driver, opts Options, ds rasterio.Dataset, band int, op string) (rasterio.Dataset, error) {
	path := filepath.Join(opts.ScratchDir, fmt.Sprintf("rewritten-input-b%d.tif", band))
	create := rasterio.DefaultCreateOptions(ds)
	nodata, hasNoData := ds.NoData(band)
	create.HasNoData = hasNoData
	create.NoData = nodata
	if t, ok := ds.(rasterio.Typed); ok {
		create.DType = t.DType(band)
	}
	out, err := driver.Create(path, create)
	if err != nil {
		return nil, ioError(op, err)
	}
	w, h := ds.Size()
	buf := make([]float64, w*h)
	if err := ds.ReadWindow(band, 0, 0, w, h, buf); err != nil {
		out.Close()
		return nil, ioError(op, err)
	}
	if err := out.WriteWindow(band, 0, 0, w, h, buf); err != nil {
		out.Close()
		return nil, ioError(op, err)
	}
	return out, nil
}

// createOutputLike creates pb's raster shaped like "like" (size, block
// size, geotransform, projection) but with its own explicit dtype and
// opens it read-write.
func createOutputLike(driver rasterio.Driver, pb PathBand, like rasterio.Dataset, dtype rasterio.DType, nodata float64, hasNoData bool, opts Options, op string) (*rastermgr.ManagedRaster, error) {
	create := rasterio.DefaultCreateOptions(like)
	create.DType = dtype
	create.HasNoData = hasNoData
	create.NoData = nodata
	ds, err := driver.Create(pb.Path, create)
	if err != nil {
		return nil, ioError(op, err)
	}
	mr, err := rastermgr.Open(ds, pb.Band, rasterio.ModeReadWrite, rastermgr.Options{CacheCapacity: opts.CacheCapacity, Logger: opts.Logger})
	if err != nil {
		ds.Close()
		return nil, badBlockGeometry(op, err, pb.Path)
	}
	return mr, nil
}

// copyRaster copies every pixel of src into dst, which must already be
// sized and typed to match.
func copyRaster(src, dst *rastermgr.ManagedRaster) error {
	w, h := src.Size()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v, err := src.Get(x, y)
			if err != nil {
				return ioError("copy_raster", err)
			}
			if err := dst.Set(x, y, v); err != nil {
				return ioError("copy_raster", err)
			}
		}
	}
	return nil
}

// closeManaged closes every raster in order, returning the first error
// (still closing the rest) so a flush failure on one scratch raster
// doesn't leak the others.
func closeManaged(op string, rasters ...*rastermgr.ManagedRaster) error {
	var first error
	for _, r := range rasters {
		if cerr := r.Close(); cerr != nil && first == nil {
			first = ioError(op, cerr)
		}
	}
	return first
}

// finishCleanup runs cleanup with the operation's outcome and folds a
// cleanup failure into *err only if the operation itself otherwise
// succeeded, so a real failure is never masked by a scratch-directory
// removal error.
func finishCleanup(cleanup func(failed bool) error, err *error) {
	if cerr := cleanup(*err != nil); cerr != nil && *err == nil {
		*err = cerr
	}
}

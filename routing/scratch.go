package routing

import (
	"path/filepath"

	"github.com/geoflow/router/internal/rastermgr"
	"github.com/geoflow/router/internal/xlog"
	"github.com/geoflow/router/rasterio"
)

// scratchSpec describes one out-of-core scratch raster an algorithm needs
// for its own bookkeeping (flat-region masks, plateau distance, visited
// masks, ...). Scratch rasters are block-cached ManagedRasters created in
// the invocation's scratch directory, not plain Go slices, so a DEM too
// large to fit in memory never forces its auxiliary arrays to fit either.
type scratchSpec struct {
	name      string
	dtype     rasterio.DType
	nodata    float64
	hasNoData bool
	fill      *float64
}

// openScratch creates a new dataset shaped like "like" (same size, block
// size, geotransform, projection) under scratchDir and opens it as a
// ManagedRaster in read-write mode.
func openScratch(driver rasterio.Driver, scratchDir string, like rasterio.Dataset, spec scratchSpec, cacheCapacity int, log *xlog.Logger) (*rastermgr.ManagedRaster, error) {
	path := filepath.Join(scratchDir, spec.name+".tif")
	opts := rasterio.DefaultCreateOptions(like)
	opts.DType = spec.dtype
	opts.HasNoData = spec.hasNoData
	opts.NoData = spec.nodata
	opts.Fill = spec.fill
	bw, bh := like.BlockSize()
	opts.BlockWidth, opts.BlockHeight = bw, bh

	ds, err := driver.Create(path, opts)
	if err != nil {
		return nil, ioError("openScratch", err)
	}
	mr, err := rastermgr.Open(ds, 1, rasterio.ModeReadWrite, rastermgr.Options{
		CacheCapacity: cacheCapacity,
		Logger:        log,
	})
	if err != nil {
		ds.Close()
		return nil, badBlockGeometry("openScratch", err, "scratch raster "+spec.name)
	}
	return mr, nil
}

func floatPtr(v float64) *float64 { return &v }

package routing

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/geoflow/router/internal/xlog"
	"github.com/geoflow/router/rasterio"
	"github.com/geoflow/router/rasterio/godaladapter"
	"github.com/geoflow/router/vectorio"
	vgodal "github.com/geoflow/router/vectorio/godaladapter"
)

// Options configures one invocation of a public entry point: cache
// sizing, scratch-directory policy, logging, and the raster/vector
// driver to use (defaulting to the real GDAL/OGR-backed adapters).
type Options struct {
	// CacheCapacity is the tile cache size in blocks.
	CacheCapacity int
	// ScratchDir, if empty, is allocated under os.TempDir() with a
	// unique per-invocation name.
	ScratchDir string
	// KeepScratchOnFailure controls whether the scratch directory is
	// retained for debugging on error, or removed as on success.
	KeepScratchOnFailure bool
	Logger               *xlog.Logger
	RasterDriver         rasterio.Driver
	VectorDriver         vectorio.Driver
}

// DefaultOptions returns sane defaults backed by production drivers.
func DefaultOptions() Options {
	return Options{
		CacheCapacity: 64,
		RasterDriver:  godaladapter.NewDriver(),
		VectorDriver:  vgodal.NewDriver(),
		Logger:        xlog.Default(),
	}
}

// normalize fills in any zero-valued fields with defaults and allocates a
// fresh scratch directory if one was not supplied. The returned cleanup
// function removes the scratch directory unless keepScratch is set and
// the operation failed; callers invoke it via defer with the operation's
// named error result.
func (o Options) normalize(op string) (Options, func(failed bool) error, error) {
	if o.CacheCapacity <= 0 {
		o.CacheCapacity = 64
	}
	if o.RasterDriver == nil {
		o.RasterDriver = godaladapter.NewDriver()
	}
	if o.VectorDriver == nil {
		o.VectorDriver = vgodal.NewDriver()
	}
	if o.Logger == nil {
		o.Logger = xlog.Default()
	}
	if o.ScratchDir == "" {
		o.ScratchDir = filepath.Join(os.TempDir(), "geoflow-"+uuid.NewString())
	}
	if err := os.MkdirAll(o.ScratchDir, 0o755); err != nil {
		return o, nil, invalidArgument(op, err, "creating scratch directory")
	}
	scratch := o.ScratchDir
	keep := o.KeepScratchOnFailure
	cleanup := func(failed bool) error {
		if failed && keep {
			o.Logger.Warn("retaining scratch directory after failure", "op", op, "dir", scratch)
			return nil
		}
		return os.RemoveAll(scratch)
	}
	return o, cleanup, nil
}

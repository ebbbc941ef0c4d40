// Package rasterio defines the raster I/O collaborator's contract: tile
// reads/writes, nodata, geotransform, projection and creation. This
// boundary is deliberately out of the routing core's scope — the
// production implementation lives in rasterio/godaladapter and talks to
// GDAL; rasterio/memdataset is the in-process stand-in used by every test
// in this module.
package rasterio

import "errors"

// Mode selects whether a dataset is opened for reading only or for
// reading and writing.
type Mode int

const (
	ModeRead Mode = iota
	ModeReadWrite
)

// DType identifies the on-disk pixel type of a band. The managed raster
// layer (internal/rastermgr) always works in float64 and writes float64
// windows; converting them to DType is up to the Dataset implementation.
type DType int

const (
	Float64 DType = iota
	Float32
	Int32
	Int16
	Byte
)

// Window is a tile-aligned rectangle, as yielded by Dataset.TileWindows.
type Window struct {
	XOff, YOff int
	Win        int // block width
	Hin        int // block height
}

// ErrOutOfRange reports a requested rectangle that is not entirely within
// [0,W)x[0,H). Neither Dataset implementation in this module returns it:
// memdataset reads 0 for, and skips writes to, pixels outside the raster.
var ErrOutOfRange = errors.New("rasterio: window out of dataset bounds")

// Dataset is a single opened raster, scoped to one band for the purposes
// of NoData/DType but exposing metadata for all bands via BandCount.
type Dataset interface {
	// Size returns the raster's width and height in pixels.
	Size() (w, h int)
	// BlockSize returns the on-disk tile size.
	BlockSize() (bw, bh int)
	// NoData returns the nodata sentinel for the given 1-based band, and
	// whether the band defines one at all.
	NoData(band int) (float64, bool)
	// BandCount returns the number of bands in the dataset.
	BandCount() int
	// GeoTransform returns the six-element affine georeferencing tuple.
	GeoTransform() [6]float64
	// Projection returns the spatial reference as WKT.
	Projection() string
	// Bounds returns the raster's extent in georeferenced coordinates.
	Bounds() (minX, minY, maxX, maxY float64)
	// ReadWindow reads the rectangle [xoff,xoff+w)x[yoff,yoff+h), clipped
	// to dataset bounds by the caller, into dst (row-major, len==w*h).
	ReadWindow(band, xoff, yoff, w, h int, dst []float64) error
	// WriteWindow writes src (row-major, len==w*h) into the rectangle
	// [xoff,xoff+w)x[yoff,yoff+h).
	WriteWindow(band, xoff, yoff, w, h int, src []float64) error
	// TileWindows enumerates the dataset's block grid in row-major order.
	TileWindows() []Window
	// Close releases any resources; idempotent.
	Close() error
}

// CreateOptions parametrizes Create: tiled layout, block size, a lossless
// compression scheme, and big-file support.
type CreateOptions struct {
	Like        Dataset // copy size/geotransform/projection/band count from
	NoData      float64
	HasNoData   bool
	Fill        *float64
	DType       DType
	Tiled       bool
	BlockWidth  int
	BlockHeight int
	Compression string
	BigTIFF     bool
}

// DefaultCreateOptions returns sane defaults: 256x256 tiles, lossless
// ZSTD compression, BigTIFF enabled.
func DefaultCreateOptions(like Dataset) CreateOptions {
	return CreateOptions{
		Like:        like,
		DType:       Float64,
		Tiled:       true,
		BlockWidth:  1 << 8,
		BlockHeight: 1 << 8,
		Compression: "ZSTD",
		BigTIFF:     true,
	}
}

// Typed is an optional capability: a Dataset that can report its native
// on-disk pixel type, so callers that need to preserve it on output can
// do so without the rasterio.Dataset interface itself needing to carry
// DType for every implementation (memdataset implements it; the godal
// adapter does not, so its datasets report no native type; nothing in the
// core requires it).
type Typed interface {
	DType(band int) DType
}

// Driver abstracts dataset creation/opening so routing code can be handed
// either the godal-backed driver or memdataset's driver without an import
// on either concrete package.
type Driver interface {
	Open(path string, mode Mode) (Dataset, error)
	Create(path string, opts CreateOptions) (Dataset, error)
}

// Package godaladapter is the production rasterio.Driver, backed by
// github.com/airbusgeo/godal — the one real GDAL/OGR binding present in
// the retrieval pack. It is the only place in the module that imports
// cgo-backed GDAL; everything above the rasterio.Dataset interface is
// oblivious to it.
package godaladapter

import (
	"fmt"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/geoflow/router/rasterio"
)

var registerOnce sync.Once

func ensureRegistered() {
	registerOnce.Do(godal.RegisterAll)
}

// Driver implements rasterio.Driver by opening/creating real GDAL
// datasets on disk.
type Driver struct{}

// NewDriver returns the GDAL-backed production driver.
func NewDriver() *Driver {
	ensureRegistered()
	return &Driver{}
}

var _ rasterio.Driver = (*Driver)(nil)

func (Driver) Open(path string, mode rasterio.Mode) (rasterio.Dataset, error) {
	ensureRegistered()
	var opts []godal.OpenOption
	if mode == rasterio.ModeReadWrite {
		opts = append(opts, godal.Update())
	}
	ds, err := godal.Open(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("godaladapter: open %s: %w", path, err)
	}
	return &dataset{ds: ds}, nil
}

func dtypeOf(t rasterio.DType) godal.DataType {
	switch t {
	case rasterio.Float32:
		return godal.Float32
	case rasterio.Int32:
		return godal.Int32
	case rasterio.Int16:
		return godal.Int16
	case rasterio.Byte:
		return godal.Byte
	default:
		return godal.Float64
	}
}

func (Driver) Create(path string, opts rasterio.CreateOptions) (rasterio.Dataset, error) {
	ensureRegistered()
	if opts.Like == nil {
		return nil, fmt.Errorf("godaladapter: Create requires CreateOptions.Like")
	}
	w, h := opts.Like.Size()
	bw, bh := opts.BlockWidth, opts.BlockHeight
	if bw == 0 {
		bw, bh = 1<<8, 1<<8
	}
	compression := opts.Compression
	if compression == "" {
		compression = "ZSTD"
	}
	creationOpts := []string{
		fmt.Sprintf("BLOCKXSIZE=%d", bw),
		fmt.Sprintf("BLOCKYSIZE=%d", bh),
		fmt.Sprintf("COMPRESS=%s", compression),
	}
	if opts.Tiled {
		creationOpts = append(creationOpts, "TILED=YES")
	}
	if opts.BigTIFF {
		creationOpts = append(creationOpts, "BIGTIFF=IF_SAFER")
	}
	ds, err := godal.Create(godal.GTiff, path, opts.Like.BandCount(), dtypeOf(opts.DType), w, h,
		godal.CreationOption(creationOpts...))
	if err != nil {
		return nil, fmt.Errorf("godaladapter: create %s: %w", path, err)
	}
	if err := ds.SetGeoTransform(opts.Like.GeoTransform()); err != nil {
		ds.Close()
		return nil, fmt.Errorf("godaladapter: set geotransform: %w", err)
	}
	if err := ds.SetProjection(opts.Like.Projection()); err != nil {
		ds.Close()
		return nil, fmt.Errorf("godaladapter: set projection: %w", err)
	}
	bands := ds.Bands()
	if opts.HasNoData {
		for _, b := range bands {
			if err := b.SetNoData(opts.NoData); err != nil {
				ds.Close()
				return nil, fmt.Errorf("godaladapter: set nodata: %w", err)
			}
		}
	}
	if opts.Fill != nil {
		fillBuf := make([]float64, w*h)
		for i := range fillBuf {
			fillBuf[i] = *opts.Fill
		}
		for _, b := range bands {
			if err := b.Write(0, 0, fillBuf, w, h); err != nil {
				ds.Close()
				return nil, fmt.Errorf("godaladapter: fill band: %w", err)
			}
		}
	}
	return &dataset{ds: ds}, nil
}

// dataset adapts a *godal.Dataset to rasterio.Dataset.
type dataset struct {
	ds *godal.Dataset
}

var _ rasterio.Dataset = (*dataset)(nil)

func (d *dataset) Size() (int, int) {
	s := d.ds.Structure()
	return s.SizeX, s.SizeY
}

func (d *dataset) BlockSize() (int, int) {
	bands := d.ds.Bands()
	if len(bands) == 0 {
		return 1 << 8, 1 << 8
	}
	s := bands[0].Structure()
	return s.BlockSizeX, s.BlockSizeY
}

func (d *dataset) NoData(band int) (float64, bool) {
	bands := d.ds.Bands()
	if band < 1 || band > len(bands) {
		return 0, false
	}
	nd, ok := bands[band-1].NoData()
	return nd, ok
}

func (d *dataset) BandCount() int { return len(d.ds.Bands()) }

func (d *dataset) GeoTransform() [6]float64 {
	gt, err := d.ds.GeoTransform()
	if err != nil {
		return [6]float64{0, 1, 0, 0, 0, -1}
	}
	return gt
}

func (d *dataset) Projection() string { return d.ds.Projection() }

func (d *dataset) Bounds() (minX, minY, maxX, maxY float64) {
	gt := d.GeoTransform()
	w, h := d.Size()
	minX = gt[0]
	maxY = gt[3]
	maxX = gt[0] + float64(w)*gt[1]
	minY = gt[3] + float64(h)*gt[5]
	if minY > maxY {
		minY, maxY = maxY, minY
	}
	return
}

func (d *dataset) band(n int) (godal.Band, error) {
	bands := d.ds.Bands()
	if n < 1 || n > len(bands) {
		return godal.Band{}, fmt.Errorf("godaladapter: band %d out of range (have %d)", n, len(bands))
	}
	return bands[n-1], nil
}

func (d *dataset) ReadWindow(bandN, xoff, yoff, w, h int, dst []float64) error {
	b, err := d.band(bandN)
	if err != nil {
		return err
	}
	return b.Read(xoff, yoff, dst, w, h)
}

func (d *dataset) WriteWindow(bandN, xoff, yoff, w, h int, src []float64) error {
	b, err := d.band(bandN)
	if err != nil {
		return err
	}
	return b.Write(xoff, yoff, src, w, h)
}

func (d *dataset) TileWindows() []rasterio.Window {
	bands := d.ds.Bands()
	if len(bands) == 0 {
		return nil
	}
	structure := bands[0].Structure()
	var wins []rasterio.Window
	for blk, ok := structure.FirstBlock(), true; ok; blk, ok = blk.Next() {
		wins = append(wins, rasterio.Window{XOff: blk.X0, YOff: blk.Y0, Win: blk.W, Hin: blk.H})
	}
	return wins
}

func (d *dataset) Close() error { return d.ds.Close() }

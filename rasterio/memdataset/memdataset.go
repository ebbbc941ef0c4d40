// Package memdataset is an in-process rasterio.Dataset backed by a plain
// []float64 slice. It is the test substrate for the whole module: every
// routing and rastermgr test constructs a dataset this way instead of
// shelling out to GDAL, treating raster I/O as an external collaborator
// the core only depends on through an interface.
package memdataset

import (
	"fmt"

	"github.com/geoflow/router/rasterio"
)

// Dataset is a single-band (or multi-band, sharing one buffer per band)
// in-memory raster.
type Dataset struct {
	w, h       int
	bw, bh     int
	dtype      rasterio.DType
	bands      [][]float64 // one flat row-major buffer per band
	nodata     []float64
	hasNoData  []bool
	geotransform [6]float64
	projection string
}

var _ rasterio.Dataset = (*Dataset)(nil)

// New creates a dataset with the given size, block size and band count.
// All bands are initialized to zero.
func New(w, h, bw, bh, bands int) *Dataset {
	d := &Dataset{
		w: w, h: h, bw: bw, bh: bh,
		dtype:     rasterio.Float64,
		bands:     make([][]float64, bands),
		nodata:    make([]float64, bands),
		hasNoData: make([]bool, bands),
	}
	for i := range d.bands {
		d.bands[i] = make([]float64, w*h)
	}
	return d
}

// FromRows builds a single-band dataset from a row-major literal grid,
// convenient for small literal test scenarios.
func FromRows(rows [][]float64, bw, bh int) *Dataset {
	h := len(rows)
	w := 0
	if h > 0 {
		w = len(rows[0])
	}
	d := New(w, h, bw, bh, 1)
	for y, row := range rows {
		copy(d.bands[0][y*w:y*w+w], row)
	}
	return d
}

// SetNoData sets the nodata sentinel for a 1-based band.
func (d *Dataset) SetNoData(band int, v float64) {
	d.nodata[band-1] = v
	d.hasNoData[band-1] = true
}

// SetGeoTransform overrides the default identity geotransform.
func (d *Dataset) SetGeoTransform(gt [6]float64) { d.geotransform = gt }

// SetProjection overrides the default empty projection WKT.
func (d *Dataset) SetProjection(wkt string) { d.projection = wkt }

func (d *Dataset) Size() (int, int)      { return d.w, d.h }
func (d *Dataset) BlockSize() (int, int) { return d.bw, d.bh }
func (d *Dataset) BandCount() int        { return len(d.bands) }

func (d *Dataset) NoData(band int) (float64, bool) {
	i := band - 1
	if i < 0 || i >= len(d.bands) {
		return 0, false
	}
	return d.nodata[i], d.hasNoData[i]
}

func (d *Dataset) GeoTransform() [6]float64 { return d.geotransform }
func (d *Dataset) Projection() string       { return d.projection }

// DType implements rasterio.Typed so callers that care about preserving
// a dataset's native pixel type on output (e.g. a filled DEM written
// back with the same dtype as its input) can recover it.
func (d *Dataset) DType(int) rasterio.DType { return d.dtype }

// SetDType overrides the dataset's reported native pixel type.
func (d *Dataset) SetDType(t rasterio.DType) { d.dtype = t }

func (d *Dataset) Bounds() (minX, minY, maxX, maxY float64) {
	gt := d.geotransform
	minX = gt[0]
	maxY = gt[3]
	maxX = gt[0] + float64(d.w)*gt[1]
	minY = gt[3] + float64(d.h)*gt[5]
	if minY > maxY {
		minY, maxY = maxY, minY
	}
	return
}

func (d *Dataset) bandBuf(band int) ([]float64, error) {
	i := band - 1
	if i < 0 || i >= len(d.bands) {
		return nil, fmt.Errorf("memdataset: band %d out of range (have %d)", band, len(d.bands))
	}
	return d.bands[i], nil
}

func (d *Dataset) ReadWindow(band, xoff, yoff, w, h int, dst []float64) error {
	buf, err := d.bandBuf(band)
	if err != nil {
		return err
	}
	if len(dst) != w*h {
		return fmt.Errorf("memdataset: dst length %d != %d", len(dst), w*h)
	}
	for row := 0; row < h; row++ {
		sy := yoff + row
		for col := 0; col < w; col++ {
			sx := xoff + col
			idx := row*w + col
			if sx < 0 || sy < 0 || sx >= d.w || sy >= d.h {
				dst[idx] = 0
				continue
			}
			dst[idx] = buf[sy*d.w+sx]
		}
	}
	return nil
}

func (d *Dataset) WriteWindow(band, xoff, yoff, w, h int, src []float64) error {
	buf, err := d.bandBuf(band)
	if err != nil {
		return err
	}
	if len(src) != w*h {
		return fmt.Errorf("memdataset: src length %d != %d", len(src), w*h)
	}
	for row := 0; row < h; row++ {
		sy := yoff + row
		if sy < 0 || sy >= d.h {
			continue
		}
		for col := 0; col < w; col++ {
			sx := xoff + col
			if sx < 0 || sx >= d.w {
				continue
			}
			buf[sy*d.w+sx] = src[row*w+col]
		}
	}
	return nil
}

func (d *Dataset) TileWindows() []rasterio.Window {
	var wins []rasterio.Window
	for yoff := 0; yoff < d.h; yoff += d.bh {
		hs := d.bh
		if yoff+hs > d.h {
			hs = d.h - yoff
		}
		for xoff := 0; xoff < d.w; xoff += d.bw {
			ws := d.bw
			if xoff+ws > d.w {
				ws = d.w - xoff
			}
			wins = append(wins, rasterio.Window{XOff: xoff, YOff: yoff, Win: ws, Hin: hs})
		}
	}
	return wins
}

func (d *Dataset) Close() error { return nil }

// Row returns a copy of the given row of the given band, for test
// assertions.
func (d *Dataset) Row(band, y int) []float64 {
	buf, err := d.bandBuf(band)
	if err != nil {
		return nil
	}
	out := make([]float64, d.w)
	copy(out, buf[y*d.w:y*d.w+d.w])
	return out
}

// Get returns a single pixel value directly, for test assertions.
func (d *Dataset) Get(band, x, y int) float64 {
	buf, _ := d.bandBuf(band)
	return buf[y*d.w+x]
}

// driver is a bare path->*Dataset map with no methods and no users;
// DriverRegistry below is the rasterio.Driver implementation.
type driver struct {
	files map[string]*Dataset
}

// NewDriver returns a rasterio.Driver backed by an in-memory registry.
// Register datasets under a path with DriverRegistry.Register before Open is
// called; Create allocates a fresh dataset and registers it.
func NewDriver() *DriverRegistry {
	return &DriverRegistry{files: make(map[string]*Dataset)}
}

// DriverRegistry implements rasterio.Driver over a path -> *Dataset map.
type DriverRegistry struct {
	files map[string]*Dataset
}

var _ rasterio.Driver = (*DriverRegistry)(nil)

// Register makes ds available for Open under path.
func (r *DriverRegistry) Register(path string, ds *Dataset) { r.files[path] = ds }

func (r *DriverRegistry) Open(path string, _ rasterio.Mode) (rasterio.Dataset, error) {
	ds, ok := r.files[path]
	if !ok {
		return nil, fmt.Errorf("memdataset: no such path %q", path)
	}
	return ds, nil
}

func (r *DriverRegistry) Create(path string, opts rasterio.CreateOptions) (rasterio.Dataset, error) {
	if opts.Like == nil {
		return nil, fmt.Errorf("memdataset: Create requires CreateOptions.Like")
	}
	w, h := opts.Like.Size()
	bw, bh := opts.BlockWidth, opts.BlockHeight
	if bw == 0 {
		bw, bh = opts.Like.BlockSize()
	}
	ds := New(w, h, bw, bh, opts.Like.BandCount())
	ds.SetGeoTransform(opts.Like.GeoTransform())
	ds.SetProjection(opts.Like.Projection())
	if opts.HasNoData {
		for b := 1; b <= ds.BandCount(); b++ {
			ds.SetNoData(b, opts.NoData)
		}
	}
	if opts.Fill != nil {
		for b := range ds.bands {
			for i := range ds.bands[b] {
				ds.bands[b][i] = *opts.Fill
			}
		}
	}
	r.files[path] = ds
	return ds, nil
}

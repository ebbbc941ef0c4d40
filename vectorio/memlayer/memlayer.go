// Package memlayer is an in-memory vectorio.Driver used by every test in
// this module. Rasterize and Polygonize are hand-rolled — good enough to
// exercise the watershed delineator's attribute/ws_id plumbing against
// small literal fixtures, not a production polygonizer.
package memlayer

import (
	"fmt"

	"github.com/geoflow/router/rasterio"
	"github.com/geoflow/router/vectorio"
)

// Layer is an in-memory vectorio.WritableLayer.
type Layer struct {
	name       string
	spatialRef string
	features   []vectorio.Feature
	fields     []string
	fieldTypes map[string]vectorio.FieldType
}

var _ vectorio.WritableLayer = (*Layer)(nil)

func (l *Layer) SpatialRef() string { return l.spatialRef }

func (l *Layer) Features() ([]vectorio.Feature, error) {
	out := make([]vectorio.Feature, len(l.features))
	copy(out, l.features)
	return out, nil
}

func (l *Layer) AddField(name string, t vectorio.FieldType) error {
	if l.fieldTypes == nil {
		l.fieldTypes = make(map[string]vectorio.FieldType)
	}
	l.fields = append(l.fields, name)
	l.fieldTypes[name] = t
	return nil
}

func (l *Layer) Write(f vectorio.Feature) error {
	l.features = append(l.features, f)
	return nil
}

func (l *Layer) Close() error { return nil }

// Driver is an in-memory vectorio.Driver over a path+layerName registry.
type Driver struct {
	layers map[string]*Layer
}

// NewDriver returns an empty in-memory vector driver.
func NewDriver() *Driver { return &Driver{layers: make(map[string]*Layer)} }

func key(path, layerName string) string { return path + "#" + layerName }

// Register makes an existing in-memory layer (e.g. built directly in a
// test with Points) available for OpenLayer.
func (d *Driver) Register(path, layerName string, l *Layer) {
	d.layers[key(path, layerName)] = l
}

// Points constructs a read-only point layer from coordinate/attribute
// pairs, for seeding outflow-point fixtures in tests.
func Points(spatialRef string, pts []vectorio.Feature) *Layer {
	return &Layer{spatialRef: spatialRef, features: pts}
}

func (d *Driver) OpenLayer(path, layerName string) (vectorio.Layer, error) {
	l, ok := d.layers[key(path, layerName)]
	if !ok {
		return nil, fmt.Errorf("memlayer: no such layer %s/%s", path, layerName)
	}
	return l, nil
}

func (d *Driver) CreateLayer(path, layerName, spatialRef string, _ vectorio.GeomType) (vectorio.WritableLayer, error) {
	l := &Layer{name: layerName, spatialRef: spatialRef}
	d.layers[key(path, layerName)] = l
	return l, nil
}

// Rasterize burns each point feature's attr value into ds at its nearest
// pixel, using the dataset's geotransform to map world -> pixel
// coordinates. allTouched has no effect for point geometries (a point
// only ever touches one pixel).
func (d *Driver) Rasterize(layer vectorio.Layer, ds rasterio.Dataset, band int, _ bool, attr string) error {
	feats, err := layer.Features()
	if err != nil {
		return err
	}
	gt := ds.GeoTransform()
	w, h := ds.Size()
	for _, f := range feats {
		px, py := worldToPixel(gt, f.Geometry.Point[0], f.Geometry.Point[1])
		if px < 0 || py < 0 || px >= w || py >= h {
			continue
		}
		v, ok := attrAsFloat(f.Attributes[attr])
		if !ok {
			return fmt.Errorf("memlayer: feature missing numeric attribute %q", attr)
		}
		if err := ds.WriteWindow(band, px, py, 1, 1, []float64{v}); err != nil {
			return err
		}
	}
	return nil
}

func worldToPixel(gt [6]float64, x, y float64) (int, int) {
	// Inverse of the standard affine geotransform, assuming no rotation
	// (gt[2] == gt[4] == 0), which is all the in-memory test fixtures use.
	px := int((x - gt[0]) / gt[1])
	py := int((y - gt[3]) / gt[5])
	return px, py
}

func attrAsFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

// Polygonize walks labels (masked by mask != 0) and groups pixels into
// 8-connected regions of equal label value, returning one
// LabelledPolygon per region whose Rings field is a single degenerate
// ring listing the region's pixel centres in the dataset's geotransform
// — sufficient to recover label identity and approximate extent in
// tests, not a faithful polygon boundary trace.
func (d *Driver) Polygonize(labels rasterio.Dataset, labelBand int, mask rasterio.Dataset, maskBand int) ([]vectorio.LabelledPolygon, error) {
	w, h := labels.Size()
	labelBuf := make([]float64, w*h)
	if err := labels.ReadWindow(labelBand, 0, 0, w, h, labelBuf); err != nil {
		return nil, err
	}
	maskBuf := make([]float64, w*h)
	if err := mask.ReadWindow(maskBand, 0, 0, w, h, maskBuf); err != nil {
		return nil, err
	}
	visited := make([]bool, w*h)
	gt := labels.GeoTransform()
	var out []vectorio.LabelledPolygon
	neighbors8 := [8][2]int{{1, 0}, {1, -1}, {0, -1}, {-1, -1}, {-1, 0}, {-1, 1}, {0, 1}, {1, 1}}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			if visited[idx] || maskBuf[idx] == 0 {
				continue
			}
			label := labelBuf[idx]
			var ring [][2]float64
			stack := [][2]int{{x, y}}
			visited[idx] = true
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				wx := gt[0] + (float64(p[0])+0.5)*gt[1]
				wy := gt[3] + (float64(p[1])+0.5)*gt[5]
				ring = append(ring, [2]float64{wx, wy})
				for _, n := range neighbors8 {
					nx, ny := p[0]+n[0], p[1]+n[1]
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					nidx := ny*w + nx
					if visited[nidx] || maskBuf[nidx] == 0 || labelBuf[nidx] != label {
						continue
					}
					visited[nidx] = true
					stack = append(stack, [2]int{nx, ny})
				}
			}
			out = append(out, vectorio.LabelledPolygon{Label: int64(label), Rings: [][][2]float64{ring}})
		}
	}
	return out, nil
}

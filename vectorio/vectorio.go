// Package vectorio defines the vector I/O collaborator's contract (spec
// §6): point/polygon layers, rasterization of point layers, and
// polygonization of labelled rasters. Like rasterio, this is an external
// boundary — vectorio/godaladapter is the production implementation,
// vectorio/memlayer is the in-memory stand-in every test uses.
package vectorio

import "github.com/geoflow/router/rasterio"

// GeomType distinguishes the two geometry kinds the core needs.
type GeomType int

const (
	GeomPoint GeomType = iota
	GeomPolygon
)

// Geometry is a minimal geometry representation: a point, or a polygon
// expressed as a set of rings of (x, y) vertices in georeferenced
// coordinates. Only what the routing core needs to read (point
// coordinates) and write (polygon rings) is modelled.
type Geometry struct {
	Type   GeomType
	Point  [2]float64
	Rings  [][][2]float64
}

// Feature pairs a geometry with its attribute set. Attribute values are
// string, int64, or float64.
type Feature struct {
	Geometry   Geometry
	Attributes map[string]any
}

// FieldType enumerates the attribute field kinds CreateLayer supports.
type FieldType int

const (
	FieldInt FieldType = iota
	FieldReal
	FieldString
)

// Layer is a readable vector layer.
type Layer interface {
	SpatialRef() string
	Features() ([]Feature, error)
	Close() error
}

// WritableLayer is a layer under construction: add fields, then append
// features.
type WritableLayer interface {
	Layer
	AddField(name string, t FieldType) error
	Write(f Feature) error
}

// LabelledPolygon is one polygon produced by Polygonize, tagged with the
// integer label of the scratch raster region it came from.
type LabelledPolygon struct {
	Label int64
	Rings [][][2]float64
}

// Driver abstracts layer open/create and the two raster<->vector bridge
// operations the watershed delineator needs.
type Driver interface {
	OpenLayer(path, layerName string) (Layer, error)
	CreateLayer(path, layerName, spatialRef string, geomType GeomType) (WritableLayer, error)
	// Rasterize burns layer's geometries into ds (band), reading the
	// integer attribute named attr as the pixel value. allTouched mirrors
	// GDAL's ALL_TOUCHED rasterization option.
	Rasterize(layer Layer, ds rasterio.Dataset, band int, allTouched bool, attr string) error
	// Polygonize extracts 8-connected regions of equal value from labels
	// (restricted to pixels where mask is nonzero) into polygons.
	Polygonize(labels rasterio.Dataset, labelBand int, mask rasterio.Dataset, maskBand int) ([]LabelledPolygon, error)
}

package geometry

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/twpayne/go-geos"
)

// ErrDegeneratePolygon is returned when a raw geometry cannot be parsed or
// repaired into a usable polygon (wrong type, broken rings, zero area).
var ErrDegeneratePolygon = errors.New("degenerate polygon")

// Shape pairs the decoded orb geometry (vertex access, bbox, centroid) with a
// GEOS handle (topology predicates, intersection areas). The orb side always
// holds the geometry exactly as uploaded; the GEOS side may have been repaired
// with MakeValid so that downstream area math stays usable.
type Shape struct {
	orbGeom orb.Geometry
	geos    *geos.Geom

	valid         bool
	invalidReason string
}

// ParseShape decodes a raw GeoJSON geometry into a Shape. Non-polygonal
// geometries, rings with fewer than four points and zero-area results are all
// reported as ErrDegeneratePolygon. Self-intersecting input is NOT an error
// here: the shape is repaired for area math and the original invalidity is
// kept for SelfIntersects to report.
func ParseShape(raw []byte) (*Shape, error) {
	gj, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegeneratePolygon, err)
	}
	return NewShape(gj.Geometry())
}

// NewShape builds a Shape from an already-decoded orb geometry, applying the
// same type/ring/area validation and repair as ParseShape.
func NewShape(og orb.Geometry) (*Shape, error) {
	switch g := og.(type) {
	case orb.Polygon:
		if !ringsUsable(g) {
			return nil, fmt.Errorf("%w: ring with fewer than 4 points", ErrDegeneratePolygon)
		}
	case orb.MultiPolygon:
		for _, p := range g {
			if !ringsUsable(p) {
				return nil, fmt.Errorf("%w: ring with fewer than 4 points", ErrDegeneratePolygon)
			}
		}
	default:
		return nil, fmt.Errorf("%w: unsupported geometry type %s", ErrDegeneratePolygon, og.GeoJSONType())
	}

	data, err := wkb.Marshal(og)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegeneratePolygon, err)
	}

	gg, err := geos.NewGeomFromWKB(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegeneratePolygon, err)
	}

	s := &Shape{orbGeom: og, geos: gg, valid: true}
	if !gg.IsValid() {
		s.valid = false
		s.invalidReason = gg.IsValidReason()

		repaired := gg.MakeValid()
		if repaired == nil || repaired.IsEmpty() {
			return nil, fmt.Errorf("%w: unrepairable geometry", ErrDegeneratePolygon)
		}
		s.geos = repaired
	}

	if s.geos.Area() == 0 {
		return nil, fmt.Errorf("%w: zero-area geometry", ErrDegeneratePolygon)
	}

	return s, nil
}

// ShapeFromWKB rebuilds a Shape from WKB bytes previously produced by WKB().
// Stored geometries were repaired at parse time, so the shape is marked valid.
func ShapeFromWKB(data []byte) (*Shape, error) {
	og, err := wkb.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal wkb: %w", err)
	}
	gg, err := geos.NewGeomFromWKB(data)
	if err != nil {
		return nil, fmt.Errorf("geos from wkb: %w", err)
	}
	return &Shape{orbGeom: og, geos: gg, valid: true}, nil
}

func ringsUsable(p orb.Polygon) bool {
	if len(p) == 0 {
		return false
	}
	for _, r := range p {
		if len(r) < 4 {
			return false
		}
	}
	return true
}

// WKB returns the shape's repaired geometry as WKB for storage.
func (s *Shape) WKB() ([]byte, error) {
	return wkb.Marshal(s.orbGeom)
}

// Area is the planar area of the (repaired) geometry in map units squared.
func (s *Shape) Area() float64 {
	return s.geos.Area()
}

// Bound is the bounding box of the uploaded geometry.
func (s *Shape) Bound() orb.Bound {
	return s.orbGeom.Bound()
}

// Centroid is the area-weighted centroid of the uploaded geometry.
func (s *Shape) Centroid() orb.Point {
	c, _ := planar.CentroidArea(s.orbGeom)
	return c
}

// IntersectionArea computes the area shared between two shapes, zero when the
// shapes are disjoint or the intersection is degenerate.
func (s *Shape) IntersectionArea(o *Shape) float64 {
	inter := s.geos.Intersection(o.geos)
	if inter == nil || inter.IsEmpty() {
		return 0
	}
	return inter.Area()
}

// rings flattens the uploaded geometry into its component rings.
func (s *Shape) rings() []orb.Ring {
	switch g := s.orbGeom.(type) {
	case orb.Polygon:
		return g
	case orb.MultiPolygon:
		var out []orb.Ring
		for _, p := range g {
			out = append(out, p...)
		}
		return out
	}
	return nil
}

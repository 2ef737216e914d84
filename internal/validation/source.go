package validation

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Feature is one raw (geometry, property-map) pair from a layer file.
type Feature struct {
	Geometry   orb.Geometry
	Properties map[string]interface{}
}

// FeatureSource produces a finite, restartable sequence of features for one
// layer file. Each may be called more than once; implementations must replay
// the same sequence every time.
type FeatureSource interface {
	// Count returns the number of features, for progress reporting.
	Count() (int, error)
	// Each calls fn for every feature in file order. Returning an error
	// from fn aborts the iteration.
	Each(fn func(i int, f Feature) error) error
}

// GeoJSONSource reads a FeatureCollection file from disk.
type GeoJSONSource struct {
	Path string

	features []Feature
}

func NewGeoJSONSource(path string) *GeoJSONSource {
	return &GeoJSONSource{Path: path}
}

func (s *GeoJSONSource) load() error {
	if s.features != nil {
		return nil
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return fmt.Errorf("read layer file %s: %w", s.Path, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return fmt.Errorf("parse layer file %s: %w", s.Path, err)
	}
	s.features = make([]Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		s.features = append(s.features, Feature{
			Geometry:   f.Geometry,
			Properties: f.Properties,
		})
	}
	return nil
}

func (s *GeoJSONSource) Count() (int, error) {
	if err := s.load(); err != nil {
		return 0, err
	}
	return len(s.features), nil
}

func (s *GeoJSONSource) Each(fn func(i int, f Feature) error) error {
	if err := s.load(); err != nil {
		return err
	}
	for i, f := range s.features {
		if err := fn(i, f); err != nil {
			return err
		}
	}
	return nil
}

// SliceSource serves features from memory; used by tests and by callers that
// already hold decoded features.
type SliceSource []Feature

func (s SliceSource) Count() (int, error) { return len(s), nil }

func (s SliceSource) Each(fn func(i int, f Feature) error) error {
	for i, f := range s {
		if err := fn(i, f); err != nil {
			return err
		}
	}
	return nil
}

// propString extracts a property as a trimmed string. Numeric codes are
// common in shapefile-derived GeoJSON, so whole floats are rendered without
// a decimal point.
func propString(props map[string]interface{}, field string) string {
	if field == "" {
		return ""
	}
	switch v := props[field].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// propInt extracts a property as an integer, reporting whether it parsed.
func propInt(props map[string]interface{}, field string) (int, bool) {
	switch v := props[field].(type) {
	case float64:
		if v == math.Trunc(v) {
			return int(v), true
		}
		return 0, false
	case int:
		return v, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

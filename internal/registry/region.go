package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SRID of every stored region (WGS84).
const SRID = 4326

// Region is an instance's service area. It is stored in a PostGIS
// geometry(Geometry,4326) column and travels over the API as a GeoJSON geometry.
//
// Point, Polygon, MultiPolygon and GeometryCollection are stored as given.
// A Feature or FeatureCollection is reduced to the geometry it carries; several
// features become one GeometryCollection.
type Region struct {
	Geometry orb.Geometry
}

var errEmptyRegion = errors.New("region has no geometry")

// ParseRegion accepts a decoded JSON value (as produced by encoding/json into
// interface{}) and returns a validated Region.
func ParseRegion(v interface{}) (*Region, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode region: %w", err)
	}
	return ParseRegionJSON(raw)
}

// ParseRegionJSON parses and validates GeoJSON text.
func ParseRegionJSON(raw []byte) (*Region, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("region is not a GeoJSON object: %w", err)
	}

	var g orb.Geometry
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid feature collection: %w", err)
		}
		geoms := make(orb.Collection, 0, len(fc.Features))
		for _, f := range fc.Features {
			if f != nil && f.Geometry != nil {
				geoms = append(geoms, f.Geometry)
			}
		}
		switch len(geoms) {
		case 0:
			return nil, errEmptyRegion
		case 1:
			g = geoms[0]
		default:
			g = geoms
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid feature: %w", err)
		}
		if f.Geometry == nil {
			return nil, errEmptyRegion
		}
		g = f.Geometry
	case "Point", "Polygon", "MultiPolygon", "GeometryCollection":
		geom, err := geojson.UnmarshalGeometry(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", head.Type, err)
		}
		g = geom.Geometry()
	case "":
		return nil, errors.New("region is missing a GeoJSON type")
	default:
		return nil, fmt.Errorf("unsupported region type %q", head.Type)
	}

	if err := validateGeometry(g); err != nil {
		return nil, err
	}
	return &Region{Geometry: g}, nil
}

func validateGeometry(g orb.Geometry) error {
	switch g := g.(type) {
	case nil:
		return errEmptyRegion
	case orb.Point:
		return validatePosition(g)
	case orb.Polygon:
		return validatePolygon(g)
	case orb.MultiPolygon:
		if len(g) == 0 {
			return errors.New("multipolygon has no polygons")
		}
		for i, p := range g {
			if err := validatePolygon(p); err != nil {
				return fmt.Errorf("polygon %d: %w", i, err)
			}
		}
		return nil
	case orb.Collection:
		if len(g) == 0 {
			return errEmptyRegion
		}
		for i, member := range g {
			if err := validateGeometry(member); err != nil {
				return fmt.Errorf("geometry %d: %w", i, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported region type %q", g.GeoJSONType())
	}
}

func validatePolygon(p orb.Polygon) error {
	if len(p) == 0 {
		return errors.New("polygon has no rings")
	}
	for i, ring := range p {
		if len(ring) < 4 {
			return fmt.Errorf("ring %d needs at least 4 positions, has %d", i, len(ring))
		}
		if ring[0] != ring[len(ring)-1] {
			return fmt.Errorf("ring %d is not closed", i)
		}
		for _, pt := range ring {
			if err := validatePosition(pt); err != nil {
				return fmt.Errorf("ring %d: %w", i, err)
			}
		}
	}
	return nil
}

func validatePosition(p orb.Point) error {
	lng, lat := p.Lon(), p.Lat()
	if math.IsNaN(lng) || math.IsNaN(lat) || math.IsInf(lng, 0) || math.IsInf(lat, 0) {
		return errors.New("coordinate is not a finite number")
	}
	if lng < -180 || lng > 180 {
		return fmt.Errorf("longitude %v out of range", lng)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v out of range", lat)
	}
	return nil
}

// MarshalJSON writes the region as a GeoJSON geometry object.
func (r Region) MarshalJSON() ([]byte, error) {
	if r.Geometry == nil {
		return []byte("null"), nil
	}
	return geojson.NewGeometry(r.Geometry).MarshalJSON()
}

func (r *Region) UnmarshalJSON(data []byte) error {
	parsed, err := ParseRegionJSON(data)
	if err != nil {
		return err
	}
	*r = *parsed
	return nil
}

// Scan reads the output of ST_AsGeoJSON. Store queries always select the
// region through that function.
func (r *Region) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		r.Geometry = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("region: unsupported scan type %T", value)
	}
	if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		return errors.New("region: expected GeoJSON, select the column with ST_AsGeoJSON")
	}
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return fmt.Errorf("region: %w", err)
	}
	r.Geometry = g.Geometry()
	return nil
}

// EWKT renders the region as extended WKT with the registry SRID.
func (r Region) EWKT() string {
	return fmt.Sprintf("SRID=%d;%s", SRID, wkt.MarshalString(r.Geometry))
}

// GormValue encodes the region for INSERT and UPDATE statements.
func (r Region) GormValue(ctx context.Context, db *gorm.DB) clause.Expr {
	return clause.Expr{SQL: "ST_GeomFromEWKT(?)", Vars: []interface{}{r.EWKT()}}
}

func (Region) GormDataType() string {
	return "geometry"
}

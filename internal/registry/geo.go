package registry

import (
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// Point is a WGS84 reference location for the distance ranking.
type Point struct {
	Lat float64
	Lng float64
}

func (p Point) Orb() orb.Point {
	return orb.Point{p.Lng, p.Lat}
}

// ParsePoint reads the lat/lng query parameters. When both are empty the
// fallback point is returned. A single missing coordinate, a non-numeric
// value or an out-of-range value is a validation error, never a silent
// fallback.
func ParsePoint(latStr, lngStr string, fallback Point) (Point, error) {
	latStr, lngStr = strings.TrimSpace(latStr), strings.TrimSpace(lngStr)
	if latStr == "" && lngStr == "" {
		return fallback, nil
	}

	var bad []string
	lat, latErr := parseCoordinate(latStr, 90)
	if latErr {
		bad = append(bad, "lat")
	}
	lng, lngErr := parseCoordinate(lngStr, 180)
	if lngErr {
		bad = append(bad, "lng")
	}
	if len(bad) > 0 {
		return Point{}, NewValidationError("lat and lng must both be numeric coordinates", bad...)
	}
	return Point{Lat: lat, Lng: lng}, nil
}

func parseCoordinate(s string, limit float64) (float64, bool) {
	if s == "" {
		return 0, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > limit {
		return 0, true
	}
	return f, false
}

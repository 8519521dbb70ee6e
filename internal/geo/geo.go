package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/claxon/claxon/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// GEO POINTS
// Everything is kept in EPSG:4326 as delivered by the simulators. Geometry
// columns hold WKB; bbox filtering uses the plain lon/lat columns next to them
// so the same query works on sqlite.

// ErrInvalidCoordinates is returned when a geometry has no usable coordinates
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// EarthRadius is the mean radius used for great-circle distances, in meters.
const EarthRadius = 6371000.0

// PointFromCore converts a [lon, lat] pair into a 2D point. Non-finite
// coordinates are rejected with ErrInvalidCoordinates.
func PointFromCore(p core.Point) (geom.Point, error) {
	pt, err := geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: p.Lon(), Y: p.Lat()},
		Type: geom.DimXY,
	})
	if err != nil {
		return geom.Point{}, fmt.Errorf("%w: %v", ErrInvalidCoordinates, err)
	}
	return pt, nil
}

// CoreFromPoint converts a point back to [lon, lat]. Empty points are rejected.
func CoreFromPoint(pt geom.Point) (core.Point, error) {
	c, ok := pt.Coordinates()
	if !ok {
		return core.Point{}, ErrInvalidCoordinates
	}
	return core.Point{c.X, c.Y}, nil
}

// Haversine returns the great-circle distance between two [lon, lat] points in meters.
func Haversine(a, b core.Point) float64 {
	lat1 := radians(a.Lat())
	lat2 := radians(b.Lat())
	dLat := lat2 - lat1
	dLon := radians(b.Lon() - a.Lon())

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadius * math.Asin(math.Min(1, math.Sqrt(h)))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

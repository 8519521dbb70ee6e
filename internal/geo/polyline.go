package geo

import (
	"errors"
	"fmt"

	"github.com/claxon/claxon/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// ErrInvalidShape is returned for lane shapes without two distinct points.
var ErrInvalidShape = errors.New("shape must have at least 2 distinct points")

// LineStringFromShape builds a line string from a lane shape. Shapes the
// geometry library rejects, such as a single point, a repeated point or a
// non-finite coordinate, fail with ErrInvalidShape.
func LineStringFromShape(shape []core.Point) (geom.LineString, error) {
	if len(shape) < 2 {
		return geom.LineString{}, fmt.Errorf("%w, got %d", ErrInvalidShape, len(shape))
	}

	flat := make([]float64, 0, len(shape)*2)
	for _, p := range shape {
		flat = append(flat, p.Lon(), p.Lat())
	}

	ls, err := geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
	if err != nil {
		return geom.LineString{}, fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}
	return ls, nil
}

// ShapeFromLineString converts a line string back into a lane shape.
func ShapeFromLineString(ls geom.LineString) []core.Point {
	seq := ls.Coordinates()
	shape := make([]core.Point, seq.Length())
	for i := range shape {
		xy := seq.GetXY(i)
		shape[i] = core.Point{xy.X, xy.Y}
	}
	return shape
}

// ShapeBounds returns the bounding box of a shape. ok is false for an empty shape.
func ShapeBounds(shape []core.Point) (b core.BBox, ok bool) {
	if len(shape) == 0 {
		return core.BBox{}, false
	}
	b = core.BBox{MinX: shape[0].Lon(), MinY: shape[0].Lat(), MaxX: shape[0].Lon(), MaxY: shape[0].Lat()}
	for _, p := range shape[1:] {
		b.MinX = min(b.MinX, p.Lon())
		b.MinY = min(b.MinY, p.Lat())
		b.MaxX = max(b.MaxX, p.Lon())
		b.MaxY = max(b.MaxY, p.Lat())
	}
	return b, true
}

// ShapeIntersects reports whether any part of the shape lies inside the
// normalized box: a vertex inside, or a segment crossing one of its edges.
func ShapeIntersects(shape []core.Point, b core.BBox) bool {
	if b.ContainsAny(shape) {
		return true
	}
	corners := [4]core.Point{
		{b.MinX, b.MinY}, {b.MaxX, b.MinY}, {b.MaxX, b.MaxY}, {b.MinX, b.MaxY},
	}
	for i := 1; i < len(shape); i++ {
		for j := range corners {
			if segmentsCross(shape[i-1], shape[i], corners[j], corners[(j+1)%4]) {
				return true
			}
		}
	}
	return false
}

func segmentsCross(p1, p2, q1, q2 core.Point) bool {
	d1 := orientation(q1, q2, p1)
	d2 := orientation(q1, q2, p2)
	d3 := orientation(p1, p2, q1)
	d4 := orientation(p1, p2, q2)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return (d1 == 0 && onSegment(q1, q2, p1)) || (d2 == 0 && onSegment(q1, q2, p2)) ||
		(d3 == 0 && onSegment(p1, p2, q1)) || (d4 == 0 && onSegment(p1, p2, q2))
}

func orientation(a, b, c core.Point) float64 {
	return (b.Lon()-a.Lon())*(c.Lat()-a.Lat()) - (b.Lat()-a.Lat())*(c.Lon()-a.Lon())
}

func onSegment(a, b, p core.Point) bool {
	return min(a.Lon(), b.Lon()) <= p.Lon() && p.Lon() <= max(a.Lon(), b.Lon()) &&
		min(a.Lat(), b.Lat()) <= p.Lat() && p.Lat() <= max(a.Lat(), b.Lat())
}

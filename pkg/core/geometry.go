// pkg/core/geometry.go
package core

// Point is a [longitude, latitude] pair in EPSG:4326.
type Point [2]float64

func (p Point) Lon() float64 { return p[0] }
func (p Point) Lat() float64 { return p[1] }

// BBox is a viewport rectangle. Corners may arrive in any order;
// call Normalize before any containment test.
type BBox struct {
	MinX float64 `json:"minX"`
	MinY float64 `json:"minY"`
	MaxX float64 `json:"maxX"`
	MaxY float64 `json:"maxY"`
}

// Normalize returns the box with min <= max on both axes.
func (b BBox) Normalize() BBox {
	if b.MinX > b.MaxX {
		b.MinX, b.MaxX = b.MaxX, b.MinX
	}
	if b.MinY > b.MaxY {
		b.MinY, b.MaxY = b.MaxY, b.MinY
	}
	return b
}

// Contains reports whether p lies inside the (normalized) box, edges included.
func (b BBox) Contains(p Point) bool {
	return p.Lon() >= b.MinX && p.Lon() <= b.MaxX &&
		p.Lat() >= b.MinY && p.Lat() <= b.MaxY
}

// ContainsAny reports whether at least one vertex of shape is inside the box.
func (b BBox) ContainsAny(shape []Point) bool {
	for _, p := range shape {
		if b.Contains(p) {
			return true
		}
	}
	return false
}

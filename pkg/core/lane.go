// pkg/core/lane.go
package core

import "slices"

// Lane is a simulator lane. Shape and Jam change independently: position
// batches carry the shape, state batches carry the jam.
type Lane struct {
	ID       string  `json:"id"`
	Shape    []Point `json:"shape"`
	Priority int     `json:"priority"`
	Type     string  `json:"type"`
	Zone     ZoneID  `json:"zone,omitempty"`
	Jam      float64 `json:"jam"`
}

// Valid reports whether the shape forms a line: at least two points, not
// all of them equal.
func (l Lane) Valid() bool {
	for _, p := range l.Shape[min(1, len(l.Shape)):] {
		if p != l.Shape[0] {
			return true
		}
	}
	return false
}

// SameShape compares geometry only.
func (l Lane) SameShape(o Lane) bool {
	return slices.Equal(l.Shape, o.Shape)
}

// LaneState is one row of a lane/state batch.
type LaneState struct {
	ID         string   `json:"id"`
	TrafficJam *float64 `json:"traffic_jam"`
}

// Jam returns the reported jam, treating null as 0.
func (s LaneState) Jam() float64 {
	if s.TrafficJam == nil {
		return 0
	}
	return *s.TrafficJam
}

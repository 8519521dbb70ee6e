package relay

import (
	"sync"

	"github.com/claxon/claxon/internal/geo"
	"github.com/claxon/claxon/pkg/core"
)

// DefaultRadius is how close, in meters, an emergency vehicle must be to its
// nearest light before priority is requested.
const DefaultRadius = 50.0

// Detector asks for priority at lights emergency vehicles are approaching.
// It keeps only the latest vehicle and light batches seen by the relay.
type Detector struct {
	radius float64
	marker string

	mu       sync.Mutex
	vehicles []core.Vehicle
	lights   []core.TrafficLight
}

func NewDetector(radius float64, marker string) *Detector {
	if radius <= 0 {
		radius = DefaultRadius
	}
	return &Detector{radius: radius, marker: marker}
}

// UpdateVehicles replaces the buffered vehicles.
func (d *Detector) UpdateVehicles(vehicles []core.Vehicle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.vehicles = vehicles
}

// UpdateLights replaces the buffered lights.
func (d *Detector) UpdateLights(lights []core.TrafficLight) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lights = lights
}

// Evaluate returns the lights that should get a priority request, each once,
// in the order they were first matched.
func (d *Detector) Evaluate() []string {
	d.mu.Lock()
	vehicles, lights := d.vehicles, d.lights
	d.mu.Unlock()

	if len(lights) == 0 {
		return nil
	}

	var out []string
	seen := make(map[string]struct{})
	for _, v := range vehicles {
		if !v.IsEmergency(d.marker) {
			continue
		}
		light, dist := nearest(v.Position, lights)
		if dist > d.radius {
			continue
		}
		if _, dup := seen[light.ID]; dup {
			continue
		}
		seen[light.ID] = struct{}{}
		out = append(out, light.ID)
	}
	return out
}

// nearest finds the closest light. On a tie the first one wins.
func nearest(p core.Point, lights []core.TrafficLight) (core.TrafficLight, float64) {
	best, bestDist := lights[0], geo.Haversine(p, lights[0].Position())
	for _, l := range lights[1:] {
		if d := geo.Haversine(p, l.Position()); d < bestDist {
			best, bestDist = l, d
		}
	}
	return best, bestDist
}

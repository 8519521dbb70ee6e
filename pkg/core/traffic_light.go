// pkg/core/traffic_light.go
package core

// TrafficLight is a signal controller stop line with its adjacent lanes.
type TrafficLight struct {
	ID      string  `json:"id"`
	StopLon float64 `json:"stop_lon"`
	StopLat float64 `json:"stop_lat"`
	InLane  string  `json:"in_lane"`
	OutLane string  `json:"out_lane"`
	ViaLane string  `json:"via_lane"`
	Zone    ZoneID  `json:"zone,omitempty"`
	State   string  `json:"state,omitempty"`
}

func (t TrafficLight) Position() Point {
	return Point{t.StopLon, t.StopLat}
}

// TrafficLightState is one row of a traffic_light/state batch.
type TrafficLightState struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// pkg/core/accident.go
package core

// Accident is keyed by the vehicle involved.
type Accident struct {
	VehicleID string  `json:"vehicle_id"`
	Position  Point   `json:"position"`
	Type      string  `json:"type"`
	StartTime float64 `json:"start_time"`
	Zone      ZoneID  `json:"zone,omitempty"`
	Duration  float64 `json:"duration"`
}

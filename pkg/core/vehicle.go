// pkg/core/vehicle.go
package core

import "strings"

// Vehicle is the last reported state of a simulated vehicle.
// IDs are unique within a zone and assumed unique globally.
type Vehicle struct {
	ID       string  `json:"id"`
	Position Point   `json:"position"`
	Type     string  `json:"type"`
	Angle    float64 `json:"angle"`
	Speed    float64 `json:"speed"`
	Accident bool    `json:"accident"`
	Zone     ZoneID  `json:"zone,omitempty"`
}

// IsEmergency reports whether the vehicle type carries the emergency marker.
func (v Vehicle) IsEmergency(marker string) bool {
	return marker != "" && strings.Contains(v.Type, marker)
}

// Package convert provides functions to convert GORM models to core models
package convert

import (
	"github.com/claxon/claxon/internal/geo"
	"github.com/claxon/claxon/internal/model"
	"github.com/claxon/claxon/pkg/core"
)

// VehicleToCore converts a GORM Vehicle to a core.Vehicle.
// Position comes from the scalar columns, which are always written with the geometry.
func VehicleToCore(v model.Vehicle) core.Vehicle {
	return core.Vehicle{
		ID:       v.ID,
		Position: core.Point{v.Lon, v.Lat},
		Type:     v.Type,
		Angle:    v.Angle,
		Speed:    v.Speed,
		Accident: v.Accident,
		Zone:     core.ZoneID(v.Zone),
	}
}

// LaneToCore converts a GORM Lane to a core.Lane
func LaneToCore(l model.Lane) core.Lane {
	return core.Lane{
		ID:       l.ID,
		Shape:    geo.ShapeFromLineString(l.Geom),
		Priority: l.Priority,
		Type:     l.Type,
		Zone:     core.ZoneID(l.Zone),
		Jam:      l.Jam,
	}
}

// TrafficLightToCore converts a GORM TrafficLight to a core.TrafficLight
func TrafficLightToCore(t model.TrafficLight) core.TrafficLight {
	return core.TrafficLight{
		ID:      t.ID,
		StopLon: t.Lon,
		StopLat: t.Lat,
		InLane:  t.InLane,
		OutLane: t.OutLane,
		ViaLane: t.ViaLane,
		Zone:    core.ZoneID(t.Zone),
		State:   t.State,
	}
}

// AccidentToCore converts a GORM Accident to a core.Accident
func AccidentToCore(a model.Accident) core.Accident {
	return core.Accident{
		VehicleID: a.VehicleID,
		Position:  core.Point{a.Lon, a.Lat},
		Type:      a.Type,
		StartTime: a.StartTime,
		Zone:      core.ZoneID(a.Zone),
		Duration:  a.Duration,
	}
}

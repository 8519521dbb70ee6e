// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"encoding/json"
	"fmt"

	"github.com/claxon/claxon/internal/geo"
	"github.com/claxon/claxon/internal/model"
	"github.com/claxon/claxon/pkg/core"
	"gorm.io/datatypes"
)

// CoreToVehicle converts a core.Vehicle to a GORM model.Vehicle
func CoreToVehicle(v core.Vehicle) (model.Vehicle, error) {
	pt, err := geo.PointFromCore(v.Position)
	if err != nil {
		return model.Vehicle{}, fmt.Errorf("vehicle %s: %w", v.ID, err)
	}
	return model.Vehicle{
		ID:       v.ID,
		Zone:     v.Zone.String(),
		Geom:     pt,
		Lon:      v.Position.Lon(),
		Lat:      v.Position.Lat(),
		Type:     v.Type,
		Angle:    v.Angle,
		Speed:    v.Speed,
		Accident: v.Accident,
	}, nil
}

// CoreToLane converts a core.Lane to a GORM model.Lane. Shapes with fewer
// than two points are rejected with geo.ErrInvalidShape.
func CoreToLane(l core.Lane) (model.Lane, error) {
	ls, err := geo.LineStringFromShape(l.Shape)
	if err != nil {
		return model.Lane{}, fmt.Errorf("lane %s: %w", l.ID, err)
	}
	bounds, _ := geo.ShapeBounds(l.Shape)

	return model.Lane{
		ID:       l.ID,
		Zone:     l.Zone.String(),
		Geom:     ls,
		MinX:     bounds.MinX,
		MinY:     bounds.MinY,
		MaxX:     bounds.MaxX,
		MaxY:     bounds.MaxY,
		Priority: l.Priority,
		Type:     l.Type,
		Jam:      l.Jam,
	}, nil
}

// CoreToTrafficLight converts a core.TrafficLight to a GORM model.TrafficLight
func CoreToTrafficLight(t core.TrafficLight) (model.TrafficLight, error) {
	pt, err := geo.PointFromCore(t.Position())
	if err != nil {
		return model.TrafficLight{}, fmt.Errorf("traffic light %s: %w", t.ID, err)
	}
	return model.TrafficLight{
		ID:      t.ID,
		Zone:    t.Zone.String(),
		Geom:    pt,
		Lon:     t.StopLon,
		Lat:     t.StopLat,
		InLane:  t.InLane,
		OutLane: t.OutLane,
		ViaLane: t.ViaLane,
		State:   t.State,
	}, nil
}

// CoreToAccident converts a core.Accident to a GORM model.Accident
func CoreToAccident(a core.Accident) (model.Accident, error) {
	pt, err := geo.PointFromCore(a.Position)
	if err != nil {
		return model.Accident{}, fmt.Errorf("accident of %s: %w", a.VehicleID, err)
	}
	return model.Accident{
		VehicleID: a.VehicleID,
		Zone:      a.Zone.String(),
		Geom:      pt,
		Lon:       a.Position.Lon(),
		Lat:       a.Position.Lat(),
		Type:      a.Type,
		StartTime: a.StartTime,
		Duration:  a.Duration,
	}, nil
}

// CoreToNode converts a relay announcement to a GORM model.Node, keeping the
// announcement itself as metadata.
func CoreToNode(n core.Node, online bool) model.Node {
	meta, err := json.Marshal(n)
	if err != nil {
		meta = []byte("{}")
	}
	return model.Node{
		Zone:   n.Zone.String(),
		Host:   n.Host,
		Port:   n.Port,
		Online: online,
		Meta:   datatypes.JSON(meta),
	}
}

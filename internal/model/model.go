package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&Vehicle{},
	&Lane{},
	&TrafficLight{},
	&Accident{},
	&Node{},
}

////////////////////////
// ENTITY MODELS
////////////////////////

// Geometry columns hold WKB in EPSG:4326. The scalar lon/lat (or bbox) columns
// beside them are what viewport queries filter on, so both dialects share one query.

// Vehicle is the last reported state of a simulated vehicle
type Vehicle struct {
	ID       string     `json:"id" gorm:"primaryKey;size:128"`
	Zone     string     `json:"zone" gorm:"size:64;index:idx_vehicle_zone"`
	Geom     geom.Point `json:"-"`
	Lon      float64    `json:"lon" gorm:"index:idx_vehicle_lonlat,priority:1"`
	Lat      float64    `json:"lat" gorm:"index:idx_vehicle_lonlat,priority:2"`
	Type     string     `json:"type" gorm:"size:128"`
	Angle    float64    `json:"angle"`
	Speed    float64    `json:"speed"`
	Accident bool       `json:"accident" gorm:"default:false"`
}

func (*Vehicle) TableName() string {
	return "vehicles"
}

// Lane is a road lane. Jam is written by state batches, the rest by position batches.
type Lane struct {
	ID       string          `json:"id" gorm:"primaryKey;size:128"`
	Zone     string          `json:"zone" gorm:"size:64;index:idx_lane_zone"`
	Geom     geom.LineString `json:"-"`
	MinX     float64         `json:"minX" gorm:"index:idx_lane_bbox,priority:1"`
	MinY     float64         `json:"minY" gorm:"index:idx_lane_bbox,priority:2"`
	MaxX     float64         `json:"maxX" gorm:"index:idx_lane_bbox,priority:3"`
	MaxY     float64         `json:"maxY" gorm:"index:idx_lane_bbox,priority:4"`
	Priority int             `json:"priority"`
	Type     string          `json:"type" gorm:"size:64"`
	Jam      float64         `json:"jam" gorm:"default:0"`
}

func (*Lane) TableName() string {
	return "lanes"
}

// TrafficLight is a signal stop line
type TrafficLight struct {
	ID      string     `json:"id" gorm:"primaryKey;size:128"`
	Zone    string     `json:"zone" gorm:"size:64;index:idx_traffic_light_zone"`
	Geom    geom.Point `json:"-"`
	Lon     float64    `json:"lon" gorm:"index:idx_traffic_light_lonlat,priority:1"`
	Lat     float64    `json:"lat" gorm:"index:idx_traffic_light_lonlat,priority:2"`
	InLane  string     `json:"inLane" gorm:"size:128"`
	OutLane string     `json:"outLane" gorm:"size:128"`
	ViaLane string     `json:"viaLane" gorm:"size:128"`
	State   string     `json:"state" gorm:"size:64"`
}

func (*TrafficLight) TableName() string {
	return "traffic_lights"
}

// Accident is keyed by the vehicle involved
type Accident struct {
	VehicleID string     `json:"vehicleId" gorm:"primaryKey;size:128"`
	Zone      string     `json:"zone" gorm:"size:64;index:idx_accident_zone"`
	Geom      geom.Point `json:"-"`
	Lon       float64    `json:"lon" gorm:"index:idx_accident_lonlat,priority:1"`
	Lat       float64    `json:"lat" gorm:"index:idx_accident_lonlat,priority:2"`
	Type      string     `json:"type" gorm:"size:128"`
	StartTime float64    `json:"startTime"`
	Duration  float64    `json:"duration"`
}

func (*Accident) TableName() string {
	return "accidents"
}

////////////////////////
// SYSTEM MODELS
////////////////////////

// Node records the last announcement of each zone relay
type Node struct {
	Zone      string         `json:"zone" gorm:"primaryKey;size:64"`
	Host      string         `json:"host" gorm:"size:255"`
	Port      int            `json:"port"`
	Online    bool           `json:"online" gorm:"default:false"`
	Meta      datatypes.JSON `json:"meta"` // raw announcement payload
	UpdatedAt time.Time      `json:"updatedAt"`
}

func (*Node) TableName() string {
	return "nodes"
}

// internal/storage/storage.go
package storage

import (
	"context"
	"errors"

	"github.com/claxon/claxon/pkg/core"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("not found")

// Reader answers cold reads: initial sync and viewport queries. A nil bbox
// means "everything".
type Reader interface {
	Vehicles(ctx context.Context, bbox *core.BBox) ([]core.Vehicle, error)
	Lanes(ctx context.Context, bbox *core.BBox) ([]core.Lane, error)
	TrafficLights(ctx context.Context, bbox *core.BBox) ([]core.TrafficLight, error)
	TrafficLight(ctx context.Context, id string) (core.TrafficLight, error)
	Accidents(ctx context.Context, bbox *core.BBox) ([]core.Accident, error)
}

// Tx is one unit of work. Nothing written through it is visible to readers
// until the enclosing Transaction returns nil.
type Tx interface {
	UpsertVehicles(vehicles []core.Vehicle) error
	DeleteVehicles(ids []string) error

	InsertLanes(lanes []core.Lane) error
	// UpdateLaneShapes rewrites shape, priority and type, and resets jam to 0.
	UpdateLaneShapes(lanes []core.Lane) error
	UpdateLaneJams(jams map[string]float64) error

	// ReplaceTrafficLights deletes every light of zone, then inserts lights.
	ReplaceTrafficLights(zone core.ZoneID, lights []core.TrafficLight) error
	UpdateTrafficLightStates(states map[string]string) error

	UpsertAccidents(accidents []core.Accident) error
}

// Store is the persistent backend all components share.
type Store interface {
	Reader

	// Lifecycle
	Init() error
	Close() error

	// Transaction runs fn in a unit of work, committing if it returns nil
	// and rolling back otherwise.
	Transaction(ctx context.Context, fn func(Tx) error) error

	// RecordNode stores the latest announcement of a zone relay.
	RecordNode(ctx context.Context, node core.Node, online bool) error
}

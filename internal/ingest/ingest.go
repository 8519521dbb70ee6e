// Package ingest turns relayed entity batches into store writes. Every batch
// is diffed against the last committed state so unchanged rows never reach
// the store, and caches only move after the store has committed.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/claxon/claxon/internal/cache"
	"github.com/claxon/claxon/internal/storage"
	"github.com/claxon/claxon/pkg/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/claxon/claxon/internal/ingest"

// Entity kinds, used for serialization and as the metrics "kind" attribute.
const (
	KindVehicle      = "vehicle"
	KindLane         = "lane"
	KindTrafficLight = "traffic_light"
	KindAccident     = "accident"
)

// Notifier is told about committed changes. Implementations must not block.
type Notifier interface {
	VehiclesChanged(zone core.ZoneID)
	LanesPositioned(lanes []core.Lane)
	LaneStatesChanged(lanes []core.Lane)
	TrafficLightsPositioned(zone core.ZoneID, lights []core.TrafficLight)
	TrafficLightStatesChanged(lights []core.TrafficLight)
	AccidentsChanged(accidents []core.Accident)
}

// Dependencies holds everything the Ingester needs.
type Dependencies struct {
	Store    storage.Store
	Notifier Notifier
	Logger   *slog.Logger
}

// Result summarizes one batch.
type Result struct {
	Written int
	Deleted int
	Skipped int
}

// Changed reports whether the batch touched the store.
func (r Result) Changed() bool {
	return r.Written > 0 || r.Deleted > 0
}

// Ingester owns the entity caches. Batches of the same kind are applied one
// at a time; different kinds proceed concurrently.
type Ingester struct {
	deps Dependencies

	vehicles *cache.EntityCache[core.Vehicle]
	lanes    *cache.EntityCache[core.Lane]
	lights   *cache.EntityCache[core.TrafficLight]

	vehicleMu  sync.Mutex
	laneMu     sync.Mutex
	lightMu    sync.Mutex
	accidentMu sync.Mutex

	written metric.Int64Counter
	skipped metric.Int64Counter
	failed  metric.Int64Counter
}

// New creates an Ingester with empty caches. Call Warm to load them from the store.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(deps Dependencies) (*Ingester, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}

	in := &Ingester{
		deps:     deps,
		vehicles: cache.NewEntityCache[core.Vehicle](),
		lanes:    cache.NewEntityCache[core.Lane](),
		lights:   cache.NewEntityCache[core.TrafficLight](),
	}

	m := otel.Meter(instrumentationName)
	var err error

	in.written, err = m.Int64Counter("ingest.rows.written",
		metric.WithDescription("Rows written to the store"))
	if err != nil {
		return nil, fmt.Errorf("creating written counter: %w", err)
	}
	in.skipped, err = m.Int64Counter("ingest.rows.skipped",
		metric.WithDescription("Rows skipped as unchanged, unknown or invalid"))
	if err != nil {
		return nil, fmt.Errorf("creating skipped counter: %w", err)
	}
	in.failed, err = m.Int64Counter("ingest.batches.failed",
		metric.WithDescription("Batches rolled back after a store error"))
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	return in, nil
}

// Warm loads every cache from the store.
func (in *Ingester) Warm(ctx context.Context) error {
	vehicles, err := in.deps.Store.Vehicles(ctx, nil)
	if err != nil {
		return fmt.Errorf("warming vehicle cache: %w", err)
	}
	lanes, err := in.deps.Store.Lanes(ctx, nil)
	if err != nil {
		return fmt.Errorf("warming lane cache: %w", err)
	}
	lights, err := in.deps.Store.TrafficLights(ctx, nil)
	if err != nil {
		return fmt.Errorf("warming traffic light cache: %w", err)
	}

	in.vehicles.Set(index(vehicles, func(v core.Vehicle) string { return v.ID }))
	in.lanes.Set(index(lanes, func(l core.Lane) string { return l.ID }))
	in.lights.Set(index(lights, func(t core.TrafficLight) string { return t.ID }))

	in.deps.Logger.Info("entity caches warmed",
		"vehicles", len(vehicles), "lanes", len(lanes), "trafficLights", len(lights))
	return nil
}

// Sizes reports cache sizes for monitoring.
func (in *Ingester) Sizes() map[string]int {
	return map[string]int{
		KindVehicle:      in.vehicles.Len(),
		KindLane:         in.lanes.Len(),
		KindTrafficLight: in.lights.Len(),
	}
}

// Vehicles returns the committed vehicle snapshot. Callers must not modify it.
func (in *Ingester) Vehicles() map[string]core.Vehicle { return in.vehicles.Get() }

// Lanes returns the committed lane snapshot. Callers must not modify it.
func (in *Ingester) Lanes() map[string]core.Lane { return in.lanes.Get() }

// TrafficLights returns the committed traffic light snapshot. Callers must not modify it.
func (in *Ingester) TrafficLights() map[string]core.TrafficLight { return in.lights.Get() }

func (in *Ingester) commit(ctx context.Context, kind string, zone core.ZoneID, fn func(storage.Tx) error) error {
	if err := in.deps.Store.Transaction(ctx, fn); err != nil {
		in.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
		in.deps.Logger.ErrorContext(ctx, "batch rolled back", "kind", kind, "zone", zone, "error", err)
		return fmt.Errorf("ingesting %s batch for zone %q: %w", kind, zone, err)
	}
	return nil
}

func (in *Ingester) count(ctx context.Context, kind string, r Result) {
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	if n := r.Written + r.Deleted; n > 0 {
		in.written.Add(ctx, int64(n), attrs)
	}
	if r.Skipped > 0 {
		in.skipped.Add(ctx, int64(r.Skipped), attrs)
	}
}

func index[T any](items []T, key func(T) string) map[string]T {
	m := make(map[string]T, len(items))
	for _, it := range items {
		m[key(it)] = it
	}
	return m
}

type nopNotifier struct{}

func (nopNotifier) VehiclesChanged(core.ZoneID)                               {}
func (nopNotifier) LanesPositioned([]core.Lane)                               {}
func (nopNotifier) LaneStatesChanged([]core.Lane)                             {}
func (nopNotifier) TrafficLightsPositioned(core.ZoneID, []core.TrafficLight) {}
func (nopNotifier) TrafficLightStatesChanged([]core.TrafficLight)             {}
func (nopNotifier) AccidentsChanged([]core.Accident)                          {}

// internal/storage/memory/memory.go
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/claxon/claxon/internal/geo"
	"github.com/claxon/claxon/internal/queue"
	"github.com/claxon/claxon/internal/storage"
	"github.com/claxon/claxon/pkg/core"
)

// Config holds configuration for the memory backend.
type Config struct {
	OutputDir      string // snapshot written here on Close; empty disables export
	CompressOutput bool
	OpLogSize      int // committed writes kept for Ops; 0 uses DefaultOpLogSize
}

// DefaultOpLogSize bounds the op log when nobody drains it.
const DefaultOpLogSize = 4096

// Op is one committed write, recorded for inspection.
type Op struct {
	Kind string // e.g. "upsert_vehicles"
	Rows int
}

type tables struct {
	vehicles  map[string]core.Vehicle
	lanes     map[string]core.Lane
	lights    map[string]core.TrafficLight
	accidents map[string]core.Accident
}

// Table indexes for per-table versions.
const (
	tblVehicles = iota
	tblLanes
	tblLights
	tblAccidents
	numTables
)

// NodeRecord is the stored relay announcement
type NodeRecord struct {
	Node   core.Node `json:"node"`
	Online bool      `json:"online"`
}

// Backend keeps all state in process memory.
//
// A transaction copies only the tables it touches and swaps them in on
// commit. If another transaction committed one of those tables in the
// meantime, fn runs again on fresh copies, so writers of different tables
// never wait for each other.
type Backend struct {
	cfg Config

	mu       sync.RWMutex
	data     tables
	versions [numTables]uint64
	nodes    map[core.ZoneID]NodeRecord

	ops *queue.Queue[Op]
}

// New creates a new memory backend
func New(cfg Config) *Backend {
	if cfg.OpLogSize <= 0 {
		cfg.OpLogSize = DefaultOpLogSize
	}
	return &Backend{
		cfg: cfg,
		data: tables{
			vehicles:  make(map[string]core.Vehicle),
			lanes:     make(map[string]core.Lane),
			lights:    make(map[string]core.TrafficLight),
			accidents: make(map[string]core.Accident),
		},
		nodes: make(map[core.ZoneID]NodeRecord),
		ops:   queue.New[Op](cfg.OpLogSize),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close exports a snapshot when an output directory is configured
func (b *Backend) Close() error {
	if b.cfg.OutputDir == "" {
		return nil
	}
	_, err := b.Export()
	return err
}

// Ops drains the log of committed writes.
func (b *Backend) Ops() []Op {
	return b.ops.Drain()
}

// Transaction applies fn to copies of the tables it touches and publishes
// them on success. fn may run more than once when it races a writer of the
// same table, so it must not have effects outside the Tx.
func (b *Backend) Transaction(ctx context.Context, fn func(storage.Tx) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		tx := &memTx{b: b}
		if err := fn(tx); err != nil {
			return err
		}
		if b.commit(tx) {
			b.ops.Push(tx.ops...)
			return nil
		}
	}
}

// commit installs the touched tables unless one of them moved on since tx copied it.
func (b *Backend) commit(tx *memTx) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range numTables {
		if tx.touched[i] && b.versions[i] != tx.base[i] {
			return false
		}
	}
	if tx.touched[tblVehicles] {
		b.data.vehicles = tx.data.vehicles
	}
	if tx.touched[tblLanes] {
		b.data.lanes = tx.data.lanes
	}
	if tx.touched[tblLights] {
		b.data.lights = tx.data.lights
	}
	if tx.touched[tblAccidents] {
		b.data.accidents = tx.data.accidents
	}
	for i := range numTables {
		if tx.touched[i] {
			b.versions[i]++
		}
	}
	return true
}

// RecordNode stores the latest announcement for a zone
func (b *Backend) RecordNode(_ context.Context, node core.Node, online bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.nodes[node.Zone]; ok && !online {
		prev.Online = false
		b.nodes[node.Zone] = prev
		return nil
	}
	b.nodes[node.Zone] = NodeRecord{Node: node, Online: online}
	return nil
}

// Node returns the stored announcement for zone
func (b *Backend) Node(zone core.ZoneID) (NodeRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n, ok := b.nodes[zone]
	return n, ok
}

func sorted[T any](m map[string]T, keep func(T) bool, key func(T) string) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		if keep(v) {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, func(a, b T) int { return cmp.Compare(key(a), key(b)) })
	return out
}

func inBox(bbox *core.BBox, p core.Point) bool {
	return bbox == nil || bbox.Normalize().Contains(p)
}

func (b *Backend) Vehicles(_ context.Context, bbox *core.BBox) ([]core.Vehicle, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return sorted(b.data.vehicles,
		func(v core.Vehicle) bool { return inBox(bbox, v.Position) },
		func(v core.Vehicle) string { return v.ID }), nil
}

func (b *Backend) Lanes(_ context.Context, bbox *core.BBox) ([]core.Lane, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return sorted(b.data.lanes,
		func(l core.Lane) bool { return bbox == nil || geo.ShapeIntersects(l.Shape, bbox.Normalize()) },
		func(l core.Lane) string { return l.ID }), nil
}

func (b *Backend) TrafficLights(_ context.Context, bbox *core.BBox) ([]core.TrafficLight, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return sorted(b.data.lights,
		func(t core.TrafficLight) bool { return inBox(bbox, t.Position()) },
		func(t core.TrafficLight) string { return t.ID }), nil
}

func (b *Backend) TrafficLight(_ context.Context, id string) (core.TrafficLight, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.data.lights[id]
	if !ok {
		return core.TrafficLight{}, fmt.Errorf("traffic light %s: %w", id, storage.ErrNotFound)
	}
	return t, nil
}

func (b *Backend) Accidents(_ context.Context, bbox *core.BBox) ([]core.Accident, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return sorted(b.data.accidents,
		func(a core.Accident) bool { return inBox(bbox, a.Position) },
		func(a core.Accident) string { return a.VehicleID }), nil
}

// memTx records writes against private copies of the tables it touches.
type memTx struct {
	b       *Backend
	data    tables
	touched [numTables]bool
	base    [numTables]uint64
	ops     []Op
}

// touch copies table i from the backend on first use and remembers its version.
func (t *memTx) touch(i int) {
	if t.touched[i] {
		return
	}
	t.b.mu.RLock()
	defer t.b.mu.RUnlock()

	switch i {
	case tblVehicles:
		t.data.vehicles = cloneTable(t.b.data.vehicles)
	case tblLanes:
		t.data.lanes = cloneTable(t.b.data.lanes)
	case tblLights:
		t.data.lights = cloneTable(t.b.data.lights)
	case tblAccidents:
		t.data.accidents = cloneTable(t.b.data.accidents)
	}
	t.base[i] = t.b.versions[i]
	t.touched[i] = true
}

func cloneTable[T any](m map[string]T) map[string]T {
	if m == nil {
		return make(map[string]T)
	}
	return maps.Clone(m)
}

func (t *memTx) record(kind string, rows int) {
	if rows > 0 {
		t.ops = append(t.ops, Op{Kind: kind, Rows: rows})
	}
}

func (t *memTx) UpsertVehicles(vehicles []core.Vehicle) error {
	t.touch(tblVehicles)
	for _, v := range vehicles {
		t.data.vehicles[v.ID] = v
	}
	t.record("upsert_vehicles", len(vehicles))
	return nil
}

func (t *memTx) DeleteVehicles(ids []string) error {
	t.touch(tblVehicles)
	for _, id := range ids {
		delete(t.data.vehicles, id)
	}
	t.record("delete_vehicles", len(ids))
	return nil
}

func (t *memTx) InsertLanes(lanes []core.Lane) error {
	t.touch(tblLanes)
	for _, l := range lanes {
		if !l.Valid() {
			return fmt.Errorf("lane %s: %w", l.ID, geo.ErrInvalidShape)
		}
		t.data.lanes[l.ID] = l
	}
	t.record("insert_lanes", len(lanes))
	return nil
}

func (t *memTx) UpdateLaneShapes(lanes []core.Lane) error {
	t.touch(tblLanes)
	for _, l := range lanes {
		if !l.Valid() {
			return fmt.Errorf("lane %s: %w", l.ID, geo.ErrInvalidShape)
		}
		l.Jam = 0
		t.data.lanes[l.ID] = l
	}
	t.record("update_lane_shapes", len(lanes))
	return nil
}

func (t *memTx) UpdateLaneJams(jams map[string]float64) error {
	t.touch(tblLanes)
	for id, jam := range jams {
		if l, ok := t.data.lanes[id]; ok {
			l.Jam = jam
			t.data.lanes[id] = l
		}
	}
	t.record("update_lane_jams", len(jams))
	return nil
}

func (t *memTx) ReplaceTrafficLights(zone core.ZoneID, lights []core.TrafficLight) error {
	t.touch(tblLights)
	maps.DeleteFunc(t.data.lights, func(_ string, l core.TrafficLight) bool { return l.Zone == zone })
	for _, l := range lights {
		t.data.lights[l.ID] = l
	}
	t.record("replace_traffic_lights", len(lights))
	return nil
}

func (t *memTx) UpdateTrafficLightStates(states map[string]string) error {
	t.touch(tblLights)
	for id, state := range states {
		if l, ok := t.data.lights[id]; ok {
			l.State = state
			t.data.lights[id] = l
		}
	}
	t.record("update_traffic_light_states", len(states))
	return nil
}

func (t *memTx) UpsertAccidents(accidents []core.Accident) error {
	t.touch(tblAccidents)
	for _, a := range accidents {
		t.data.accidents[a.VehicleID] = a
	}
	t.record("upsert_accidents", len(accidents))
	return nil
}

// Compile-time interface checks
var (
	_ storage.Store = (*Backend)(nil)
	_ storage.Tx    = (*memTx)(nil)
)

package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/claxon/claxon/internal/bus"
	"github.com/claxon/claxon/internal/dispatcher"
	"github.com/claxon/claxon/internal/ingest"
	"github.com/claxon/claxon/internal/logging"
	"github.com/claxon/claxon/pkg/core"
)

// Queue sizes per topic. Vehicle batches supersede each other, so a full
// vehicle queue drops; every other kind waits for room.
const (
	vehicleQueue = 64
	entityQueue  = 256
)

// RegisterHandlers registers all event handlers with the dispatcher.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	// Positions arrive every simulation step - buffered, drop when behind
	d.Register(bus.VehiclePosition, ingestBatch(m, "vehicle", m.deps.Ingester.IngestVehiclePositions), dispatcher.Buffered(vehicleQueue), dispatcher.Logged())

	// Lanes, lights and accidents must not be lost - buffered, blocking
	d.Register(bus.LanePosition, ingestBatch(m, "lane", m.deps.Ingester.IngestLanePositions), dispatcher.Buffered(entityQueue), dispatcher.Blocking(), dispatcher.Logged())
	d.Register(bus.LaneState, ingestBatch(m, "lane", m.deps.Ingester.IngestLaneStates), dispatcher.Buffered(entityQueue), dispatcher.Blocking(), dispatcher.Logged())
	d.Register(bus.TrafficLightPosition, ingestBatch(m, "traffic_light", m.deps.Ingester.IngestTrafficLightPositions), dispatcher.Buffered(entityQueue), dispatcher.Blocking(), dispatcher.Logged())
	d.Register(bus.TrafficLightState, ingestBatch(m, "traffic_light", m.deps.Ingester.IngestTrafficLightStates), dispatcher.Buffered(entityQueue), dispatcher.Blocking(), dispatcher.Logged())
	d.Register(bus.AccidentPosition, ingestBatch(m, "accident", m.deps.Ingester.IngestAccidents), dispatcher.Buffered(entityQueue), dispatcher.Blocking(), dispatcher.Logged())

	// Relay lifecycle - sync
	d.Register(bus.NodeStart, m.handleNodeStart, dispatcher.Logged())
	d.Register(bus.NodeStop, m.handleNodeStop, dispatcher.Logged())
}

// LastIngestDuration reports how long the most recent batch took to ingest.
func (m *Manager) LastIngestDuration() time.Duration {
	return time.Duration(m.lastIngest.Load())
}

// ingestBatch decodes a batch of T and hands it to fn.
func ingestBatch[T any](m *Manager, kind string, fn func(context.Context, core.ZoneID, []T) (ingest.Result, error)) dispatcher.HandlerFunc {
	return func(ctx context.Context, e dispatcher.Event) error {
		ctx = logging.WithFields(ctx, slog.String("topic", e.Topic.Path()))

		var batch []T
		if err := decode(e.Data, &batch); err != nil {
			return fmt.Errorf("decoding %s batch from zone %q: %w", kind, e.Zone, err)
		}

		start := time.Now()
		res, err := fn(ctx, e.Zone, batch)
		m.lastIngest.Store(int64(time.Since(start)))
		if err != nil {
			return err
		}

		if res.Changed() {
			m.deps.Logger.DebugContext(ctx, "batch ingested", "zone", e.Zone,
				"written", res.Written, "deleted", res.Deleted, "skipped", res.Skipped)
		}
		return nil
	}
}

func (m *Manager) handleNodeStart(ctx context.Context, e dispatcher.Event) error {
	node, err := decodeNode(e)
	if err != nil {
		return err
	}
	return m.recordNode(ctx, node, true)
}

func (m *Manager) handleNodeStop(ctx context.Context, e dispatcher.Event) error {
	node, err := decodeNode(e)
	if err != nil {
		return err
	}
	return m.recordNode(ctx, node, false)
}

// decodeNode reads an announcement. The envelope zone wins over an empty body zone.
func decodeNode(e dispatcher.Event) (core.Node, error) {
	var node core.Node
	if err := decode(e.Data, &node); err != nil {
		return node, fmt.Errorf("decoding %s: %w", e.Topic, err)
	}
	if node.Zone == "" {
		node.Zone = e.Zone
	}
	if node.Zone == "" {
		return node, fmt.Errorf("%s without zone", e.Topic)
	}
	return node, nil
}

// decode rejects an absent or null payload. An empty batch must be sent as [].
func decode(data json.RawMessage, v any) error {
	if len(bytes.TrimSpace(data)) == 0 || string(bytes.TrimSpace(data)) == "null" {
		return bus.ErrMissingData
	}
	return json.Unmarshal(data, v)
}

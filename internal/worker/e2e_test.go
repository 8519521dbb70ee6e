package worker

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/claxon/claxon/internal/bus"
	"github.com/claxon/claxon/internal/command"
	"github.com/claxon/claxon/internal/dispatcher"
	"github.com/claxon/claxon/internal/ingest"
	"github.com/claxon/claxon/internal/relay"
	"github.com/claxon/claxon/internal/session"
	"github.com/claxon/claxon/internal/storage/memory"
	"github.com/claxon/claxon/pkg/core"
	"github.com/claxon/claxon/pkg/streaming"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readWS(t *testing.T, c *websocket.Conn) wsMessage {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg wsMessage
	require.NoError(t, c.ReadJSON(&msg))
	return msg
}

type pipeline struct {
	local *bus.Loopback
	store *memory.Backend
	hub   *session.Hub
	url   string
}

// newPipeline wires a zone relay, the central bus, ingest and the session hub
// the way the master and relay binaries do, with loopback buses.
func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	local, central := bus.NewLoopback(), bus.NewLoopback()
	store := memory.New(memory.Config{})
	commands := command.New(central)

	hub, err := session.NewHub(session.Config{}, session.Dependencies{Store: store, Commands: commands})
	require.NoError(t, err)
	go hub.Run(ctx)

	in, err := ingest.New(ingest.Dependencies{Store: store, Notifier: hub})
	require.NoError(t, err)

	m := NewManager(Dependencies{Ingester: in, Store: store, Commands: commands})
	d, err := dispatcher.New(ctx, m.deps.Logger)
	require.NoError(t, err)
	m.RegisterHandlers(d)
	require.NoError(t, d.Attach(central))
	t.Cleanup(d.Close)

	r, err := relay.New(relay.Config{Zone: "1", AdvertiseHost: "zone1", AdvertisePort: 1884},
		relay.Dependencies{Local: local, Central: central})
	require.NoError(t, err)
	require.NoError(t, r.Start(ctx))
	t.Cleanup(func() { _ = r.Stop() })

	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	return &pipeline{local: local, store: store, hub: hub, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func (p *pipeline) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(p.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.Equal(t, streaming.TypeTrafficLightPosition, readWS(t, c).Type)
	return c
}

// TestZoneToViewer runs a batch from a zone simulator through the relay,
// the central bus, ingest and the session hub to a connected viewer.
func TestZoneToViewer(t *testing.T) {
	p := newPipeline(t)
	local, store, hub := p.local, p.store, p.hub

	// the announcement made the master ask the zone for its full state
	assert.Len(t, local.Published("traci/first_data"), 1)
	rec, ok := store.Node("1")
	require.True(t, ok)
	assert.True(t, rec.Online)

	c := p.dial(t)
	require.Eventually(t, func() bool { return hub.Registry().Len() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, local.Publish("traci/traffic_light/position", []byte(`[{"id":"tl1","stop_lon":1,"stop_lat":1}]`)))
	msg := readWS(t, c)
	require.Equal(t, streaming.TypeTrafficLightPosition, msg.Type)
	var lights []core.TrafficLight
	require.NoError(t, json.Unmarshal(msg.Data, &lights))
	require.Len(t, lights, 1)
	assert.Equal(t, core.ZoneID("1"), lights[0].Zone)

	require.NoError(t, local.Publish("traci/vehicle/position", []byte(`[{"id":"v1","position":[1,1],"type":"car","speed":12}]`)))
	msg = readWS(t, c)
	require.Equal(t, streaming.TypeVehicle, msg.Type)
	var vehicles []core.Vehicle
	require.NoError(t, json.Unmarshal(msg.Data, &vehicles))
	require.Len(t, vehicles, 1)
	assert.Equal(t, "v1", vehicles[0].ID)
	assert.Equal(t, 12.0, vehicles[0].Speed)

	// a viewer command reaches the zone's simulator
	require.NoError(t, c.WriteJSON(map[string]any{
		"type": "command/traffic_light/next_phase",
		"data": map[string]string{"id": "tl1"},
	}))
	assert.Eventually(t, func() bool {
		return len(local.Published("traci/command/traffic_light/next_phase")) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

// TestLaneToViewportViewers checks that a new lane reaches only the viewers
// whose viewport it crosses.
func TestLaneToViewportViewers(t *testing.T) {
	p := newPipeline(t)

	inView := p.dial(t)
	outOfView := p.dial(t)
	require.Eventually(t, func() bool { return p.hub.Registry().Len() == 2 }, time.Second, 10*time.Millisecond)

	frame := func(c *websocket.Conn, minX, minY, maxX, maxY float64) {
		require.NoError(t, c.WriteJSON(map[string]any{
			"type": "session/frame_update",
			"data": map[string]float64{"minX": minX, "minY": minY, "maxX": maxX, "maxY": maxY},
		}))
		require.Equal(t, streaming.TypeLanesPosition, readWS(t, c).Type)
	}
	frame(inView, 10, 10, 0, 0)
	frame(outOfView, 20, 20, 30, 30)

	require.NoError(t, p.local.Publish("traci/lane/position",
		[]byte(`[{"id":"L1","shape":[[1,1],[2,1.5],[3,3]],"priority":2,"type":"road"}]`)))

	msg := readWS(t, inView)
	require.Equal(t, streaming.TypeLanesPosition, msg.Type)
	var lanes []core.Lane
	require.NoError(t, json.Unmarshal(msg.Data, &lanes))
	require.Len(t, lanes, 1)
	assert.Equal(t, "L1", lanes[0].ID)
	assert.Len(t, lanes[0].Shape, 3)
	assert.Equal(t, core.ZoneID("1"), lanes[0].Zone)

	// the push already went out to everyone; the next thing the other viewer
	// sees is the reply to its own pull
	require.NoError(t, outOfView.WriteJSON(map[string]any{"type": "session/update_accidents", "data": map[string]any{}}))
	assert.Equal(t, streaming.TypeAccidentPosition, readWS(t, outOfView).Type)

	stored, err := p.store.Lanes(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 2, stored[0].Priority)
}

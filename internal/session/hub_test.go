package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/claxon/claxon/internal/storage"
	"github.com/claxon/claxon/internal/storage/memory"
	"github.com/claxon/claxon/pkg/core"
	"github.com/claxon/claxon/pkg/streaming"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type commandCall struct {
	Kind     string
	Zone     core.ZoneID
	ID       string
	State    string
	Priority bool
}

type fakeCommander struct {
	mu    sync.Mutex
	calls []commandCall
}

func (f *fakeCommander) NextPhase(zone core.ZoneID, id string, priority bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, commandCall{Kind: "next_phase", Zone: zone, ID: id, Priority: priority})
	return nil
}

func (f *fakeCommander) SetState(zone core.ZoneID, id, state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, commandCall{Kind: "set_state", Zone: zone, ID: id, State: state})
	return nil
}

func (f *fakeCommander) Calls() []commandCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]commandCall(nil), f.calls...)
}

type received struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type fixture struct {
	hub   *Hub
	store *memory.Backend
	cmds  *fakeCommander
	url   string
}

func seed(t *testing.T, store *memory.Backend) {
	t.Helper()
	err := store.Transaction(context.Background(), func(tx storage.Tx) error {
		if err := tx.UpsertVehicles([]core.Vehicle{
			{ID: "near", Position: core.Point{1, 1}, Zone: "1"},
			{ID: "far", Position: core.Point{50, 50}, Zone: "1"},
		}); err != nil {
			return err
		}
		if err := tx.InsertLanes([]core.Lane{
			{ID: "L-in", Shape: []core.Point{{1, 1}, {2, 2}}, Zone: "1"},
			{ID: "L-out", Shape: []core.Point{{40, 40}, {41, 41}}, Zone: "1"},
		}); err != nil {
			return err
		}
		if err := tx.ReplaceTrafficLights("1", []core.TrafficLight{
			{ID: "tl1", StopLon: 1, StopLat: 1, Zone: "1"},
		}); err != nil {
			return err
		}
		return tx.UpdateTrafficLightStates(map[string]string{"tl1": "G"})
	})
	require.NoError(t, err)
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store := memory.New(memory.Config{})
	seed(t, store)
	cmds := &fakeCommander{}

	hub, err := NewHub(cfg, Dependencies{Store: store, Commands: cmds})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return &fixture{
		hub:   hub,
		store: store,
		cmds:  cmds,
		url:   "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	first := readMsg(t, c)
	require.Equal(t, streaming.TypeTrafficLightPosition, first.Type)
	return c
}

func readMsg(t *testing.T, c *websocket.Conn) received {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := c.ReadMessage()
	require.NoError(t, err)
	var msg received
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func send(t *testing.T, c *websocket.Conn, msgType string, data any) {
	t.Helper()
	require.NoError(t, c.WriteJSON(map[string]any{"type": msgType, "data": data}))
}

// syncSession round-trips a pull request so every earlier message has been handled.
func syncSession(t *testing.T, c *websocket.Conn) {
	t.Helper()
	send(t, c, "session/update_accidents", map[string]any{})
	msg := readMsg(t, c)
	require.Equal(t, streaming.TypeAccidentPosition, msg.Type)
}

func TestConnect_SendsLightSnapshotAndRegisters(t *testing.T) {
	f := newFixture(t, Config{})

	c, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	defer c.Close()

	msg := readMsg(t, c)
	require.Equal(t, streaming.TypeTrafficLightPosition, msg.Type)

	var lights []core.TrafficLight
	require.NoError(t, json.Unmarshal(msg.Data, &lights))
	require.Len(t, lights, 1)
	assert.Equal(t, "tl1", lights[0].ID)

	assert.Eventually(t, func() bool { return f.hub.Registry().Len() == 1 }, time.Second, 10*time.Millisecond)
	for _, s := range f.hub.Registry().Snapshot() {
		assert.Equal(t, StateActive, s.State())
	}
}

func TestDisconnect_RemovesSession(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.dial(t)
	require.Eventually(t, func() bool { return f.hub.Registry().Len() == 1 }, time.Second, 10*time.Millisecond)

	c.Close()

	assert.Eventually(t, func() bool { return f.hub.Registry().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestFrameUpdate_NormalizesAndRepliesLanes(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.dial(t)

	send(t, c, "session/frame_update", map[string]float64{"minX": 10, "minY": 10, "maxX": 0, "maxY": 0})

	msg := readMsg(t, c)
	require.Equal(t, streaming.TypeLanesPosition, msg.Type)
	var lanes []core.Lane
	require.NoError(t, json.Unmarshal(msg.Data, &lanes))
	require.Len(t, lanes, 1)
	assert.Equal(t, "L-in", lanes[0].ID)

	// pull queries now honor the viewport
	send(t, c, "session/update_vehicles", map[string]any{})
	msg = readMsg(t, c)
	require.Equal(t, streaming.TypeVehicle, msg.Type)
	var vehicles []core.Vehicle
	require.NoError(t, json.Unmarshal(msg.Data, &vehicles))
	require.Len(t, vehicles, 1)
	assert.Equal(t, "near", vehicles[0].ID)
}

func TestNoViewport_FullSet(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.dial(t)

	send(t, c, "session/update_vehicles", nil)
	msg := readMsg(t, c)
	require.Equal(t, streaming.TypeVehicle, msg.Type)
	var vehicles []core.Vehicle
	require.NoError(t, json.Unmarshal(msg.Data, &vehicles))
	assert.Len(t, vehicles, 2)
}

func TestFocusGating(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.dial(t)

	send(t, c, "session/focus", map[string]bool{"focused": false})
	syncSession(t, c)

	f.hub.VehiclesChanged("1")
	f.hub.TrafficLightStatesChanged(nil)
	f.hub.LaneStatesChanged([]core.Lane{{ID: "L-in", Shape: []core.Point{{1, 1}, {2, 2}}, Jam: 0.5}})

	msg := readMsg(t, c)
	assert.Equal(t, streaming.TypeLaneState, msg.Type, "unfocused sessions only get lane states")

	send(t, c, "session/focus", map[string]bool{"focused": true})
	syncSession(t, c)

	f.hub.VehiclesChanged("1")
	msg = readMsg(t, c)
	assert.Equal(t, streaming.TypeVehicle, msg.Type)

	f.hub.TrafficLightStatesChanged(nil)
	msg = readMsg(t, c)
	require.Equal(t, streaming.TypeTrafficLightState, msg.Type)
	var states []core.TrafficLightState
	require.NoError(t, json.Unmarshal(msg.Data, &states))
	assert.Equal(t, []core.TrafficLightState{{ID: "tl1", State: "G"}}, states)
}

func TestUnfocusedSession_AnswersVehiclePull(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.dial(t)

	send(t, c, "session/focus", map[string]bool{"focused": false})
	send(t, c, "session/update_vehicles", nil)

	msg := readMsg(t, c)
	require.Equal(t, streaming.TypeVehicle, msg.Type)
	var vehicles []core.Vehicle
	require.NoError(t, json.Unmarshal(msg.Data, &vehicles))
	assert.Len(t, vehicles, 2)

	// pushes stay gated
	f.hub.VehiclesChanged("1")
	syncSession(t, c)
}

func TestLaneStates_FilteredByViewport(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.dial(t)

	send(t, c, "session/frame_update", map[string]float64{"minX": 0, "minY": 0, "maxX": 10, "maxY": 10})
	require.Equal(t, streaming.TypeLanesPosition, readMsg(t, c).Type)

	f.hub.LaneStatesChanged([]core.Lane{
		{ID: "L-out", Shape: []core.Point{{40, 40}, {41, 41}}, Jam: 0.9},
	})
	f.hub.LaneStatesChanged([]core.Lane{
		{ID: "L-in", Shape: []core.Point{{1, 1}, {2, 2}}, Jam: 0.5},
		{ID: "L-out", Shape: []core.Point{{40, 40}, {41, 41}}, Jam: 0.9},
	})

	msg := readMsg(t, c)
	require.Equal(t, streaming.TypeLaneState, msg.Type)
	var lanes []core.Lane
	require.NoError(t, json.Unmarshal(msg.Data, &lanes))
	require.Len(t, lanes, 1, "first push had nothing in view and was not sent")
	assert.Equal(t, "L-in", lanes[0].ID)
}

func TestTrafficLightsPositioned_Broadcast(t *testing.T) {
	f := newFixture(t, Config{})
	a := f.dial(t)
	b := f.dial(t)
	require.Eventually(t, func() bool { return f.hub.Registry().Len() == 2 }, time.Second, 10*time.Millisecond)

	f.hub.TrafficLightsPositioned("2", []core.TrafficLight{{ID: "tl9", Zone: "2"}})

	for _, c := range []*websocket.Conn{a, b} {
		msg := readMsg(t, c)
		assert.Equal(t, streaming.TypeTrafficLightPosition, msg.Type)
	}
}

func TestCommands(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.dial(t)

	send(t, c, "command/traffic_light/next_phase", map[string]string{"id": "tl1"})
	send(t, c, "command/traffic_light/next_phase", map[string]string{"id": "ghost"})
	send(t, c, "traffic_light/set_state", map[string]string{"id": "tl1", "state": "g"})
	send(t, c, "command/traffic_light/set_state", map[string]string{"id": "tl1", "state": "r"})
	syncSession(t, c)

	assert.Equal(t, []commandCall{
		{Kind: "next_phase", Zone: "1", ID: "tl1"},
		{Kind: "next_phase", Zone: "", ID: "ghost"},
		{Kind: "set_state", Zone: "1", ID: "tl1", State: "r"},
	}, f.cmds.Calls(), "set_state to the current phase is suppressed")
}

func TestMalformedMessagesKeepConnection(t *testing.T) {
	f := newFixture(t, Config{})
	c := f.dial(t)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("{not json")))
	send(t, c, "session/teleport", map[string]any{})
	send(t, c, "session/frame_update", map[string]float64{"minX": 1})
	send(t, c, "traffic_light/set_state", map[string]string{"id": "tl1"})

	syncSession(t, c)
	assert.Empty(t, f.cmds.Calls())
	assert.Equal(t, 1, f.hub.Registry().Len())
}

func TestRefreshInterval_PushesVehicles(t *testing.T) {
	f := newFixture(t, Config{RefreshInterval: 50 * time.Millisecond})
	c := f.dial(t)

	msg := readMsg(t, c)
	assert.Equal(t, streaming.TypeVehicle, msg.Type)
}

func TestIdleSessionIsPinged(t *testing.T) {
	f := newFixture(t, Config{IdleTimeout: 100 * time.Millisecond, PingTimeout: 100 * time.Millisecond})
	c := f.dial(t)

	pinged := make(chan struct{}, 1)
	c.SetPingHandler(func(data string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return c.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	// control frames are only processed while reading
	go func() {
		for {
			if _, _, err := c.NextReader(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("idle session was never pinged")
	}
	assert.Equal(t, 1, f.hub.Registry().Len(), "answered ping keeps the session")
}

// A short ping bound must not cut off a viewer whose last message landed
// between keepalive checks: it is pinged first and stays while it answers.
func TestIdleSession_ShortPingTimeoutKeepsResponsiveViewer(t *testing.T) {
	f := newFixture(t, Config{IdleTimeout: 400 * time.Millisecond, PingTimeout: 50 * time.Millisecond})
	c := f.dial(t)
	require.Eventually(t, func() bool { return f.hub.Registry().Len() == 1 }, time.Second, 10*time.Millisecond)

	var pings atomic.Int32
	c.SetPingHandler(func(data string) error {
		pings.Add(1)
		return c.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	go func() {
		for {
			if _, _, err := c.NextReader(); err != nil {
				return
			}
		}
	}()

	time.Sleep(250 * time.Millisecond)
	send(t, c, "session/focus", map[string]bool{"focused": true})

	assert.Never(t, func() bool { return f.hub.Registry().Len() == 0 }, 1500*time.Millisecond, 20*time.Millisecond,
		"responsive viewer was dropped")
	assert.GreaterOrEqual(t, pings.Load(), int32(1), "idle viewer is pinged before anything else happens")
}

func TestMissingPongClosesSession(t *testing.T) {
	f := newFixture(t, Config{IdleTimeout: 100 * time.Millisecond, PingTimeout: 100 * time.Millisecond})
	f.dial(t)
	require.Eventually(t, func() bool { return f.hub.Registry().Len() == 1 }, time.Second, 10*time.Millisecond)

	// the client never reads, so pings go unanswered
	assert.Eventually(t, func() bool { return f.hub.Registry().Len() == 0 }, 3*time.Second, 20*time.Millisecond)
}

type failingConn struct{ nopConn }

func (failingConn) WriteMessage(int, []byte) error { return errors.New("broken pipe") }

func TestFailedSendDropsSession(t *testing.T) {
	hub, err := NewHub(Config{}, Dependencies{Store: memory.New(memory.Config{}), Commands: &fakeCommander{}})
	require.NoError(t, err)

	s := newSession(failingConn{})
	hub.registry.Add(s)

	assert.False(t, hub.deliver(s, streaming.TypeVehicle, []core.Vehicle{}))
	assert.Equal(t, 0, hub.registry.Len())
	assert.Equal(t, StateClosed, s.State())
}

func TestSchedule_DropsWhenFull(t *testing.T) {
	hub, err := NewHub(Config{QueueSize: 1}, Dependencies{Store: memory.New(memory.Config{}), Commands: &fakeCommander{}})
	require.NoError(t, err)

	assert.True(t, hub.schedule("test", func(context.Context) {}))
	assert.False(t, hub.schedule("test", func(context.Context) {}))
	assert.Equal(t, 1, hub.QueueLen())
}

func TestVehiclesChanged_Coalesces(t *testing.T) {
	hub, err := NewHub(Config{QueueSize: 8}, Dependencies{Store: memory.New(memory.Config{}), Commands: &fakeCommander{}})
	require.NoError(t, err)

	hub.VehiclesChanged("1")
	hub.VehiclesChanged("2")
	hub.VehiclesChanged("1")

	assert.Equal(t, 1, hub.QueueLen())
}

// Package relay bridges one zone's local simulator bus to the central bus and
// watches relayed traffic for emergency vehicles.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/claxon/claxon/internal/bus"
	"github.com/claxon/claxon/internal/command"
	"github.com/claxon/claxon/pkg/core"
)

// ErrNotStarted is returned by Stop on a relay that is not running.
var ErrNotStarted = errors.New("relay not started")

// EmergencyConfig tunes the emergency detector.
type EmergencyConfig struct {
	Interval time.Duration
	Radius   float64
	Marker   string
}

// Config identifies the relay's zone and how the master can reach its local broker.
type Config struct {
	Zone          core.ZoneID
	AdvertiseHost string
	AdvertisePort int
	Emergency     EmergencyConfig
}

// Dependencies holds the two bus connections the relay bridges.
type Dependencies struct {
	Local   bus.Client
	Central bus.Client
	Logger  *slog.Logger
}

// Relay forwards entity batches from the zone to the master and commands from
// the master to the zone.
type Relay struct {
	cfg      Config
	deps     Dependencies
	detector *Detector
	commands *command.Channel

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, deps Dependencies) (*Relay, error) {
	if deps.Local == nil || deps.Central == nil {
		return nil, errors.New("relay needs both a local and a central bus")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.Emergency.Interval <= 0 {
		cfg.Emergency.Interval = time.Second
	}
	if cfg.Emergency.Marker == "" {
		cfg.Emergency.Marker = "emergency"
	}
	return &Relay{
		cfg:      cfg,
		deps:     deps,
		detector: NewDetector(cfg.Emergency.Radius, cfg.Emergency.Marker),
		commands: command.New(deps.Central),
	}, nil
}

// Detector exposes the emergency detector fed by relayed batches.
func (r *Relay) Detector() *Detector { return r.detector }

// Start subscribes both sides, announces the zone and starts the detector loop.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return errors.New("relay already started")
	}

	for _, t := range bus.EntityTopics {
		if err := r.deps.Local.Subscribe(bus.Local.Topic(t), r.forwardLocal); err != nil {
			return fmt.Errorf("subscribing local %s: %w", t, err)
		}
	}

	central := map[bus.Topic]bus.Handler{
		bus.CommandFirstData: r.handleFirstData,
		bus.CommandGetInit:   r.handleGetInit,
		bus.CommandNextPhase: r.forwardCommand(bus.CommandNextPhase),
		bus.CommandSetState:  r.forwardCommand(bus.CommandSetState),
	}
	for t, h := range central {
		if err := r.deps.Central.Subscribe(bus.Central.Topic(t), h); err != nil {
			return fmt.Errorf("subscribing central %s: %w", t, err)
		}
	}

	if err := r.Announce(); err != nil {
		r.deps.Logger.Warn("zone announcement failed", "zone", r.cfg.Zone, "error", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runDetector(ctx)
	}()

	r.deps.Logger.Info("relay started", "zone", r.cfg.Zone)
	return nil
}

// Stop halts the detector and tells the master the zone is leaving.
func (r *Relay) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return ErrNotStarted
	}

	cancel()
	r.wg.Wait()

	payload, err := bus.Encode(r.cfg.Zone, core.Node{Zone: r.cfg.Zone})
	if err != nil {
		return err
	}
	if err := r.deps.Central.Publish(bus.Central.Topic(bus.NodeStop), payload); err != nil {
		return fmt.Errorf("publishing node stop: %w", err)
	}
	r.deps.Logger.Info("relay stopped", "zone", r.cfg.Zone)
	return nil
}

// Announce publishes node/start. It is also run on every central reconnect.
func (r *Relay) Announce() error {
	node := core.Node{Host: r.cfg.AdvertiseHost, Port: r.cfg.AdvertisePort, Zone: r.cfg.Zone}
	payload, err := bus.Encode(r.cfg.Zone, node)
	if err != nil {
		return err
	}
	if err := r.deps.Central.Publish(bus.Central.Topic(bus.NodeStart), payload); err != nil {
		return fmt.Errorf("publishing node start: %w", err)
	}
	return nil
}

func (r *Relay) forwardLocal(topic string, payload []byte) {
	t, err := bus.Local.Parse(topic)
	if err != nil {
		r.deps.Logger.Warn("ignoring local message", "topic", topic, "error", err)
		return
	}

	wrapped, err := bus.Wrap(r.cfg.Zone, payload)
	if err != nil {
		r.deps.Logger.Warn("dropping local message", "topic", topic, "error", err)
		return
	}
	if err := r.deps.Central.Publish(bus.Central.Topic(t), wrapped); err != nil {
		r.deps.Logger.Error("relaying to central failed", "topic", t, "error", err)
	}

	r.observe(t, payload)
}

// observe feeds position batches to the detector.
func (r *Relay) observe(t bus.Topic, payload []byte) {
	switch t {
	case bus.VehiclePosition:
		var vehicles []core.Vehicle
		if err := json.Unmarshal(payload, &vehicles); err != nil {
			r.deps.Logger.Debug("vehicle batch not decodable", "error", err)
			return
		}
		r.detector.UpdateVehicles(vehicles)
	case bus.TrafficLightPosition:
		var lights []core.TrafficLight
		if err := json.Unmarshal(payload, &lights); err != nil {
			r.deps.Logger.Debug("traffic light batch not decodable", "error", err)
			return
		}
		r.detector.UpdateLights(lights)
	}
}

func (r *Relay) handleFirstData(topic string, payload []byte) {
	env, err := bus.Unwrap(payload)
	if err != nil {
		r.deps.Logger.Warn("dropping central message", "topic", topic, "error", err)
		return
	}
	if !env.For(r.cfg.Zone) {
		return
	}
	if err := r.deps.Local.Publish(bus.Local.Topic(bus.FirstData), []byte("{}")); err != nil {
		r.deps.Logger.Error("requesting first data failed", "error", err)
	}
}

func (r *Relay) handleGetInit(string, []byte) {
	if err := r.deps.Local.Publish(bus.Local.Topic(bus.CommandGetInit), []byte("{}")); err != nil {
		r.deps.Logger.Error("forwarding get_init failed", "error", err)
	}
	if err := r.Announce(); err != nil {
		r.deps.Logger.Error("re-announcing zone failed", "error", err)
	}
}

func (r *Relay) forwardCommand(t bus.Topic) bus.Handler {
	return func(topic string, payload []byte) {
		env, err := bus.Unwrap(payload)
		if err != nil {
			r.deps.Logger.Warn("dropping central message", "topic", topic, "error", err)
			return
		}
		if !env.For(r.cfg.Zone) {
			return
		}
		if err := r.deps.Local.Publish(bus.Local.Topic(t), env.Data); err != nil {
			r.deps.Logger.Error("forwarding command failed", "topic", t, "error", err)
		}
	}
}

func (r *Relay) runDetector(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Emergency.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.requestPriority()
		}
	}
}

func (r *Relay) requestPriority() {
	for _, id := range r.detector.Evaluate() {
		r.deps.Logger.Info("emergency vehicle near light, requesting priority", "zone", r.cfg.Zone, "light", id)
		if err := r.commands.NextPhase(r.cfg.Zone, id, true); err != nil {
			r.deps.Logger.Error("priority request failed", "light", id, "error", err)
		}
	}
}

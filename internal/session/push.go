package session

import (
	"context"

	"github.com/claxon/claxon/internal/geo"
	"github.com/claxon/claxon/pkg/core"
	"github.com/claxon/claxon/pkg/streaming"
)

// The hub implements ingest.Notifier. Every method only schedules work.

// VehiclesChanged pushes vehicles to focused sessions. Pushes already
// waiting in the queue absorb later ones.
func (h *Hub) VehiclesChanged(core.ZoneID) {
	if !h.vehiclesPending.CompareAndSwap(false, true) {
		return
	}
	if !h.schedule(streaming.TypeVehicle, func(ctx context.Context) {
		h.vehiclesPending.Store(false)
		h.pushVehicles(ctx)
	}) {
		h.vehiclesPending.Store(false)
	}
}

// LanesPositioned sends rewritten lanes to sessions whose viewport they cross.
func (h *Hub) LanesPositioned(lanes []core.Lane) {
	h.schedule(streaming.TypeLanesPosition, func(context.Context) {
		h.registry.ForEach(func(s *Session) {
			if in := lanesInView(lanes, s.viewport, geo.ShapeIntersects); len(in) > 0 {
				h.deliver(s, streaming.TypeLanesPosition, in)
			}
		})
	})
}

// LaneStatesChanged sends jam changes for lanes with a vertex in the viewport.
func (h *Hub) LaneStatesChanged(lanes []core.Lane) {
	h.schedule(streaming.TypeLaneState, func(context.Context) {
		h.registry.ForEach(func(s *Session) {
			if in := lanesInView(lanes, s.viewport, func(shape []core.Point, b core.BBox) bool {
				return b.ContainsAny(shape)
			}); len(in) > 0 {
				h.deliver(s, streaming.TypeLaneState, in)
			}
		})
	})
}

// TrafficLightsPositioned sends the zone's new light set to every session.
func (h *Hub) TrafficLightsPositioned(_ core.ZoneID, lights []core.TrafficLight) {
	h.schedule(streaming.TypeTrafficLightPosition, func(context.Context) {
		h.registry.ForEach(func(s *Session) {
			h.deliver(s, streaming.TypeTrafficLightPosition, lights)
		})
	})
}

// TrafficLightStatesChanged refreshes light states of focused sessions.
func (h *Hub) TrafficLightStatesChanged([]core.TrafficLight) {
	h.schedule(streaming.TypeTrafficLightState, func(ctx context.Context) {
		h.registry.ForEach(func(s *Session) {
			if s.focused {
				h.sendLightStates(ctx, s)
			}
		})
	})
}

// AccidentsChanged refreshes accidents of every session.
func (h *Hub) AccidentsChanged([]core.Accident) {
	h.schedule(streaming.TypeAccidentPosition, func(ctx context.Context) {
		h.registry.ForEach(func(s *Session) {
			h.sendAccidents(ctx, s)
		})
	})
}

func (h *Hub) pushVehicles(ctx context.Context) {
	h.registry.ForEach(func(s *Session) {
		if s.focused {
			h.sendVehicles(ctx, s)
		}
	})
}

func (h *Hub) sendVehicles(ctx context.Context, s *Session) {
	vehicles, err := h.deps.Store.Vehicles(ctx, s.viewport)
	if err != nil {
		h.deps.Logger.Error("vehicle query failed", "session", s.ID(), "error", err)
		return
	}
	h.deliver(s, streaming.TypeVehicle, vehicles)
}

func (h *Hub) sendLightStates(ctx context.Context, s *Session) {
	lights, err := h.deps.Store.TrafficLights(ctx, s.viewport)
	if err != nil {
		h.deps.Logger.Error("traffic light query failed", "session", s.ID(), "error", err)
		return
	}
	states := make([]core.TrafficLightState, len(lights))
	for i, l := range lights {
		states[i] = core.TrafficLightState{ID: l.ID, State: l.State}
	}
	h.deliver(s, streaming.TypeTrafficLightState, states)
}

func (h *Hub) sendAccidents(ctx context.Context, s *Session) {
	accidents, err := h.deps.Store.Accidents(ctx, s.viewport)
	if err != nil {
		h.deps.Logger.Error("accident query failed", "session", s.ID(), "error", err)
		return
	}
	h.deliver(s, streaming.TypeAccidentPosition, accidents)
}

func (h *Hub) sendLanes(ctx context.Context, s *Session) {
	lanes, err := h.deps.Store.Lanes(ctx, s.viewport)
	if err != nil {
		h.deps.Logger.Error("lane query failed", "session", s.ID(), "error", err)
		return
	}
	h.deliver(s, streaming.TypeLanesPosition, lanes)
}

// lanesInView filters lanes by viewport. Without a viewport every lane matches.
func lanesInView(lanes []core.Lane, viewport *core.BBox, match func([]core.Point, core.BBox) bool) []core.Lane {
	if viewport == nil {
		return lanes
	}
	var out []core.Lane
	for _, l := range lanes {
		if match(l.Shape, *viewport) {
			out = append(out, l)
		}
	}
	return out
}

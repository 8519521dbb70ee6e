package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/claxon/claxon/internal/storage"
	"github.com/claxon/claxon/pkg/core"
	"github.com/claxon/claxon/pkg/streaming"
)

// inbound is a decoded viewer message waiting for the hub loop.
type inbound struct {
	kind streaming.ClientKind
	data json.RawMessage
}

func parseInbound(raw []byte) (inbound, error) {
	var env streaming.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return inbound{}, fmt.Errorf("malformed message: %w", err)
	}
	kind, err := streaming.ParseClientKind(env.Type)
	if err != nil {
		return inbound{}, err
	}
	return inbound{kind: kind, data: env.Data}, nil
}

// handle applies one viewer message. Hub loop only.
func (h *Hub) handle(ctx context.Context, s *Session, msg inbound) error {
	switch msg.kind {
	case streaming.KindFrameUpdate:
		var fu streaming.FrameUpdate
		if err := streaming.Decode(msg.data, &fu); err != nil {
			return err
		}
		box, err := fu.BBox()
		if err != nil {
			return err
		}
		s.viewport = &box
		h.sendLanes(ctx, s)

	case streaming.KindFocus:
		var f streaming.Focus
		if err := streaming.Decode(msg.data, &f); err != nil {
			return err
		}
		if f.Focused == nil {
			return fmt.Errorf("focus: %w", streaming.ErrMissingField)
		}
		s.focused = *f.Focused

	case streaming.KindUpdateVehicles:
		h.sendVehicles(ctx, s)

	case streaming.KindUpdateLights:
		h.sendLightStates(ctx, s)

	case streaming.KindUpdateAccidents:
		h.sendAccidents(ctx, s)

	case streaming.KindNextPhase:
		cmd, err := decodeLightCommand(msg.data, false)
		if err != nil {
			return err
		}
		light := h.lookupLight(ctx, cmd.ID)
		return h.deps.Commands.NextPhase(light.Zone, cmd.ID, false)

	case streaming.KindSetState:
		cmd, err := decodeLightCommand(msg.data, true)
		if err != nil {
			return err
		}
		light := h.lookupLight(ctx, cmd.ID)
		if light.State != "" && core.SamePhase(cmd.State, light.State) {
			h.deps.Logger.Debug("set_state suppressed, light already in phase",
				"session", s.ID(), "light", cmd.ID, "state", cmd.State)
			return nil
		}
		return h.deps.Commands.SetState(light.Zone, cmd.ID, cmd.State)

	default:
		return fmt.Errorf("unhandled message kind %s", msg.kind)
	}
	return nil
}

func decodeLightCommand(data json.RawMessage, needState bool) (streaming.LightCommand, error) {
	var cmd streaming.LightCommand
	if err := streaming.Decode(data, &cmd); err != nil {
		return cmd, err
	}
	if cmd.ID == "" {
		return cmd, fmt.Errorf("light command id: %w", streaming.ErrMissingField)
	}
	if needState && cmd.State == "" {
		return cmd, fmt.Errorf("light command state: %w", streaming.ErrMissingField)
	}
	return cmd, nil
}

// lookupLight resolves a light's zone and last state. Unknown lights resolve
// to the empty zone, which every relay accepts.
func (h *Hub) lookupLight(ctx context.Context, id string) core.TrafficLight {
	light, err := h.deps.Store.TrafficLight(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			h.deps.Logger.Warn("traffic light lookup failed", "light", id, "error", err)
		}
		return core.TrafficLight{ID: id}
	}
	return light
}

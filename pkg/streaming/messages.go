// Package streaming defines the JSON protocol spoken with viewers over WebSocket.
package streaming

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/claxon/claxon/pkg/core"
)

// Server -> viewer message types.
const (
	TypeLanesPosition        = "lanes/position"
	TypeTrafficLightPosition = "traffic_light/position"
	TypeVehicle              = "vehicle"
	TypeLaneState            = "lane/state"
	TypeTrafficLightState    = "traffic_light/state"
	TypeAccidentPosition     = "accident/position"
)

// ErrMissingField is returned when a viewer message lacks a required field.
var ErrMissingField = errors.New("missing required field")

// Envelope is the inbound frame shape: a type and an opaque data object.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Message is the outbound frame shape.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ClientKind enumerates the viewer -> server messages the core understands.
type ClientKind int

const (
	KindFrameUpdate ClientKind = iota
	KindFocus
	KindUpdateVehicles
	KindUpdateLights
	KindUpdateAccidents
	KindNextPhase
	KindSetState
)

var clientKinds = map[string]ClientKind{
	"session/frame_update":             KindFrameUpdate,
	"session/focus":                    KindFocus,
	"session/update_vehicles":          KindUpdateVehicles,
	"session/update_lights":            KindUpdateLights,
	"session/update_accidents":         KindUpdateAccidents,
	"command/traffic_light/next_phase": KindNextPhase,
	"traffic_light/set_state":          KindSetState,
	"command/traffic_light/set_state":  KindSetState,
}

// ParseClientKind resolves a message type string.
func ParseClientKind(t string) (ClientKind, error) {
	k, ok := clientKinds[t]
	if !ok {
		return 0, fmt.Errorf("unknown message type %q", t)
	}
	return k, nil
}

func (k ClientKind) String() string {
	switch k {
	case KindFrameUpdate:
		return "session/frame_update"
	case KindFocus:
		return "session/focus"
	case KindUpdateVehicles:
		return "session/update_vehicles"
	case KindUpdateLights:
		return "session/update_lights"
	case KindUpdateAccidents:
		return "session/update_accidents"
	case KindNextPhase:
		return "command/traffic_light/next_phase"
	case KindSetState:
		return "traffic_light/set_state"
	default:
		return fmt.Sprintf("ClientKind(%d)", int(k))
	}
}

// FrameUpdate carries a viewport. All four corners are required.
type FrameUpdate struct {
	MinX *float64 `json:"minX"`
	MinY *float64 `json:"minY"`
	MaxX *float64 `json:"maxX"`
	MaxY *float64 `json:"maxY"`
}

// BBox validates the update and returns the normalized viewport.
func (f FrameUpdate) BBox() (core.BBox, error) {
	if f.MinX == nil || f.MinY == nil || f.MaxX == nil || f.MaxY == nil {
		return core.BBox{}, fmt.Errorf("frame_update: %w", ErrMissingField)
	}
	return core.BBox{MinX: *f.MinX, MinY: *f.MinY, MaxX: *f.MaxX, MaxY: *f.MaxY}.Normalize(), nil
}

// Focus toggles push delivery.
type Focus struct {
	Focused *bool `json:"focused"`
}

// LightCommand is the payload of next_phase and set_state.
type LightCommand struct {
	ID    string `json:"id"`
	State string `json:"state,omitempty"`
}

// Decode unmarshals data into v. Empty data is reported as a missing field.
func Decode(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return ErrMissingField
	}
	return json.Unmarshal(data, v)
}

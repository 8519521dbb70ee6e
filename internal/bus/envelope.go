package bus

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/claxon/claxon/pkg/core"
)

// ErrMissingData is returned for an envelope whose data is absent or null.
var ErrMissingData = errors.New("envelope has no data")

// Envelope is the central-bus wrapper: the relayed payload plus the zone it
// came from (or is addressed to). An empty zone means "any zone".
type Envelope struct {
	Data json.RawMessage `json:"data"`
	Zone core.ZoneID     `json:"zone"`
}

// Wrap builds a central payload around raw local data.
func Wrap(zone core.ZoneID, data []byte) ([]byte, error) {
	if len(data) == 0 {
		data = []byte("null")
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("wrapping payload for zone %q: invalid json", zone)
	}
	return json.Marshal(Envelope{Data: data, Zone: zone})
}

// Encode marshals v as data and wraps it.
func Encode(zone core.ZoneID, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return json.Marshal(Envelope{Data: data, Zone: zone})
}

// Unwrap parses a central payload.
func Unwrap(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	return env, nil
}

// For reports whether an envelope addressed to env.Zone should be handled by zone.
func (env Envelope) For(zone core.ZoneID) bool {
	return env.Zone == "" || env.Zone == zone
}

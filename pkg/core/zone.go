// pkg/core/zone.go
package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ZoneID identifies a simulation partition. Relays publish it either as a
// JSON string or as a bare number, so both forms decode to the same value.
type ZoneID string

func (z *ZoneID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*z = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*z = ZoneID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("zone must be a string or a number: %w", err)
	}
	*z = ZoneID(n.String())
	return nil
}

func (z ZoneID) String() string {
	return string(z)
}

// Node is the announcement a relay publishes when it joins the central bus.
type Node struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Zone ZoneID `json:"zone"`
}

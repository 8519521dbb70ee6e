// Package command publishes control requests on the central bus.
package command

import (
	"fmt"

	"github.com/claxon/claxon/internal/bus"
	"github.com/claxon/claxon/pkg/core"
)

// LightRequest is the data of a traffic light command.
type LightRequest struct {
	ID       string `json:"id"`
	State    string `json:"state,omitempty"`
	Priority bool   `json:"priority,omitempty"`
}

// Channel is fire-and-forget: a publish error is returned but nothing is retried.
type Channel struct {
	pub bus.Publisher
	ns  bus.Namespace
}

// New creates a Channel publishing under the central namespace.
func New(pub bus.Publisher) *Channel {
	return &Channel{pub: pub, ns: bus.Central}
}

func (c *Channel) publish(topic bus.Topic, zone core.ZoneID, data any) error {
	payload, err := bus.Encode(zone, data)
	if err != nil {
		return err
	}
	if err := c.pub.Publish(c.ns.Topic(topic), payload); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

// NextPhase asks the zone's simulator to advance a light. Priority marks an
// emergency request.
func (c *Channel) NextPhase(zone core.ZoneID, id string, priority bool) error {
	return c.publish(bus.CommandNextPhase, zone, LightRequest{ID: id, Priority: priority})
}

// SetState asks the zone's simulator to force a light state.
func (c *Channel) SetState(zone core.ZoneID, id, state string) error {
	return c.publish(bus.CommandSetState, zone, LightRequest{ID: id, State: state})
}

// RequestInit asks every relay to announce itself.
func (c *Channel) RequestInit() error {
	return c.publish(bus.CommandGetInit, "", struct{}{})
}

// FirstData asks one zone to push its full state.
func (c *Channel) FirstData(zone core.ZoneID) error {
	return c.publish(bus.CommandFirstData, zone, struct{}{})
}

// Package bus wraps the pub/sub broker shared by relays and the master.
package bus

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownTopic is returned when a topic string is not part of the closed set.
var ErrUnknownTopic = errors.New("unknown topic")

// Topic is one of the fixed bus subjects, independent of namespace.
type Topic int

const (
	VehiclePosition Topic = iota
	VehicleState
	LanePosition
	LaneState
	TrafficLightPosition
	TrafficLightState
	AccidentPosition
	AccidentState
	CommandGetInit
	CommandFirstData
	CommandNextPhase
	CommandSetState
	NodeStart
	NodeStop
	FirstData
)

var topicPaths = [...]string{
	VehiclePosition:      "vehicle/position",
	VehicleState:         "vehicle/state",
	LanePosition:         "lane/position",
	LaneState:            "lane/state",
	TrafficLightPosition: "traffic_light/position",
	TrafficLightState:    "traffic_light/state",
	AccidentPosition:     "accident/position",
	AccidentState:        "accident/state",
	CommandGetInit:       "command/get_init",
	CommandFirstData:     "command/first_data",
	CommandNextPhase:     "command/traffic_light/next_phase",
	CommandSetState:      "command/traffic_light/set_state",
	NodeStart:            "node/start",
	NodeStop:             "node/stop",
	FirstData:            "first_data",
}

// EntityTopics are the data topics a relay forwards from local to central.
var EntityTopics = []Topic{
	VehiclePosition, VehicleState,
	LanePosition, LaneState,
	TrafficLightPosition, TrafficLightState,
	AccidentPosition, AccidentState,
}

// Path returns the namespace-relative path, e.g. "lane/state".
func (t Topic) Path() string {
	if t < 0 || int(t) >= len(topicPaths) {
		return fmt.Sprintf("Topic(%d)", int(t))
	}
	return topicPaths[t]
}

func (t Topic) String() string {
	return t.Path()
}

// Namespace prefixes topics on one broker. Central and local buses use different ones.
type Namespace string

const (
	Central Namespace = "claxon"
	Local   Namespace = "traci"
)

// Topic renders t under this namespace.
func (n Namespace) Topic(t Topic) string {
	return string(n) + "/" + t.Path()
}

// Parse resolves a full topic string published under this namespace.
func (n Namespace) Parse(s string) (Topic, error) {
	path, ok := strings.CutPrefix(s, string(n)+"/")
	if !ok {
		return 0, fmt.Errorf("%w: %q outside namespace %q", ErrUnknownTopic, s, n)
	}
	for t, p := range topicPaths {
		if p == path {
			return Topic(t), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTopic, s)
}

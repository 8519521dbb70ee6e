// pkg/core/phase.go
package core

import (
	"slices"
	"strings"
)

// Phase is the 4-level collapse of a signal color code.
type Phase int

const (
	PhaseGreen Phase = iota
	PhaseYellow
	PhaseRed
	PhaseUnknown
)

func (p Phase) String() string {
	switch p {
	case PhaseGreen:
		return "green"
	case PhaseYellow:
		return "yellow"
	case PhaseRed:
		return "red"
	default:
		return "unknown"
	}
}

// CollapseState maps a state string to phases. Color words ("green",
// "orange", ...) collapse to a single phase; anything else is read as a
// per-link code string such as "GrGy".
func CollapseState(state string) []Phase {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "":
		return []Phase{PhaseUnknown}
	case "green":
		return []Phase{PhaseGreen}
	case "yellow", "orange", "amber":
		return []Phase{PhaseYellow}
	case "red":
		return []Phase{PhaseRed}
	}

	phases := make([]Phase, 0, len(state))
	for _, r := range state {
		phases = append(phases, phaseOf(r))
	}
	return phases
}

func phaseOf(r rune) Phase {
	switch r {
	case 'G', 'g':
		return PhaseGreen
	case 'Y', 'y', 'O', 'o':
		return PhaseYellow
	case 'R', 'r':
		return PhaseRed
	default:
		return PhaseUnknown
	}
}

// SamePhase reports whether two states collapse to the same phases.
func SamePhase(a, b string) bool {
	return slices.Equal(CollapseState(a), CollapseState(b))
}

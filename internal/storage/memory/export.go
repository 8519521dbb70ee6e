// internal/storage/memory/export.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/claxon/claxon/pkg/core"
)

// Snapshot is the JSON document written by Export
type Snapshot struct {
	ExportedAt    time.Time           `json:"exportedAt"`
	Vehicles      []core.Vehicle      `json:"vehicles"`
	Lanes         []core.Lane         `json:"lanes"`
	TrafficLights []core.TrafficLight `json:"trafficLights"`
	Accidents     []core.Accident     `json:"accidents"`
	Nodes         []NodeRecord        `json:"nodes"`
}

// Snapshot copies the current tables.
func (b *Backend) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Snapshot{
		ExportedAt:    time.Now().UTC(),
		Vehicles:      sorted(b.data.vehicles, always[core.Vehicle], func(v core.Vehicle) string { return v.ID }),
		Lanes:         sorted(b.data.lanes, always[core.Lane], func(l core.Lane) string { return l.ID }),
		TrafficLights: sorted(b.data.lights, always[core.TrafficLight], func(t core.TrafficLight) string { return t.ID }),
		Accidents:     sorted(b.data.accidents, always[core.Accident], func(a core.Accident) string { return a.VehicleID }),
	}
	for _, n := range b.nodes {
		s.Nodes = append(s.Nodes, n)
	}
	slices.SortFunc(s.Nodes, func(a, b NodeRecord) int { return strings.Compare(a.Node.Zone.String(), b.Node.Zone.String()) })
	return s
}

func always[T any](T) bool { return true }

// Export writes the snapshot to the configured output directory and returns its path.
func (b *Backend) Export() (string, error) {
	if err := os.MkdirAll(b.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	name := fmt.Sprintf("claxon_%s.json", time.Now().UTC().Format("20060102_150405"))
	if b.cfg.CompressOutput {
		name += ".gz"
	}
	path := filepath.Join(b.cfg.OutputDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer f.Close()

	var enc *json.Encoder
	if b.cfg.CompressOutput {
		gz := gzip.NewWriter(f)
		defer gz.Close()
		enc = json.NewEncoder(gz)
	} else {
		enc = json.NewEncoder(f)
	}

	if err := enc.Encode(b.Snapshot()); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	return path, nil
}

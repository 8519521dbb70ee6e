package ingest

import (
	"context"

	"github.com/claxon/claxon/internal/storage"
	"github.com/claxon/claxon/pkg/core"
)

// IngestTrafficLightPositions replaces every light of the zone with the
// batch. Replaced lights start without a state.
func (in *Ingester) IngestTrafficLightPositions(ctx context.Context, zone core.ZoneID, batch []core.TrafficLight) (Result, error) {
	in.lightMu.Lock()
	defer in.lightMu.Unlock()

	byID := make(map[string]core.TrafficLight, len(batch))
	for _, t := range batch {
		t.Zone = zone
		t.State = ""
		byID[t.ID] = t
	}
	lights := sortedValues(byID, lightID)

	err := in.commit(ctx, KindTrafficLight, zone, func(tx storage.Tx) error {
		return tx.ReplaceTrafficLights(zone, lights)
	})
	if err != nil {
		return Result{}, err
	}

	next := make(map[string]core.TrafficLight, len(byID))
	var deleted int
	for id, t := range in.lights.Get() {
		if t.Zone == zone {
			if _, ok := byID[id]; !ok {
				deleted++
			}
			continue
		}
		next[id] = t
	}
	for id, t := range byID {
		next[id] = t
	}
	in.lights.Set(next)

	res := Result{Written: len(lights), Deleted: deleted, Skipped: len(batch) - len(lights)}
	in.count(ctx, KindTrafficLight, res)
	in.deps.Logger.DebugContext(ctx, "traffic light positions replaced", "zone", zone, "lights", len(lights))

	in.deps.Notifier.TrafficLightsPositioned(zone, lights)
	return res, nil
}

// IngestTrafficLightStates updates the state of known lights. Unknown ids
// and unchanged states are skipped.
func (in *Ingester) IngestTrafficLightStates(ctx context.Context, zone core.ZoneID, batch []core.TrafficLightState) (Result, error) {
	in.lightMu.Lock()
	defer in.lightMu.Unlock()

	cached := in.lights.Get()
	states := make(map[string]string)
	changed := make(map[string]core.TrafficLight)
	var res Result

	for _, s := range batch {
		prev, ok := cached[s.ID]
		if !ok {
			res.Skipped++
			continue
		}
		if prev.State == s.State {
			res.Skipped++
			delete(states, s.ID)
			delete(changed, s.ID)
			continue
		}
		prev.State = s.State
		states[s.ID] = s.State
		changed[s.ID] = prev
	}

	if len(states) == 0 {
		in.count(ctx, KindTrafficLight, res)
		return res, nil
	}

	err := in.commit(ctx, KindTrafficLight, zone, func(tx storage.Tx) error {
		return tx.UpdateTrafficLightStates(states)
	})
	if err != nil {
		return Result{}, err
	}

	in.lights.Apply(changed, nil)
	res.Written = len(changed)
	in.count(ctx, KindTrafficLight, res)

	in.deps.Notifier.TrafficLightStatesChanged(sortedValues(changed, lightID))
	return res, nil
}

func lightID(t core.TrafficLight) string { return t.ID }

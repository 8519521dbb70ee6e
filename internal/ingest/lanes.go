package ingest

import (
	"context"
	"slices"
	"strings"

	"github.com/claxon/claxon/internal/storage"
	"github.com/claxon/claxon/pkg/core"
)

// IngestLanePositions inserts unseen lanes and rewrites lanes whose shape
// changed. A rewrite resets the lane's jam to 0. Lanes with an unchanged
// shape are left alone, jam included.
func (in *Ingester) IngestLanePositions(ctx context.Context, zone core.ZoneID, batch []core.Lane) (Result, error) {
	in.laneMu.Lock()
	defer in.laneMu.Unlock()

	cached := in.lanes.Get()
	inserts := make(map[string]core.Lane)
	updates := make(map[string]core.Lane)
	var res Result

	for _, l := range batch {
		l.Zone = zone
		if !l.Valid() {
			in.deps.Logger.WarnContext(ctx, "skipping lane with invalid shape", "zone", zone, "lane", l.ID, "points", len(l.Shape))
			res.Skipped++
			continue
		}
		l.Jam = 0
		prev, ok := cached[l.ID]
		switch {
		case !ok:
			inserts[l.ID] = l
		case !prev.SameShape(l):
			updates[l.ID] = l
		default:
			res.Skipped++
		}
	}

	if len(inserts) == 0 && len(updates) == 0 {
		in.count(ctx, KindLane, res)
		return res, nil
	}

	insertRows := sortedValues(inserts, laneID)
	updateRows := sortedValues(updates, laneID)

	err := in.commit(ctx, KindLane, zone, func(tx storage.Tx) error {
		if len(insertRows) > 0 {
			if err := tx.InsertLanes(insertRows); err != nil {
				return err
			}
		}
		if len(updateRows) > 0 {
			return tx.UpdateLaneShapes(updateRows)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	changed := make(map[string]core.Lane, len(inserts)+len(updates))
	for id, l := range inserts {
		changed[id] = l
	}
	for id, l := range updates {
		changed[id] = l
	}
	in.lanes.Apply(changed, nil)

	res.Written = len(changed)
	in.count(ctx, KindLane, res)
	in.deps.Logger.DebugContext(ctx, "lane positions applied",
		"zone", zone, "inserted", len(inserts), "updated", len(updates), "skipped", res.Skipped)

	in.deps.Notifier.LanesPositioned(append(insertRows, updateRows...))
	return res, nil
}

// IngestLaneStates updates the jam of known lanes. Unknown ids and unchanged
// jams are skipped; a null jam counts as 0.
func (in *Ingester) IngestLaneStates(ctx context.Context, zone core.ZoneID, batch []core.LaneState) (Result, error) {
	in.laneMu.Lock()
	defer in.laneMu.Unlock()

	cached := in.lanes.Get()
	jams := make(map[string]float64)
	changed := make(map[string]core.Lane)
	var res Result

	for _, s := range batch {
		prev, ok := cached[s.ID]
		if !ok {
			res.Skipped++
			continue
		}
		jam := s.Jam()
		if cur, ok := changed[s.ID]; ok {
			prev = cur
		}
		if prev.Jam == jam {
			res.Skipped++
			continue
		}
		prev.Jam = jam
		jams[s.ID] = jam
		changed[s.ID] = prev
	}

	// a later row may have restored the committed value
	for id, l := range changed {
		if cached[id].Jam == l.Jam {
			delete(changed, id)
			delete(jams, id)
		}
	}

	if len(jams) == 0 {
		in.count(ctx, KindLane, res)
		return res, nil
	}

	err := in.commit(ctx, KindLane, zone, func(tx storage.Tx) error {
		return tx.UpdateLaneJams(jams)
	})
	if err != nil {
		return Result{}, err
	}

	in.lanes.Apply(changed, nil)
	res.Written = len(changed)
	in.count(ctx, KindLane, res)

	in.deps.Notifier.LaneStatesChanged(sortedValues(changed, laneID))
	return res, nil
}

func laneID(l core.Lane) string { return l.ID }

func sortedValues[T any](m map[string]T, key func(T) string) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b T) int { return strings.Compare(key(a), key(b)) })
	return out
}

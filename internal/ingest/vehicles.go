package ingest

import (
	"context"

	"github.com/claxon/claxon/internal/storage"
	"github.com/claxon/claxon/pkg/core"
)

// IngestVehiclePositions applies the full vehicle list of one zone. Vehicles
// of that zone missing from the batch are deleted.
func (in *Ingester) IngestVehiclePositions(ctx context.Context, zone core.ZoneID, batch []core.Vehicle) (Result, error) {
	in.vehicleMu.Lock()
	defer in.vehicleMu.Unlock()

	cached := in.vehicles.Get()
	seen := make(map[string]struct{}, len(batch))
	upserts := make(map[string]core.Vehicle)
	var res Result

	for _, v := range batch {
		v.Zone = zone
		if _, dup := seen[v.ID]; dup {
			// last row for an id wins
			delete(upserts, v.ID)
		}
		seen[v.ID] = struct{}{}
		if prev, ok := cached[v.ID]; ok && prev == v {
			res.Skipped++
			continue
		}
		upserts[v.ID] = v
	}

	var deletes []string
	for id, v := range cached {
		if v.Zone != zone {
			continue
		}
		if _, ok := seen[id]; !ok {
			deletes = append(deletes, id)
		}
	}

	if len(upserts) == 0 && len(deletes) == 0 {
		in.count(ctx, KindVehicle, res)
		return res, nil
	}

	rows := make([]core.Vehicle, 0, len(upserts))
	for _, v := range upserts {
		rows = append(rows, v)
	}

	err := in.commit(ctx, KindVehicle, zone, func(tx storage.Tx) error {
		if err := tx.UpsertVehicles(rows); err != nil {
			return err
		}
		if len(deletes) > 0 {
			return tx.DeleteVehicles(deletes)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	in.vehicles.Apply(upserts, deletes)
	res.Written = len(rows)
	res.Deleted = len(deletes)
	in.count(ctx, KindVehicle, res)

	in.deps.Logger.DebugContext(ctx, "vehicle batch applied",
		"zone", zone, "written", res.Written, "deleted", res.Deleted, "skipped", res.Skipped)
	in.deps.Notifier.VehiclesChanged(zone)
	return res, nil
}

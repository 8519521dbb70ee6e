package ingest

import (
	"context"

	"github.com/claxon/claxon/internal/storage"
	"github.com/claxon/claxon/pkg/core"
)

// IngestAccidents upserts every accident in the batch. Accidents are not diffed.
func (in *Ingester) IngestAccidents(ctx context.Context, zone core.ZoneID, batch []core.Accident) (Result, error) {
	in.accidentMu.Lock()
	defer in.accidentMu.Unlock()

	byID := make(map[string]core.Accident, len(batch))
	for _, a := range batch {
		a.Zone = zone
		byID[a.VehicleID] = a
	}
	if len(byID) == 0 {
		return Result{}, nil
	}
	rows := sortedValues(byID, func(a core.Accident) string { return a.VehicleID })

	err := in.commit(ctx, KindAccident, zone, func(tx storage.Tx) error {
		return tx.UpsertAccidents(rows)
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{Written: len(rows), Skipped: len(batch) - len(rows)}
	in.count(ctx, KindAccident, res)
	in.deps.Notifier.AccidentsChanged(rows)
	return res, nil
}

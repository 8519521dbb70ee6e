package gormstorage

import (
	"fmt"

	"github.com/claxon/claxon/internal/model"
	"github.com/claxon/claxon/internal/model/convert"
	"github.com/claxon/claxon/pkg/core"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const batchSize = 1000

// gormTx implements storage.Tx on an open transaction.
type gormTx struct {
	db *gorm.DB
}

func upsert[T any](db *gorm.DB, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	return db.Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(rows, batchSize).Error
}

func chunks(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

func (t *gormTx) UpsertVehicles(vehicles []core.Vehicle) error {
	rows := make([]model.Vehicle, len(vehicles))
	for i, v := range vehicles {
		row, err := convert.CoreToVehicle(v)
		if err != nil {
			return err
		}
		rows[i] = row
	}
	if err := upsert(t.db, rows); err != nil {
		return fmt.Errorf("failed to upsert vehicles: %w", err)
	}
	return nil
}

func (t *gormTx) DeleteVehicles(ids []string) error {
	for _, chunk := range chunks(ids, deleteChunk) {
		if err := t.db.Where("id IN ?", chunk).Delete(&model.Vehicle{}).Error; err != nil {
			return fmt.Errorf("failed to delete vehicles: %w", err)
		}
	}
	return nil
}

func (t *gormTx) InsertLanes(lanes []core.Lane) error {
	rows := make([]model.Lane, 0, len(lanes))
	for _, l := range lanes {
		row, err := convert.CoreToLane(l)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	if err := upsert(t.db, rows); err != nil {
		return fmt.Errorf("failed to insert lanes: %w", err)
	}
	return nil
}

func (t *gormTx) UpdateLaneShapes(lanes []core.Lane) error {
	for _, l := range lanes {
		row, err := convert.CoreToLane(l)
		if err != nil {
			return err
		}
		err = t.db.Model(&model.Lane{}).Where("id = ?", l.ID).Updates(map[string]any{
			"zone":     row.Zone,
			"geom":     row.Geom,
			"min_x":    row.MinX,
			"min_y":    row.MinY,
			"max_x":    row.MaxX,
			"max_y":    row.MaxY,
			"priority": row.Priority,
			"type":     row.Type,
			"jam":      0,
		}).Error
		if err != nil {
			return fmt.Errorf("failed to update lane %s: %w", l.ID, err)
		}
	}
	return nil
}

func (t *gormTx) UpdateLaneJams(jams map[string]float64) error {
	for id, jam := range jams {
		if err := t.db.Model(&model.Lane{}).Where("id = ?", id).Update("jam", jam).Error; err != nil {
			return fmt.Errorf("failed to update jam of lane %s: %w", id, err)
		}
	}
	return nil
}

func (t *gormTx) ReplaceTrafficLights(zone core.ZoneID, lights []core.TrafficLight) error {
	if err := t.db.Where("zone = ?", zone.String()).Delete(&model.TrafficLight{}).Error; err != nil {
		return fmt.Errorf("failed to clear traffic lights of zone %s: %w", zone, err)
	}
	rows := make([]model.TrafficLight, len(lights))
	for i, l := range lights {
		row, err := convert.CoreToTrafficLight(l)
		if err != nil {
			return err
		}
		rows[i] = row
	}
	if err := upsert(t.db, rows); err != nil {
		return fmt.Errorf("failed to insert traffic lights: %w", err)
	}
	return nil
}

func (t *gormTx) UpdateTrafficLightStates(states map[string]string) error {
	for id, state := range states {
		if err := t.db.Model(&model.TrafficLight{}).Where("id = ?", id).Update("state", state).Error; err != nil {
			return fmt.Errorf("failed to update state of traffic light %s: %w", id, err)
		}
	}
	return nil
}

func (t *gormTx) UpsertAccidents(accidents []core.Accident) error {
	rows := make([]model.Accident, len(accidents))
	for i, a := range accidents {
		row, err := convert.CoreToAccident(a)
		if err != nil {
			return err
		}
		rows[i] = row
	}
	if err := upsert(t.db, rows); err != nil {
		return fmt.Errorf("failed to upsert accidents: %w", err)
	}
	return nil
}

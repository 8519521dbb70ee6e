// Package gormstorage implements storage.Store on top of GORM, for PostgreSQL
// (with PostGIS) and SQLite alike.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/claxon/claxon/internal/geo"
	"github.com/claxon/claxon/internal/model"
	"github.com/claxon/claxon/internal/model/convert"
	"github.com/claxon/claxon/internal/storage"
	"github.com/claxon/claxon/pkg/core"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// deleteChunk keeps IN lists below SQLite's bound-variable limit.
const deleteChunk = 500

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB     *gorm.DB
	Logger *slog.Logger

	// Migrate runs schema setup during Init. The database manager usually does this already.
	Migrate bool
}

// Backend implements storage.Store using GORM.
type Backend struct {
	deps Dependencies
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Backend{deps: deps}
}

// Init validates the connection and optionally migrates the schema.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return errors.New("gorm backend: no database")
	}
	sqlDB, err := b.deps.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("failed to validate connection: %w", err)
	}
	if b.deps.Migrate {
		if err := b.setupDB(); err != nil {
			return fmt.Errorf("failed to setup DB: %w", err)
		}
	}
	return nil
}

func (b *Backend) setupDB() error {
	db := b.deps.DB
	if db.Name() == "postgres" {
		if err := db.Exec(`CREATE Extension IF NOT EXISTS postgis;`).Error; err != nil {
			return fmt.Errorf("failed to create PostGIS Extension: %w", err)
		}
		b.deps.Logger.Info("PostGIS Extension created")
	}

	b.deps.Logger.Info("Migrating schema")
	if err := db.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close is a no-op; the connection belongs to the database manager.
func (b *Backend) Close() error {
	return nil
}

// Transaction runs fn inside a database transaction.
func (b *Backend) Transaction(ctx context.Context, fn func(storage.Tx) error) error {
	return b.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

// RecordNode upserts the relay row for the node's zone. A stop only flips
// the online flag so the last known address is kept.
func (b *Backend) RecordNode(ctx context.Context, node core.Node, online bool) error {
	db := b.deps.DB.WithContext(ctx)
	if !online {
		res := db.Model(&model.Node{}).Where("zone = ?", node.Zone.String()).Update("online", false)
		if res.Error != nil {
			return fmt.Errorf("failed to mark node %s offline: %w", node.Zone, res.Error)
		}
		if res.RowsAffected > 0 {
			return nil
		}
	}

	row := convert.CoreToNode(node, online)
	if err := db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to record node %s: %w", node.Zone, err)
	}
	return nil
}

// Reads

func pointInBox(q *gorm.DB, bbox *core.BBox) *gorm.DB {
	if bbox == nil {
		return q
	}
	b := bbox.Normalize()
	return q.Where("lon BETWEEN ? AND ? AND lat BETWEEN ? AND ?", b.MinX, b.MaxX, b.MinY, b.MaxY)
}

func (b *Backend) Vehicles(ctx context.Context, bbox *core.BBox) ([]core.Vehicle, error) {
	var rows []model.Vehicle
	if err := pointInBox(b.deps.DB.WithContext(ctx), bbox).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query vehicles: %w", err)
	}
	out := make([]core.Vehicle, len(rows))
	for i, r := range rows {
		out[i] = convert.VehicleToCore(r)
	}
	return out, nil
}

// Lanes returns lanes whose geometry touches bbox. Candidates come from the
// bbox columns and are then checked segment by segment.
func (b *Backend) Lanes(ctx context.Context, bbox *core.BBox) ([]core.Lane, error) {
	q := b.deps.DB.WithContext(ctx)
	var box core.BBox
	if bbox != nil {
		box = bbox.Normalize()
		q = q.Where("max_x >= ? AND min_x <= ? AND max_y >= ? AND min_y <= ?",
			box.MinX, box.MaxX, box.MinY, box.MaxY)
	}

	var rows []model.Lane
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query lanes: %w", err)
	}

	out := make([]core.Lane, 0, len(rows))
	for _, r := range rows {
		lane := convert.LaneToCore(r)
		if bbox != nil && !geo.ShapeIntersects(lane.Shape, box) {
			continue
		}
		out = append(out, lane)
	}
	return out, nil
}

func (b *Backend) TrafficLights(ctx context.Context, bbox *core.BBox) ([]core.TrafficLight, error) {
	var rows []model.TrafficLight
	if err := pointInBox(b.deps.DB.WithContext(ctx), bbox).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query traffic lights: %w", err)
	}
	out := make([]core.TrafficLight, len(rows))
	for i, r := range rows {
		out[i] = convert.TrafficLightToCore(r)
	}
	return out, nil
}

func (b *Backend) TrafficLight(ctx context.Context, id string) (core.TrafficLight, error) {
	var row model.TrafficLight
	err := b.deps.DB.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.TrafficLight{}, fmt.Errorf("traffic light %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return core.TrafficLight{}, fmt.Errorf("failed to query traffic light %s: %w", id, err)
	}
	return convert.TrafficLightToCore(row), nil
}

func (b *Backend) Accidents(ctx context.Context, bbox *core.BBox) ([]core.Accident, error) {
	var rows []model.Accident
	if err := pointInBox(b.deps.DB.WithContext(ctx), bbox).Order("vehicle_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query accidents: %w", err)
	}
	out := make([]core.Accident, len(rows))
	for i, r := range rows {
		out[i] = convert.AccidentToCore(r)
	}
	return out, nil
}

// Compile-time interface checks
var (
	_ storage.Store = (*Backend)(nil)
	_ storage.Tx    = (*gormTx)(nil)
)

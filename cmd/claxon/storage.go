package main

import (
	"fmt"

	"github.com/claxon/claxon/internal/config"
	"github.com/claxon/claxon/internal/database"
	"github.com/claxon/claxon/internal/logging"
	"github.com/claxon/claxon/internal/storage"
	gormstorage "github.com/claxon/claxon/internal/storage/gorm"
	"github.com/claxon/claxon/internal/storage/memory"
)

// openStore builds and initializes the configured store. The returned
// cleanup closes the store and, for gorm, the database connection.
func openStore(rt *app) (storage.Store, func(), error) {
	sc := rt.cfg.GetStorageConfig()

	switch sc.Type {
	case config.StorageMemory:
		store := memory.New(sc.Memory)
		if err := store.Init(); err != nil {
			return nil, nil, fmt.Errorf("initializing memory store: %w", err)
		}
		rt.logger.Info("Memory storage backend initialized", "outputDir", sc.Memory.OutputDir)
		return store, func() {
			if err := store.Close(); err != nil {
				rt.logger.Error("Failed to close memory store", "error", err)
			}
		}, nil

	case config.StorageGorm:
		db := database.NewManager(rt.cfg.GetDatabaseConfig(), logging.NewZerolog(rt.logOutput, rt.cfg.GetString("logLevel"), "database"))
		if err := db.Connect(); err != nil {
			return nil, nil, fmt.Errorf("connecting database: %w", err)
		}
		store := gormstorage.New(gormstorage.Dependencies{DB: db.DB, Logger: rt.logger, Migrate: true})
		if err := store.Init(); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("initializing gorm store: %w", err)
		}
		rt.logger.Info("Gorm storage backend initialized", "sqlite", db.IsSQLite)
		return store, func() {
			if err := store.Close(); err != nil {
				rt.logger.Error("Failed to close gorm store", "error", err)
			}
			if err := db.Close(); err != nil {
				rt.logger.Error("Failed to close database", "error", err)
			}
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage type %q", sc.Type)
	}
}

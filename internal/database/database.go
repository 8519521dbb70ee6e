// Package database opens the GORM connection the gorm store runs on.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config holds the connection settings.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string

	// SQLitePath is used when Postgres is unreachable. Empty means in-memory.
	SQLitePath string
	// SQLiteDumpPath receives a copy of an in-memory SQLite database on Close.
	SQLiteDumpPath string
}

// DSN renders the Postgres connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=disable`,
		c.Host, c.Port, c.Username, c.Password, c.Database)
}

// Manager handles database connections and operations.
type Manager struct {
	DB       *gorm.DB
	SqlDB    *sql.DB
	IsValid  bool
	IsSQLite bool
	Logger   zerolog.Logger

	cfg Config
}

// NewManager creates a new database manager.
func NewManager(cfg Config, log zerolog.Logger) *Manager {
	return &Manager{cfg: cfg, Logger: log}
}

// Connect establishes a database connection, falling back to SQLite if Postgres fails.
func (m *Manager) Connect() error {
	var err error

	m.DB, err = m.GetPostgresDB()
	if err == nil {
		m.SqlDB, err = m.DB.DB()
		if err == nil {
			err = m.SqlDB.Ping()
		}
	}

	if err != nil {
		m.Logger.Error().Err(err).Msg("Failed to connect to Postgres DB, trying SQLite")
		if err := m.useSQLite(); err != nil {
			m.IsValid = false
			return err
		}
	} else {
		m.Logger.Info().Str("host", m.cfg.Host).Str("database", m.cfg.Database).Msg("Connected to database")
		m.SqlDB.SetMaxOpenConns(10)
	}

	m.IsValid = true
	return nil
}

func (m *Manager) useSQLite() error {
	db, err := m.GetSqliteDB(m.cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to get local SQLite DB: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	// one connection keeps an in-memory database alive and writes serialized
	sqlDB.SetMaxOpenConns(1)

	m.DB, m.SqlDB, m.IsSQLite = db, sqlDB, true
	return nil
}

// GetPostgresDB returns a connection to the Postgres database.
func (m *Manager) GetPostgresDB() (*gorm.DB, error) {
	m.Logger.Debug().Str("host", m.cfg.Host).Str("port", m.cfg.Port).Msg("Connecting to Postgres DB")

	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  m.cfg.DSN(),
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		CreateBatchSize: 1000,
		Logger:          logger.Default.LogMode(logger.Silent),
	})
}

// GetSqliteDB returns a connection to a SQLite database.
// If path is empty, uses an in-memory database.
func (m *Manager) GetSqliteDB(path string) (*gorm.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = "file::memory:"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		CreateBatchSize: 1000,
		Logger:          logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if path != "" {
		m.Logger.Info().Str("path", path).Msg("Using local SQLite DB")
	} else {
		m.Logger.Info().Msg("Using local SQLite DB in memory")
	}

	pragmas := []string{
		"PRAGMA journal_mode = MEMORY;",
		"PRAGMA synchronous = OFF;",
		"PRAGMA cache_size = -32000;",
		"PRAGMA temp_store = MEMORY;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}

	return db, nil
}

// DumpMemoryToDisk vacuums the in-memory database to SQLiteDumpPath.
func (m *Manager) DumpMemoryToDisk() error {
	path := m.cfg.SQLiteDumpPath
	if path == "" {
		return fmt.Errorf("sqlite dump path not set")
	}
	if !m.IsSQLite {
		return fmt.Errorf("not a sqlite database")
	}

	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("error removing existing DB file: %w", err)
		}
	}

	start := time.Now()
	if err := m.DB.Exec("VACUUM INTO ?", path).Error; err != nil {
		return fmt.Errorf("error dumping memory DB to disk: %w", err)
	}

	m.Logger.Info().Dur("duration", time.Since(start)).Str("path", path).Msg("Dumped memory DB to disk")
	return nil
}

// Close releases the connection, first dumping an in-memory SQLite database if configured.
func (m *Manager) Close() error {
	if m.SqlDB == nil {
		return nil
	}
	if m.IsSQLite && m.cfg.SQLitePath == "" && m.cfg.SQLiteDumpPath != "" {
		if err := m.DumpMemoryToDisk(); err != nil {
			m.Logger.Error().Err(err).Msg("Failed to dump memory DB")
		}
	}
	m.IsValid = false
	return m.SqlDB.Close()
}

// Package config loads claxon settings from claxon.cfg.json and CLAXON_*
// environment variables on top of built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/claxon/claxon/internal/bus"
	"github.com/claxon/claxon/internal/database"
	"github.com/claxon/claxon/internal/influx"
	"github.com/claxon/claxon/internal/otel"
	"github.com/claxon/claxon/internal/relay"
	"github.com/claxon/claxon/internal/session"
	"github.com/claxon/claxon/internal/storage/memory"
	"github.com/claxon/claxon/pkg/core"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "claxon.cfg.json"

// EnvPrefix is prepended to environment overrides, e.g. CLAXON_BROKER_URL.
const EnvPrefix = "CLAXON"

// Storage backends.
const (
	StorageGorm   = "gorm"
	StorageMemory = "memory"
)

// StorageConfig selects the store implementation.
type StorageConfig struct {
	Type   string
	Memory memory.Config
}

// GraylogConfig holds GELF shipping settings.
type GraylogConfig struct {
	Enabled bool
	Address string
	Level   string // empty follows logLevel
}

// Config is a loaded configuration.
type Config struct {
	v *viper.Viper
}

// Load reads configuration from the JSON file in configDir and the environment,
// on top of default values. A missing file is not an error.
func Load(configDir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName(FileName)
	v.SetConfigType("json")
	v.AddConfigPath(configDir)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return &Config{v: v}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "master")
	v.SetDefault("logLevel", "info")
	v.SetDefault("logsDir", "./logs")

	v.SetDefault("http.address", ":8080")

	v.SetDefault("broker.url", "tcp://localhost:1883")
	v.SetDefault("broker.clientId", "")
	v.SetDefault("broker.username", "")
	v.SetDefault("broker.password", "")
	v.SetDefault("broker.qos", 0)
	v.SetDefault("broker.connectTimeout", "10s")
	v.SetDefault("broker.publishTimeout", "5s")

	v.SetDefault("local.url", "tcp://localhost:1884")
	v.SetDefault("local.clientId", "")
	v.SetDefault("local.username", "")
	v.SetDefault("local.password", "")
	v.SetDefault("local.qos", 0)
	v.SetDefault("local.connectTimeout", "10s")
	v.SetDefault("local.publishTimeout", "5s")

	v.SetDefault("relay.zone", "1")
	v.SetDefault("relay.advertiseHost", "localhost")
	v.SetDefault("relay.advertisePort", 1884)
	v.SetDefault("relay.emergency.interval", "1s")
	v.SetDefault("relay.emergency.radius", relay.DefaultRadius)
	v.SetDefault("relay.emergency.marker", "emergency")

	v.SetDefault("session.queueSize", 1024)
	v.SetDefault("session.writeTimeout", "5s")
	v.SetDefault("session.idleTimeout", "60s")
	v.SetDefault("session.pingTimeout", "10s")
	v.SetDefault("session.refreshInterval", "0s")

	v.SetDefault("storage.type", StorageGorm)
	v.SetDefault("storage.memory.outputDir", "")
	v.SetDefault("storage.memory.compressOutput", true)

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.username", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.database", "claxon")
	v.SetDefault("db.sqlitePath", "")
	v.SetDefault("db.sqliteDumpPath", "")

	v.SetDefault("influx.enabled", false)
	v.SetDefault("influx.host", "localhost")
	v.SetDefault("influx.port", "8086")
	v.SetDefault("influx.protocol", "http")
	v.SetDefault("influx.token", "supersecrettoken")
	v.SetDefault("influx.org", "claxon")
	v.SetDefault("influx.bucket", "claxon-status")

	v.SetDefault("monitor.interval", "30s")

	v.SetDefault("graylog.enabled", false)
	v.SetDefault("graylog.address", "localhost:12201")
	v.SetDefault("graylog.level", "")

	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.serviceName", "claxon")
	v.SetDefault("otel.batchTimeout", "5s")
	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.insecure", true)
}

// GetString returns a string config value.
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt returns an int config value.
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetBool returns a bool config value.
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetDuration returns a duration config value such as "5s".
func (c *Config) GetDuration(key string) time.Duration {
	return c.v.GetDuration(key)
}

// Set overrides a value, e.g. from a command line flag.
func (c *Config) Set(key string, value any) {
	c.v.Set(key, value)
}

// GetBrokerConfig returns the MQTT settings under prefix: "broker" for the
// central bus, "local" for a relay's zone bus.
func (c *Config) GetBrokerConfig(prefix string) bus.MQTTConfig {
	return bus.MQTTConfig{
		Broker:         c.v.GetString(prefix + ".url"),
		ClientID:       c.v.GetString(prefix + ".clientId"),
		Username:       c.v.GetString(prefix + ".username"),
		Password:       c.v.GetString(prefix + ".password"),
		QoS:            byte(c.v.GetUint(prefix + ".qos")),
		ConnectTimeout: c.v.GetDuration(prefix + ".connectTimeout"),
		PublishTimeout: c.v.GetDuration(prefix + ".publishTimeout"),
	}
}

// GetSessionConfig returns the viewer session settings.
func (c *Config) GetSessionConfig() session.Config {
	return session.Config{
		QueueSize:       c.v.GetInt("session.queueSize"),
		WriteTimeout:    c.v.GetDuration("session.writeTimeout"),
		IdleTimeout:     c.v.GetDuration("session.idleTimeout"),
		PingTimeout:     c.v.GetDuration("session.pingTimeout"),
		RefreshInterval: c.v.GetDuration("session.refreshInterval"),
	}
}

// GetRelayConfig returns the zone relay settings.
func (c *Config) GetRelayConfig() relay.Config {
	return relay.Config{
		Zone:          core.ZoneID(c.v.GetString("relay.zone")),
		AdvertiseHost: c.v.GetString("relay.advertiseHost"),
		AdvertisePort: c.v.GetInt("relay.advertisePort"),
		Emergency: relay.EmergencyConfig{
			Interval: c.v.GetDuration("relay.emergency.interval"),
			Radius:   c.v.GetFloat64("relay.emergency.radius"),
			Marker:   c.v.GetString("relay.emergency.marker"),
		},
	}
}

// GetStorageConfig returns the storage backend configuration.
func (c *Config) GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: c.v.GetString("storage.type"),
		Memory: memory.Config{
			OutputDir:      c.v.GetString("storage.memory.outputDir"),
			CompressOutput: c.v.GetBool("storage.memory.compressOutput"),
		},
	}
}

// GetDatabaseConfig returns the database connection settings.
func (c *Config) GetDatabaseConfig() database.Config {
	return database.Config{
		Host:           c.v.GetString("db.host"),
		Port:           c.v.GetString("db.port"),
		Username:       c.v.GetString("db.username"),
		Password:       c.v.GetString("db.password"),
		Database:       c.v.GetString("db.database"),
		SQLitePath:     c.v.GetString("db.sqlitePath"),
		SQLiteDumpPath: c.v.GetString("db.sqliteDumpPath"),
	}
}

// GetInfluxConfig returns the InfluxDB settings.
func (c *Config) GetInfluxConfig() influx.Config {
	return influx.Config{
		Enabled:  c.v.GetBool("influx.enabled"),
		Host:     c.v.GetString("influx.host"),
		Port:     c.v.GetString("influx.port"),
		Protocol: c.v.GetString("influx.protocol"),
		Token:    c.v.GetString("influx.token"),
		Org:      c.v.GetString("influx.org"),
		Bucket:   c.v.GetString("influx.bucket"),
	}
}

// GetGraylogConfig returns the GELF settings.
func (c *Config) GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: c.v.GetBool("graylog.enabled"),
		Address: c.v.GetString("graylog.address"),
		Level:   c.v.GetString("graylog.level"),
	}
}

// GetOTelConfig returns OpenTelemetry configuration.
// LogWriter, Version and Mode are not set here; the caller provides them.
// Zone is only reported in relay mode.
func (c *Config) GetOTelConfig() otel.Config {
	return otel.Config{
		Enabled:      c.v.GetBool("otel.enabled"),
		ServiceName:  c.v.GetString("otel.serviceName"),
		BatchTimeout: c.v.GetDuration("otel.batchTimeout"),
		Endpoint:     c.v.GetString("otel.endpoint"),
		Insecure:     c.v.GetBool("otel.insecure"),
		Zone:         c.zoneForOTel(),
	}
}

func (c *Config) zoneForOTel() string {
	if c.v.GetString("mode") != "relay" {
		return ""
	}
	return c.v.GetString("relay.zone")
}

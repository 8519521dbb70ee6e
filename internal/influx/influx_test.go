package influx

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(Config{}, zerolog.Nop(), filepath.Join(t.TempDir(), "backup.lp.gz"))
	assert.ErrorIs(t, m.Connect(context.Background()), ErrDisabled)
	assert.Error(t, m.WritePoint(influxdb2_write.NewPointWithMeasurement("status")))
}

func TestUnreachable_WritesBackup(t *testing.T) {
	backup := filepath.Join(t.TempDir(), "backup.lp.gz")
	m := NewManager(Config{
		Enabled:  true,
		Protocol: "http",
		Host:     "127.0.0.1",
		Port:     "1",
		Org:      "claxon",
		Bucket:   "status",
	}, zerolog.Nop(), backup)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Connect(ctx))
	assert.False(t, m.IsValid)

	p := influxdb2_write.NewPoint("claxon_status",
		map[string]string{"mode": "master"},
		map[string]any{"sessions": 3},
		time.Unix(0, 42))
	require.NoError(t, m.WritePoint(p))
	require.NoError(t, m.Close())

	f, err := os.Open(backup)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	body, err := io.ReadAll(gz)
	require.NoError(t, err)

	assert.Equal(t, "claxon_status,mode=master sessions=3i 42", strings.TrimSpace(string(body)))
}

func TestConfig_URL(t *testing.T) {
	assert.Equal(t, "https://influx:8086", Config{Protocol: "https", Host: "influx", Port: "8086"}.URL())
}

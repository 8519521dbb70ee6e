package logging

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLogFilePath(t *testing.T) {
	start := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	tests := []struct {
		name    string
		logsDir string
		want    string
	}{
		{
			name:    "basic path",
			logsDir: "logs",
			want:    filepath.Join("logs", "claxon.20260212_213836.log"),
		},
		{
			name:    "relative path with dot",
			logsDir: "./logs",
			want:    filepath.Join(".", "logs", "claxon.20260212_213836.log"),
		},
		{
			name:    "absolute path",
			logsDir: filepath.Join("/var", "log", "claxon"),
			want:    filepath.Join("/var", "log", "claxon", "claxon.20260212_213836.log"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LogFilePath(tt.logsDir, "claxon", start))
		})
	}
}

func TestNewZerolog(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerolog(&buf, "warn", "database")

	log.Info().Msg("hidden")
	log.Warn().Str("host", "db").Msg("Failed to connect")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "Failed to connect")
	assert.Contains(t, out, "component=database")
	assert.Contains(t, out, "host=db")
}

func TestNewZerolog_BadLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerolog(&buf, "chatty", "influx")

	log.Debug().Msg("debug")
	log.Info().Msg("info")

	assert.NotContains(t, buf.String(), "debug")
	assert.Contains(t, buf.String(), "info")
}

func TestNewGelfWriter(t *testing.T) {
	w, err := NewGelfWriter("127.0.0.1:12201", "claxon")
	if assert.NoError(t, err) {
		assert.Equal(t, "claxon", w.Facility)
		assert.NoError(t, w.Close())
	}
}

package otel

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.Nil(t, p.LoggerProvider())
	assert.NotNil(t, p.Meter("claxon"))
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_EnabledWithoutExporter(t *testing.T) {
	_, err := New(Config{Enabled: true, ServiceName: "claxon"})
	assert.ErrorIs(t, err, ErrNoExporter)
}

func TestNew_FileExporter(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{Enabled: true, LogWriter: &buf})
	require.NoError(t, err)

	require.NotNil(t, p.LoggerProvider())
	assert.Equal(t, "claxon", p.cfg.ServiceName)
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewResource_DescribesRelay(t *testing.T) {
	res, err := newResource(context.Background(), Config{
		ServiceName: "claxon",
		Version:     "1.2.0",
		Mode:        "relay",
		Zone:        "4",
	})
	require.NoError(t, err)

	attrs := map[attribute.Key]string{}
	for _, kv := range res.Attributes() {
		attrs[kv.Key] = kv.Value.Emit()
	}
	assert.Equal(t, "claxon", attrs[semconv.ServiceNameKey])
	assert.Equal(t, "1.2.0", attrs[semconv.ServiceVersionKey])
	assert.Equal(t, "relay", attrs[ModeKey])
	assert.Equal(t, "4", attrs[ZoneKey])
	assert.NotEmpty(t, attrs[semconv.HostNameKey])
}

func TestNewResource_MasterHasNoZone(t *testing.T) {
	res, err := newResource(context.Background(), Config{ServiceName: "claxon", Mode: "master"})
	require.NoError(t, err)

	_, ok := res.Set().Value(ZoneKey)
	assert.False(t, ok)
	v, ok := res.Set().Value(ModeKey)
	require.True(t, ok)
	assert.Equal(t, "master", v.AsString())
}

func TestNew_RecordsCarryResource(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{Enabled: true, LogWriter: &buf, Version: "1.2.0", Mode: "relay", Zone: "4"})
	require.NoError(t, err)

	otelslog.NewLogger("claxon", otelslog.WithLoggerProvider(p.LoggerProvider())).Info("zone relay up")
	require.NoError(t, p.Shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "zone relay up")
	assert.Contains(t, out, string(ModeKey))
	assert.Contains(t, out, string(ZoneKey))
	assert.Contains(t, out, "1.2.0")
}

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

func TestSetup_ConsoleAndFile(t *testing.T) {
	var console, file bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{Level: "info", Console: &console, File: &file})

	m.Logger().Info("both sinks")

	assert.Contains(t, console.String(), "both sinks")
	assert.Contains(t, file.String(), "both sinks")
}

func TestSetup_DebugLevel(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{Level: "debug", Console: &buf})

	m.Logger().Debug("debug message")
	assert.Contains(t, buf.String(), "debug message")
}

func TestSetup_InfoLevel_FiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{Level: "info", Console: &buf})

	m.Logger().Debug("should not appear")
	assert.NotContains(t, buf.String(), "should not appear")
}

func TestSetup_ReplacesLogger(t *testing.T) {
	var first, second bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{Level: "info", Console: &first})
	m.Setup(Options{Level: "info", Console: &second})

	m.Logger().Info("after replace")

	assert.NotContains(t, first.String(), "after replace")
	assert.Contains(t, second.String(), "after replace")
}

func TestSetup_GraylogGetsJSON(t *testing.T) {
	var gray bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{Level: "info", Console: io.Discard, Graylog: &gray})

	gray.Reset()
	m.Logger().Info("session opened", "session", "abc")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(gray.Bytes(), &rec))
	assert.Equal(t, "session opened", rec["msg"])
	assert.Equal(t, "abc", rec["session"])
}

func TestSetup_Fields(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{
		Level:   "info",
		Console: &buf,
		Fields:  []slog.Attr{slog.String("mode", "relay"), slog.String("zone", "3")},
	})

	m.Logger().Info("announced")
	assert.Contains(t, buf.String(), "mode=relay")
	assert.Contains(t, buf.String(), "zone=3")
}

func TestSetup_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{Level: "info", Console: &buf})

	ctx := WithFields(context.Background(), slog.String("topic", "traci/vehicle/position"))
	m.Logger().InfoContext(ctx, "batch applied")
	m.Logger().Info("no context")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3, "init line plus two records")
	assert.Contains(t, lines[1], "topic=traci/vehicle/position")
	assert.NotContains(t, lines[2], "topic=")
}

func TestSetup_GraylogLevel(t *testing.T) {
	var console, gray bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{Level: "debug", Console: &console, Graylog: &gray, GraylogLevel: "warn"})

	m.Logger().Info("routine")
	m.Logger().Warn("zone stalled")

	assert.Contains(t, console.String(), "routine")
	assert.NotContains(t, gray.String(), "routine")
	assert.Contains(t, gray.String(), "zone stalled")
}

func TestSetup_WithOTelProvider(t *testing.T) {
	provider := sdklog.NewLoggerProvider()

	var buf bytes.Buffer
	m := NewSlogManager()
	m.Setup(Options{Level: "info", Console: &buf, Provider: provider})

	m.Logger().Info("otel integrated")
	assert.Contains(t, buf.String(), "otel integrated")
	assert.NoError(t, m.Flush(context.Background()))
}

func TestLogger_DefaultBeforeSetup(t *testing.T) {
	m := NewSlogManager()
	assert.Equal(t, slog.Default(), m.Logger())
}

func TestFlush_NilProvider(t *testing.T) {
	m := NewSlogManager()
	assert.NoError(t, m.Flush(context.Background()))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
		{"warn+2", slog.LevelWarn + 2},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func textSink(name string, w io.Writer, level slog.Level) Sink {
	return Sink{Name: name, Handler: slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})}
}

func TestFanOut_WritesEverySink(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	logger := slog.New(NewFanOut(textSink("a", &buf1, slog.LevelInfo), textSink("b", &buf2, slog.LevelInfo)))
	logger.Info("fanned out")

	assert.Contains(t, buf1.String(), "fanned out")
	assert.Contains(t, buf2.String(), "fanned out")
}

func TestFanOut_SkipsSinksWithoutHandler(t *testing.T) {
	var buf bytes.Buffer
	f := NewFanOut(Sink{Name: "empty"}, textSink("text", &buf, slog.LevelInfo))
	require.Len(t, f.sinks, 1)

	slog.New(f).Info("works")
	assert.Contains(t, buf.String(), "works")
}

func TestFanOut_SinkLevel(t *testing.T) {
	var debug, warn bytes.Buffer
	quiet := textSink("warn", &warn, slog.LevelDebug)
	quiet.Level = slog.LevelWarn
	logger := slog.New(NewFanOut(textSink("debug", &debug, slog.LevelDebug), quiet))

	logger.Debug("step")
	logger.Warn("stalled")

	assert.Contains(t, debug.String(), "step")
	assert.Contains(t, debug.String(), "stalled")
	assert.NotContains(t, warn.String(), "step")
	assert.Contains(t, warn.String(), "stalled")
}

func TestFanOut_Enabled(t *testing.T) {
	ctx := context.Background()
	info := textSink("info", io.Discard, slog.LevelInfo)
	debug := textSink("debug", io.Discard, slog.LevelDebug)

	infoOnly := NewFanOut(info)
	assert.False(t, infoOnly.Enabled(ctx, slog.LevelDebug))
	assert.True(t, infoOnly.Enabled(ctx, slog.LevelInfo))

	assert.True(t, NewFanOut(info, debug).Enabled(ctx, slog.LevelDebug))

	debug.Level = slog.LevelError
	assert.False(t, NewFanOut(debug).Enabled(ctx, slog.LevelWarn), "sink level overrides the handler")

	assert.False(t, NewFanOut().Enabled(ctx, slog.LevelInfo))
}

func TestFanOut_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	f := NewFanOut(textSink("text", &buf, slog.LevelInfo))

	slog.New(f.WithAttrs([]slog.Attr{slog.String("component", "ingest")})).Info("with attrs")
	slog.New(f.WithGroup("grp")).Info("grouped", "key", "val")

	assert.Contains(t, buf.String(), "component=ingest")
	assert.Contains(t, buf.String(), "grp.key=val")
	assert.Equal(t, f, f.WithGroup(""))
}

func TestFanOut_DerivedKeepsSinkLevel(t *testing.T) {
	var buf bytes.Buffer
	s := textSink("text", &buf, slog.LevelDebug)
	s.Level = slog.LevelWarn

	slog.New(NewFanOut(s).WithAttrs([]slog.Attr{slog.String("k", "v")})).Info("filtered")
	assert.Empty(t, buf.String())
}

// errorHandler is a slog.Handler that always returns an error from Handle.
type errorHandler struct {
	slog.Handler
}

func (h *errorHandler) Handle(_ context.Context, _ slog.Record) error {
	return errors.New("handler error")
}

func (h *errorHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func TestFanOut_HandleError(t *testing.T) {
	var buf bytes.Buffer
	f := NewFanOut(Sink{Name: "graylog", Handler: &errorHandler{}}, textSink("console", &buf, slog.LevelInfo))

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "should reach console", 0)
	err := f.Handle(context.Background(), r)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "log sink graylog")
	assert.Contains(t, buf.String(), "should reach console")
}

func TestFieldsHandler_Nesting(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewFieldsHandler(slog.NewTextHandler(&buf, nil)))

	ctx := WithFields(context.Background(), slog.String("zone", "2"))
	ctx = WithFields(ctx, slog.String("topic", "traci/lane/state"))
	assert.Len(t, Fields(ctx), 2)
	assert.Equal(t, ctx, WithFields(ctx), "no attrs keeps ctx")

	logger.InfoContext(ctx, "applied")
	assert.Contains(t, buf.String(), "zone=2")
	assert.Contains(t, buf.String(), "topic=traci/lane/state")
	assert.Nil(t, Fields(context.Background()))
}

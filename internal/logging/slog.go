package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
		"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Options selects where logs go.
type Options struct {
	Level string

	// Console defaults to os.Stdout.
	Console io.Writer
	// File receives a copy of every record when set.
	File io.Writer
	// Graylog receives records as GELF messages when set, see NewGelfWriter.
	Graylog io.Writer
	// GraylogLevel raises the Graylog floor above Level. Empty means Level.
	GraylogLevel string
	// Provider enables the OTel bridge when set.
	Provider *sdklog.LoggerProvider
	// Fields are attached to every record, such as mode and zone.
	Fields []slog.Attr
}

// SlogManager owns the process logger and the OTel provider it flushes.
type SlogManager struct {
	logger      *slog.Logger
	logProvider *sdklog.LoggerProvider
}

// NewSlogManager returns a manager whose Logger is slog.Default until Setup.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel accepts slog level names in any case, with optional offsets
// such as "warn+2". Anything else means info.
func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Setup builds the logger. Calling it again replaces the previous one.
func (m *SlogManager) Setup(opts Options) {
	m.logProvider = opts.Provider

	handlerOpts := &slog.HandlerOptions{
		Level: parseLevel(opts.Level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	sinks := []Sink{{Name: "console", Handler: slog.NewTextHandler(console, handlerOpts)}}
	if opts.File != nil {
		sinks = append(sinks, Sink{Name: "file", Handler: slog.NewTextHandler(opts.File, handlerOpts)})
	}
	if opts.Graylog != nil {
		// one JSON object per write, which the GELF writer turns into one message
		gl := Sink{Name: "graylog", Handler: slog.NewJSONHandler(opts.Graylog, handlerOpts)}
		if opts.GraylogLevel != "" {
			gl.Level = parseLevel(opts.GraylogLevel)
		}
		sinks = append(sinks, gl)
	}
	if opts.Provider != nil {
		// the bridge has no level of its own
		sinks = append(sinks, Sink{
			Name:    "otel",
			Handler: otelslog.NewHandler("claxon", otelslog.WithLoggerProvider(opts.Provider)),
			Level:   handlerOpts.Level,
		})
	}

	var h slog.Handler = NewFanOut(sinks...)
	if len(opts.Fields) > 0 {
		h = h.WithAttrs(opts.Fields)
	}
	h = NewFieldsHandler(h)

	m.logger = slog.New(h)
	m.logger.Info("Logging initialized", "level", opts.Level)
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}

// Command claxon runs either the central master, which ingests zone state and
// serves viewers, or a zone relay next to one simulator.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/claxon/claxon/internal/config"
	"github.com/claxon/claxon/internal/logging"
	intOtel "github.com/claxon/claxon/internal/otel"
)

// Version can be set at build time via ldflags.
var (
	Version   = "0.0.1"
	BuildDate = "unknown"
)

const (
	modeMaster = "master"
	modeRelay  = "relay"
)

// app bundles what both modes share.
type app struct {
	cfg       *config.Config
	mode      string
	start     time.Time
	slog      *logging.SlogManager
	logger    *slog.Logger
	logOutput io.Writer // stdout plus the log file, for the zerolog managers
	otel      *intOtel.Provider
	closers   []io.Closer
}

func main() {
	configDir := flag.String("config", ".", "directory containing "+config.FileName)
	mode := flag.String("mode", "", "master or relay, overrides the config file")
	flag.Parse()

	if err := run(*configDir, *mode); err != nil {
		fmt.Fprintln(os.Stderr, "claxon:", err)
		os.Exit(1)
	}
}

func run(configDir, modeOverride string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}
	if modeOverride != "" {
		cfg.Set("mode", modeOverride)
	}

	rt, err := setup(cfg)
	if err != nil {
		return err
	}
	defer rt.shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt.logger.Info("Starting claxon", "version", Version, "buildDate", BuildDate)

	switch rt.mode {
	case modeMaster:
		return runMaster(ctx, rt)
	case modeRelay:
		return runRelay(ctx, rt)
	default:
		return fmt.Errorf("unknown mode %q", rt.mode)
	}
}

// setup opens the log file and wires slog, OTel and Graylog.
func setup(cfg *config.Config) (*app, error) {
	rt := &app{
		cfg:   cfg,
		mode:  cfg.GetString("mode"),
		start: time.Now(),
		slog:  logging.NewSlogManager(),
	}

	logsDir := cfg.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating logs dir: %w", err)
	}
	logFile, err := os.OpenFile(logging.LogFilePath(logsDir, "claxon", rt.start), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	rt.closers = append(rt.closers, logFile)
	rt.logOutput = io.MultiWriter(os.Stdout, logFile)

	otelCfg := cfg.GetOTelConfig()
	otelCfg.Version = Version
	otelCfg.Mode = rt.mode
	if otelCfg.Enabled {
		otelFile, err := os.OpenFile(filepath.Join(logsDir, "claxon.otel.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening otel log file: %w", err)
		}
		rt.closers = append(rt.closers, otelFile)
		otelCfg.LogWriter = otelFile
	}
	rt.otel, err = intOtel.New(otelCfg)
	if err != nil {
		return nil, fmt.Errorf("setting up otel: %w", err)
	}

	opts := logging.Options{
		Level:    cfg.GetString("logLevel"),
		File:     logFile,
		Provider: rt.otel.LoggerProvider(),
		Fields:   rt.fields(),
	}
	if gl := cfg.GetGraylogConfig(); gl.Enabled {
		w, err := logging.NewGelfWriter(gl.Address, "claxon")
		if err != nil {
			// logging still works without graylog
			fmt.Fprintln(os.Stderr, "claxon:", err)
		} else {
			rt.closers = append(rt.closers, w)
			opts.Graylog = w
			opts.GraylogLevel = gl.Level
		}
	}

	rt.slog.Setup(opts)
	rt.logger = rt.slog.Logger()
	return rt, nil
}

// fields tag every record with the mode, and with the zone on a relay.
func (rt *app) fields() []slog.Attr {
	attrs := []slog.Attr{slog.String("mode", rt.mode)}
	if rt.mode == modeRelay {
		attrs = append(attrs, slog.String("zone", rt.cfg.GetString("relay.zone")))
	}
	return attrs
}

func (rt *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rt.slog.Flush(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "claxon: flushing logs:", err)
	}
	if err := rt.otel.Shutdown(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "claxon: otel shutdown:", err)
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		_ = rt.closers[i].Close()
	}
}

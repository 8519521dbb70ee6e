package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/claxon/claxon/internal/bus"
	"github.com/claxon/claxon/internal/command"
	"github.com/claxon/claxon/internal/dispatcher"
	"github.com/claxon/claxon/internal/influx"
	"github.com/claxon/claxon/internal/ingest"
	"github.com/claxon/claxon/internal/logging"
	"github.com/claxon/claxon/internal/monitor"
	"github.com/claxon/claxon/internal/session"
	"github.com/claxon/claxon/internal/worker"
)

// runMaster ingests zone batches from the central bus and serves viewers
// until ctx is cancelled.
func runMaster(ctx context.Context, rt *app) error {
	logger := rt.logger

	store, closeStore, err := openStore(rt)
	if err != nil {
		return err
	}
	defer closeStore()

	central := bus.NewMQTTClient(rt.cfg.GetBrokerConfig("broker"), logger.With("bus", "central"))
	defer central.Close()
	commands := command.New(central)

	hub, err := session.NewHub(rt.cfg.GetSessionConfig(), session.Dependencies{
		Store:    store,
		Commands: commands,
		Logger:   logger.With("component", "session"),
	})
	if err != nil {
		return err
	}

	ingester, err := ingest.New(ingest.Dependencies{
		Store:    store,
		Notifier: hub,
		Logger:   logger.With("component", "ingest"),
	})
	if err != nil {
		return err
	}
	if err := ingester.Warm(ctx); err != nil {
		return err
	}

	d, err := dispatcher.New(ctx, logger.With("component", "dispatcher"))
	if err != nil {
		return err
	}
	defer d.Close()

	workers := worker.NewManager(worker.Dependencies{
		Ingester: ingester,
		Store:    store,
		Commands: commands,
		Logger:   logger.With("component", "worker"),
	})
	workers.RegisterHandlers(d)
	if err := d.Attach(central); err != nil {
		return fmt.Errorf("subscribing central topics: %w", err)
	}
	central.OnConnect(workers.OnConnect)

	hubCtx, stopHub := context.WithCancel(ctx)
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(hubCtx)
	}()
	defer func() {
		stopHub()
		<-hubDone
	}()

	if err := central.Connect(); err != nil {
		return err
	}

	mon := startMonitor(ctx, rt, monitor.Sources{
		Sessions:         hub.Registry().Len,
		HubQueue:         hub.QueueLen,
		CacheSizes:       ingester.Sizes,
		DispatcherQueues: d.QueueLens,
		LastIngest:       workers.LastIngestDuration,
	})
	defer mon.Stop()

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(mon.Status())
	})

	srv := &http.Server{
		Addr:              rt.cfg.GetString("http.address"),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		logger.Info("Serving viewers", "address", srv.Addr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-srvErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("Shutting down master")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// startMonitor starts the status reporter, writing to InfluxDB when enabled.
func startMonitor(ctx context.Context, rt *app, sources monitor.Sources) *monitor.Service {
	logsDir := rt.cfg.GetString("logsDir")
	deps := monitor.Dependencies{
		Sources:    sources,
		StatusFile: filepath.Join(logsDir, "claxon.status.json"),
		Interval:   rt.cfg.GetDuration("monitor.interval"),
		Logger:     rt.logger.With("component", "monitor"),
	}

	im := influx.NewManager(rt.cfg.GetInfluxConfig(),
		logging.NewZerolog(rt.logOutput, rt.cfg.GetString("logLevel"), "influx"),
		filepath.Join(logsDir, "claxon.influx.gz"))
	switch err := im.Connect(ctx); {
	case err == nil:
		deps.Influx = im
		rt.closers = append(rt.closers, im)
	case errors.Is(err, influx.ErrDisabled):
	default:
		rt.logger.Warn("InfluxDB unavailable", "error", err)
	}

	mon := monitor.NewService(deps)
	mon.Start(ctx)
	return mon
}

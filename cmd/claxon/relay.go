package main

import (
	"context"

	"github.com/claxon/claxon/internal/bus"
	"github.com/claxon/claxon/internal/relay"
)

// runRelay bridges one zone's local broker to the central bus until ctx is
// cancelled.
func runRelay(ctx context.Context, rt *app) error {
	logger := rt.logger

	local := bus.NewMQTTClient(rt.cfg.GetBrokerConfig("local"), logger.With("bus", "local"))
	defer local.Close()
	central := bus.NewMQTTClient(rt.cfg.GetBrokerConfig("broker"), logger.With("bus", "central"))
	defer central.Close()

	r, err := relay.New(rt.cfg.GetRelayConfig(), relay.Dependencies{
		Local:   local,
		Central: central,
		Logger:  logger.With("component", "relay"),
	})
	if err != nil {
		return err
	}

	if err := local.Connect(); err != nil {
		return err
	}
	if err := central.Connect(); err != nil {
		return err
	}
	if err := r.Start(ctx); err != nil {
		return err
	}

	// the master forgets nodes it missed; announce again after every reconnect
	central.OnConnect(func() {
		if err := r.Announce(); err != nil {
			logger.Warn("Re-announce failed", "error", err)
		}
	})

	<-ctx.Done()
	logger.Info("Shutting down relay")
	return r.Stop()
}

// Package worker turns central bus events into ingest calls and node bookkeeping.
package worker

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/claxon/claxon/internal/ingest"
	"github.com/claxon/claxon/internal/storage"
	"github.com/claxon/claxon/pkg/core"
)

// NodeCommander is the part of the command channel the master uses for relay bookkeeping.
type NodeCommander interface {
	RequestInit() error
	FirstData(zone core.ZoneID) error
}

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	Ingester *ingest.Ingester
	Store    storage.Store
	Commands NodeCommander
	Logger   *slog.Logger
}

// Manager owns the handlers registered on the dispatcher.
type Manager struct {
	deps Dependencies

	lastIngest atomic.Int64 // nanoseconds
}

// NewManager creates a new worker manager
func NewManager(deps Dependencies) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Manager{deps: deps}
}

// OnConnect asks every relay to announce itself. Run it on each central (re)connect.
func (m *Manager) OnConnect() {
	if err := m.deps.Commands.RequestInit(); err != nil {
		m.deps.Logger.Error("requesting relay announcements failed", "error", err)
		return
	}
	m.deps.Logger.Info("requested relay announcements")
}

// recordNode stores an announcement and, for a starting zone, asks it for its full state.
func (m *Manager) recordNode(ctx context.Context, node core.Node, online bool) error {
	if err := m.deps.Store.RecordNode(ctx, node, online); err != nil {
		return err
	}
	m.deps.Logger.Info("relay announcement", "zone", node.Zone, "host", node.Host, "port", node.Port, "online", online)
	if !online {
		return nil
	}
	return m.deps.Commands.FirstData(node.Zone)
}

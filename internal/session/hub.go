// Package session fans committed state out to connected viewers and turns
// viewer messages into queries and commands.
//
// All session writes happen on one goroutine, the hub loop started by Run.
// Bus-side notifications reach it through a bounded work queue and are
// dropped when the queue is full; viewer messages wait for room instead.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/claxon/claxon/internal/storage"
	"github.com/claxon/claxon/pkg/core"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/claxon/claxon/internal/session"

// ErrStopped is returned when work is offered to a hub that is no longer running.
var ErrStopped = errors.New("session hub stopped")

// Commander forwards light commands to the simulators.
type Commander interface {
	NextPhase(zone core.ZoneID, id string, priority bool) error
	SetState(zone core.ZoneID, id, state string) error
}

// Config tunes the hub.
type Config struct {
	QueueSize       int
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	PingTimeout     time.Duration
	RefreshInterval time.Duration // 0 disables periodic vehicle pushes
}

func (c *Config) setDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 10 * time.Second
	}
}

// Dependencies holds everything the hub needs.
type Dependencies struct {
	Store    storage.Reader
	Commands Commander
	Logger   *slog.Logger
}

type job func(ctx context.Context)

// Hub owns the registry and the cooperative I/O loop.
type Hub struct {
	cfg      Config
	deps     Dependencies
	registry *Registry
	upgrader websocket.Upgrader

	work    chan job
	stopped chan struct{}

	vehiclesPending atomic.Bool

	dropped metric.Int64Counter
	sent    metric.Int64Counter
}

// NewHub creates a hub. Call Run before serving connections.
func NewHub(cfg Config, deps Dependencies) (*Hub, error) {
	cfg.setDefaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	h := &Hub{
		cfg:      cfg,
		deps:     deps,
		registry: NewRegistry(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		work:    make(chan job, cfg.QueueSize),
		stopped: make(chan struct{}),
	}

	m := otel.Meter(instrumentationName)
	var err error
	h.dropped, err = m.Int64Counter("session.notifications.dropped",
		metric.WithDescription("Notifications dropped because the hub queue was full"))
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}
	h.sent, err = m.Int64Counter("session.messages.sent",
		metric.WithDescription("Messages written to viewers"))
	if err != nil {
		return nil, fmt.Errorf("creating sent counter: %w", err)
	}

	sessions, err := m.Int64ObservableGauge("session.active",
		metric.WithDescription("Active viewer sessions"))
	if err != nil {
		return nil, fmt.Errorf("creating sessions gauge: %w", err)
	}
	_, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(sessions, int64(h.registry.Len()))
		return nil
	}, sessions)
	if err != nil {
		return nil, fmt.Errorf("registering sessions callback: %w", err)
	}

	return h, nil
}

// Registry exposes the active sessions.
func (h *Hub) Registry() *Registry { return h.registry }

// QueueLen reports pending work for monitoring.
func (h *Hub) QueueLen() int { return len(h.work) }

// Run drives the hub loop until ctx is cancelled, then closes every session.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)

	var tick <-chan time.Time
	if h.cfg.RefreshInterval > 0 {
		ticker := time.NewTicker(h.cfg.RefreshInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			h.registry.ForEach(func(s *Session) {
				h.registry.Remove(s.ID())
				s.close()
			})
			h.deps.Logger.Info("session hub stopped")
			return
		case j := <-h.work:
			j(ctx)
		case <-tick:
			h.pushVehicles(ctx)
		}
	}
}

// schedule offers a job without blocking. It reports false if it was dropped.
func (h *Hub) schedule(kind string, j job) bool {
	select {
	case h.work <- j:
		return true
	default:
		h.dropped.Add(context.Background(), 1)
		h.deps.Logger.Warn("session queue full, dropping notification", "kind", kind)
		return false
	}
}

// enqueue offers a job, waiting for room until ctx ends or the hub stops.
func (h *Hub) enqueue(ctx context.Context, j job) error {
	select {
	case h.work <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.stopped:
		return ErrStopped
	}
}

// deliver writes to one session, dropping it on failure. Hub loop only.
func (h *Hub) deliver(s *Session, msgType string, data any) bool {
	if err := s.send(msgType, data, h.cfg.WriteTimeout); err != nil {
		h.deps.Logger.Info("dropping session after failed send", "session", s.ID(), "type", msgType, "error", err)
		h.drop(s)
		return false
	}
	h.sent.Add(context.Background(), 1)
	return true
}

func (h *Hub) drop(s *Session) {
	h.registry.Remove(s.ID())
	s.close()
}

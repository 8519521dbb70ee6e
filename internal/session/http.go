package session

import (
	"context"
	"net/http"
	"time"

	"github.com/claxon/claxon/pkg/streaming"
)

// ServeHTTP upgrades the request and runs the session until the viewer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.deps.Logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	h.Serve(r.Context(), conn)
}

// Serve runs a session on an established connection. It returns when the
// session is closed.
func (h *Hub) Serve(ctx context.Context, conn Conn) {
	s := newSession(conn)
	logger := h.deps.Logger.With("session", s.ID())

	ready := make(chan bool, 1)
	err := h.enqueue(ctx, func(ctx context.Context) {
		ready <- h.initialize(ctx, s)
	})
	if err != nil {
		logger.Warn("session not started", "error", err)
		s.close()
		return
	}

	select {
	case ok := <-ready:
		if !ok {
			return
		}
	case <-h.stopped:
		s.close()
		return
	}

	logger.Info("session active", "sessions", h.registry.Len())
	go h.keepalive(s)
	h.readLoop(ctx, s)

	h.drop(s)
	logger.Info("session closed", "sessions", h.registry.Len())
}

// initialize sends the light snapshot and registers the session. Hub loop only.
func (h *Hub) initialize(ctx context.Context, s *Session) bool {
	lights, err := h.deps.Store.TrafficLights(ctx, nil)
	if err != nil {
		h.deps.Logger.Error("initial snapshot failed", "session", s.ID(), "error", err)
		s.close()
		return false
	}
	if !h.deliver(s, streaming.TypeTrafficLightPosition, lights) {
		return false
	}
	s.setState(StateInitialized)

	h.registry.Add(s)
	s.setState(StateActive)
	return true
}

// readLoop reads viewer messages and hands them to the hub loop. It returns
// on any read error, including a missed pong. Reads have no deadline until
// keepalive sends a ping.
func (h *Hub) readLoop(ctx context.Context, s *Session) {
	_ = s.conn.SetReadDeadline(time.Time{})
	s.conn.SetPongHandler(func(string) error {
		s.touch()
		return s.conn.SetReadDeadline(time.Time{})
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if s.State() != StateClosed {
				h.deps.Logger.Debug("session read ended", "session", s.ID(), "error", err)
			}
			return
		}
		s.touch()
		_ = s.conn.SetReadDeadline(time.Time{})

		msg, err := parseInbound(raw)
		if err != nil {
			h.deps.Logger.Warn("dropping viewer message", "session", s.ID(), "error", err)
			continue
		}

		err = h.enqueue(ctx, func(ctx context.Context) {
			if s.State() == StateClosed {
				return
			}
			if err := h.handle(ctx, s, msg); err != nil {
				h.deps.Logger.Warn("viewer message rejected", "session", s.ID(), "kind", msg.kind, "error", err)
			}
		})
		if err != nil {
			return
		}
	}
}

// keepalive pings a session once it has been idle for IdleTimeout, counted
// from its last inbound frame. The ping arms a read deadline of PingTimeout;
// a pong or any message clears it, otherwise readLoop fails and the session
// is dropped.
func (h *Hub) keepalive(s *Session) {
	timer := time.NewTimer(h.cfg.IdleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-s.Done():
			return
		case <-timer.C:
			if idle := s.Idle(); idle < h.cfg.IdleTimeout {
				timer.Reset(h.cfg.IdleTimeout - idle)
				continue
			}
			// armed before the ping so a fast pong cannot be overtaken
			_ = s.conn.SetReadDeadline(time.Now().Add(h.cfg.PingTimeout))
			if err := s.ping(h.cfg.PingTimeout); err != nil {
				h.deps.Logger.Info("ping failed, closing session", "session", s.ID(), "error", err)
				s.close()
				return
			}
			timer.Reset(h.cfg.IdleTimeout + h.cfg.PingTimeout)
		}
	}
}

package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/claxon/claxon/pkg/core"
	"github.com/claxon/claxon/pkg/streaming"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State is the lifecycle position of a session.
type State int32

const (
	StateConnecting State = iota
	StateInitialized
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateInitialized:
		return "initialized"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Conn is the part of *websocket.Conn a session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Session is one connected viewer. Viewport and focus are only touched on
// the hub loop; state and activity may be read from anywhere.
type Session struct {
	id   string
	conn Conn

	state        atomic.Int32
	lastActivity atomic.Int64 // unix nanos

	viewport *core.BBox
	focused  bool

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(conn Conn) *Session {
	s := &Session{
		id:      uuid.NewString(),
		conn:    conn,
		focused: true,
		done:    make(chan struct{}),
	}
	s.touch()
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) touch() { s.lastActivity.Store(time.Now().UnixNano()) }

// Idle returns how long ago the viewer last showed any sign of life.
func (s *Session) Idle() time.Duration {
	return time.Since(time.Unix(0, s.lastActivity.Load()))
}

// send writes one message with a write deadline. Must only be called from the hub loop.
func (s *Session) send(msgType string, data any, timeout time.Duration) error {
	if s.State() == StateClosed {
		return fmt.Errorf("session %s closed", s.id)
	}
	payload, err := json.Marshal(streaming.Message{Type: msgType, Data: data})
	if err != nil {
		return fmt.Errorf("encoding %s: %w", msgType, err)
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("writing %s: %w", msgType, err)
	}
	return nil
}

// ping sends a WebSocket ping. Safe to call concurrently with send.
func (s *Session) ping(timeout time.Duration) error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}

// close marks the session closed and releases the connection. Idempotent.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
}

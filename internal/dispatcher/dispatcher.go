// Package dispatcher routes central bus messages to per-topic handlers.
// Buffered handlers get their own queue and consumer goroutine, so a slow
// kind never holds up the others.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/claxon/claxon/internal/bus"
	"github.com/claxon/claxon/pkg/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrQueueFull is returned when a non-blocking handler's queue has no room.
	ErrQueueFull = errors.New("queue full")
	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = errors.New("dispatcher closed")
)

// Event is one message received on the central bus.
type Event struct {
	Topic    bus.Topic
	Zone     core.ZoneID
	Data     json.RawMessage
	Received time.Time
}

// HandlerFunc processes an event.
type HandlerFunc func(ctx context.Context, e Event) error

// Logger interface for pluggable logging. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	bufferSize int
	blocking   bool
	logged     bool
}

// Buffered makes the handler async with a queue of the given size.
func Buffered(size int) Option {
	return func(c *config) {
		c.bufferSize = size
	}
}

// Blocking makes a buffered handler block when the queue is full instead of dropping.
func Blocking() Option {
	return func(c *config) {
		c.blocking = true
	}
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Dispatcher routes events to registered handlers.
type Dispatcher struct {
	handlers map[bus.Topic]HandlerFunc
	logger   Logger
	ctx      context.Context

	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter

	mu      sync.RWMutex
	closed  bool
	buffers map[bus.Topic]chan Event
	wg      sync.WaitGroup
}

// New creates a Dispatcher. Buffered handlers run with ctx.
func New(ctx context.Context, logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[bus.Topic]HandlerFunc),
		buffers:  make(map[bus.Topic]chan Event),
		logger:   logger,
		ctx:      ctx,
	}

	m := otel.Meter("github.com/claxon/claxon/internal/dispatcher")

	var err error
	d.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Current number of events in queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			for topic, n := range d.QueueLens() {
				o.ObserveInt64(d.queueSize, int64(n),
					metric.WithAttributes(attribute.String("topic", topic)))
			}
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.processed, err = m.Int64Counter(
		"dispatcher.events.processed",
		metric.WithDescription("Total events processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.dropped, err = m.Int64Counter(
		"dispatcher.events.dropped",
		metric.WithDescription("Total events dropped due to full queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return d, nil
}

// Register adds a handler for the topic. Register before Attach or Dispatch.
func (d *Dispatcher) Register(topic bus.Topic, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h

	if cfg.logged {
		handler = d.withLogging(topic, handler)
	}

	if cfg.bufferSize > 0 {
		handler = d.withBuffer(topic, cfg.bufferSize, cfg.blocking, handler)
	}

	d.handlers[topic] = handler
}

// Dispatch routes an event to its registered handler.
func (d *Dispatcher) Dispatch(e Event) error {
	h, ok := d.handlers[e.Topic]
	if !ok {
		return fmt.Errorf("no handler for %s: %w", e.Topic, bus.ErrUnknownTopic)
	}
	return h(d.ctx, e)
}

// HasHandler returns true if a handler is registered for the topic.
func (d *Dispatcher) HasHandler(topic bus.Topic) bool {
	_, ok := d.handlers[topic]
	return ok
}

// Topics lists the registered topics.
func (d *Dispatcher) Topics() []bus.Topic {
	out := make([]bus.Topic, 0, len(d.handlers))
	for t := range d.handlers {
		out = append(out, t)
	}
	return out
}

// QueueLens reports the fill level of every buffered handler, keyed by topic path.
func (d *Dispatcher) QueueLens() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]int, len(d.buffers))
	for t, buf := range d.buffers {
		out[t.Path()] = len(buf)
	}
	return out
}

// Attach subscribes every registered topic on the central namespace of c.
// Payloads are unwrapped from the zone envelope before dispatch.
func (d *Dispatcher) Attach(c bus.Client) error {
	for topic := range d.handlers {
		name := bus.Central.Topic(topic)
		err := c.Subscribe(name, func(_ string, payload []byte) {
			env, err := bus.Unwrap(payload)
			if err != nil {
				d.logger.Error("dropping bus message", "topic", name, "error", err)
				return
			}
			e := Event{Topic: topic, Zone: env.Zone, Data: env.Data, Received: time.Now()}
			if err := d.Dispatch(e); err != nil {
				d.logger.Error("dispatch failed", "topic", name, "zone", env.Zone, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("subscribing %s: %w", name, err)
		}
	}
	return nil
}

// Close stops accepting events and waits for buffered handlers to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, buf := range d.buffers {
		close(buf)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) withBuffer(topic bus.Topic, size int, blocking bool, h HandlerFunc) HandlerFunc {
	buffer := make(chan Event, size)

	d.mu.Lock()
	d.buffers[topic] = buffer
	d.mu.Unlock()

	topicAttr := attribute.String("topic", topic.Path())

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for e := range buffer {
			if err := h(d.ctx, e); err != nil {
				d.logger.Error("buffered handler failed", "topic", topic, "zone", e.Zone, "error", err)
			}
			d.processed.Add(context.Background(), 1, metric.WithAttributes(topicAttr))
		}
	}()

	return func(ctx context.Context, e Event) error {
		d.mu.RLock()
		defer d.mu.RUnlock()
		if d.closed {
			return ErrClosed
		}

		if blocking {
			select {
			case buffer <- e:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		select {
		case buffer <- e:
			return nil
		default:
			d.dropped.Add(context.Background(), 1, metric.WithAttributes(topicAttr))
			return fmt.Errorf("%s: %w", topic, ErrQueueFull)
		}
	}
}

func (d *Dispatcher) withLogging(topic bus.Topic, h HandlerFunc) HandlerFunc {
	return func(ctx context.Context, e Event) error {
		start := time.Now()
		d.logger.Debug("handling event", "topic", topic, "zone", e.Zone, "bytes", len(e.Data))

		err := h(ctx, e)

		if err != nil {
			d.logger.Error("event failed", "topic", topic, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("event complete", "topic", topic, "duration", time.Since(start))
		}

		return err
	}
}

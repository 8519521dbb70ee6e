package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/claxon/claxon/internal/bus"
	"github.com/claxon/claxon/pkg/core"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) log(level, msg string, keysAndValues []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("%s: %s %v", level, msg, keysAndValues))
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) { l.log("DEBUG", msg, keysAndValues) }
func (l *testLogger) Info(msg string, keysAndValues ...any)  { l.log("INFO", msg, keysAndValues) }
func (l *testLogger) Error(msg string, keysAndValues ...any) { l.log("ERROR", msg, keysAndValues) }

func (l *testLogger) count(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.messages {
		if strings.HasPrefix(m, prefix) {
			n++
		}
	}
	return n
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	logger := &testLogger{}

	d, err := New(context.Background(), logger)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}
	t.Cleanup(d.Close)

	return d, logger
}

func TestDispatcher_SyncHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got Event
	d.Register(bus.LaneState, func(_ context.Context, e Event) error {
		got = e
		return nil
	})

	err := d.Dispatch(Event{Topic: bus.LaneState, Zone: "1", Data: []byte(`[]`)})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if got.Zone != "1" || string(got.Data) != "[]" {
		t.Errorf("handler saw %+v", got)
	}
}

func TestDispatcher_UnknownTopic(t *testing.T) {
	d, _ := newTestDispatcher(t)

	err := d.Dispatch(Event{Topic: bus.NodeStop})

	if !errors.Is(err, bus.ErrUnknownTopic) {
		t.Errorf("expected ErrUnknownTopic, got %v", err)
	}
}

func TestDispatcher_BufferedHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)

	d.Register(bus.VehiclePosition, func(context.Context, Event) error {
		processed.Add(1)
		wg.Done()
		return nil
	}, Buffered(100))

	for i := 0; i < 3; i++ {
		if err := d.Dispatch(Event{Topic: bus.VehiclePosition}); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}

	wg.Wait()

	if processed.Load() != 3 {
		t.Errorf("expected 3 processed, got %d", processed.Load())
	}
}

func TestDispatcher_BufferedPreservesOrder(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var mu sync.Mutex
	var zones []core.ZoneID
	done := make(chan struct{})

	d.Register(bus.LanePosition, func(_ context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		zones = append(zones, e.Zone)
		if len(zones) == 3 {
			close(done)
		}
		return nil
	}, Buffered(10), Blocking())

	for _, z := range []core.ZoneID{"a", "b", "c"} {
		if err := d.Dispatch(Event{Topic: bus.LanePosition, Zone: z}); err != nil {
			t.Fatal(err)
		}
	}
	<-done

	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(zones) != "[a b c]" {
		t.Errorf("events reordered: %v", zones)
	}
}

func TestDispatcher_BufferedDropsWhenFull(t *testing.T) {
	d, _ := newTestDispatcher(t)

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	d.Register(bus.VehiclePosition, func(context.Context, Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil
	}, Buffered(2))

	_ = d.Dispatch(Event{Topic: bus.VehiclePosition}) // being processed
	<-started
	_ = d.Dispatch(Event{Topic: bus.VehiclePosition}) // queued
	_ = d.Dispatch(Event{Topic: bus.VehiclePosition}) // queued

	err := d.Dispatch(Event{Topic: bus.VehiclePosition})

	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
	if n := d.QueueLens()["vehicle/position"]; n != 2 {
		t.Errorf("expected queue length 2, got %d", n)
	}

	close(block)
}

func TestDispatcher_BufferedBlocking(t *testing.T) {
	d, _ := newTestDispatcher(t)

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	d.Register(bus.TrafficLightState, func(context.Context, Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil
	}, Buffered(1), Blocking())

	_ = d.Dispatch(Event{Topic: bus.TrafficLightState})
	<-started
	_ = d.Dispatch(Event{Topic: bus.TrafficLightState})

	done := make(chan struct{})
	go func() {
		_ = d.Dispatch(Event{Topic: bus.TrafficLightState})
		close(done)
	}()

	select {
	case <-done:
		t.Error("dispatch should have blocked")
	case <-time.After(50 * time.Millisecond):
		// Expected - dispatch is blocking
	}

	close(block)
	<-done
}

func TestDispatcher_BufferedErrorIsLogged(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(bus.AccidentPosition, func(context.Context, Event) error {
		return errors.New("store down")
	}, Buffered(1))

	if err := d.Dispatch(Event{Topic: bus.AccidentPosition}); err != nil {
		t.Fatal(err)
	}
	d.Close()

	if logger.count("ERROR") != 1 {
		t.Errorf("expected one error log, got %v", logger.messages)
	}
}

func TestDispatcher_LoggedHandler(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(bus.LaneState, func(context.Context, Event) error {
		return nil
	}, Logged())

	_ = d.Dispatch(Event{Topic: bus.LaneState, Data: []byte(`[1,2]`)})

	if n := logger.count("DEBUG"); n < 2 {
		t.Errorf("expected at least 2 debug messages, got %d", n)
	}
}

func TestDispatcher_LoggedHandlerError(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(bus.LaneState, func(context.Context, Event) error {
		return fmt.Errorf("test error")
	}, Logged())

	_ = d.Dispatch(Event{Topic: bus.LaneState})

	if logger.count("ERROR") == 0 {
		t.Error("expected error log message")
	}
}

func TestDispatcher_HasHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register(bus.NodeStart, func(context.Context, Event) error { return nil })

	if !d.HasHandler(bus.NodeStart) {
		t.Error("expected handler to exist")
	}
	if d.HasHandler(bus.NodeStop) {
		t.Error("expected handler to not exist")
	}
	if len(d.Topics()) != 1 {
		t.Errorf("expected one topic, got %v", d.Topics())
	}
}

func TestDispatcher_DispatchAfterClose(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register(bus.VehiclePosition, func(context.Context, Event) error { return nil }, Buffered(1))
	d.Close()
	d.Close()

	if err := d.Dispatch(Event{Topic: bus.VehiclePosition}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestDispatcher_Attach(t *testing.T) {
	d, logger := newTestDispatcher(t)
	lb := bus.NewLoopback()

	got := make(chan Event, 1)
	d.Register(bus.LaneState, func(_ context.Context, e Event) error {
		got <- e
		return nil
	})
	if err := d.Attach(lb); err != nil {
		t.Fatal(err)
	}

	payload, err := bus.Wrap("4", []byte(`[{"id":"L1"}]`))
	if err != nil {
		t.Fatal(err)
	}
	_ = lb.Publish("claxon/lane/state", payload)
	_ = lb.Publish("claxon/lane/state", []byte("not json"))

	e := <-got
	if e.Topic != bus.LaneState || e.Zone != "4" || string(e.Data) != `[{"id":"L1"}]` {
		t.Errorf("unexpected event %+v", e)
	}
	if e.Received.IsZero() {
		t.Error("expected receive time")
	}
	if logger.count("ERROR") != 1 {
		t.Errorf("expected malformed payload to be logged, got %v", logger.messages)
	}
}

// Package monitor periodically reports the master's health: sessions,
// cache sizes and queue depths.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement is the InfluxDB measurement status points are written to.
const Measurement = "claxon_status"

// Sources are the gauges a status is built from. Nil sources are skipped.
type Sources struct {
	Sessions         func() int
	HubQueue         func() int
	CacheSizes       func() map[string]int
	DispatcherQueues func() map[string]int
	LastIngest       func() time.Duration
}

// PointWriter accepts InfluxDB points.
type PointWriter interface {
	WritePoint(point *influxdb2_write.Point) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Sources    Sources
	Influx     PointWriter // optional
	StatusFile string      // optional, rewritten on every tick
	Interval   time.Duration
	Logger     *slog.Logger
}

// Status is one snapshot of the process health.
type Status struct {
	Time             time.Time      `json:"time"`
	Sessions         int            `json:"sessions"`
	HubQueue         int            `json:"hubQueue"`
	Caches           map[string]int `json:"caches"`
	DispatcherQueues map[string]int `json:"dispatcherQueues"`
	LastIngestMs     float64        `json:"lastIngestMs"`
}

// Point renders the status as an InfluxDB point.
func (st Status) Point() *influxdb2_write.Point {
	p := influxdb2_write.NewPointWithMeasurement(Measurement).
		AddField("sessions", st.Sessions).
		AddField("hub_queue", st.HubQueue).
		AddField("last_ingest_ms", st.LastIngestMs).
		SetTime(st.Time)
	for kind, n := range st.Caches {
		p.AddField("cache_"+kind, n)
	}
	for topic, n := range st.DispatcherQueues {
		p.AddField("queue_"+topic, n)
	}
	return p
}

// Service manages status monitoring
type Service struct {
	deps Dependencies

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = 30 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status collects the current values.
func (s *Service) Status() Status {
	src := s.deps.Sources
	st := Status{Time: time.Now()}
	if src.Sessions != nil {
		st.Sessions = src.Sessions()
	}
	if src.HubQueue != nil {
		st.HubQueue = src.HubQueue()
	}
	if src.CacheSizes != nil {
		st.Caches = src.CacheSizes()
	}
	if src.DispatcherQueues != nil {
		st.DispatcherQueues = src.DispatcherQueues()
	}
	if src.LastIngest != nil {
		st.LastIngestMs = float64(src.LastIngest().Microseconds()) / 1000
	}
	return st
}

// Report collects a status and publishes it to every configured sink.
func (s *Service) Report() Status {
	st := s.Status()

	s.deps.Logger.Debug("status", "sessions", st.Sessions, "hubQueue", st.HubQueue,
		"caches", st.Caches, "queues", st.DispatcherQueues, "lastIngestMs", st.LastIngestMs)

	if s.deps.StatusFile != "" {
		if err := writeStatusFile(s.deps.StatusFile, st); err != nil {
			s.deps.Logger.Error("Error writing status file", "error", err)
		}
	}
	if s.deps.Influx != nil {
		if err := s.deps.Influx.WritePoint(st.Point()); err != nil {
			s.deps.Logger.Error("Error writing status point", "error", err)
		}
	}
	return st
}

func writeStatusFile(path string, st Status) error {
	body, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}
	return os.WriteFile(path, append(body, '\n'), 0644)
}

// Start starts the status monitor goroutine. It stops with ctx or Stop.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				s.Report()
			}
		}
	}()
}

// Stop stops the status monitor and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}

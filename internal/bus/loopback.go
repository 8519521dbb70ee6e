package bus

import (
	"sync"
)

// Loopback is an in-process Client. Publish delivers synchronously to every
// handler subscribed to the exact topic, or to a "#"-suffixed prefix.
type Loopback struct {
	mu        sync.RWMutex
	subs      map[string][]Handler
	published []Message
	closed    bool
}

// Message is a recorded publish.
type Message struct {
	Topic   string
	Payload []byte
}

func NewLoopback() *Loopback {
	return &Loopback{subs: make(map[string][]Handler)}
}

func (l *Loopback) Publish(topic string, payload []byte) error {
	l.mu.Lock()
	l.published = append(l.published, Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	var handlers []Handler
	for pattern, hs := range l.subs {
		if matches(pattern, topic) {
			handlers = append(handlers, hs...)
		}
	}
	l.mu.Unlock()

	for _, h := range handlers {
		h(topic, payload)
	}
	return nil
}

func (l *Loopback) Subscribe(topic string, h Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs[topic] = append(l.subs[topic], h)
	return nil
}

func (l *Loopback) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}

// Published returns every message published so far, optionally filtered by topic.
func (l *Loopback) Published(topic string) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Message
	for _, m := range l.published {
		if topic == "" || m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func matches(pattern, topic string) bool {
	if n := len(pattern); n > 0 && pattern[n-1] == '#' {
		prefix := pattern[:n-1]
		return len(topic) >= len(prefix) && topic[:len(prefix)] == prefix
	}
	return pattern == topic
}

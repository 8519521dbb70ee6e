package bus

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTTConfig describes one broker connection.
type MQTTConfig struct {
	Broker         string // tcp://host:port
	ClientID       string // random when empty
	Username       string
	Password       string
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	InboxSize      int // messages waiting for their handler; 0 uses DefaultInboxSize
}

// DefaultInboxSize bounds the messages received but not yet handled.
const DefaultInboxSize = 1024

// OnConnect is called after every (re)connection, once subscriptions are restored.
type OnConnect func()

// MQTTClient is a Client backed by paho. Subscriptions are remembered and
// re-established on reconnect.
//
// Messages are handled one at a time in arrival order by a single delivery
// goroutine. paho only hands them over, so a handler may publish and wait for
// the acknowledgment without stalling the network loop.
type MQTTClient struct {
	cfg    MQTTConfig
	client mqtt.Client
	logger *slog.Logger

	mu        sync.Mutex
	subs      map[string]Handler
	onConnect []OnConnect

	inbox     chan delivery
	done      chan struct{}
	closeOnce sync.Once
}

type delivery struct {
	handler Handler
	topic   string
	payload []byte
}

// NewMQTTClient builds the client. Call Connect to dial the broker.
func NewMQTTClient(cfg MQTTConfig, logger *slog.Logger) *MQTTClient {
	if cfg.ClientID == "" {
		cfg.ClientID = "claxon-" + uuid.NewString()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultInboxSize
	}

	c := &MQTTClient{
		cfg:    cfg,
		logger: logger.With("broker", cfg.Broker),
		subs:   make(map[string]Handler),
		inbox:  make(chan delivery, cfg.InboxSize),
		done:   make(chan struct{}),
	}
	go c.deliverLoop()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetOnConnectHandler(c.handleConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.logger.Warn("broker connection lost", "error", err)
		})

	c.client = mqtt.NewClient(opts)
	return c
}

// OnConnect registers a callback run after every successful connection.
func (c *MQTTClient) OnConnect(fn OnConnect) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

// Connect dials the broker and waits up to the connect timeout.
func (c *MQTTClient) Connect() error {
	tok := c.client.Connect()
	if !tok.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("connecting to %s: timed out", c.cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("connecting to %s: %w", c.cfg.Broker, err)
	}
	return nil
}

func (c *MQTTClient) handleConnect(client mqtt.Client) {
	c.mu.Lock()
	subs := make(map[string]Handler, len(c.subs))
	for t, h := range c.subs {
		subs[t] = h
	}
	callbacks := append([]OnConnect(nil), c.onConnect...)
	c.mu.Unlock()

	c.logger.Info("connected to broker", "subscriptions", len(subs))
	for topic, h := range subs {
		if err := c.subscribe(topic, h); err != nil {
			c.logger.Error("resubscribe failed", "topic", topic, "error", err)
		}
	}
	for _, fn := range callbacks {
		fn()
	}
}

// Publish sends payload without waiting for broker acknowledgment beyond the publish timeout.
func (c *MQTTClient) Publish(topic string, payload []byte) error {
	tok := c.client.Publish(topic, c.cfg.QoS, false, payload)
	if !tok.WaitTimeout(c.cfg.PublishTimeout) {
		return fmt.Errorf("publishing %s: timed out", topic)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers h for topic. If not yet connected, the subscription is
// made on the next connect.
func (c *MQTTClient) Subscribe(topic string, h Handler) error {
	c.mu.Lock()
	c.subs[topic] = h
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		return nil
	}
	return c.subscribe(topic, h)
}

func (c *MQTTClient) subscribe(topic string, h Handler) error {
	tok := c.client.Subscribe(topic, c.cfg.QoS, func(_ mqtt.Client, m mqtt.Message) {
		c.enqueue(h, m.Topic(), m.Payload())
	})
	if !tok.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("subscribing %s: timed out", topic)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("subscribing %s: %w", topic, err)
	}
	return nil
}

// enqueue hands a message to the delivery goroutine. It blocks while the inbox
// is full, which pushes back on paho instead of reordering or dropping.
func (c *MQTTClient) enqueue(h Handler, topic string, payload []byte) {
	select {
	case c.inbox <- delivery{handler: h, topic: topic, payload: payload}:
	case <-c.done:
	}
}

func (c *MQTTClient) deliverLoop() {
	for {
		select {
		case d := <-c.inbox:
			d.handler(d.topic, d.payload)
		case <-c.done:
			return
		}
	}
}

// Close disconnects, allowing in-flight work a short grace period, and stops
// delivery. Messages still in the inbox are discarded.
func (c *MQTTClient) Close() {
	c.closeOnce.Do(func() {
		c.client.Disconnect(250)
		close(c.done)
	})
}

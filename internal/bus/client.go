package bus

// Handler receives one message. It runs on the client's delivery goroutine
// and must not block for long.
type Handler func(topic string, payload []byte)

// Publisher is the write side of a bus connection.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Client is a bus connection.
type Client interface {
	Publisher
	Subscribe(topic string, h Handler) error
	Close()
}

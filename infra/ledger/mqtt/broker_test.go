package mqtt

import (
	"errors"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (d dummyToken) Error() error { return d.err }

type mockMessage struct {
	topic   string
	payload []byte
}

func (m mockMessage) Duplicate() bool   { return false }
func (m mockMessage) Qos() byte         { return 0 }
func (m mockMessage) Retained() bool    { return false }
func (m mockMessage) Topic() string     { return m.topic }
func (m mockMessage) MessageID() uint16 { return 0 }
func (m mockMessage) Payload() []byte   { return m.payload }
func (m mockMessage) Ack()              {}

// loopback routes publishes to handlers subscribed on the exact topic.
type loopback struct {
	mu   sync.Mutex
	subs map[string][]paho.MessageHandler
}

func newLoopback() *loopback {
	return &loopback{subs: map[string][]paho.MessageHandler{}}
}

func (l *loopback) subscribed(topic string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs[topic]) > 0
}

// conn is one client connection to the loopback broker.
type conn struct {
	broker *loopback
	opts   *paho.ClientOptions

	mu          sync.Mutex
	connected   bool
	publishErrs []error
	published   []string
	qos         []byte
}

func (l *loopback) dial() func(*paho.ClientOptions) pahoClient {
	return func(o *paho.ClientOptions) pahoClient {
		return &conn{broker: l, opts: o}
	}
}

func (c *conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *conn) Connect() paho.Token {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return dummyToken{}
}

func (c *conn) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *conn) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	c.mu.Lock()
	c.published = append(c.published, topic)
	c.qos = append(c.qos, qos)
	if !c.connected {
		c.mu.Unlock()
		return dummyToken{err: errors.New("not connected")}
	}
	if len(c.publishErrs) > 0 {
		err := c.publishErrs[0]
		c.publishErrs = c.publishErrs[1:]
		if err != nil {
			c.mu.Unlock()
			return dummyToken{err: err}
		}
	}
	c.mu.Unlock()

	c.broker.mu.Lock()
	handlers := append([]paho.MessageHandler(nil), c.broker.subs[topic]...)
	c.broker.mu.Unlock()
	msg := mockMessage{topic: topic, payload: payload.([]byte)}
	for _, h := range handlers {
		h(nil, msg)
	}
	return dummyToken{}
}

func (c *conn) Subscribe(topic string, _ byte, cb paho.MessageHandler) paho.Token {
	c.broker.mu.Lock()
	c.broker.subs[topic] = append(c.broker.subs[topic], cb)
	c.broker.mu.Unlock()
	return dummyToken{}
}

func (c *conn) publishCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

package bus

import (
	"errors"
	"sync"
)

var errMemoryClosed = errors.New("memory transport closed")

// Message is a payload published through a MemoryTransport.
type Message struct {
	Topic   string
	Payload []byte
}

type memorySub struct {
	pattern string
	handler Handler
}

// MemoryTransport delivers messages in process, synchronously, to matching
// subscribers. It backs the memory driver and tests.
type MemoryTransport struct {
	mu        sync.RWMutex
	connected bool
	closed    bool
	subs      []memorySub
	published []Message
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{connected: true}
}

func (m *MemoryTransport) Publish(topic string, payload []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errMemoryClosed
	}
	if !m.connected {
		m.mu.Unlock()
		return errNotConnected
	}
	data := append([]byte(nil), payload...)
	m.published = append(m.published, Message{Topic: topic, Payload: data})
	var targets []Handler
	for _, s := range m.subs {
		if MatchTopic(s.pattern, topic) {
			targets = append(targets, s.handler)
		}
	}
	m.mu.Unlock()

	for _, h := range targets {
		h(topic, data)
	}
	return nil
}

func (m *MemoryTransport) Subscribe(pattern string, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errMemoryClosed
	}
	m.subs = append(m.subs, memorySub{pattern: pattern, handler: handler})
	return nil
}

func (m *MemoryTransport) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected && !m.closed
}

// SetConnected simulates the broker link going down or coming back.
func (m *MemoryTransport) SetConnected(connected bool) {
	m.mu.Lock()
	m.connected = connected
	m.mu.Unlock()
}

// Published returns a copy of every message published so far.
func (m *MemoryTransport) Published() []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Message(nil), m.published...)
}

func (m *MemoryTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.subs = nil
	m.mu.Unlock()
	return nil
}

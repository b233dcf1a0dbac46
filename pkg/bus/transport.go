// Package bus is the telemetry key/value bus. Values live under hierarchical
// tables ("/<device>/config", "/<device>/output", ...) and travel as retained
// JSON messages over a publish/subscribe transport.
package bus

import (
	"strings"
	"sync"
)

// Handler receives a message delivered for a subscription.
type Handler func(topic string, payload []byte)

// Transport moves raw payloads between topics.
type Transport interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(filter string, h Handler) error
	Close() error
}

// MatchTopic reports whether topic matches an MQTT-style filter with
// '+' (one level) and '#' (remaining levels) wildcards.
func MatchTopic(filter, topic string) bool {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, part := range f {
		if part == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if part != "+" && part != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}

type subscription struct {
	filter  string
	handler Handler
}

// MemoryTransport is an in-process broker that keeps retained messages.
// It delivers synchronously on the publishing goroutine.
type MemoryTransport struct {
	mu       sync.Mutex
	retained map[string][]byte
	subs     []subscription
	closed   bool
}

// NewMemoryTransport returns an empty in-process broker.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{retained: make(map[string][]byte)}
}

func (m *MemoryTransport) Publish(topic string, payload []byte, retained bool) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	data := append([]byte(nil), payload...)
	if retained {
		m.retained[topic] = data
	}
	var targets []Handler
	for _, s := range m.subs {
		if MatchTopic(s.filter, topic) {
			targets = append(targets, s.handler)
		}
	}
	m.mu.Unlock()

	for _, h := range targets {
		h(topic, data)
	}
	return nil
}

func (m *MemoryTransport) Subscribe(filter string, h Handler) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.subs = append(m.subs, subscription{filter: filter, handler: h})
	type msg struct {
		topic   string
		payload []byte
	}
	var backlog []msg
	for topic, payload := range m.retained {
		if MatchTopic(filter, topic) {
			backlog = append(backlog, msg{topic, payload})
		}
	}
	m.mu.Unlock()

	for _, b := range backlog {
		h(b.topic, b.payload)
	}
	return nil
}

// Retained returns the last retained payload on topic.
func (m *MemoryTransport) Retained(topic string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.retained[topic]
	return p, ok
}

func (m *MemoryTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = nil
	return nil
}

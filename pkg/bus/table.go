package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// envelope is the payload carried on every topic.
type envelope struct {
	Timestamp int64           `json:"ts"`
	Value     json.RawMessage `json:"value"`
}

// Client caches every value below a root and hands out tables.
type Client struct {
	transport Transport
	now       func() time.Time

	mu     sync.RWMutex
	values map[string]json.RawMessage
	root   string
}

// NewClient wraps a transport. Connect must be called before tables are read.
func NewClient(t Transport) *Client {
	return &Client{
		transport: t,
		now:       time.Now,
		values:    make(map[string]json.RawMessage),
	}
}

// Connect subscribes to everything below root (for example the device id).
func (c *Client) Connect(root string) error {
	root = strings.Trim(root, "/")
	c.mu.Lock()
	c.root = root
	c.mu.Unlock()
	if err := c.transport.Subscribe(root+"/#", c.receive); err != nil {
		return fmt.Errorf("bus subscribe %s: %w", root, err)
	}
	return nil
}

// Close closes the underlying transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

func (c *Client) receive(topic string, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		slog.Debug("ignoring malformed bus value", "topic", topic, "error", err)
		return
	}
	c.mu.Lock()
	c.values[topic] = env.Value
	c.mu.Unlock()
}

// Table returns a view on the table at path, e.g. "/robot1/config".
func (c *Client) Table(path string) *Table {
	return &Table{client: c, prefix: strings.Trim(path, "/")}
}

// Table reads and writes typed values under one prefix.
type Table struct {
	client *Client
	prefix string
}

func (t *Table) topic(key string) string {
	return t.prefix + "/" + key
}

func (t *Table) raw(key string) (json.RawMessage, bool) {
	t.client.mu.RLock()
	defer t.client.mu.RUnlock()
	v, ok := t.client.values[t.topic(key)]
	return v, ok && len(v) > 0
}

func (t *Table) decode(key string, dst any) bool {
	raw, ok := t.raw(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		slog.Debug("bus value has wrong type", "topic", t.topic(key), "error", err)
		return false
	}
	return true
}

// String returns the value at key or def.
func (t *Table) String(key, def string) string {
	var v string
	if !t.decode(key, &v) {
		return def
	}
	return v
}

// Int returns the value at key or def. Floats are truncated.
func (t *Table) Int(key string, def int64) int64 {
	var v float64
	if !t.decode(key, &v) {
		return def
	}
	return int64(v)
}

// Float returns the value at key or def.
func (t *Table) Float(key string, def float64) float64 {
	var v float64
	if !t.decode(key, &v) {
		return def
	}
	return v
}

// Bool returns the value at key or def.
func (t *Table) Bool(key string, def bool) bool {
	var v bool
	if !t.decode(key, &v) {
		return def
	}
	return v
}

// Floats returns the array at key or nil.
func (t *Table) Floats(key string) []float64 {
	var v []float64
	if !t.decode(key, &v) {
		return nil
	}
	return v
}

// Set publishes value at key stamped with the current time.
func (t *Table) Set(key string, value any) error {
	return t.SetAt(key, value, t.client.now())
}

// SetAt publishes value at key stamped with ts in whole microseconds.
// The local cache is updated first so the next read sees the write.
func (t *Table) SetAt(key string, value any, ts time.Time) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	payload, err := json.Marshal(envelope{Timestamp: ts.UnixMicro(), Value: raw})
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	topic := t.topic(key)
	t.client.mu.Lock()
	t.client.values[topic] = raw
	t.client.mu.Unlock()
	return t.client.transport.Publish(topic, payload, true)
}

// Timestamp decodes the microsecond stamp of a raw payload.
func Timestamp(payload []byte) (int64, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return 0, err
	}
	return env.Timestamp, nil
}

// Decode unmarshals the value of a raw payload into dst.
func Decode(payload []byte, dst any) error {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return err
	}
	return json.Unmarshal(env.Value, dst)
}

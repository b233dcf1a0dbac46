package bus

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// ErrClosed is returned by transports after Close.
var ErrClosed = errors.New("bus transport closed")

// MQTTConfig selects the broker to connect to.
type MQTTConfig struct {
	Host     string
	Port     int
	ClientID string
}

// MQTTTransport is a Transport backed by an MQTT broker.
type MQTTTransport struct {
	cfg    MQTTConfig
	client mqtt.Client
}

// DialMQTT connects to the broker. The client reconnects on its own and
// restores subscriptions after a reconnect.
func DialMQTT(cfg MQTTConfig) (*MQTTTransport, error) {
	if cfg.Port == 0 {
		cfg.Port = 1883
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "tagvision-" + uuid.NewString()[:8]
	}
	broker := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetCleanSession(true)
	opts.SetResumeSubs(true)
	opts.OnConnect = func(mqtt.Client) {
		slog.Info("bus connected", "broker", broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("bus connection lost, reconnecting", "broker", broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	slog.Info("connecting to bus", "broker", broker)
	token := client.Connect()
	// With connect retry enabled the token only completes once a connection is up.
	for !token.WaitTimeout(5 * time.Second) {
		slog.Warn("waiting for bus", "broker", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("bus connect failed: %w", err)
	}
	return &MQTTTransport{cfg: cfg, client: client}, nil
}

func (t *MQTTTransport) Publish(topic string, payload []byte, retained bool) error {
	token := t.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (t *MQTTTransport) Subscribe(filter string, h Handler) error {
	token := t.client.Subscribe(filter, 0, func(_ mqtt.Client, msg mqtt.Message) {
		h(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe %s: timeout", filter)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", filter, err)
	}
	return nil
}

func (t *MQTTTransport) Close() error {
	if t.client.IsConnected() {
		t.client.Disconnect(250)
		slog.Info("bus disconnected")
	}
	return nil
}

package bus

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/orrn/printdesk/internal/config"
)

const (
	mqttQoS             = 1
	mqttDisconnectQuiet = 250 // milliseconds
)

// MQTTTransport talks to the printers over an MQTT broker. Subscriptions are
// remembered and replayed on every (re)connect.
type MQTTTransport struct {
	client  mqtt.Client
	timeout time.Duration
	logger  logrus.FieldLogger

	mu   sync.Mutex
	subs map[string]Handler
}

// DialMQTT starts connecting to the broker. If the broker does not answer
// within the connect timeout the client keeps retrying in the background and
// the transport reports disconnected until it succeeds.
func DialMQTT(cfg config.BrokerConfig, logger logrus.FieldLogger) (*MQTTTransport, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	t := &MQTTTransport{timeout: timeout, logger: logger, subs: make(map[string]Handler)}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(timeout).
		SetOnConnectHandler(t.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.WithError(err).Warn("mqtt connection lost")
		})
	if cfg.ReconnectWait > 0 {
		opts.SetConnectRetryInterval(cfg.ReconnectWait)
		opts.SetMaxReconnectInterval(10 * cfg.ReconnectWait)
	}

	t.client = mqtt.NewClient(opts)

	tok := t.client.Connect()
	if !tok.WaitTimeout(timeout) {
		logger.WithField("broker", cfg.URL).Warn("mqtt broker not reachable yet, retrying in background")
		return t, nil
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.URL, err)
	}
	return t, nil
}

func newMQTTTransport(client mqtt.Client, timeout time.Duration, logger logrus.FieldLogger) *MQTTTransport {
	return &MQTTTransport{client: client, timeout: timeout, logger: logger, subs: make(map[string]Handler)}
}

func (t *MQTTTransport) onConnect(c mqtt.Client) {
	t.logger.Info("connected to mqtt broker")

	t.mu.Lock()
	subs := make(map[string]Handler, len(t.subs))
	for p, h := range t.subs {
		subs[p] = h
	}
	t.mu.Unlock()

	for pattern, handler := range subs {
		if err := t.subscribe(c, pattern, handler); err != nil {
			t.logger.WithError(err).WithField("topic", pattern).Error("mqtt resubscribe failed")
		}
	}
}

func (t *MQTTTransport) subscribe(c mqtt.Client, pattern string, handler Handler) error {
	tok := c.Subscribe(pattern, mqttQoS, func(_ mqtt.Client, m mqtt.Message) {
		handler(m.Topic(), m.Payload())
	})
	if !tok.WaitTimeout(t.timeout) {
		return fmt.Errorf("mqtt subscribe %s: timed out", pattern)
	}
	return tok.Error()
}

func (t *MQTTTransport) Publish(topic string, payload []byte) error {
	tok := t.client.Publish(topic, mqttQoS, false, payload)
	if !tok.WaitTimeout(t.timeout) {
		return fmt.Errorf("mqtt publish %s: timed out", topic)
	}
	return tok.Error()
}

// Subscribe records the subscription and applies it now if connected.
func (t *MQTTTransport) Subscribe(pattern string, handler Handler) error {
	t.mu.Lock()
	t.subs[pattern] = handler
	t.mu.Unlock()

	if !t.client.IsConnectionOpen() {
		return nil
	}
	return t.subscribe(t.client, pattern, handler)
}

func (t *MQTTTransport) IsConnected() bool {
	return t.client.IsConnectionOpen()
}

func (t *MQTTTransport) Close() error {
	t.client.Disconnect(mqttDisconnectQuiet)
	return nil
}

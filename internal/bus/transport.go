package bus

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/orrn/printdesk/internal/config"
)

// Handler receives a message delivered on topic.
type Handler func(topic string, payload []byte)

// Transport is a topic based pub/sub connection to the printer fleet.
// Topics use MQTT syntax: '/' separated levels, '+' matches one level and a
// trailing '#' matches the rest.
type Transport interface {
	Publish(topic string, payload []byte) error
	// Subscribe registers handler for pattern. Subscriptions survive
	// reconnects.
	Subscribe(pattern string, handler Handler) error
	IsConnected() bool
	Close() error
}

// Open connects the transport selected by cfg.Driver. A broker that cannot be
// reached yet is not an error for mqtt; the client keeps retrying.
func Open(cfg config.BrokerConfig, logger logrus.FieldLogger) (Transport, error) {
	switch cfg.Driver {
	case "mqtt":
		t, err := DialMQTT(cfg, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	case "nats":
		t, err := DialNATS(NATSConfig{
			URL:           cfg.URL,
			Name:          cfg.ClientID,
			ConnTimeout:   cfg.ConnectTimeout,
			ReconnectWait: cfg.ReconnectWait,
			MaxReconnects: -1,
		}, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	case "memory":
		return NewMemoryTransport(), nil
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.Driver)
	}
}

// MatchTopic reports whether topic matches an MQTT style pattern.
func MatchTopic(pattern, topic string) bool {
	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")

	for i, p := range pp {
		if p == "#" {
			return i == len(pp)-1
		}
		if i >= len(tp) {
			return false
		}
		if p != "+" && p != tp[i] {
			return false
		}
	}
	return len(pp) == len(tp)
}

package bus

import (
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

type NATSConfig struct {
	URL           string
	Name          string
	ConnTimeout   time.Duration
	ReconnectWait time.Duration
	MaxReconnects int
}

// natsConn is the subset of *nats.Conn the transport uses.
type natsConn interface {
	Publish(subj string, data []byte) error
	Flush() error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	IsConnected() bool
	IsClosed() bool
	Drain() error
	Close()
}

// NATSTransport maps MQTT style topics onto NATS subjects. The nats client
// restores subscriptions after a reconnect on its own.
type NATSTransport struct {
	nc     natsConn
	logger logrus.FieldLogger
}

func DialNATS(cfg NATSConfig, logger logrus.FieldLogger) (*NATSTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats url required")
	}

	opts := []nats.Option{
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("nats reconnected")
		}),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.ConnTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnTimeout))
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}
	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	logger.WithField("url", nc.ConnectedUrl()).Info("connected to nats")

	return newNATSTransport(nc, logger), nil
}

func newNATSTransport(nc natsConn, logger logrus.FieldLogger) *NATSTransport {
	return &NATSTransport{nc: nc, logger: logger}
}

func (t *NATSTransport) Publish(topic string, payload []byte) error {
	if err := t.nc.Publish(topicToSubject(topic), payload); err != nil {
		return err
	}
	return t.nc.Flush()
}

func (t *NATSTransport) Subscribe(pattern string, handler Handler) error {
	_, err := t.nc.Subscribe(topicToSubject(pattern), func(m *nats.Msg) {
		handler(subjectToTopic(m.Subject), m.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", pattern, err)
	}
	return nil
}

func (t *NATSTransport) IsConnected() bool {
	return t.nc.IsConnected()
}

func (t *NATSTransport) Close() error {
	if t.nc.IsClosed() {
		return nil
	}
	err := t.nc.Drain()
	t.nc.Close()
	return err
}

func topicToSubject(topic string) string {
	levels := strings.Split(strings.Trim(topic, "/"), "/")
	for i, l := range levels {
		switch l {
		case "+":
			levels[i] = "*"
		case "#":
			levels[i] = ">"
		}
	}
	return strings.Join(levels, ".")
}

func subjectToTopic(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

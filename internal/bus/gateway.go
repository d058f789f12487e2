package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sirupsen/logrus"

	"github.com/orrn/printdesk/internal/core"
)

var errNotConnected = fmt.Errorf("broker not connected: %w", core.ErrTransportUnavailable)

type GatewayConfig struct {
	// PublishRetries is how many times a failed publish is retried while the
	// link is up. Zero publishes once.
	PublishRetries int
	PublishBackoff time.Duration
}

// Gateway encodes commands as JSON and publishes them on the transport. It
// never queues: a disconnected link fails the publish at once with
// core.ErrTransportUnavailable.
type Gateway struct {
	transport Transport
	retry     retrypolicy.RetryPolicy[any]
	logger    logrus.FieldLogger
}

func NewGateway(transport Transport, cfg GatewayConfig, logger logrus.FieldLogger) *Gateway {
	if cfg.PublishRetries < 0 {
		cfg.PublishRetries = 0
	}
	if cfg.PublishBackoff <= 0 {
		cfg.PublishBackoff = 100 * time.Millisecond
	}

	retry := retrypolicy.NewBuilder[any]().
		WithBackoff(cfg.PublishBackoff, 10*cfg.PublishBackoff).
		WithMaxRetries(cfg.PublishRetries).
		HandleIf(func(_ any, err error) bool {
			return err != nil && !errors.Is(err, core.ErrTransportUnavailable)
		}).
		ReturnLastFailure().
		Build()

	return &Gateway{transport: transport, retry: retry, logger: logger}
}

func (g *Gateway) Connected() bool {
	return g.transport.IsConnected()
}

// Publish sends v to topic.
func (g *Gateway) Publish(ctx context.Context, topic string, v any) error {
	if !g.transport.IsConnected() {
		return fmt.Errorf("publish %s: %w", topic, errNotConnected)
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message for %s: %w", topic, err)
	}

	attempt := 0
	err = failsafe.With(g.retry).WithContext(ctx).Run(func() error {
		attempt++
		if !g.transport.IsConnected() {
			return errNotConnected
		}
		if perr := g.transport.Publish(topic, payload); perr != nil {
			g.logger.WithError(perr).WithFields(logrus.Fields{"topic": topic, "attempt": attempt}).Warn("publish attempt failed")
			return perr
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// SubscribeStatus decodes status events arriving on pattern and hands them
// to handler. Undecodable payloads are logged and dropped.
func (g *Gateway) SubscribeStatus(ctx context.Context, pattern string, handler func(context.Context, core.StatusEvent)) error {
	return g.transport.Subscribe(pattern, func(topic string, payload []byte) {
		var ev core.StatusEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			g.logger.WithError(err).WithField("topic", topic).Warn("dropping undecodable status message")
			return
		}
		if ev.JobID == "" {
			g.logger.WithField("topic", topic).Warn("dropping status message without job_id")
			return
		}
		handler(ctx, ev)
	})
}

func (g *Gateway) Close() error {
	return g.transport.Close()
}

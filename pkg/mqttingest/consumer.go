package mqttingest

import (
	"context"
	"errors"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MessageHandler receives one raw transport message per call. Implementations
// must be non-blocking and bounded-time: the Paho delivery goroutine must
// never be stalled by queue or storage backpressure.
type MessageHandler func(topic string, payload []byte)

// IngestConsumer subscribes to the device telemetry topic and hands each raw
// message to the pipeline's receive path. The mqtt.Client is injected so tests
// can drive the consumer without a broker.
type IngestConsumer struct {
	client   mqtt.Client
	cfg      *MQTTClientConfig
	handler  MessageHandler
	logger   zerolog.Logger
	doneChan chan struct{}
	stopOnce sync.Once
}

// NewIngestConsumer creates a consumer. It does not connect until Start is
// called.
func NewIngestConsumer(client mqtt.Client, cfg *MQTTClientConfig, handler MessageHandler, logger zerolog.Logger) (*IngestConsumer, error) {
	if client == nil {
		return nil, errors.New("mqttingest: client cannot be nil")
	}
	if cfg == nil || cfg.Topic == "" {
		return nil, errors.New("mqttingest: topic is required")
	}
	if handler == nil {
		return nil, errors.New("mqttingest: handler cannot be nil")
	}
	return &IngestConsumer{
		client:   client,
		cfg:      cfg,
		handler:  handler,
		logger:   logger.With().Str("component", "IngestConsumer").Logger(),
		doneChan: make(chan struct{}),
	}, nil
}

// Start connects to the broker and subscribes to the telemetry topic with
// QoS 1. A failed initial connection is logged, not fatal: the Paho client
// keeps retrying in the background.
func (c *IngestConsumer) Start(ctx context.Context) error {
	c.logger.Info().Str("topic", c.cfg.Topic).Msg("Attempting to connect to MQTT broker...")
	if token := c.client.Connect(); token.WaitTimeout(c.connectTimeout()) && token.Error() != nil {
		c.logger.Error().Err(token.Error()).Msg("Failed to connect to MQTT broker on startup, client will retry in the background.")
	} else if token.Error() == nil {
		c.logger.Info().Msg("Initial connection to MQTT broker successful.")
	}

	if token := c.client.Subscribe(c.cfg.Topic, 1, c.onMessage); token.WaitTimeout(c.connectTimeout()) && token.Error() != nil {
		c.logger.Error().Err(token.Error()).Str("topic", c.cfg.Topic).Msg("Failed to subscribe to telemetry topic.")
	} else {
		c.logger.Info().Str("topic", c.cfg.Topic).Msg("Subscribed to telemetry topic.")
	}

	go func() {
		<-ctx.Done()
		c.logger.Info().Msg("Shutdown signal received, ensuring consumer is stopped.")
		_ = c.Stop(context.Background())
	}()

	return nil
}

// Stop unsubscribes and disconnects from the broker. It is the first step of
// pipeline shutdown so no new messages arrive while the residual queue drains.
func (c *IngestConsumer) Stop(_ context.Context) error {
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping IngestConsumer...")
		if c.client.IsConnected() {
			if token := c.client.Unsubscribe(c.cfg.Topic); token.WaitTimeout(2*time.Second) && token.Error() != nil {
				c.logger.Warn().Err(token.Error()).Str("topic", c.cfg.Topic).Msg("Failed to unsubscribe from telemetry topic.")
			}
			c.client.Disconnect(500) // 500ms grace period
			c.logger.Info().Msg("Paho MQTT client disconnected.")
		}
		close(c.doneChan)
		c.logger.Info().Msg("IngestConsumer stopped.")
	})
	return nil
}

// Done returns a channel that is closed when the consumer has fully stopped.
func (c *IngestConsumer) Done() <-chan struct{} {
	return c.doneChan
}

// IsConnected reports the connection status of the underlying Paho client.
func (c *IngestConsumer) IsConnected() bool {
	return c.client.IsConnected()
}

// onMessage copies the payload out of the Paho buffer and hands it to the
// handler. With QoS 1 the protocol-level ack is managed by the Paho client;
// the pipeline applies its own backpressure policy downstream.
func (c *IngestConsumer) onMessage(_ mqtt.Client, msg mqtt.Message) {
	payloadCopy := make([]byte, len(msg.Payload()))
	copy(payloadCopy, msg.Payload())
	c.handler(msg.Topic(), payloadCopy)
}

func (c *IngestConsumer) connectTimeout() time.Duration {
	if c.cfg.ConnectTimeout > 0 {
		return c.cfg.ConnectTimeout
	}
	return 5 * time.Second
}

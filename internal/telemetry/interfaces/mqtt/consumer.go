package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"coldchain-cloud/internal/observability/metrics"
	telemetryapp "coldchain-cloud/internal/telemetry/application"
	telemetry "coldchain-cloud/internal/telemetry/domain"
)

// DefaultTopic matches readings published by loggers.
const DefaultTopic = "coldchain/devices/+/readings"

// Submitter ingests one reading.
type Submitter interface {
	Submit(ctx context.Context, reading telemetry.SensorReading) (telemetryapp.Result, error)
}

// Config holds broker settings.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// Consumer subscribes to logger readings on an MQTT broker.
type Consumer struct {
	cfg    Config
	ingest Submitter
	logger *zap.Logger
	client paho.Client
}

// NewConsumer constructs a consumer. Connect must be called before use.
func NewConsumer(cfg Config, ingest Submitter, logger *zap.Logger) (*Consumer, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt consumer: empty broker")
	}
	if ingest == nil {
		return nil, errors.New("mqtt consumer: nil ingest")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "coldchain-ingest"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{cfg: cfg, ingest: ingest, logger: logger}, nil
}

// Run connects, subscribes and blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	opts := paho.NewClientOptions()
	opts.AddBroker(c.cfg.Broker)
	opts.SetClientID(c.cfg.ClientID)
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
	}
	if c.cfg.Password != "" {
		opts.SetPassword(c.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(false)
	opts.SetOnConnectHandler(func(client paho.Client) {
		// Resubscribe on every connect, including automatic reconnects.
		if err := c.subscribe(ctx, client); err != nil {
			c.logger.Error("mqtt subscribe failed", zap.Error(err))
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.logger.Warn("mqtt connection lost", zap.Error(err))
	})

	c.client = paho.NewClient(opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect mqtt broker: %w", token.Error())
	}
	c.logger.Info("mqtt consumer connected", zap.String("broker", c.cfg.Broker), zap.String("topic", c.cfg.Topic))

	<-ctx.Done()
	c.client.Unsubscribe(c.cfg.Topic).WaitTimeout(time.Second)
	c.client.Disconnect(250)
	return nil
}

func (c *Consumer) subscribe(ctx context.Context, client paho.Client) error {
	token := client.Subscribe(c.cfg.Topic, c.cfg.QoS, func(_ paho.Client, msg paho.Message) {
		if err := c.HandleMessage(ctx, msg.Topic(), msg.Payload()); err != nil {
			c.logger.Warn("mqtt reading rejected", zap.String("topic", msg.Topic()), zap.Error(err))
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", c.cfg.Topic, token.Error())
	}
	return nil
}

// HandleMessage ingests one MQTT message published on coldchain/devices/{serial}/readings.
func (c *Consumer) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	start := time.Now()
	serial, err := SerialFromTopic(topic)
	if err != nil {
		metrics.IncIngestError("topic")
		return err
	}
	reading, err := telemetry.DecodePayload(serial, payload)
	if err != nil {
		metrics.ObserveIngest("mqtt", metrics.ResultError, time.Since(start))
		metrics.IncIngestError("decode")
		return err
	}
	if _, err := c.ingest.Submit(ctx, reading); err != nil {
		metrics.ObserveIngest("mqtt", metrics.ResultError, time.Since(start))
		metrics.IncIngestError("submit")
		return err
	}
	metrics.ObserveIngest("mqtt", metrics.ResultSuccess, time.Since(start))
	return nil
}

// SerialFromTopic extracts the device serial from a readings topic.
func SerialFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[len(parts)-1] != "readings" || parts[len(parts)-3] != "devices" || parts[len(parts)-2] == "" {
		return "", fmt.Errorf("unexpected topic %q", topic)
	}
	return parts[len(parts)-2], nil
}

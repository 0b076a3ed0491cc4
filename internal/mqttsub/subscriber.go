// Package mqttsub consumes ChirpStack uplink events from an MQTT broker.
package mqttsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"uplinkdash/telemetry-server/internal/ingest"
)

// DefaultTopic matches ChirpStack v4 uplink events for every application and device.
const DefaultTopic = "application/+/device/+/event/up"

const connectTimeout = 10 * time.Second

// Ingester is what the subscriber hands each message to.
type Ingester interface {
	Ingest(ctx context.Context, rec ingest.Record) (ingest.Outcome, error)
}

type Config struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
}

type Subscriber struct {
	cfg      Config
	ingester Ingester
	logger   *slog.Logger
	client   mqtt.Client
	ctx      context.Context
}

func New(cfg Config, ingester Ingester, logger *slog.Logger) (*Subscriber, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, errors.New("mqtt broker must not be empty")
	}
	if ingester == nil {
		return nil, errors.New("ingester must not be nil")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "uplinkdash-" + uuid.NewString()[:8]
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", cfg.QoS)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Subscriber{
		cfg:      cfg,
		ingester: ingester,
		logger:   logger.With("component", "mqttsub"),
		ctx:      context.Background(),
	}, nil
}

// Start connects and subscribes. The subscription is renewed on every reconnect. If the broker
// is unreachable within the connect timeout, paho keeps retrying in the background.
func (s *Subscriber) Start(ctx context.Context) error {
	s.ctx = ctx

	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOnConnectHandler(s.subscribe).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.logger.Warn("mqtt connection lost", "broker", s.cfg.Broker, "error", err)
		})

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		s.logger.Warn("mqtt broker not reachable yet, retrying in background", "broker", s.cfg.Broker)
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect mqtt broker: %w", err)
	}
	return nil
}

func (s *Subscriber) subscribe(client mqtt.Client) {
	token := client.Subscribe(s.cfg.Topic, s.cfg.QoS, s.handleMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		s.logger.Error("mqtt subscribe failed", "topic", s.cfg.Topic, "error", err)
		return
	}
	s.logger.Info("subscribed to uplinks", "broker", s.cfg.Broker, "topic", s.cfg.Topic, "client_id", s.cfg.ClientID)
}

func (s *Subscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	outcome, err := s.ingester.Ingest(s.ctx, ingest.Record{
		Source: ingest.SourceMQTT,
		Ref:    msg.Topic(),
		Raw:    msg.Payload(),
	})
	if err != nil {
		s.logger.Error("failed to store mqtt uplink", "topic", msg.Topic(), "error", err)
		return
	}
	if outcome == ingest.OutcomeInvalid {
		s.logger.Warn("invalid mqtt uplink", "topic", msg.Topic(), "bytes", len(msg.Payload()))
	}
}

// Stop disconnects, giving in-flight work a short grace period.
func (s *Subscriber) Stop() {
	if s.client == nil {
		return
	}
	s.client.Disconnect(250)
	s.logger.Info("mqtt subscriber stopped")
}

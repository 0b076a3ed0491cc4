// Package kafkasrc consumes the ChirpStack Kafka integration topic.
package kafkasrc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"uplinkdash/telemetry-server/internal/ingest"
)

const (
	defaultPoll       = 5 * time.Second
	defaultRetryDelay = time.Second
)

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Ingester is what the consumer hands each message to.
type Ingester interface {
	Ingest(ctx context.Context, rec ingest.Record) (ingest.Outcome, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer commits a message only once it has been stored or rejected, so a store outage
// holds the partition instead of losing uplinks.
type Consumer struct {
	cfg        Config
	reader     messageReader
	ingester   Ingester
	logger     *slog.Logger
	poll       time.Duration
	retryDelay time.Duration
}

func New(cfg Config, ingester Ingester, logger *slog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic must not be empty")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("kafka consumer group must not be empty")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
	})
	return newConsumer(cfg, reader, ingester, logger)
}

func newConsumer(cfg Config, reader messageReader, ingester Ingester, logger *slog.Logger) (*Consumer, error) {
	if ingester == nil {
		return nil, errors.New("ingester must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:        cfg,
		reader:     reader,
		ingester:   ingester,
		logger:     logger.With("component", "kafkasrc"),
		poll:       defaultPoll,
		retryDelay: defaultRetryDelay,
	}, nil
}

// Run consumes until ctx is cancelled or the reader is closed.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("kafka consumer started",
		"topic", c.cfg.Topic,
		"group", c.cfg.GroupID,
		"brokers", strings.Join(c.cfg.Brokers, ","),
	)
	defer c.logger.Info("kafka consumer stopped")

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		fetchCtx, cancel := context.WithTimeout(ctx, c.poll)
		msg, err := c.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				continue
			case errors.Is(err, context.Canceled):
				if ctx.Err() != nil {
					return nil
				}
				continue
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, kafka.ErrGroupClosed):
				return nil
			}
			c.logger.Error("kafka fetch failed", "error", err)
			continue
		}

		if !c.handle(ctx, msg) {
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit failed", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

// handle retries store failures until the record is stored or rejected. It returns false when
// ctx ends first.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) bool {
	rec := ingest.Record{
		Source: ingest.SourceKafka,
		Ref:    fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset),
		Raw:    msg.Value,
	}

	for {
		outcome, err := c.ingester.Ingest(ctx, rec)
		if err == nil {
			if outcome == ingest.OutcomeInvalid {
				c.logger.Warn("invalid kafka uplink", "ref", rec.Ref)
			}
			return true
		}

		c.logger.Error("failed to store kafka uplink, retrying", "ref", rec.Ref, "error", err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.retryDelay):
		}
	}
}

func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/kubo-market/sensorwatch/internal/config"
)

// MessageReader is the subset of *kafka.Reader used by KafkaConsumer.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaReader creates a consumer-group reader for the readings topic.
func NewKafkaReader(cfg config.Kafka) (*kafka.Reader, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic must not be empty")
	}
	// Offsets are committed per message, which needs a consumer group.
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka group id must not be empty")
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: []string{cfg.Topic},
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	}), nil
}

// KafkaConsumer reads JSON readings from Kafka. A message is committed once
// it has been ingested or found undecodable, so malformed messages do not
// block the partition. The message key is used as the sensor id when the
// payload has none.
type KafkaConsumer struct {
	reader     MessageReader
	svc        Ingester
	log        logrus.FieldLogger
	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewKafkaConsumer creates a KafkaConsumer.
func NewKafkaConsumer(reader MessageReader, svc Ingester, log logrus.FieldLogger) *KafkaConsumer {
	return &KafkaConsumer{reader: reader, svc: svc, log: log, minBackoff: time.Second, maxBackoff: 10 * time.Second}
}

// Run consumes until ctx is done, then closes the reader.
func (c *KafkaConsumer) Run(ctx context.Context) {
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.log.WithError(err).Error("kafka reader close failed")
		}
	}()
	c.log.Info("kafka consumer started")

	backoff := c.minBackoff
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.log.Info("kafka consumer stopped")
				return
			}
			c.log.WithError(err).Error("kafka fetch failed")
			select {
			case <-time.After(backoff):
				if backoff < c.maxBackoff {
					backoff *= 2
				}
				continue
			case <-ctx.Done():
				c.log.Info("kafka consumer stopped")
				return
			}
		}
		backoff = c.minBackoff

		c.handle(ctx, msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.WithError(err).WithField("offset", msg.Offset).Error("kafka commit failed")
		}
	}
}

func (c *KafkaConsumer) handle(ctx context.Context, msg kafka.Message) {
	entry := c.log.WithFields(logrus.Fields{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})
	reading, err := decodeReading(msg.Value, string(msg.Key))
	if err != nil {
		entry.WithError(err).Warn("dropping undecodable reading")
		return
	}
	if _, err := c.svc.Ingest(ctx, reading); err != nil {
		entry.WithError(err).WithField("sensor_id", reading.SensorID).Warn("reading rejected")
	}
}

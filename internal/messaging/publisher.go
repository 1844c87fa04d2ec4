// Package messaging publishes screening events to Kafka and Redis streams.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher delivers one event to a destination. key orders events of the same user.
type Publisher interface {
	PublishEvent(ctx context.Context, topic, key string, event interface{}) error
	Close() error
}

// EventPublisher fans an event out to every configured publisher
type EventPublisher struct {
	publishers []Publisher
	log        *zap.Logger
}

var _ Publisher = (*EventPublisher)(nil)

// NewEventPublisher creates a fan-out publisher. With no publishers every call is a no-op.
func NewEventPublisher(log *zap.Logger, publishers ...Publisher) *EventPublisher {
	return &EventPublisher{publishers: publishers, log: log}
}

// PublishEvent returns an error only if every publisher failed.
func (p *EventPublisher) PublishEvent(ctx context.Context, topic, key string, event interface{}) error {
	if len(p.publishers) == 0 {
		return nil
	}

	var lastErr error
	successCount := 0
	for i, publisher := range p.publishers {
		if err := publisher.PublishEvent(ctx, topic, key, event); err != nil {
			p.log.Error("failed to publish event",
				zap.Int("publisher_index", i),
				zap.String("topic", topic),
				zap.Error(err))
			lastErr = err
			continue
		}
		successCount++
	}

	if successCount == 0 {
		return fmt.Errorf("all publishers failed, last error: %w", lastErr)
	}
	return nil
}

func (p *EventPublisher) Close() error {
	var firstErr error
	for _, publisher := range p.publishers {
		if err := publisher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// KafkaConfig configures the Kafka publisher
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	RequiredAcks int           `mapstructure:"required_acks"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	Compression  string        `mapstructure:"compression"`
}

// KafkaPublisher writes JSON events to Kafka. The topic is set per message.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    *zap.Logger
}

// NewKafkaPublisher creates a publisher for the given brokers.
func NewKafkaPublisher(cfg KafkaConfig, log *zap.Logger) *KafkaPublisher {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	// zero means unset; kafka.RequireNone cannot be selected
	if cfg.RequiredAcks == 0 {
		cfg.RequiredAcks = int(kafka.RequireAll)
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.CRC32Balancer{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		MaxAttempts:            cfg.MaxAttempts,
		AllowAutoTopicCreation: true,
	}
	switch cfg.Compression {
	case "gzip":
		writer.Compression = kafka.Gzip
	case "snappy":
		writer.Compression = kafka.Snappy
	case "lz4":
		writer.Compression = kafka.Lz4
	case "zstd":
		writer.Compression = kafka.Zstd
	}

	return &KafkaPublisher{writer: writer, log: log}
}

func (k *KafkaPublisher) PublishEvent(ctx context.Context, topic, key string, event interface{}) error {
	msg, err := kafkaMessage(topic, key, event, time.Now())
	if err != nil {
		return err
	}

	k.log.Debug("publishing event to kafka",
		zap.String("topic", topic),
		zap.Int("event_size", len(msg.Value)))
	return k.writer.WriteMessages(ctx, msg)
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

func kafkaMessage(topic, key string, event interface{}, now time.Time) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
		Time:  now,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(topic)},
			{Key: "timestamp", Value: []byte(now.UTC().Format(time.RFC3339))},
			{Key: "source", Value: []byte("amlscreen")},
		},
	}, nil
}

// RedisStreamPublisher appends events to capped Redis streams named after the topic
type RedisStreamPublisher struct {
	client redis.UniversalClient
	maxLen int64
	log    *zap.Logger
}

// NewRedisStreamPublisher creates a stream publisher. maxLen caps each stream approximately.
func NewRedisStreamPublisher(client redis.UniversalClient, maxLen int64, log *zap.Logger) *RedisStreamPublisher {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &RedisStreamPublisher{client: client, maxLen: maxLen, log: log}
}

func (r *RedisStreamPublisher) PublishEvent(ctx context.Context, topic, key string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	result := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"key":       key,
			"data":      string(data),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"source":    "amlscreen",
		},
	})
	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to publish to redis stream: %w", err)
	}

	r.log.Debug("published event to redis stream",
		zap.String("stream", topic),
		zap.String("message_id", result.Val()))
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (r *RedisStreamPublisher) Close() error { return nil }

// Package kafka implements queue.Queue on a Kafka topic with a consumer group.
//
// Messages are keyed by task id. Ack commits the delivered offset. Offsets
// commit per partition, so acking a later message also covers earlier
// unacked ones; tasks lost that way are re-driven from the task store by
// the orchestrator's Recover.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/poiesic/trendwire/queue"
	"github.com/segmentio/kafka-go"
)

// Config configures the topic and consumer group.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Queue implements queue.Queue.
type Queue struct {
	writer *kafka.Writer
	reader *kafka.Reader
	closed atomic.Bool
}

var _ queue.Queue = (*Queue)(nil)

// New creates a writer and a consumer group reader for cfg.Topic.
func New(cfg Config) (*Queue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "trendwire"
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchSize:              1,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Queue{writer: writer, reader: reader}, nil
}

func (q *Queue) Publish(ctx context.Context, msg queue.Message) error {
	if q.closed.Load() {
		return queue.ErrClosed
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	err = q.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.TaskID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "task-class", Value: []byte(msg.Class)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish task %s: %w", msg.TaskID, err)
	}
	return nil
}

func (q *Queue) Consume(ctx context.Context) (queue.Delivery, error) {
	for {
		if q.closed.Load() {
			return nil, queue.ErrClosed
		}
		m, err := q.reader.FetchMessage(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, io.EOF) {
				return nil, queue.ErrClosed
			}
			return nil, fmt.Errorf("failed to fetch message: %w", err)
		}
		var msg queue.Message
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			if err := q.reader.CommitMessages(ctx, m); err != nil {
				return nil, fmt.Errorf("failed to skip undecodable message: %w", err)
			}
			continue
		}
		return &delivery{reader: q.reader, raw: m, msg: msg}, nil
	}
}

// Close flushes the writer and leaves the consumer group.
func (q *Queue) Close() error {
	if q.closed.Swap(true) {
		return nil
	}
	return errors.Join(q.writer.Close(), q.reader.Close())
}

type delivery struct {
	reader *kafka.Reader
	raw    kafka.Message
	msg    queue.Message
}

func (d *delivery) Message() queue.Message { return d.msg }

func (d *delivery) Ack(ctx context.Context) error {
	if err := d.reader.CommitMessages(ctx, d.raw); err != nil {
		return fmt.Errorf("failed to commit task %s: %w", d.msg.TaskID, err)
	}
	return nil
}

package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"changeguard/internal/domain"
)

var _ domain.JobQueue = (*KafkaProducer)(nil)

// KafkaProducer publishes simulation jobs to a Kafka topic. Messages are
// keyed by simulation ID.
type KafkaProducer struct {
	writer *kafka.Writer
}

// NewKafkaProducer creates a producer writing to topic on brokers.
func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	return &KafkaProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Enqueue publishes job and waits for all in-sync replicas to acknowledge.
func (p *KafkaProducer) Enqueue(ctx context.Context, job domain.SimulationJob) error {
	value, err := encodeJob(job)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(job.SimulationID),
		Value: value,
		Time:  time.Now(),
	}); err != nil {
		return fmt.Errorf("publish simulation job: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// Kafka consumer timings.
const (
	// DefaultDrainTimeout bounds how long an in-flight job may keep running
	// after the consumer is asked to stop.
	DefaultDrainTimeout = 15 * time.Second

	minFetchBackoff = 100 * time.Millisecond
	maxFetchBackoff = 5 * time.Second
)

// messageReader is the subset of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads simulation jobs from a consumer group. Offsets are
// committed only after the handler returns, so a crash mid-job causes
// redelivery.
type KafkaConsumer struct {
	reader       messageReader
	logger       *slog.Logger
	drainTimeout time.Duration
	fetchBackoff time.Duration
}

// NewKafkaConsumer creates a consumer in groupID reading topic. A job that
// is running when Run's context is cancelled gets drainTimeout to finish.
func NewKafkaConsumer(brokers []string, topic, groupID string, drainTimeout time.Duration, logger *slog.Logger) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  500 * time.Millisecond,
	})
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}
	return &KafkaConsumer{
		reader:       reader,
		logger:       logger.With("component", "kafka-consumer", "topic", topic, "group", groupID),
		drainTimeout: drainTimeout,
		fetchBackoff: minFetchBackoff,
	}
}

// Run handles messages until ctx is cancelled. Undecodable messages are
// logged and committed so they do not block the partition.
//
// ctx only governs fetching. Handlers run on a context that survives ctx
// and is cancelled drainTimeout after it, so a shutdown lets the current
// job finish instead of failing it.
func (c *KafkaConsumer) Run(ctx context.Context, handler Handler) error {
	c.logger.Info("consumer started")
	defer c.logger.Info("consumer stopped")

	handleCtx, cancelHandle := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelHandle()
	stopDrain := context.AfterFunc(ctx, func() {
		time.AfterFunc(c.drainTimeout, cancelHandle)
	})
	defer stopDrain()

	backoff := c.fetchBackoff
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			c.logger.Warn("fetch message", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxFetchBackoff)
			continue
		}
		backoff = c.fetchBackoff

		job, err := decodeJob(msg.Value)
		if err != nil {
			c.logger.Error("drop malformed job message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		} else {
			_ = process(handleCtx, BackendKafka, handler, job, c.logger)
		}

		if err := c.reader.CommitMessages(context.WithoutCancel(ctx), msg); err != nil {
			c.logger.Warn("commit offset", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

// Close closes the reader.
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}

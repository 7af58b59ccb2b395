// Package events feeds completion events from Kafka into the availability store.
//
// Delivery is at-least-once: an offset is committed only after the event was
// applied or judged unprocessable. CompletionHandler.Apply is idempotent, so a
// redelivered message is harmless.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"humaniq/cmd/internal/availability"
	"humaniq/cmd/internal/metrics"

	"github.com/segmentio/kafka-go"
)

const metricsSource = "kafka"

// Reader is the subset of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Applier folds one completion event into the store.
type Applier interface {
	Apply(ctx context.Context, ev availability.CompletionEvent) (availability.CompletionResult, error)
}

// ReaderConfig selects the topic and consumer group.
type ReaderConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewKafkaReader builds a consumer-group reader with manual commits.
func NewKafkaReader(cfg ReaderConfig) (*kafka.Reader, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("events: brokers, topic and group id are required")
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	}), nil
}

// Consumer drains a Reader into an Applier.
type Consumer struct {
	reader  Reader
	applier Applier
	logger  *slog.Logger
	metrics *metrics.Metrics

	minBackoff time.Duration
	maxBackoff time.Duration
}

// Option configures the Consumer.
type Option func(*Consumer) error

func WithLogger(l *slog.Logger) Option {
	return func(c *Consumer) error {
		if l != nil {
			c.logger = l
		}
		return nil
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Consumer) error {
		c.metrics = m
		return nil
	}
}

// WithBackoff bounds the wait between retries of a failing message or fetch.
func WithBackoff(min, max time.Duration) Option {
	return func(c *Consumer) error {
		if min <= 0 || max < min {
			return errors.New("events: invalid backoff")
		}
		c.minBackoff = min
		c.maxBackoff = max
		return nil
	}
}

// NewConsumer constructs a Consumer.
func NewConsumer(reader Reader, applier Applier, opts ...Option) (*Consumer, error) {
	if reader == nil || applier == nil {
		return nil, errors.New("events: reader and applier are required")
	}
	c := &Consumer{
		reader:     reader,
		applier:    applier,
		logger:     slog.Default(),
		minBackoff: 200 * time.Millisecond,
		maxBackoff: 10 * time.Second,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Run consumes until ctx is done. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("events.consumer.start")
	defer c.logger.Info("events.consumer.stop")

	fetchBackoff := c.minBackoff
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("events.fetch.fail", "err", err, "retry_in", fetchBackoff.String())
			if !sleep(ctx, fetchBackoff) {
				return nil
			}
			fetchBackoff = c.nextBackoff(fetchBackoff)
			continue
		}
		fetchBackoff = c.minBackoff

		if !c.handle(ctx, m) {
			return nil
		}
	}
}

// handle processes m until it is committed or ctx is done. It reports false on
// cancellation.
func (c *Consumer) handle(ctx context.Context, m kafka.Message) bool {
	log := c.logger.With("topic", m.Topic, "partition", m.Partition, "offset", m.Offset)

	var ev availability.CompletionEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		log.Warn("events.completion.poison", "reason", "decode", "err", err)
		c.metrics.Completion(metricsSource, "rejected")
		return c.commit(ctx, log, m)
	}

	backoff := c.minBackoff
	for {
		res, err := c.applier.Apply(ctx, ev)
		switch {
		case err == nil:
			outcome := "duplicate"
			if res.Applied {
				outcome = "applied"
			}
			c.metrics.Completion(metricsSource, outcome)
			log.Debug("events.completion.ok",
				"colaborador_id", ev.ColaboradorID,
				"teste_id", ev.TesteID,
				"applied", res.Applied,
			)
			return c.commit(ctx, log, m)

		case availability.IsInvalidInput(err) || availability.IsNotFound(err):
			log.Warn("events.completion.poison",
				"reason", "rejected",
				"colaborador_id", ev.ColaboradorID,
				"teste_id", ev.TesteID,
				"err", err,
			)
			c.metrics.Completion(metricsSource, "rejected")
			return c.commit(ctx, log, m)
		}

		if ctx.Err() != nil {
			return false
		}
		c.metrics.Completion(metricsSource, "error")
		log.Error("events.completion.fail", "err", err, "retry_in", backoff.String())
		if !sleep(ctx, backoff) {
			return false
		}
		backoff = c.nextBackoff(backoff)
	}
}

func (c *Consumer) commit(ctx context.Context, log *slog.Logger, m kafka.Message) bool {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		if ctx.Err() != nil {
			return false
		}
		// The message will be redelivered after a rebalance; Apply is idempotent.
		log.Error("events.commit.fail", "err", err)
	}
	return true
}

func (c *Consumer) nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > c.maxBackoff {
		return c.maxBackoff
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

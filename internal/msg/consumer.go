package msg

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Handler processes one record. Returning nil commits it.
type Handler func(context.Context, Record) error

// Consumer wraps a Kafka consumer
type Consumer struct {
	client      *kgo.Client
	logger      *zap.Logger
	topics      []string
	group       string
	maxAttempts int
	backoff     time.Duration
	running     int32
	handled     int64
	errorCount  int64
	stop        chan struct{}
	stopOnce    sync.Once
}

// ConsumerOption tunes a Consumer.
type ConsumerOption func(*Consumer)

// WithMaxAttempts sets how many times a failing record is handed to
// the handler before it is skipped. Alerts use 1: a trade instruction
// must not be replayed blindly.
func WithMaxAttempts(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *Config, group string, topics []string, logger *zap.Logger, opts ...ConsumerOption) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(), // Manual commit after handler success
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	c := &Consumer{
		client:      client,
		logger:      logger,
		topics:      topics,
		group:       group,
		maxAttempts: 3,
		backoff:     100 * time.Millisecond,
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	logger.Info("consumer initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("group", group),
		zap.Strings("topics", topics),
		zap.Int("max_attempts", c.maxAttempts),
	)

	go c.logStats()

	return c, nil
}

// Run polls serially and hands each record to handler in partition
// order. A record is committed once handled, or once it has exhausted
// its attempts, so one bad message never blocks the ones behind it.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	c.logger.Info("starting consumer",
		zap.String("group", c.group),
		zap.Strings("topics", c.topics),
	)

	atomic.StoreInt32(&c.running, 1)
	defer atomic.StoreInt32(&c.running, 0)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping", zap.String("group", c.group))
			return ctx.Err()
		default:
		}

		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return fmt.Errorf("kafka client closed")
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if ctx.Err() == nil {
				c.logger.Warn("fetch error",
					zap.String("topic", topic),
					zap.Int32("partition", partition),
					zap.Error(err),
				)
			}
		})

		iter := fetches.RecordIter()
		for !iter.Done() {
			record := iter.Next()
			rec := toRecord(record)

			if err := c.handleWithRetry(ctx, rec, handler); err != nil {
				c.logger.Error("record skipped",
					zap.String("topic", rec.Topic),
					zap.String("key", rec.Key),
					zap.Int64("offset", rec.Offset),
					zap.Error(err),
				)
				atomic.AddInt64(&c.errorCount, 1)
			} else {
				atomic.AddInt64(&c.handled, 1)
			}

			if err := c.client.CommitRecords(ctx, record); err != nil && ctx.Err() == nil {
				c.logger.Warn("commit failed", zap.Int64("offset", rec.Offset), zap.Error(err))
			}
		}
	}
}

func toRecord(r *kgo.Record) Record {
	rec := Record{
		Topic:     r.Topic,
		Key:       string(r.Key),
		Value:     r.Value,
		Partition: r.Partition,
		Offset:    r.Offset,
		Timestamp: r.Timestamp.UnixMilli(),
	}
	if len(r.Headers) > 0 {
		rec.Headers = make(map[string]string, len(r.Headers))
		for _, h := range r.Headers {
			rec.Headers[h.Key] = string(h.Value)
		}
	}
	return rec
}

// handleWithRetry calls handler with bounded retries
func (c *Consumer) handleWithRetry(ctx context.Context, rec Record, handler Handler) error {
	backoff := c.backoff

	var err error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err = handler(ctx, rec); err == nil {
			return nil
		}

		if attempt < c.maxAttempts-1 {
			c.logger.Warn("handler failed, retrying",
				zap.String("topic", rec.Topic),
				zap.String("key", rec.Key),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("handler failed after %d attempts: %w", c.maxAttempts, err)
}

// Close closes the consumer
func (c *Consumer) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	if c.client != nil {
		c.client.Close()
	}
}

// IsRunning returns whether the consumer is running
func (c *Consumer) IsRunning() bool {
	return atomic.LoadInt32(&c.running) == 1
}

// logStats logs consumer statistics periodically
func (c *Consumer) logStats() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.logger.Info("consumer stats",
				zap.String("group", c.group),
				zap.Int64("processed", atomic.LoadInt64(&c.handled)),
				zap.Int64("errors", atomic.LoadInt64(&c.errorCount)),
			)
		}
	}
}

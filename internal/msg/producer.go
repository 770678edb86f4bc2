package msg

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Producer wraps a Kafka producer
type Producer struct {
	client       *kgo.Client
	logger       *zap.Logger
	produceCount int64
	errorCount   int64
	stop         chan struct{}
	stopOnce     sync.Once
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg *Config, logger *zap.Logger) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.DisableIdempotentWrite(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	p := &Producer{
		client: client,
		logger: logger,
		stop:   make(chan struct{}),
	}

	logger.Info("producer initialized",
		zap.Strings("brokers", cfg.Brokers),
	)

	go p.logStats()

	return p, nil
}

// Produce writes value synchronously with the given headers.
func (p *Producer) Produce(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}

	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(headers[k])})
	}

	// Synchronous produce with timeout
	produceCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.client.ProduceSync(produceCtx, record).FirstErr(); err != nil {
		atomic.AddInt64(&p.errorCount, 1)
		return fmt.Errorf("failed to produce message: %w", err)
	}

	atomic.AddInt64(&p.produceCount, 1)
	return nil
}

// ProduceJSON produces a JSON message to the specified topic
func (p *Producer) ProduceJSON(ctx context.Context, topic string, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		atomic.AddInt64(&p.errorCount, 1)
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return p.Produce(ctx, topic, key, data, map[string]string{HeaderContentType: "application/json"})
}

// Close closes the producer
func (p *Producer) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
	if p.client != nil {
		p.client.Close()
	}
}

// logStats logs producer statistics periodically
func (p *Producer) logStats() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.logger.Info("producer stats",
				zap.Int64("produced", atomic.LoadInt64(&p.produceCount)),
				zap.Int64("errors", atomic.LoadInt64(&p.errorCount)),
			)
		}
	}
}

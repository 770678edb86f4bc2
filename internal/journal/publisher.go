package journal

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Deliverer sends one formatted reply. notify.Notifier implements it.
type Deliverer interface {
	Deliver(ctx context.Context, payload []byte) error
}

// Publisher drains the reply outbox
type Publisher struct {
	store     *Store
	deliverer Deliverer
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
}

// NewPublisher creates a new outbox publisher
func NewPublisher(store *Store, d Deliverer, logger *zap.Logger) *Publisher {
	return &Publisher{
		store:     store,
		deliverer: d,
		logger:    logger,
		interval:  250 * time.Millisecond,
		batchSize: 100,
	}
}

// Run starts the publisher loop
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.PublishBatch(ctx); err != nil {
				p.logger.Error("failed to publish batch", zap.Error(err))
			}
		}
	}
}

// PublishBatch delivers one batch of pending replies in outbox order
// and returns how many were delivered. Delivery stops at the first
// failure so replies never overtake each other.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	events, err := p.store.ListUnpublished(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list unpublished events: %w", err)
	}

	published := 0
	for _, event := range events {
		if err := p.deliverer.Deliver(ctx, []byte(event.PayloadJSON)); err != nil {
			p.logger.Warn("failed to deliver reply",
				zap.String("event_id", event.EventID),
				zap.String("message_id", event.MessageID),
				zap.Error(err),
			)
			break
		}

		// Worst case a reply is sent twice.
		if err := p.store.MarkPublished(ctx, event.EventID, p.store.now().UnixMilli()); err != nil {
			p.logger.Error("failed to mark event as published",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			break
		}

		published++
		p.logger.Debug("published reply",
			zap.String("event_id", event.EventID),
			zap.String("message_id", event.MessageID),
		)
	}

	if published > 0 {
		p.logger.Info("published outbox batch",
			zap.Int("published", published),
			zap.Int("total", len(events)),
		)
	}

	return published, nil
}

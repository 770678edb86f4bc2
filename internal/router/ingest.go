package router

import (
	"context"
	"fmt"
	"time"

	"github.com/ismaiel54/alert-trade-router/internal/dispatch"
	"github.com/ismaiel54/alert-trade-router/internal/journal"
	"github.com/ismaiel54/alert-trade-router/internal/msg"
	"github.com/ismaiel54/alert-trade-router/internal/notify"
	"go.uber.org/zap"
)

// Journal is the part of journal.Store the ingestor needs.
type Journal interface {
	BeginAlert(ctx context.Context, a msg.AlertMsg) (journal.BeginResult, error)
	CompleteAlert(ctx context.Context, a msg.AlertMsg, c journal.Completion) (journal.OutboxEvent, error)
}

// Ingestor turns consumed alert records into handled alerts and queued
// replies. Each alert revision is executed at most once.
type Ingestor struct {
	router  *Router
	journal Journal
	topic   string
	logger  *zap.Logger
}

// NewIngestor queues replies for topic.
func NewIngestor(r *Router, j Journal, topic string, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{router: r, journal: j, topic: topic, logger: logger}
}

// HandleRecord is a msg.Handler.
func (i *Ingestor) HandleRecord(ctx context.Context, rec msg.Record) error {
	a, err := msg.DecodeAlert(rec.Value)
	if err != nil {
		return err
	}
	if rec.Headers[msg.HeaderEdited] == "true" {
		a.Edited = true
	}

	logger := i.logger.With(
		zap.String("event_id", a.EventID),
		zap.String("message_id", a.MessageID),
		zap.Int("revision", a.Revision),
		zap.Int64("kafka_offset", rec.Offset),
	)

	begun, err := i.journal.BeginAlert(ctx, a)
	if err != nil {
		return fmt.Errorf("journal alert: %w", err)
	}
	if begun.Duplicate {
		logger.Info("duplicate alert skipped", zap.String("status", begun.Status))
		return nil
	}

	received := time.Now().UTC()
	if a.TsUnixMillis > 0 {
		received = time.UnixMilli(a.TsUnixMillis).UTC()
	}
	in := i.router.Handle(ctx, Alert{
		MessageID:  a.MessageID,
		Text:       a.Text,
		Edited:     a.Edited,
		ReceivedAt: received,
	})

	reply, err := notify.Format(in)
	if err != nil {
		return err
	}

	c := journal.Completion{TradeType: string(in.TradeType), Reply: reply, Topic: i.topic}
	fields := in.Map()
	if e, ok := fields[FieldError].(string); ok {
		c.Error = e
	} else if e, ok := fields[dispatch.FieldExecutionError].(string); ok {
		c.Error = e
	}
	if _, err := i.journal.CompleteAlert(ctx, a, c); err != nil {
		return fmt.Errorf("journal reply: %w", err)
	}

	logger.Debug("reply queued", zap.String("trade_type", c.TradeType), zap.Int("bytes", len(reply)))
	return nil
}

// Package notify delivers replies back to the signal channel.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ismaiel54/alert-trade-router/internal/instruction"
	"go.uber.org/zap"
)

// Replies at or above MaxMessageBytes go out as a file attachment.
const (
	MaxMessageBytes = 4096
	AttachmentName  = "message.json"
)

// Sink is one delivery channel.
type Sink interface {
	SendMessage(ctx context.Context, text string) error
	SendFile(ctx context.Context, name string, data []byte) error
}

// Format renders the reply as JSON with four-space indent and sorted
// keys.
func Format(in *instruction.Instruction) ([]byte, error) {
	return FormatMap(in.Map())
}

// FormatMap is Format for an already flattened body.
func FormatMap(body map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(body); err != nil {
		return nil, fmt.Errorf("format reply: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Notifier fans a reply out to every sink.
type Notifier struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewNotifier returns a notifier over sinks. Nil sinks are skipped.
func NewNotifier(logger *zap.Logger, sinks ...Sink) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Notifier{logger: logger}
	for _, s := range sinks {
		if s != nil {
			n.sinks = append(n.sinks, s)
		}
	}
	return n
}

// Deliver sends payload inline when it fits, otherwise as message.json.
// Every sink is tried; the failures are joined.
func (n *Notifier) Deliver(ctx context.Context, payload []byte) error {
	asFile := len(payload) >= MaxMessageBytes

	var errs []error
	for _, s := range n.sinks {
		var err error
		if asFile {
			err = s.SendFile(ctx, AttachmentName, payload)
		} else {
			err = s.SendMessage(ctx, string(payload))
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("deliver reply: %w", err)
	}
	n.logger.Debug("reply delivered",
		zap.Int("bytes", len(payload)),
		zap.Bool("attachment", asFile),
		zap.Int("sinks", len(n.sinks)),
	)
	return nil
}

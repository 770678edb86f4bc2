// Package router runs one alert at a time through the parser and the
// dispatcher and shapes the reply.
package router

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ismaiel54/alert-trade-router/internal/dispatch"
	"github.com/ismaiel54/alert-trade-router/internal/instruction"
	"github.com/ismaiel54/alert-trade-router/internal/parser"
	"go.uber.org/zap"
)

// ReceptionLayout formats the reply's reception timestamp.
const ReceptionLayout = "2006-01-02 15:04:05.000000"

// Reply field names added by the router.
const (
	FieldReceivedAt = "message_reception_timestamp"
	FieldError      = "error"
	FieldErrorKind  = "error_kind"
)

// Alert is one inbound message.
type Alert struct {
	MessageID  string
	Text       string
	Edited     bool
	ReceivedAt time.Time
}

// Router serializes parse and dispatch so the parser's context and the
// ledger see messages strictly in arrival order.
type Router struct {
	mu         sync.Mutex
	parser     *parser.Parser
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
}

// New returns a router.
func New(p *parser.Parser, d *dispatch.Dispatcher, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{parser: p, dispatcher: d, logger: logger}
}

// Handle never fails: parse and execution errors are reported in the
// returned instruction so the sender always gets an answer.
func (r *Router) Handle(ctx context.Context, a Alert) *instruction.Instruction {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.ReceivedAt.IsZero() {
		a.ReceivedAt = time.Now()
	}
	logger := r.logger.With(zap.String("message_id", a.MessageID), zap.Bool("edited", a.Edited))

	in, err := r.parser.Parse(a.Text, a.Edited)
	if err != nil {
		in = &instruction.Instruction{}
		in.Set(FieldError, err.Error())
		var pe *parser.ParseError
		if errors.As(err, &pe) {
			in.Set(FieldErrorKind, pe.Kind.String())
		}
		logger.Warn("alert not parsed", zap.Error(err))
	} else if err := r.dispatcher.Dispatch(ctx, in); err != nil {
		if _, ok := in.Map()[dispatch.FieldExecutionError]; !ok {
			in.Set(FieldError, err.Error())
		}
		logger.Error("alert not executed", zap.Error(err))
	} else {
		logger.Info("alert handled", zap.String("trade_type", string(in.TradeType)), zap.String("index", in.Index))
	}

	in.Set(FieldReceivedAt, a.ReceivedAt.Format(ReceptionLayout))
	return in
}

// Context returns the parser's current index.
func (r *Router) Context() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.parser.Context()
}

// Package dispatch applies parsed instructions to the ledger and the
// broker.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ismaiel54/alert-trade-router/internal/execution"
	"github.com/ismaiel54/alert-trade-router/internal/index"
	"github.com/ismaiel54/alert-trade-router/internal/instruction"
	"github.com/ismaiel54/alert-trade-router/internal/ledger"
	"go.uber.org/zap"
)

// ErrInvalidInstruction is returned when an actionable instruction is
// missing a field its trade type needs.
var ErrInvalidInstruction = errors.New("dispatch: invalid instruction")

// Fields merged into an instruction whose execution failed.
const (
	FieldExecutionError = "execution_error"
	FieldRetryable      = "retryable"
)

// Dispatcher routes instructions. It is not safe for concurrent use;
// the router feeds it one instruction at a time.
type Dispatcher struct {
	port   execution.Port
	ledger *ledger.Ledger
	mapper *index.Mapper
	logger *zap.Logger
	now    func() time.Time
}

// New wires a dispatcher.
func New(port execution.Port, l *ledger.Ledger, mapper *index.Mapper, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{port: port, ledger: l, mapper: mapper, logger: logger, now: time.Now}
}

// Dispatch executes in and merges the broker's answer into it. Unknown
// trade types are a no-op. Broker failures are recorded on the
// instruction as execution_error and returned; nothing is retried.
func (d *Dispatcher) Dispatch(ctx context.Context, in *instruction.Instruction) error {
	tradeType := in.TradeType

	var err error
	switch tradeType {
	case instruction.OpenTrade:
		err = d.openTrade(ctx, in)
	case instruction.CloseAllIndexPositions:
		err = d.closeAllIndex(ctx, in)
	case instruction.CloseSinglePositions:
		err = d.closeOldest(ctx, in)
	case instruction.PartialClose:
		err = d.partialClose(ctx, in)
	case instruction.ClosePreviousTrades:
		err = d.closePrevious(ctx, in)
	case instruction.StopLossReset:
		err = d.modifyStopLoss(ctx, in)
	case instruction.StopLossResetForLastTrade:
		err = d.modifyLastStopLoss(ctx, in)
	case instruction.GetCurrentPnL:
		err = d.pnl(ctx, in)
	case instruction.CloseAllTrade:
		err = d.closeAllTrade(ctx, in)
	default:
		d.logger.Debug("nothing to dispatch", zap.String("trade_type", string(tradeType)))
		return nil
	}

	if err != nil {
		if !errors.Is(err, ErrInvalidInstruction) {
			in.Merge(map[string]any{
				FieldExecutionError: err.Error(),
				FieldRetryable:      execution.Retryable(err),
			})
		}
		d.logger.Warn("dispatch failed",
			zap.String("trade_type", string(tradeType)),
			zap.String("index", in.Index),
			zap.Error(err),
		)
		return fmt.Errorf("dispatch %s: %w", tradeType, err)
	}
	return nil
}

func (d *Dispatcher) symbol(in *instruction.Instruction) (string, error) {
	if in.Index == "" {
		return "", fmt.Errorf("%w: no index", ErrInvalidInstruction)
	}
	if in.Symbol != "" {
		return in.Symbol, nil
	}
	e, err := d.mapper.Lookup(in.Index)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInstruction, err)
	}
	return e.Symbol, nil
}

func (d *Dispatcher) openTrade(ctx context.Context, in *instruction.Instruction) error {
	symbol, err := d.symbol(in)
	if err != nil {
		return err
	}
	if in.Size == nil || in.Direction == "" {
		return fmt.Errorf("%w: open trade needs direction and size", ErrInvalidInstruction)
	}

	req := execution.OpenRequest{
		Symbol:    symbol,
		Direction: in.Direction,
		Volume:    *in.Size,
	}
	if in.StopLoss.Is(instruction.Distance) {
		req.StopLossDistance = in.StopLossDistance
	} else if in.StopLoss.Numeric() {
		req.StopLoss = instruction.Float(in.StopLoss.Value)
	}

	res, err := d.port.OpenPosition(ctx, req)
	if err != nil {
		return err
	}
	in.Merge(res)

	ticket, _ := res.Ticket()
	ts, err := d.ledger.Add(in.Index, ticket, in.Map())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInstruction, err)
	}
	d.logger.Info("position opened",
		zap.String("index", in.Index),
		zap.Int64("ticket", ticket),
		zap.Int64("ledger_ts", ts),
	)
	return nil
}

func (d *Dispatcher) closeAllIndex(ctx context.Context, in *instruction.Instruction) error {
	symbol, err := d.symbol(in)
	if err != nil {
		return err
	}

	res, err := d.port.CloseAllForSymbol(ctx, symbol, false)
	if err != nil {
		return err
	}
	in.Merge(res)

	n := d.ledger.Clear(in.Index)
	d.logger.Info("index closed", zap.String("index", in.Index), zap.Int("ledger_records", n))
	return nil
}

// closeOldest leaves the ledger bucket as is.
func (d *Dispatcher) closeOldest(ctx context.Context, in *instruction.Instruction) error {
	symbol, err := d.symbol(in)
	if err != nil {
		return err
	}

	res, err := d.port.CloseByOpenOrder(ctx, symbol, execution.Oldest())
	if err != nil {
		return err
	}
	in.Merge(res.Fields)
	return nil
}

func (d *Dispatcher) partialClose(ctx context.Context, in *instruction.Instruction) error {
	symbol, err := d.symbol(in)
	if err != nil {
		return err
	}

	res, err := d.port.CloseAllForSymbol(ctx, symbol, true)
	if err != nil {
		return err
	}
	in.Merge(res)
	return nil
}

// closePrevious issues one close per trade with order 0..n-1.
func (d *Dispatcher) closePrevious(ctx context.Context, in *instruction.Instruction) error {
	symbol, err := d.symbol(in)
	if err != nil {
		return err
	}
	if in.NumberOfTrades == nil || *in.NumberOfTrades < 1 {
		return fmt.Errorf("%w: no trade count", ErrInvalidInstruction)
	}

	closed := make([]map[string]any, 0, *in.NumberOfTrades)
	defer func() {
		in.Set("closed_trades", closed)
	}()

	for i := 0; i < *in.NumberOfTrades; i++ {
		res, err := d.port.CloseByOpenOrder(ctx, symbol, execution.Nth(i))
		if err != nil {
			return err
		}
		closed = append(closed, res.Fields)
		d.prune(in.Index, res)
	}
	return nil
}

// prune drops the closed position from the ledger, by open time first
// and then by ticket. A miss is logged, never fatal.
func (d *Dispatcher) prune(key string, res execution.CloseResult) {
	if d.ledger.Remove(key, res.TimeMsc) {
		return
	}
	if res.Ticket != 0 && d.ledger.RemoveTicket(key, res.Ticket) {
		return
	}
	d.logger.Warn("closed position not in ledger",
		zap.String("index", key),
		zap.Int64("time_msc", res.TimeMsc),
		zap.Int64("ticket", res.Ticket),
	)
}

func (d *Dispatcher) modifyStopLoss(ctx context.Context, in *instruction.Instruction) error {
	symbol, err := d.symbol(in)
	if err != nil {
		return err
	}

	var res execution.Result
	switch {
	case in.StopLossLevel.Is(instruction.Breakeven):
		res, err = d.port.ModifyStopLoss(ctx, symbol, 0, true)
	case in.StopLossLevel.Numeric():
		res, err = d.port.ModifyStopLoss(ctx, symbol, in.StopLossLevel.Value, false)
	default:
		return fmt.Errorf("%w: no stop loss level", ErrInvalidInstruction)
	}
	if err != nil {
		return err
	}
	in.Merge(res)
	return nil
}

func (d *Dispatcher) modifyLastStopLoss(ctx context.Context, in *instruction.Instruction) error {
	symbol, err := d.symbol(in)
	if err != nil {
		return err
	}
	if !in.StopLossLevel.Numeric() {
		return fmt.Errorf("%w: no stop loss level", ErrInvalidInstruction)
	}

	res, err := d.port.ModifyStopLossForMostRecent(ctx, symbol, in.StopLossLevel.Value)
	if err != nil {
		return err
	}
	in.Merge(res)
	return nil
}

// pnl swaps the instruction body for the day's drilldown.
func (d *Dispatcher) pnl(ctx context.Context, in *instruction.Instruction) error {
	rep, err := d.port.PnLDrilldown(ctx, d.now())
	if err != nil {
		return err
	}
	in.Replace(rep.Fields())
	return nil
}

// closeAllTrade flattens every index that still has ledger records,
// in configured order.
func (d *Dispatcher) closeAllTrade(ctx context.Context, in *instruction.Instruction) error {
	closed := make(map[string]any)
	defer func() {
		in.Set("closed_indices", closed)
	}()

	for _, key := range d.ledger.Keys() {
		if d.ledger.Len(key) == 0 {
			continue
		}
		e, err := d.mapper.Lookup(key)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInstruction, err)
		}

		res, err := d.port.CloseAllForSymbol(ctx, e.Symbol, false)
		if err != nil {
			return err
		}
		closed[key] = map[string]any(res)
		d.ledger.Clear(key)
	}
	return nil
}

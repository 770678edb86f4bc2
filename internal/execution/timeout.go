package execution

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WithTimeout bounds every call on p by d. A call that runs past d
// fails with ErrTimeout rather than context.DeadlineExceeded.
func WithTimeout(p Port, d time.Duration) Port {
	if d <= 0 {
		return p
	}
	return &timeoutPort{next: p, d: d}
}

type timeoutPort struct {
	next Port
	d    time.Duration
}

func (t *timeoutPort) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()

	err := fn(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%s after %s: %w", op, t.d, ErrTimeout)
	}
	return err
}

func (t *timeoutPort) OpenPositions(ctx context.Context) (out map[string]map[int64]Position, err error) {
	err = t.call(ctx, "open positions", func(ctx context.Context) error {
		out, err = t.next.OpenPositions(ctx)
		return err
	})
	return out, err
}

func (t *timeoutPort) OpenPosition(ctx context.Context, req OpenRequest) (res Result, err error) {
	err = t.call(ctx, "open position", func(ctx context.Context) error {
		res, err = t.next.OpenPosition(ctx, req)
		return err
	})
	return res, err
}

func (t *timeoutPort) CloseAllForSymbol(ctx context.Context, symbol string, partial bool) (res Result, err error) {
	err = t.call(ctx, "close all", func(ctx context.Context) error {
		res, err = t.next.CloseAllForSymbol(ctx, symbol, partial)
		return err
	})
	return res, err
}

func (t *timeoutPort) CloseByOpenOrder(ctx context.Context, symbol string, sel Selector) (res CloseResult, err error) {
	err = t.call(ctx, "close by order", func(ctx context.Context) error {
		res, err = t.next.CloseByOpenOrder(ctx, symbol, sel)
		return err
	})
	return res, err
}

func (t *timeoutPort) ModifyStopLoss(ctx context.Context, symbol string, level float64, breakeven bool) (res Result, err error) {
	err = t.call(ctx, "modify stop loss", func(ctx context.Context) error {
		res, err = t.next.ModifyStopLoss(ctx, symbol, level, breakeven)
		return err
	})
	return res, err
}

func (t *timeoutPort) ModifyStopLossForMostRecent(ctx context.Context, symbol string, level float64) (res Result, err error) {
	err = t.call(ctx, "modify most recent stop loss", func(ctx context.Context) error {
		res, err = t.next.ModifyStopLossForMostRecent(ctx, symbol, level)
		return err
	})
	return res, err
}

func (t *timeoutPort) PnLDrilldown(ctx context.Context, date time.Time) (rep PnLReport, err error) {
	err = t.call(ctx, "pnl drilldown", func(ctx context.Context) error {
		rep, err = t.next.PnLDrilldown(ctx, date)
		return err
	})
	return rep, err
}

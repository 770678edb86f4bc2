package chaos

import (
	"context"
	"fmt"
	"time"

	"github.com/ismaiel54/alert-trade-router/internal/execution"
	"go.uber.org/zap"
)

// Operation names accepted by CHAOS_TARGET_OPS.
const (
	OpOpenPositions      = "open_positions"
	OpOpenPosition       = "open_position"
	OpCloseAll           = "close_all"
	OpCloseByOrder       = "close_by_order"
	OpModifyStopLoss     = "modify_stop_loss"
	OpModifyMostRecentSL = "modify_most_recent_stop_loss"
	OpPnL                = "pnl"
)

// WrapPort returns p with c's delays and drops in front of every call.
// A dropped call never reaches p and fails with execution.ErrTimeout,
// the way a lost broker request would surface.
func WrapPort(p execution.Port, c *Chaos) execution.Port {
	if c == nil || !c.cfg.Enabled {
		return p
	}
	return &port{next: p, chaos: c}
}

type port struct {
	next  execution.Port
	chaos *Chaos
}

func (p *port) inject(ctx context.Context, op string) error {
	f := p.chaos.Decide(op)
	if err := p.chaos.wait(ctx, op, f.Delay); err != nil {
		return err
	}
	if f.Drop {
		p.chaos.logger.Info("chaos drop injected", zap.String("op", op))
		return fmt.Errorf("%s dropped: %w", op, execution.ErrTimeout)
	}
	return nil
}

func (p *port) OpenPositions(ctx context.Context) (map[string]map[int64]execution.Position, error) {
	if err := p.inject(ctx, OpOpenPositions); err != nil {
		return nil, err
	}
	return p.next.OpenPositions(ctx)
}

func (p *port) OpenPosition(ctx context.Context, req execution.OpenRequest) (execution.Result, error) {
	if err := p.inject(ctx, OpOpenPosition); err != nil {
		return nil, err
	}
	return p.next.OpenPosition(ctx, req)
}

func (p *port) CloseAllForSymbol(ctx context.Context, symbol string, partial bool) (execution.Result, error) {
	if err := p.inject(ctx, OpCloseAll); err != nil {
		return nil, err
	}
	return p.next.CloseAllForSymbol(ctx, symbol, partial)
}

func (p *port) CloseByOpenOrder(ctx context.Context, symbol string, sel execution.Selector) (execution.CloseResult, error) {
	if err := p.inject(ctx, OpCloseByOrder); err != nil {
		return execution.CloseResult{}, err
	}
	return p.next.CloseByOpenOrder(ctx, symbol, sel)
}

func (p *port) ModifyStopLoss(ctx context.Context, symbol string, level float64, breakeven bool) (execution.Result, error) {
	if err := p.inject(ctx, OpModifyStopLoss); err != nil {
		return nil, err
	}
	return p.next.ModifyStopLoss(ctx, symbol, level, breakeven)
}

func (p *port) ModifyStopLossForMostRecent(ctx context.Context, symbol string, level float64) (execution.Result, error) {
	if err := p.inject(ctx, OpModifyMostRecentSL); err != nil {
		return nil, err
	}
	return p.next.ModifyStopLossForMostRecent(ctx, symbol, level)
}

func (p *port) PnLDrilldown(ctx context.Context, date time.Time) (execution.PnLReport, error) {
	if err := p.inject(ctx, OpPnL); err != nil {
		return execution.PnLReport{}, err
	}
	return p.next.PnLDrilldown(ctx, date)
}

// Package sim is an in-memory broker used for paper trading and tests.
package sim

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ismaiel54/alert-trade-router/internal/execution"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RetcodeDone is reported on every accepted request.
const RetcodeDone = 10009

// Quote is the current bid/ask for a symbol.
type Quote struct {
	Bid float64
	Ask float64
}

type deal struct {
	ref    string
	at     time.Time
	symbol string
	price  float64
	profit decimal.Decimal
}

// Broker fills market orders against quotes set with SetQuote.
type Broker struct {
	mu         sync.Mutex
	quotes     map[string]Quote
	positions  map[int64]*execution.Position
	deals      []deal
	nextTicket int64
	lastMsc    int64
	now        func() time.Time
	entropy    io.Reader
	logger     *zap.Logger
}

// New returns an empty broker.
func New(logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}

	var seed int64
	_ = binary.Read(crand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Broker{
		quotes:     make(map[string]Quote),
		positions:  make(map[int64]*execution.Position),
		nextTicket: 1000,
		now:        time.Now,
		entropy:    ulid.Monotonic(rand.New(rand.NewSource(seed)), 0),
		logger:     logger,
	}
}

// SetClock overrides the time source.
func (b *Broker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// SetQuote updates the price for symbol.
func (b *Broker) SetQuote(symbol string, bid, ask float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quotes[symbol] = Quote{Bid: bid, Ask: ask}
}

// OpenPositions marks every position to market and groups them.
func (b *Broker) OpenPositions(ctx context.Context) (map[string]map[int64]execution.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]map[int64]execution.Position)
	for _, p := range b.positions {
		pos := *p
		if q, ok := b.quotes[pos.Symbol]; ok {
			pos.Profit = profit(pos, closePrice(pos.Direction, q), pos.Volume).InexactFloat64()
		}
		if out[pos.Symbol] == nil {
			out[pos.Symbol] = make(map[int64]execution.Position)
		}
		out[pos.Symbol][pos.TimeMsc] = pos
	}
	return out, nil
}

// OpenPosition fills at the ask for BUY and the bid for SELL.
func (b *Broker) OpenPosition(ctx context.Context, req execution.OpenRequest) (execution.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Volume <= 0 {
		return nil, fmt.Errorf("%w: volume %v", execution.ErrRejected, req.Volume)
	}
	if req.Direction != "BUY" && req.Direction != "SELL" {
		return nil, fmt.Errorf("%w: direction %q", execution.ErrRejected, req.Direction)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.quotes[req.Symbol]
	if !ok {
		return nil, fmt.Errorf("%w: no quote for %s", execution.ErrRejected, req.Symbol)
	}

	price := q.Ask
	if req.Direction == "SELL" {
		price = q.Bid
	}

	var sl float64
	switch {
	case req.StopLoss != nil:
		sl = *req.StopLoss
	case req.StopLossDistance != nil:
		// Distance is measured from the ask on both sides.
		d := decimal.NewFromFloat(*req.StopLossDistance).Abs()
		if req.Direction == "BUY" {
			d = d.Neg()
		}
		sl = decimal.NewFromFloat(q.Ask).Add(d).InexactFloat64()
	}

	now := b.now()
	b.nextTicket++
	pos := &execution.Position{
		Ticket:    b.nextTicket,
		Symbol:    req.Symbol,
		Direction: req.Direction,
		Volume:    req.Volume,
		OpenPrice: price,
		StopLoss:  sl,
		TimeMsc:   b.stampLocked(now),
	}
	b.positions[pos.Ticket] = pos

	ref := b.recordLocked(now, pos.Symbol, price, decimal.Zero)
	b.logger.Debug("sim position opened",
		zap.Int64("ticket", pos.Ticket),
		zap.String("symbol", pos.Symbol),
		zap.String("direction", pos.Direction),
		zap.Float64("volume", pos.Volume),
	)

	return execution.Result{
		"retcode":        RetcodeDone,
		"deal_reference": ref,
		"ticket":         pos.Ticket,
		"symbol":         pos.Symbol,
		"direction":      pos.Direction,
		"volume":         pos.Volume,
		"price":          price,
		"sl":             sl,
		"time_msc":       pos.TimeMsc,
	}, nil
}

// CloseAllForSymbol returns one entry per ticket. No open positions is
// not an error.
func (b *Broker) CloseAllForSymbol(ctx context.Context, symbol string, partial bool) (execution.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	out := execution.Result{}
	for _, p := range b.sortedLocked(symbol) {
		res, err := b.closeLocked(p, partial)
		if err != nil {
			return out, err
		}
		out[strconv.FormatInt(p.Ticket, 10)] = map[string]any(res)
	}
	return out, nil
}

// CloseByOpenOrder closes one position chosen by sel.
func (b *Broker) CloseByOpenOrder(ctx context.Context, symbol string, sel execution.Selector) (execution.CloseResult, error) {
	if err := ctx.Err(); err != nil {
		return execution.CloseResult{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	open := b.sortedLocked(symbol)
	i, ok := sel.Pick(len(open))
	if !ok {
		return execution.CloseResult{}, fmt.Errorf("%w: no position %+v among %d open on %s",
			execution.ErrRejected, sel, len(open), symbol)
	}

	p := open[i]
	res, err := b.closeLocked(p, false)
	if err != nil {
		return execution.CloseResult{}, err
	}
	return execution.CloseResult{Ticket: p.Ticket, TimeMsc: p.TimeMsc, Fields: res}, nil
}

// ModifyStopLoss moves the stop on every position on symbol.
func (b *Broker) ModifyStopLoss(ctx context.Context, symbol string, level float64, breakeven bool) (execution.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	out := execution.Result{}
	for _, p := range b.sortedLocked(symbol) {
		sl := p.OpenPrice
		if !breakeven {
			sl = execution.ClampStopLoss(p.Direction, p.OpenPrice, level)
		}
		p.StopLoss = sl
		out[strconv.FormatInt(p.Ticket, 10)] = map[string]any{
			"retcode": RetcodeDone,
			"ticket":  p.Ticket,
			"symbol":  p.Symbol,
			"sl":      sl,
		}
	}
	return out, nil
}

// ModifyStopLossForMostRecent moves the stop on the newest position.
func (b *Broker) ModifyStopLossForMostRecent(ctx context.Context, symbol string, level float64) (execution.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	open := b.sortedLocked(symbol)
	if len(open) == 0 {
		return nil, fmt.Errorf("%w: no open position on %s", execution.ErrRejected, symbol)
	}

	p := open[len(open)-1]
	p.StopLoss = execution.ClampStopLoss(p.Direction, p.OpenPrice, level)
	return execution.Result{
		"retcode": RetcodeDone,
		"ticket":  p.Ticket,
		"symbol":  p.Symbol,
		"sl":      p.StopLoss,
	}, nil
}

// PnLDrilldown reports the deals made on date's calendar day (UTC).
func (b *Broker) PnLDrilldown(ctx context.Context, date time.Time) (execution.PnLReport, error) {
	if err := ctx.Err(); err != nil {
		return execution.PnLReport{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	start := date.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	rep := execution.PnLReport{Deals: make(map[time.Time]execution.PnLEntry)}
	total := decimal.Zero
	for _, d := range b.deals {
		if d.at.Before(start) || !d.at.Before(end) {
			continue
		}
		rep.Deals[d.at] = execution.PnLEntry{
			Symbol: d.symbol,
			PnL:    d.profit.InexactFloat64(),
			Price:  d.price,
		}
		total = total.Add(d.profit)
	}
	rep.Total = total.InexactFloat64()
	return rep, nil
}

func (b *Broker) closeLocked(p *execution.Position, partial bool) (execution.Result, error) {
	q, ok := b.quotes[p.Symbol]
	if !ok {
		return nil, fmt.Errorf("%w: no quote for %s", execution.ErrRejected, p.Symbol)
	}

	volume := p.Volume
	if partial {
		volume = decimal.NewFromFloat(p.Volume).Div(decimal.NewFromInt(2)).InexactFloat64()
	}
	price := closePrice(p.Direction, q)
	pnl := profit(*p, price, volume)

	if partial {
		p.Volume -= volume
	} else {
		delete(b.positions, p.Ticket)
	}

	ref := b.recordLocked(b.now(), p.Symbol, price, pnl)
	return execution.Result{
		"retcode":        RetcodeDone,
		"deal_reference": ref,
		"ticket":         p.Ticket,
		"symbol":         p.Symbol,
		"volume":         volume,
		"price":          price,
		"profit":         pnl.InexactFloat64(),
		"time_msc":       p.TimeMsc,
	}, nil
}

func (b *Broker) sortedLocked(symbol string) []*execution.Position {
	var out []*execution.Position
	for _, p := range b.positions {
		if p.Symbol == symbol {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeMsc < out[j].TimeMsc })
	return out
}

// stampLocked keeps open times unique so they can key the position map.
func (b *Broker) stampLocked(now time.Time) int64 {
	msc := now.UnixMilli()
	if msc <= b.lastMsc {
		msc = b.lastMsc + 1
	}
	b.lastMsc = msc
	return msc
}

func (b *Broker) recordLocked(at time.Time, symbol string, price float64, pnl decimal.Decimal) string {
	ref := ulid.MustNew(ulid.Timestamp(at), b.entropy).String()
	b.deals = append(b.deals, deal{ref: ref, at: at, symbol: symbol, price: price, profit: pnl})
	return ref
}

// closePrice is the bid for longs and the ask for shorts.
func closePrice(direction string, q Quote) float64 {
	if direction == "BUY" {
		return q.Bid
	}
	return q.Ask
}

func profit(p execution.Position, price, volume float64) decimal.Decimal {
	diff := decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(p.OpenPrice))
	if p.Direction != "BUY" {
		diff = diff.Neg()
	}
	return diff.Mul(decimal.NewFromFloat(volume))
}

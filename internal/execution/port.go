// Package execution defines the broker-facing port the dispatcher drives
// and the helpers shared by its implementations.
package execution

import (
	"context"
	"errors"
	"sort"
	"time"
)

var (
	// ErrRejected means the broker refused the request. Not retryable.
	ErrRejected = errors.New("execution: rejected by broker")
	// ErrTimeout means no answer arrived within the deadline. The order
	// may or may not have been placed; callers may retry after checking.
	ErrTimeout = errors.New("execution: timed out")
)

// Retryable reports whether err is a transient execution failure.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Position is one open position as reported by the broker.
type Position struct {
	Ticket    int64   `json:"ticket"`
	Symbol    string  `json:"symbol"`
	Direction string  `json:"direction"`
	Volume    float64 `json:"volume"`
	OpenPrice float64 `json:"price_open"`
	StopLoss  float64 `json:"sl"`
	Profit    float64 `json:"profit"`
	TimeMsc   int64   `json:"time_msc"`
}

// Fields flattens the position for ledger records and replies.
func (p Position) Fields() map[string]any {
	return map[string]any{
		"ticket":     p.Ticket,
		"symbol":     p.Symbol,
		"direction":  p.Direction,
		"volume":     p.Volume,
		"price_open": p.OpenPrice,
		"sl":         p.StopLoss,
		"profit":     p.Profit,
		"time_msc":   p.TimeMsc,
	}
}

// OpenRequest places a market order. At most one of StopLoss and
// StopLossDistance is set.
type OpenRequest struct {
	Symbol           string
	Direction        string
	Volume           float64
	StopLoss         *float64
	StopLossDistance *float64
}

// Result is the broker's answer, merged verbatim into the instruction.
type Result map[string]any

// Ticket extracts the position ticket from a result, if present.
func (r Result) Ticket() (int64, bool) {
	switch v := r["ticket"].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// Selector picks one position out of a symbol's open positions, sorted
// oldest first. First and Last take precedence over Order.
type Selector struct {
	Order int
	First bool
	Last  bool
}

// Nth selects the position at the given open order.
func Nth(order int) Selector { return Selector{Order: order} }

// Oldest selects the first opened position.
func Oldest() Selector { return Selector{First: true} }

// Newest selects the most recently opened position.
func Newest() Selector { return Selector{Last: true} }

// Pick resolves the selector against n positions.
func (s Selector) Pick(n int) (int, bool) {
	switch {
	case n == 0:
		return 0, false
	case s.Last:
		return n - 1, true
	case s.First:
		return 0, true
	case s.Order < 0 || s.Order >= n:
		return 0, false
	}
	return s.Order, true
}

// CloseResult identifies the closed position by ticket and by its open
// time, which is how seeded ledger records are keyed.
type CloseResult struct {
	Ticket  int64
	TimeMsc int64
	Fields  Result
}

// PnLEntry is a single deal in a PnL drilldown.
type PnLEntry struct {
	Symbol string  `json:"symbol"`
	PnL    float64 `json:"pnl"`
	Price  float64 `json:"price"`
}

// PnLReport lists a day's deals keyed by deal time.
type PnLReport struct {
	Deals map[time.Time]PnLEntry
	Total float64
}

// DealTimeLayout formats the drilldown keys.
const DealTimeLayout = "2006-01-02 15:04:05"

// Fields renders the report as the reply body: one key per deal time
// plus total_pnl.
func (r PnLReport) Fields() map[string]any {
	out := make(map[string]any, len(r.Deals)+1)
	for ts, e := range r.Deals {
		out[ts.UTC().Format(DealTimeLayout)] = map[string]any{
			"symbol": e.Symbol,
			"pnl":    e.PnL,
			"price":  e.Price,
		}
	}
	out["total_pnl"] = r.Total
	return out
}

// Port is everything the dispatcher needs from a broker.
type Port interface {
	// OpenPositions groups positions by symbol, then by open time in ms.
	OpenPositions(ctx context.Context) (map[string]map[int64]Position, error)
	OpenPosition(ctx context.Context, req OpenRequest) (Result, error)
	// CloseAllForSymbol closes every position on symbol, or half of
	// each position's volume when partial is set.
	CloseAllForSymbol(ctx context.Context, symbol string, partial bool) (Result, error)
	CloseByOpenOrder(ctx context.Context, symbol string, sel Selector) (CloseResult, error)
	// ModifyStopLoss moves the stop on every position on symbol, to the
	// open price when breakeven is set.
	ModifyStopLoss(ctx context.Context, symbol string, level float64, breakeven bool) (Result, error)
	ModifyStopLossForMostRecent(ctx context.Context, symbol string, level float64) (Result, error)
	PnLDrilldown(ctx context.Context, date time.Time) (PnLReport, error)
}

// SortedTimes returns the keys of byTime oldest first.
func SortedTimes(byTime map[int64]Position) []int64 {
	out := make([]int64, 0, len(byTime))
	for ts := range byTime {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ClampStopLoss bounds a requested stop to maxStopPoints from the open
// price, on the losing side of the position.
func ClampStopLoss(direction string, openPrice, level float64) float64 {
	if direction == "BUY" {
		return max(openPrice-maxStopPoints, level)
	}
	return min(openPrice+maxStopPoints, level)
}

const maxStopPoints = 100.0

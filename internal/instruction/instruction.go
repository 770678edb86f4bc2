package instruction

import (
	"encoding/json"
	"strconv"
)

// TradeType discriminates what an instruction asks the dispatcher to do.
type TradeType string

// Trade types the dispatcher switches on. Anything else is a
// descriptive no-op produced for unrecognized chatter.
const (
	OpenTrade                 TradeType = "OPEN TRADE"
	CloseAllIndexPositions    TradeType = "CLOSE ALL INDEX POSITIONS"
	CloseSinglePositions      TradeType = "CLOSE SINGLE POSITIONS"
	PartialClose              TradeType = "PARTIAL CLOSE"
	ClosePreviousTrades       TradeType = "CLOSE PREVIOUS TRADES"
	StopLossReset             TradeType = "STOP LOSS RESET"
	StopLossResetForLastTrade TradeType = "STOP LOSS RESET FOR LAST TRADE"
	GetCurrentPnL             TradeType = "GET CURRENT PNL"
	CloseAllTrade             TradeType = "CLOSE ALL TRADE"
)

// Actionable reports whether t is one of the fixed trade types.
func (t TradeType) Actionable() bool {
	switch t {
	case OpenTrade, CloseAllIndexPositions, CloseSinglePositions, PartialClose,
		ClosePreviousTrades, StopLossReset, StopLossResetForLastTrade,
		GetCurrentPnL, CloseAllTrade:
		return true
	}
	return false
}

// Directions
const (
	Buy  = "BUY"
	Sell = "SELL"
)

// Literal level values
const (
	Market    = "MARKET"
	Distance  = "DISTANCE"
	Breakeven = "BREAKEVEN"
)

// Level is either a numeric price or one of the literal markers.
type Level struct {
	Value   float64
	Literal string
}

// Price returns a numeric level.
func Price(v float64) *Level {
	return &Level{Value: v}
}

// Literal returns a marker level such as MARKET.
func Literal(s string) *Level {
	return &Level{Literal: s}
}

// Is reports whether l is the literal s.
func (l *Level) Is(s string) bool {
	return l != nil && l.Literal == s
}

// Numeric reports whether l carries a price.
func (l *Level) Numeric() bool {
	return l != nil && l.Literal == ""
}

func (l Level) String() string {
	if l.Literal != "" {
		return l.Literal
	}
	return strconv.FormatFloat(l.Value, 'f', -1, 64)
}

// MarshalJSON emits the literal as a string and prices as numbers.
func (l Level) MarshalJSON() ([]byte, error) {
	if l.Literal != "" {
		return json.Marshal(l.Literal)
	}
	return json.Marshal(l.Value)
}

// Instruction is the structured form of one alert message. The parser
// fills the typed fields, the dispatcher merges broker results into
// Fields.
type Instruction struct {
	TradeType        TradeType
	Index            string
	Symbol           string
	Direction        string
	Size             *float64
	Entry            *Level
	StopLoss         *Level
	StopLossDistance *float64
	StopLossLevel    *Level
	NumberOfTrades   *int

	// Fields holds execution metadata merged in after dispatch.
	Fields map[string]any
}

// Merge copies fields into the instruction, overwriting existing keys.
func (in *Instruction) Merge(fields map[string]any) {
	if len(fields) == 0 {
		return
	}
	if in.Fields == nil {
		in.Fields = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		in.Fields[k] = v
	}
}

// Set stores a single field.
func (in *Instruction) Set(key string, value any) {
	in.Merge(map[string]any{key: value})
}

// Replace discards the whole body and substitutes fields.
func (in *Instruction) Replace(fields map[string]any) {
	*in = Instruction{}
	in.Merge(fields)
}

// Map flattens the instruction into its wire representation.
func (in *Instruction) Map() map[string]any {
	out := make(map[string]any, 10+len(in.Fields))
	if in.TradeType != "" {
		out["trade_type"] = string(in.TradeType)
	}
	if in.Index != "" {
		out["index"] = in.Index
	}
	if in.Symbol != "" {
		out["symbol"] = in.Symbol
	}
	if in.Direction != "" {
		out["direction"] = in.Direction
	}
	if in.Size != nil {
		out["size"] = *in.Size
	}
	if in.Entry != nil {
		out["entry"] = *in.Entry
	}
	if in.StopLoss != nil {
		out["stop_loss"] = *in.StopLoss
	}
	if in.StopLossDistance != nil {
		out["stop_loss_distance"] = *in.StopLossDistance
	}
	if in.StopLossLevel != nil {
		out["stop_loss_level"] = *in.StopLossLevel
	}
	if in.NumberOfTrades != nil {
		out["number_of_trades"] = *in.NumberOfTrades
	}
	for k, v := range in.Fields {
		out[k] = v
	}
	return out
}

// MarshalJSON encodes the flattened map, so keys come out sorted.
func (in *Instruction) MarshalJSON() ([]byte, error) {
	return json.Marshal(in.Map())
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Int returns a pointer to v.
func Int(v int) *int {
	return &v
}

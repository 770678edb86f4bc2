package parser

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ismaiel54/alert-trade-router/internal/index"
	"github.com/ismaiel54/alert-trade-router/internal/instruction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestParser(t *testing.T) *Parser {
	t.Helper()
	p, err := New(index.Default(), DefaultKeywords(), 25, nil)
	require.NoError(t, err)
	return p
}

func TestParse_OpenTrade(t *testing.T) {
	p := newTestParser(t)

	in, err := p.Parse("DE40 INDEX\n= LONG 50%\nENTRY = MARKET\nSTOP=30", false)
	require.NoError(t, err)

	assert.Equal(t, instruction.OpenTrade, in.TradeType)
	assert.Equal(t, "DAX", in.Index)
	assert.Equal(t, "DE40", in.Symbol)
	assert.Equal(t, instruction.Buy, in.Direction)
	require.NotNil(t, in.Size)
	assert.Equal(t, 12.5, *in.Size)
	assert.True(t, in.Entry.Is(instruction.Market))
	require.True(t, in.StopLoss.Numeric())
	assert.Equal(t, 30.0, in.StopLoss.Value)

	key, ok := p.Context()
	assert.True(t, ok)
	assert.Equal(t, "DAX", key)
}

func TestParse_OpenTradeVariants(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		index     string
		direction string
		size      float64
		entry     *instruction.Level
		stop      *instruction.Level
		distance  *float64
	}{
		{
			name:      "short with numeric entry and stop",
			text:      "🇺🇸 NASDAQ INDEX\nDIRECTION = SHORT 100%\nENTRY = 13,168\nSTOP = 13.250",
			index:     "NASDAQ",
			direction: instruction.Sell,
			size:      25,
			entry:     instruction.Price(13168),
			stop:      instruction.Price(13250),
		},
		{
			name:      "distance stop on FTSE",
			text:      "FTSE INDEX\n= LONG 20%\nENTRY=7500\nSTOP=",
			index:     "FTSE",
			direction: instruction.Buy,
			size:      5,
			entry:     instruction.Price(7500),
			stop:      instruction.Literal(instruction.Distance),
			distance:  instruction.Float(30),
		},
		{
			name:      "distance stop on DOW",
			text:      "WALL STREET INDEX\n= SHORT 40%\nENTRY =\nSTOP =",
			index:     "DOW",
			direction: instruction.Sell,
			size:      10,
			entry:     instruction.Literal(instruction.Market),
			stop:      instruction.Literal(instruction.Distance),
			distance:  instruction.Float(50),
		},
		{
			name:      "links and blank lines dropped",
			text:      "DAX INDEX https://t.me/signals\n\n= long 50%\n\nentry = market\nstop=15,900",
			index:     "DAX",
			direction: instruction.Buy,
			size:      12.5,
			entry:     instruction.Literal(instruction.Market),
			stop:      instruction.Price(15900),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestParser(t)
			in, err := p.Parse(tt.text, false)
			require.NoError(t, err)

			assert.Equal(t, instruction.OpenTrade, in.TradeType)
			assert.Equal(t, tt.index, in.Index)
			assert.Equal(t, tt.direction, in.Direction)
			require.NotNil(t, in.Size)
			assert.InDelta(t, tt.size, *in.Size, 1e-9)
			assert.Equal(t, tt.entry, in.Entry)
			assert.Equal(t, tt.stop, in.StopLoss)
			assert.Equal(t, tt.distance, in.StopLossDistance)
		})
	}
}

func TestParse_EditedAlertResetsLastStop(t *testing.T) {
	p := newTestParser(t)

	in, err := p.Parse("UK100 INDEX\n= SHORT 50%\nENTRY = 7480\nSTOP = 7520", true)
	require.NoError(t, err)

	assert.Equal(t, instruction.StopLossResetForLastTrade, in.TradeType)
	assert.Equal(t, "FTSE", in.Index)
	assert.Equal(t, "UK100", in.Symbol)
	assert.Equal(t, instruction.Price(7520), in.StopLossLevel)
	assert.Empty(t, in.Direction)
	assert.Nil(t, in.Size)
}

func TestParse_EditedAlertNeedsNumericStop(t *testing.T) {
	p := newTestParser(t)

	_, err := p.Parse("DAX INDEX\n= LONG 50%\nENTRY = MARKET\nSTOP=", true)
	assert.ErrorIs(t, err, ErrMalformedAlert)
}

func TestParse_CloseAllIndex(t *testing.T) {
	p := newTestParser(t)

	in, err := p.Parse("CLOSE TRADE ALERT CLOSING FTSE INDEX trade now", false)
	require.NoError(t, err)

	assert.Equal(t, instruction.CloseAllIndexPositions, in.TradeType)
	assert.Equal(t, "FTSE", in.Index)
	assert.Equal(t, "UK100", in.Symbol)
}

func TestParse_StopLossResetUsesContext(t *testing.T) {
	p := newTestParser(t)
	require.NoError(t, p.SetContext("NASDAQ"))

	in, err := p.Parse("STOP LOSS TO 11,618", false)
	require.NoError(t, err)

	assert.Equal(t, instruction.StopLossReset, in.TradeType)
	assert.Equal(t, "NASDAQ", in.Index)
	assert.Equal(t, "USTEC", in.Symbol)
	assert.Equal(t, instruction.Price(11618), in.StopLossLevel)
}

func TestParse_StopLossResetBreakeven(t *testing.T) {
	p := newTestParser(t)

	in, err := p.Parse("Move stops to break even on the DOW", false)
	require.NoError(t, err)

	assert.Equal(t, instruction.StopLossReset, in.TradeType)
	assert.Equal(t, "DOW", in.Index)
	assert.True(t, in.StopLossLevel.Is(instruction.Breakeven))
}

func TestParse_ClosePreviousCount(t *testing.T) {
	p := newTestParser(t)
	require.NoError(t, p.SetContext("DAX"))

	in, err := p.Parse("TAKE PROFIT on 2 at 13168", false)
	require.NoError(t, err)

	assert.Equal(t, instruction.ClosePreviousTrades, in.TradeType)
	assert.Equal(t, "DAX", in.Index)
	require.NotNil(t, in.NumberOfTrades)
	assert.Equal(t, 2, *in.NumberOfTrades)
}

func TestParse_ClosePreviousWords(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"Close the last three trades", 3},
		{"Close both positions", 2},
		{"close 4 trades now", 4},
		{"Take profit on one", 1},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			p := newTestParser(t)
			require.NoError(t, p.SetContext("BITCOIN"))

			in, err := p.Parse(tt.text, false)
			require.NoError(t, err)
			assert.Equal(t, instruction.ClosePreviousTrades, in.TradeType)
			assert.Equal(t, tt.want, *in.NumberOfTrades)
		})
	}
}

func TestParse_ClosePreviousWithoutCount(t *testing.T) {
	p := newTestParser(t)
	require.NoError(t, p.SetContext("DAX"))

	_, err := p.Parse("TAKE PROFIT ON THE LOT", false)
	assert.ErrorIs(t, err, ErrMalformedAlert)
}

func TestParse_PnLQuery(t *testing.T) {
	p := newTestParser(t)

	in, err := p.Parse("get pnl", false)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"trade_type": "GET CURRENT PNL"}, in.Map())

	_, ok := p.Context()
	assert.False(t, ok)
}

func TestParse_PartialBeforeGenericClose(t *testing.T) {
	p := newTestParser(t)

	in, err := p.Parse("Partial close on all NASDAQ trades", false)
	require.NoError(t, err)
	assert.Equal(t, instruction.PartialClose, in.TradeType)
	assert.Equal(t, "NASDAQ", in.Index)
}

func TestParse_CloseFamily(t *testing.T) {
	tests := []struct {
		text string
		want instruction.TradeType
	}{
		{"Close the oldest trade on US30", instruction.CloseSinglePositions},
		{"CLOSE ALL DOW INDEX", instruction.CloseAllIndexPositions},
		{"Close all trades on BTC", instruction.CloseAllTrade},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			p := newTestParser(t)
			in, err := p.Parse(tt.text, false)
			require.NoError(t, err)
			assert.Equal(t, tt.want, in.TradeType)
		})
	}
}

func TestParse_ContextCarriesOver(t *testing.T) {
	p := newTestParser(t)

	_, err := p.Parse("Close all trades on GER40", false)
	require.NoError(t, err)

	in, err := p.Parse("Stop loss to breakeven", false)
	require.NoError(t, err)
	assert.Equal(t, "DAX", in.Index)

	in, err = p.Parse("Close single", false)
	require.NoError(t, err)
	assert.Equal(t, "DAX", in.Index)
}

func TestParse_UnresolvedIndex(t *testing.T) {
	p := newTestParser(t)

	_, err := p.Parse("Stop loss to 120", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnresolvedIndex)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, UnresolvedIndex, pe.Kind)
}

func TestParse_UnknownHeaderIndex(t *testing.T) {
	p := newTestParser(t)

	_, err := p.Parse("NIKKEI INDEX\n= LONG 50%\nENTRY = MARKET\nSTOP=", false)
	assert.ErrorIs(t, err, ErrUnresolvedIndex)
}

func TestParse_MalformedOpenTrade(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"too few lines", "DAX INDEX ENTRY STOP"},
		{"no equals on direction line", "DAX INDEX\nLONG 50%\nENTRY = MARKET\nSTOP=30"},
		{"no percentage", "DAX INDEX\n= LONG\nENTRY = MARKET\nSTOP=30"},
		{"index not on first line", "GO LONG\nDAX INDEX\nENTRY = MARKET\nSTOP=30"},
		{"stop without price", "DAX INDEX\n= LONG 50%\nENTRY = MARKET\nSTOP LOSS TBC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestParser(t)
			_, err := p.Parse(tt.text, false)
			assert.ErrorIs(t, err, ErrMalformedAlert)
		})
	}
}

func TestParse_FailureLeavesContext(t *testing.T) {
	p := newTestParser(t)
	require.NoError(t, p.SetContext("FTSE"))

	// Names DAX but fails on the direction line.
	_, err := p.Parse("DAX INDEX\nLONG\nENTRY = MARKET\nSTOP=30", false)
	require.Error(t, err)

	key, _ := p.Context()
	assert.Equal(t, "FTSE", key)
}

func TestParse_Unrecognized(t *testing.T) {
	p := newTestParser(t)

	in, err := p.Parse("good morning everyone", false)
	require.NoError(t, err)
	assert.Equal(t, instruction.TradeType("NOT A PARSING MESSAGE. Updated context index to: NONE"), in.TradeType)
	assert.False(t, in.TradeType.Actionable())

	in, err = p.Parse("Watching the nas100 open closely", false)
	require.NoError(t, err)
	assert.Equal(t, instruction.TradeType("NOT A PARSING MESSAGE. Updated context index to: NASDAQ"), in.TradeType)

	key, _ := p.Context()
	assert.Equal(t, "NASDAQ", key)
}

func TestParse_Idempotent(t *testing.T) {
	inputs := []string{
		"DE40 INDEX\n= LONG 50%\nENTRY = MARKET\nSTOP=30",
		"STOP LOSS TO 11,618 NASDAQ",
		"TAKE PROFIT on 2 at 13168 FTSE",
		"GET PNL",
	}
	for _, text := range inputs {
		p := newTestParser(t)
		first, err := p.Parse(text, false)
		require.NoError(t, err)
		second, err := p.Parse(text, false)
		require.NoError(t, err)
		assert.Equal(t, first.Map(), second.Map(), text)
	}
}

func TestParseNumber(t *testing.T) {
	tests := map[string]float64{
		"13,168": 13168,
		"13.168": 13168,
		"11,618": 11618,
		"7500":   7500,
		"13.5":   135,
	}
	for token, want := range tests {
		got, err := parseNumber(token)
		require.NoError(t, err, token)
		assert.Equal(t, want, got, token)
	}
}

func TestTradeCount(t *testing.T) {
	n, ok := tradeCount("CLOSE 15 OR 3 TRADES")
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = tradeCount("CLOSE THE LOT")
	assert.False(t, ok)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, DefaultKeywords(), 25, nil)
	assert.Error(t, err)

	_, err = New(index.Default(), DefaultKeywords(), 0, nil)
	assert.Error(t, err)

	_, err = New(index.Default(), Keywords{"NOT A CATEGORY": {"X"}}, 25, nil)
	assert.Error(t, err)

	_, err = New(index.Default(), Keywords{CategoryPartialClose: {"("}}, 25, nil)
	assert.Error(t, err)
}

func TestKeywords_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keywords.yaml")
	require.NoError(t, DefaultKeywords().Save(path))

	kw, err := LoadKeywords(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultKeywords(), kw)
}

func TestLoadKeywords_BadPattern(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keywords.yaml")
	require.NoError(t, os.WriteFile(path, []byte("PARTIAL CLOSE:\n  - \"(\"\n"), 0644))

	_, err := LoadKeywords(path)
	assert.Error(t, err)
}

func TestSetContext_UnknownKey(t *testing.T) {
	p := newTestParser(t)
	assert.Error(t, p.SetContext("NIKKEI"))
}

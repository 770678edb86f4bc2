package router

import (
	"context"
	"testing"
	"time"

	"github.com/ismaiel54/alert-trade-router/internal/dispatch"
	"github.com/ismaiel54/alert-trade-router/internal/execution/sim"
	"github.com/ismaiel54/alert-trade-router/internal/index"
	"github.com/ismaiel54/alert-trade-router/internal/ledger"
	"github.com/ismaiel54/alert-trade-router/internal/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	router *Router
	broker *sim.Broker
	ledger *ledger.Ledger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mapper := index.Default()

	p, err := parser.New(mapper, parser.DefaultKeywords(), 25, nil)
	require.NoError(t, err)

	b := sim.New(nil)
	for _, e := range mapper.Entries() {
		b.SetQuote(e.Symbol, 1000, 1001)
	}
	l := ledger.New(mapper.Keys())
	d := dispatch.New(b, l, mapper, nil)

	return &harness{router: New(p, d, nil), broker: b, ledger: l}
}

var received = time.Date(2024, 5, 6, 8, 30, 15, 123456000, time.UTC)

func TestHandle_OpenThenCloseAll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	in := h.router.Handle(ctx, Alert{
		MessageID:  "1",
		Text:       "FTSE INDEX\n= SHORT 50%\nENTRY = MARKET\nSTOP=",
		ReceivedAt: received,
	})
	m := in.Map()
	assert.Equal(t, "OPEN TRADE", m["trade_type"])
	assert.Equal(t, "2024-05-06 08:30:15.123456", m[FieldReceivedAt])
	assert.NotContains(t, m, "execution_error")
	assert.Equal(t, 1, h.ledger.Len("FTSE"))

	in = h.router.Handle(ctx, Alert{MessageID: "2", Text: "CLOSE TRADE ALERT CLOSING FTSE INDEX trade now"})
	assert.Equal(t, "CLOSE ALL INDEX POSITIONS", in.Map()["trade_type"])
	assert.Equal(t, 0, h.ledger.Len("FTSE"))

	positions, err := h.broker.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions["UK100"])
}

func TestHandle_ContextFlowsAcrossMessages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.router.Handle(ctx, Alert{Text: "DAX INDEX\n= LONG 100%\nENTRY = MARKET\nSTOP=900"})
	h.router.Handle(ctx, Alert{Text: "DAX INDEX\n= LONG 100%\nENTRY = MARKET\nSTOP=900"})
	require.Equal(t, 2, h.ledger.Len("DAX"))

	in := h.router.Handle(ctx, Alert{Text: "Take profit on 1 now"})
	m := in.Map()
	assert.Equal(t, "CLOSE PREVIOUS TRADES", m["trade_type"])
	assert.Equal(t, "DAX", m["index"])
	assert.Equal(t, 1, h.ledger.Len("DAX"))

	key, ok := h.router.Context()
	assert.True(t, ok)
	assert.Equal(t, "DAX", key)
}

func TestHandle_ParseErrorIsReported(t *testing.T) {
	h := newHarness(t)

	in := h.router.Handle(context.Background(), Alert{Text: "Stop loss to 120", ReceivedAt: received})
	m := in.Map()
	assert.Contains(t, m[FieldError], "no index")
	assert.Equal(t, "UnresolvedIndex", m[FieldErrorKind])
	assert.Equal(t, "2024-05-06 08:30:15.123456", m[FieldReceivedAt])
	assert.NotContains(t, m, "trade_type")
}

func TestHandle_ExecutionErrorIsReported(t *testing.T) {
	h := newHarness(t)

	// No open positions on DOW, so the broker rejects the stop move.
	in := h.router.Handle(context.Background(), Alert{
		Text:   "US30 INDEX\n= LONG 50%\nENTRY = 31000\nSTOP = 30900",
		Edited: true,
	})
	m := in.Map()
	assert.Equal(t, "STOP LOSS RESET FOR LAST TRADE", m["trade_type"])
	assert.Contains(t, m["execution_error"], "rejected")
	assert.Equal(t, false, m["retryable"])
}

func TestHandle_PnL(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.router.Handle(ctx, Alert{Text: "BTC INDEX\n= LONG 40%\nENTRY = MARKET\nSTOP=950"})

	in := h.router.Handle(ctx, Alert{Text: "GET PNL"})
	m := in.Map()
	assert.NotContains(t, m, "trade_type")
	assert.Contains(t, m, "total_pnl")
	assert.Contains(t, m, FieldReceivedAt)
}

func TestHandle_Unrecognized(t *testing.T) {
	h := newHarness(t)

	in := h.router.Handle(context.Background(), Alert{Text: "Market looks choppy on the dax today"})
	assert.Equal(t, "NOT A PARSING MESSAGE. Updated context index to: DAX", in.Map()["trade_type"])
}

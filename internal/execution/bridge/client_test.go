package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ismaiel54/alert-trade-router/internal/execution"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPoll() Option {
	return WithPoll(execution.PollConfig{Initial: time.Millisecond, Max: 5 * time.Millisecond, MaxWait: 200 * time.Millisecond})
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestOpenPosition_ConfirmsAfterPending(t *testing.T) {
	var polls atomic.Int32
	var got openRequest

	mux := http.NewServeMux()
	mux.HandleFunc("POST /positions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get(APIKeyHeader))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		writeJSON(t, w, dealReference{DealReference: "REF-1"})
	})
	mux.HandleFunc("GET /confirms/REF-1", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			http.NotFound(w, r)
			return
		}
		writeJSON(t, w, map[string]any{"deal_status": DealAccepted, "ticket": 5001, "price": 7480.5})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, "secret", nil, fastPoll())
	dist := 30.0
	res, err := c.OpenPosition(context.Background(), execution.OpenRequest{
		Symbol: "UK100", Direction: "SELL", Volume: 12.5, StopLossDistance: &dist,
	})
	require.NoError(t, err)

	assert.Equal(t, "UK100", got.Symbol)
	assert.Nil(t, got.StopLoss)
	require.NotNil(t, got.SLDistance)
	assert.Equal(t, 30.0, *got.SLDistance)

	ticket, ok := res.Ticket()
	require.True(t, ok)
	assert.Equal(t, int64(5001), ticket)
	assert.Equal(t, "REF-1", res["deal_reference"])
	assert.Equal(t, int32(3), polls.Load())
}

func TestOpenPosition_Rejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /positions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, dealReference{DealReference: "REF-2"})
	})
	mux.HandleFunc("GET /confirms/REF-2", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"deal_status": DealRejected, "reason": "MARKET_CLOSED"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := NewClient(srv.URL, "", nil, fastPoll()).OpenPosition(context.Background(),
		execution.OpenRequest{Symbol: "UK100", Direction: "BUY", Volume: 1})
	require.ErrorIs(t, err, execution.ErrRejected)
	assert.Contains(t, err.Error(), "MARKET_CLOSED")
}

func TestOpenPosition_ConfirmTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /positions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, dealReference{DealReference: "REF-3"})
	})
	mux.HandleFunc("GET /confirms/REF-3", http.NotFound)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, "", nil,
		WithPoll(execution.PollConfig{Initial: time.Millisecond, Max: time.Millisecond, MaxWait: 20 * time.Millisecond}))
	_, err := c.OpenPosition(context.Background(), execution.OpenRequest{Symbol: "UK100", Direction: "BUY", Volume: 1})
	require.ErrorIs(t, err, execution.ErrTimeout)
	assert.True(t, execution.Retryable(err))
}

func TestOpenPositions_GroupsBySymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/positions", r.URL.Path)
		writeJSON(t, w, positionsResponse{Positions: []execution.Position{
			{Ticket: 1, Symbol: "UK100", TimeMsc: 100},
			{Ticket: 2, Symbol: "UK100", TimeMsc: 200},
			{Ticket: 3, Symbol: "DE40", TimeMsc: 150},
		}})
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL, "", nil).OpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got["UK100"][200].Ticket)
	assert.Equal(t, int64(3), got["DE40"][150].Ticket)
}

func TestCloseByOpenOrder(t *testing.T) {
	var got closeByOrderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/positions/close-by-order", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(t, w, map[string]any{"ticket": 42, "time_msc": 1700000000123})
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, "", nil).CloseByOpenOrder(context.Background(), "US30", execution.Nth(1))
	require.NoError(t, err)
	assert.Equal(t, closeByOrderRequest{Symbol: "US30", Order: 1}, got)
	assert.Equal(t, int64(42), res.Ticket)
	assert.Equal(t, int64(1700000000123), res.TimeMsc)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		is     error
	}{
		{"conflict", http.StatusConflict, execution.ErrRejected},
		{"unprocessable", http.StatusUnprocessableEntity, execution.ErrRejected},
		{"gateway timeout", http.StatusGatewayTimeout, execution.ErrTimeout},
		{"unavailable", http.StatusServiceUnavailable, execution.ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "", nil).CloseAllForSymbol(context.Background(), "UK100", false)
			require.ErrorIs(t, err, tt.is)
		})
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	_, err := NewClient(srv.URL, "", nil).CloseAllForSymbol(context.Background(), "UK100", false)
	require.Error(t, err)
	assert.False(t, execution.Retryable(err))
	assert.NotErrorIs(t, err, execution.ErrRejected)
}

func TestStopLossRequests(t *testing.T) {
	var paths []string
	var bodies []stopLossRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var b stopLossRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&b))
		paths = append(paths, r.URL.Path)
		bodies = append(bodies, b)
		writeJSON(t, w, map[string]any{"retcode": 10009})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", nil)
	_, err := c.ModifyStopLoss(context.Background(), "DE40", 0, true)
	require.NoError(t, err)
	res, err := c.ModifyStopLossForMostRecent(context.Background(), "DE40", 18250)
	require.NoError(t, err)
	assert.Equal(t, 10009.0, res["retcode"])

	assert.Equal(t, []string{"/positions/stop-loss", "/positions/stop-loss/most-recent"}, paths)
	assert.True(t, bodies[0].Breakeven)
	assert.Equal(t, 18250.0, bodies[1].Level)
}

func TestPnLDrilldown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2024-03-04", r.URL.Query().Get("date"))
		writeJSON(t, w, pnlResponse{
			Deals: []apiDeal{
				{Time: "2024-03-04 09:01:00", Symbol: "UK100", PnL: 25, Price: 7480},
				{Time: "2024-03-04 10:15:30", Symbol: "DE40", PnL: -5, Price: 18200},
			},
			TotalPnL: 20,
		})
	}))
	defer srv.Close()

	rep, err := NewClient(srv.URL, "", nil).PnLDrilldown(context.Background(),
		time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 20.0, rep.Total)

	fields := rep.Fields()
	assert.Equal(t, 20.0, fields["total_pnl"])
	assert.Equal(t, map[string]any{"symbol": "UK100", "pnl": 25.0, "price": 7480.0}, fields["2024-03-04 09:01:00"])
	assert.Contains(t, fields, "2024-03-04 10:15:30")
}

func TestContextDeadlineIsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewClient(srv.URL, "", nil).OpenPositions(ctx)
	require.ErrorIs(t, err, execution.ErrTimeout)
}

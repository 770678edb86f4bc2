package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowPort blocks every call until ctx is done.
type slowPort struct{}

func (slowPort) OpenPositions(ctx context.Context) (map[string]map[int64]Position, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowPort) OpenPosition(ctx context.Context, _ OpenRequest) (Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowPort) CloseAllForSymbol(ctx context.Context, _ string, _ bool) (Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowPort) CloseByOpenOrder(ctx context.Context, _ string, _ Selector) (CloseResult, error) {
	<-ctx.Done()
	return CloseResult{}, ctx.Err()
}

func (slowPort) ModifyStopLoss(ctx context.Context, _ string, _ float64, _ bool) (Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowPort) ModifyStopLossForMostRecent(ctx context.Context, _ string, _ float64) (Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowPort) PnLDrilldown(ctx context.Context, _ time.Time) (PnLReport, error) {
	<-ctx.Done()
	return PnLReport{}, ctx.Err()
}

func TestWithTimeout_MapsDeadline(t *testing.T) {
	p := WithTimeout(slowPort{}, 20*time.Millisecond)
	ctx := context.Background()

	_, err := p.OpenPosition(ctx, OpenRequest{Symbol: "DE40"})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, Retryable(err))

	_, err = p.CloseByOpenOrder(ctx, "DE40", Oldest())
	assert.ErrorIs(t, err, ErrTimeout)

	_, err = p.PnLDrilldown(ctx, time.Now())
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestWithTimeout_ZeroIsPassthrough(t *testing.T) {
	var p Port = slowPort{}
	assert.Equal(t, p, WithTimeout(p, 0))
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(ErrRejected))
	assert.False(t, Retryable(errors.New("boom")))
	assert.True(t, Retryable(ErrTimeout))
}

func TestSelectorPick(t *testing.T) {
	tests := []struct {
		name string
		sel  Selector
		n    int
		want int
		ok   bool
	}{
		{"nth", Nth(1), 3, 1, true},
		{"oldest", Oldest(), 3, 0, true},
		{"newest", Newest(), 3, 2, true},
		{"out of range", Nth(3), 3, 0, false},
		{"empty", Oldest(), 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.sel.Pick(tt.n)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClampStopLoss(t *testing.T) {
	assert.Equal(t, 15900.0, ClampStopLoss("BUY", 16000, 15850))
	assert.Equal(t, 15950.0, ClampStopLoss("BUY", 16000, 15950))
	assert.Equal(t, 16100.0, ClampStopLoss("SELL", 16000, 16200))
	assert.Equal(t, 16050.0, ClampStopLoss("SELL", 16000, 16050))
}

func TestPnLReportFields(t *testing.T) {
	ts := time.Date(2022, 7, 8, 9, 30, 0, 0, time.UTC)
	rep := PnLReport{
		Deals: map[time.Time]PnLEntry{ts: {Symbol: "US30", PnL: 12.5, Price: 31000}},
		Total: 12.5,
	}

	assert.Equal(t, map[string]any{
		"2022-07-08 09:30:00": map[string]any{"symbol": "US30", "pnl": 12.5, "price": 31000.0},
		"total_pnl":           12.5,
	}, rep.Fields())
}

func TestResultTicket(t *testing.T) {
	n, ok := Result{"ticket": float64(42)}.Ticket()
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)

	_, ok = Result{}.Ticket()
	assert.False(t, ok)
}

func TestPoll(t *testing.T) {
	cfg := PollConfig{Initial: time.Millisecond, Max: 5 * time.Millisecond, MaxWait: time.Second}

	calls := 0
	err := Poll(context.Background(), cfg, func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPoll_Timeout(t *testing.T) {
	cfg := PollConfig{Initial: time.Millisecond, Max: 2 * time.Millisecond, MaxWait: 20 * time.Millisecond}

	err := Poll(context.Background(), cfg, func(context.Context) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestPoll_CheckError(t *testing.T) {
	err := Poll(context.Background(), DefaultPollConfig(), func(context.Context) (bool, error) {
		return false, ErrRejected
	})
	assert.ErrorIs(t, err, ErrRejected)
}

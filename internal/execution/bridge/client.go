// Package bridge is an execution.Port over a broker REST gateway, the
// kind that fronts an MT5 terminal or a spread-betting account.
//
// Orders are asynchronous on the gateway: POST /positions answers with
// a deal reference that is then polled on /confirms/{ref} until the
// broker accepts or rejects it.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ismaiel54/alert-trade-router/internal/execution"
	"go.uber.org/zap"
)

// APIKeyHeader carries the gateway credential.
const APIKeyHeader = "X-API-KEY"

// Deal statuses returned by /confirms.
const (
	DealAccepted = "ACCEPTED"
	DealRejected = "REJECTED"
)

// Client represents a broker gateway client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	poll       execution.PollConfig
	logger     *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPoll sets the confirmation poll bounds.
func WithPoll(cfg execution.PollConfig) Option {
	return func(c *Client) { c.poll = cfg }
}

// NewClient creates a gateway client for baseURL.
func NewClient(baseURL, apiKey string, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		poll:   execution.DefaultPollConfig(),
		logger: logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ execution.Port = (*Client)(nil)

type openRequest struct {
	Symbol     string   `json:"symbol"`
	Direction  string   `json:"direction"`
	Volume     float64  `json:"volume"`
	StopLoss   *float64 `json:"sl,omitempty"`
	SLDistance *float64 `json:"sl_distance,omitempty"`
}

type dealReference struct {
	DealReference string `json:"deal_reference"`
}

type closeRequest struct {
	Symbol  string `json:"symbol"`
	Partial bool   `json:"partial"`
}

type closeByOrderRequest struct {
	Symbol string `json:"symbol"`
	Order  int    `json:"order"`
	First  bool   `json:"first,omitempty"`
	Last   bool   `json:"last,omitempty"`
}

type stopLossRequest struct {
	Symbol    string  `json:"symbol"`
	Level     float64 `json:"level"`
	Breakeven bool    `json:"breakeven,omitempty"`
}

type positionsResponse struct {
	Positions []execution.Position `json:"positions"`
}

type apiDeal struct {
	Time   string  `json:"time"`
	Symbol string  `json:"symbol"`
	PnL    float64 `json:"pnl"`
	Price  float64 `json:"price"`
}

type pnlResponse struct {
	Deals    []apiDeal `json:"deals"`
	TotalPnL float64   `json:"total_pnl"`
}

// OpenPositions implements execution.Port.
func (c *Client) OpenPositions(ctx context.Context) (map[string]map[int64]execution.Position, error) {
	var resp positionsResponse
	if _, err := c.do(ctx, http.MethodGet, "/positions", nil, nil, &resp); err != nil {
		return nil, err
	}

	out := make(map[string]map[int64]execution.Position)
	for _, p := range resp.Positions {
		if out[p.Symbol] == nil {
			out[p.Symbol] = make(map[int64]execution.Position)
		}
		out[p.Symbol][p.TimeMsc] = p
	}
	return out, nil
}

// OpenPosition places the order and waits for the broker to confirm it.
func (c *Client) OpenPosition(ctx context.Context, req execution.OpenRequest) (execution.Result, error) {
	body := openRequest{
		Symbol:     req.Symbol,
		Direction:  req.Direction,
		Volume:     req.Volume,
		StopLoss:   req.StopLoss,
		SLDistance: req.StopLossDistance,
	}

	var ref dealReference
	if _, err := c.do(ctx, http.MethodPost, "/positions", nil, body, &ref); err != nil {
		return nil, err
	}
	if ref.DealReference == "" {
		return nil, fmt.Errorf("open position: gateway returned no deal reference")
	}

	result, err := c.confirm(ctx, ref.DealReference)
	if err != nil {
		return nil, err
	}
	result["deal_reference"] = ref.DealReference
	return result, nil
}

func (c *Client) confirm(ctx context.Context, ref string) (execution.Result, error) {
	var result execution.Result
	path := "/confirms/" + url.PathEscape(ref)

	err := execution.Poll(ctx, c.poll, func(ctx context.Context) (bool, error) {
		var raw execution.Result
		status, err := c.do(ctx, http.MethodGet, path, nil, nil, &raw)
		if status == http.StatusNotFound {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		result = raw
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("confirm deal %s: %w", ref, err)
	}

	status, _ := result["deal_status"].(string)
	if status == DealRejected {
		reason, _ := result["reason"].(string)
		return nil, fmt.Errorf("deal %s: %s: %w", ref, reason, execution.ErrRejected)
	}

	c.logger.Debug("deal confirmed",
		zap.String("deal_reference", ref),
		zap.String("deal_status", status),
	)
	return result, nil
}

// CloseAllForSymbol implements execution.Port.
func (c *Client) CloseAllForSymbol(ctx context.Context, symbol string, partial bool) (execution.Result, error) {
	var out execution.Result
	_, err := c.do(ctx, http.MethodPost, "/positions/close", nil, closeRequest{Symbol: symbol, Partial: partial}, &out)
	return out, err
}

// CloseByOpenOrder implements execution.Port.
func (c *Client) CloseByOpenOrder(ctx context.Context, symbol string, sel execution.Selector) (execution.CloseResult, error) {
	body := closeByOrderRequest{Symbol: symbol, Order: sel.Order, First: sel.First, Last: sel.Last}

	var out execution.Result
	if _, err := c.do(ctx, http.MethodPost, "/positions/close-by-order", nil, body, &out); err != nil {
		return execution.CloseResult{}, err
	}

	res := execution.CloseResult{Fields: out}
	res.Ticket, _ = out.Ticket()
	if ts, ok := out["time_msc"].(float64); ok {
		res.TimeMsc = int64(ts)
	}
	return res, nil
}

// ModifyStopLoss implements execution.Port.
func (c *Client) ModifyStopLoss(ctx context.Context, symbol string, level float64, breakeven bool) (execution.Result, error) {
	var out execution.Result
	_, err := c.do(ctx, http.MethodPost, "/positions/stop-loss", nil,
		stopLossRequest{Symbol: symbol, Level: level, Breakeven: breakeven}, &out)
	return out, err
}

// ModifyStopLossForMostRecent implements execution.Port.
func (c *Client) ModifyStopLossForMostRecent(ctx context.Context, symbol string, level float64) (execution.Result, error) {
	var out execution.Result
	_, err := c.do(ctx, http.MethodPost, "/positions/stop-loss/most-recent", nil,
		stopLossRequest{Symbol: symbol, Level: level}, &out)
	return out, err
}

// PnLDrilldown implements execution.Port.
func (c *Client) PnLDrilldown(ctx context.Context, date time.Time) (execution.PnLReport, error) {
	var resp pnlResponse
	q := url.Values{"date": {date.UTC().Format("2006-01-02")}}
	if _, err := c.do(ctx, http.MethodGet, "/pnl", q, nil, &resp); err != nil {
		return execution.PnLReport{}, err
	}

	rep := execution.PnLReport{Deals: make(map[time.Time]execution.PnLEntry, len(resp.Deals)), Total: resp.TotalPnL}
	for _, d := range resp.Deals {
		ts, err := time.Parse(execution.DealTimeLayout, d.Time)
		if err != nil {
			return execution.PnLReport{}, fmt.Errorf("pnl: deal time %q: %w", d.Time, err)
		}
		rep.Deals[ts] = execution.PnLEntry{Symbol: d.Symbol, PnL: d.PnL, Price: d.Price}
	}
	return rep, nil
}

// do sends one request and decodes a 2xx body into out. It returns the
// status code so callers can treat some non-2xx answers as states.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) (int, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return 0, err
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return 0, fmt.Errorf("%s %s: %w", method, path, execution.ErrTimeout)
		}
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return resp.StatusCode, statusError(method, path, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

func statusError(method, path string, code int, body string) error {
	switch {
	case code == http.StatusBadRequest || code == http.StatusConflict || code == http.StatusUnprocessableEntity:
		return fmt.Errorf("%s %s http %d: %s: %w", method, path, code, body, execution.ErrRejected)
	case code == http.StatusGatewayTimeout || code == http.StatusServiceUnavailable:
		return fmt.Errorf("%s %s http %d: %s: %w", method, path, code, body, execution.ErrTimeout)
	}
	return fmt.Errorf("%s %s http %d: %s", method, path, code, body)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

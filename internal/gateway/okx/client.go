// Package okx is the REST client for the OKX v5 API. It implements the
// exchange gateway used by the trading core: tickers, market orders, and
// account balances.
package okx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tradeforge/okxbot/internal/crypto"
	"github.com/tradeforge/okxbot/internal/domain"
)

// DefaultBaseURL is the production OKX v5 REST root.
const DefaultBaseURL = "https://www.okx.com"

// Error codes OKX reports inside the response envelope.
const (
	codeOK          = "0"
	codeRateLimited = "50011"
	codeInvalidKey  = "50111"
	codeInvalidSign = "50113"
)

var _ domain.ExchangeGateway = (*Client)(nil)

// Client is the REST client for the OKX v5 API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
	simulated  bool
	limiter    domain.RateLimiter
	logger     *slog.Logger
}

// New creates an OKX REST client. auth may be nil for public endpoints only;
// simulated routes all requests to OKX demo trading.
func New(baseURL string, auth *crypto.HMACAuth, simulated bool, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		auth:      auth,
		simulated: simulated,
		logger:    logger.With(slog.String("component", "okx")),
	}
}

// SetRateLimiter installs a shared limiter consulted before order placement,
// keeping the per-account request budget intact across processes.
func (c *Client) SetRateLimiter(rl domain.RateLimiter) {
	c.limiter = rl
}

// FetchTicker returns the latest traded price for symbol.
func (c *Client) FetchTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	path := "/api/v5/market/ticker?instId=" + url.QueryEscape(symbol)

	var tickers []apiTicker
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &tickers); err != nil {
		return domain.Ticker{}, fmt.Errorf("okx: fetch ticker %s: %w", symbol, err)
	}
	if len(tickers) == 0 {
		return domain.Ticker{}, fmt.Errorf("okx: fetch ticker %s: empty response: %w", symbol, domain.ErrNotFound)
	}

	tk, err := tickers[0].ToDomainTicker()
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("okx: fetch ticker %s: %w", symbol, err)
	}
	return tk, nil
}

// CreateMarketOrder places a spot market order for amount base units and
// returns the fill reported by the exchange. The fill price is fetched from
// the order detail endpoint; when that lookup fails the result carries a
// zero price and the caller falls back to its tick price.
func (c *Client) CreateMarketOrder(ctx context.Context, symbol string, side domain.Side, amount float64) (domain.OrderResult, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, "okx:order"); err != nil {
			return domain.OrderResult{}, fmt.Errorf("okx: create order %s: %w", symbol, err)
		}
	}

	okxSide := "buy"
	if side == domain.SideShort {
		okxSide = "sell"
	}

	body := map[string]any{
		"instId":  symbol,
		"tdMode":  "cash",
		"side":    okxSide,
		"ordType": "market",
		"sz":      strconv.FormatFloat(amount, 'f', -1, 64),
		// Size market buys in base units too, matching sells.
		"tgtCcy": "base_ccy",
	}

	var acks []apiOrderAck
	if err := c.doRequest(ctx, http.MethodPost, "/api/v5/trade/order", body, &acks); err != nil {
		return domain.OrderResult{}, fmt.Errorf("okx: create order %s: %w", symbol, err)
	}
	if len(acks) == 0 {
		return domain.OrderResult{}, fmt.Errorf("okx: create order %s: empty response: %w", symbol, domain.ErrExchange)
	}
	ack := acks[0]
	if ack.SCode != codeOK {
		return domain.OrderResult{}, fmt.Errorf("okx: create order %s: rejected (%s): %s: %w", symbol, ack.SCode, ack.SMsg, domain.ErrExchange)
	}

	result := domain.OrderResult{OrderID: ack.OrdID, FilledAt: time.Now()}

	detail, err := c.fetchOrderDetail(ctx, symbol, ack.OrdID)
	if err != nil {
		c.logger.Warn("order detail lookup failed",
			slog.String("symbol", symbol),
			slog.String("order_id", ack.OrdID),
			slog.String("error", err.Error()),
		)
		return result, nil
	}
	if px, err := parseFloatDefault(detail.AvgPx); err == nil {
		result.FilledPrice = px
	}
	if ms, err := strconv.ParseInt(detail.FillTime, 10, 64); err == nil && ms > 0 {
		result.FilledAt = time.UnixMilli(ms)
	}
	return result, nil
}

// FetchBalance returns the balance of the given currency.
func (c *Client) FetchBalance(ctx context.Context, currency string) (domain.Balance, error) {
	path := "/api/v5/account/balance?ccy=" + url.QueryEscape(currency)

	var accounts []struct {
		Details []apiBalanceDetail `json:"details"`
	}
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &accounts); err != nil {
		return domain.Balance{}, fmt.Errorf("okx: fetch balance %s: %w", currency, err)
	}

	for _, acct := range accounts {
		for _, d := range acct.Details {
			if d.Ccy != currency {
				continue
			}
			bal, err := d.ToDomainBalance()
			if err != nil {
				return domain.Balance{}, fmt.Errorf("okx: fetch balance %s: %w", currency, err)
			}
			return bal, nil
		}
	}
	// No entry means a zero balance, not an error.
	return domain.Balance{Currency: currency}, nil
}

func (c *Client) fetchOrderDetail(ctx context.Context, symbol, orderID string) (apiOrderDetail, error) {
	path := "/api/v5/trade/order?instId=" + url.QueryEscape(symbol) + "&ordId=" + url.QueryEscape(orderID)

	var details []apiOrderDetail
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &details); err != nil {
		return apiOrderDetail{}, err
	}
	if len(details) == 0 {
		return apiOrderDetail{}, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	return details[0], nil
}

// doRequest builds, signs, sends, and decodes a request against the OKX v5
// API, unmarshalling the envelope's data array into out. The signed path
// includes the query string, as OKX requires.
func (c *Client) doRequest(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.simulated {
		req.Header.Set("x-simulated-trading", "1")
	}
	if c.auth != nil {
		for k, v := range c.auth.Headers(method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return err
	}

	var envelope apiResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if err := checkAPICode(envelope.Code, envelope.Msg); err != nil {
		return err
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

// checkAPICode maps envelope error codes to domain errors. OKX returns HTTP
// 200 for most application-level failures.
func checkAPICode(code, msg string) error {
	switch code {
	case codeOK:
		return nil
	case codeRateLimited:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	case codeInvalidKey, codeInvalidSign:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	default:
		return fmt.Errorf("%w: code %s: %s", domain.ErrExchange, code, msg)
	}
}

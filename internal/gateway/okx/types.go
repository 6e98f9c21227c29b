package okx

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/tradeforge/okxbot/internal/domain"
)

// apiResponse is the envelope every OKX v5 endpoint wraps its payload in.
// A non-zero code means the request failed even when HTTP status is 200.
type apiResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// apiTicker is a single entry of GET /api/v5/market/ticker.
type apiTicker struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	TS     string `json:"ts"` // milliseconds since epoch
}

// ToDomainTicker converts an API ticker to the domain representation.
func (t apiTicker) ToDomainTicker() (domain.Ticker, error) {
	last, err := strconv.ParseFloat(t.Last, 64)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("parse last %q: %w", t.Last, err)
	}
	ms, err := strconv.ParseInt(t.TS, 10, 64)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("parse ts %q: %w", t.TS, err)
	}
	return domain.Ticker{
		Symbol:    t.InstID,
		LastPrice: last,
		Timestamp: time.UnixMilli(ms),
	}, nil
}

// apiOrderAck is a single entry of POST /api/v5/trade/order. sCode/sMsg carry
// the per-order result; the envelope code can be 0 while the order failed.
type apiOrderAck struct {
	OrdID string `json:"ordId"`
	SCode string `json:"sCode"`
	SMsg  string `json:"sMsg"`
}

// apiOrderDetail is a single entry of GET /api/v5/trade/order.
type apiOrderDetail struct {
	OrdID    string `json:"ordId"`
	AvgPx    string `json:"avgPx"`
	FillTime string `json:"fillTime"`
	State    string `json:"state"`
}

// apiBalanceDetail is one currency entry of GET /api/v5/account/balance.
type apiBalanceDetail struct {
	Ccy      string `json:"ccy"`
	CashBal  string `json:"cashBal"`
	AvailBal string `json:"availBal"`
}

// ToDomainBalance converts an API balance detail to the domain representation.
func (b apiBalanceDetail) ToDomainBalance() (domain.Balance, error) {
	total, err := parseFloatDefault(b.CashBal)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("parse cashBal %q: %w", b.CashBal, err)
	}
	avail, err := parseFloatDefault(b.AvailBal)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("parse availBal %q: %w", b.AvailBal, err)
	}
	return domain.Balance{Currency: b.Ccy, Total: total, Available: avail}, nil
}

// parseFloatDefault treats the empty string as zero; OKX omits numeric
// fields it considers not applicable.
func parseFloatDefault(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

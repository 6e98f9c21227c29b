package okx

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeforge/okxbot/internal/crypto"
	"github.com/tradeforge/okxbot/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	auth := &crypto.HMACAuth{Key: "k", Secret: "s", Passphrase: "p"}
	return New(srv.URL, auth, true, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFetchTicker(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/market/ticker", r.URL.Path)
		assert.Equal(t, "BTC-USDT", r.URL.Query().Get("instId"))
		assert.Equal(t, "1", r.Header.Get("x-simulated-trading"))
		assert.NotEmpty(t, r.Header.Get("OK-ACCESS-SIGN"))
		w.Write([]byte(`{"code":"0","msg":"","data":[{"instId":"BTC-USDT","last":"63150.5","ts":"1710500000000"}]}`))
	})

	tk, err := c.FetchTicker(context.Background(), "BTC-USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC-USDT", tk.Symbol)
	assert.Equal(t, 63150.5, tk.LastPrice)
	assert.Equal(t, int64(1710500000000), tk.Timestamp.UnixMilli())
}

func TestEnvelopeErrorCodes(t *testing.T) {
	cases := []struct {
		name string
		body string
		want error
	}{
		{"rate_limited", `{"code":"50011","msg":"too many requests","data":[]}`, domain.ErrRateLimited},
		{"bad_key", `{"code":"50111","msg":"invalid api key","data":[]}`, domain.ErrUnauthorized},
		{"other", `{"code":"51000","msg":"parameter error","data":[]}`, domain.ErrExchange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte(tc.body))
			})
			_, err := c.FetchTicker(context.Background(), "BTC-USDT")
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCreateMarketOrderRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/trade/order", r.URL.Path)
		w.Write([]byte(`{"code":"1","msg":"","data":[{"ordId":"","sCode":"51008","sMsg":"insufficient balance"}]}`))
	})

	_, err := c.CreateMarketOrder(context.Background(), "BTC-USDT", domain.SideLong, 0.5)
	require.ErrorIs(t, err, domain.ErrExchange)
	assert.Contains(t, err.Error(), "insufficient balance")
}

func TestCreateMarketOrderFillsFromDetail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Write([]byte(`{"code":"0","msg":"","data":[{"ordId":"123","sCode":"0","sMsg":""}]}`))
			return
		}
		assert.Equal(t, "123", r.URL.Query().Get("ordId"))
		w.Write([]byte(`{"code":"0","msg":"","data":[{"ordId":"123","avgPx":"63200.1","fillTime":"1710500001000","state":"filled"}]}`))
	})

	res, err := c.CreateMarketOrder(context.Background(), "BTC-USDT", domain.SideShort, 0.5)
	require.NoError(t, err)
	assert.Equal(t, "123", res.OrderID)
	assert.Equal(t, 63200.1, res.FilledPrice)
	assert.Equal(t, int64(1710500001000), res.FilledAt.UnixMilli())
}

func TestFetchBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/account/balance", r.URL.Path)
		w.Write([]byte(`{"code":"0","msg":"","data":[{"details":[{"ccy":"USDT","cashBal":"1500.5","availBal":"1200"}]}]}`))
	})

	bal, err := c.FetchBalance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.Equal(t, 1500.5, bal.Total)
	assert.Equal(t, 1200.0, bal.Available)
}

func TestFetchBalanceMissingCurrencyIsZero(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"code":"0","msg":"","data":[{"details":[]}]}`))
	})

	bal, err := c.FetchBalance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.Equal(t, domain.Balance{Currency: "USDT"}, bal)
}

func TestHTTPStatusMapping(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := c.FetchTicker(context.Background(), "BTC-USDT")
	require.ErrorIs(t, err, domain.ErrRateLimited)
}

package aggregator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coinhaven/swapd/internal/rate"
	"github.com/coinhaven/swapd/internal/swap"
	"github.com/coinhaven/swapd/pkg/model"
)

func newTestClient(t *testing.T, baseURL string, retryMax int) *Client {
	t.Helper()
	resolver := NewCredentialsResolver(zap.NewNop(), nil, nil, "",
		Credentials{BaseURL: baseURL, APIKey: "test-key"})
	rateMgr := rate.NewManager(rate.Config{RequestsPerSecond: 1000, Burst: 1000})
	return NewClient(zap.NewNop(), rateMgr, resolver, 5*time.Second, retryMax)
}

func testRateQuery() model.RateQuery {
	return model.RateQuery{
		FromAsset:   "btc",
		FromNetwork: "mainnet",
		ToAsset:     "xmr",
		ToNetwork:   "mainnet",
		Amount:      decimal.RequireFromString("0.1"),
	}
}

func TestGetRatesDecodesQuotes(t *testing.T) {
	issued := time.Now().UTC().Truncate(time.Second)
	expires := issued.Add(10 * time.Minute)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "/api/rates", r.URL.Path)
		assert.Equal(t, "btc", r.URL.Query().Get("from"))

		_ = json.NewEncoder(w).Encode(ratesResponse{Quotes: []wireQuote{
			{
				Provider:   "Alpha",
				QuoteToken: "tok-1",
				Rate:       "61.5",
				AmountTo:   "6.15",
				IssuedAt:   issued.Format(time.RFC3339),
				ExpiresAt:  expires.Format(time.RFC3339),
			},
			// Broken line: skipped, never fails the batch.
			{Provider: "Broken", QuoteToken: "tok-2", Rate: "not-a-number"},
		}})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 0)
	quotes, err := client.GetRates(context.Background(), testRateQuery())
	require.NoError(t, err)
	require.Len(t, quotes, 1)

	q := quotes[0]
	assert.Equal(t, "tok-1", q.Token)
	assert.Equal(t, "alpha", q.Provider)
	assert.True(t, q.QuotedOutputAmount.Equal(decimal.RequireFromString("6.15")))
	assert.Equal(t, expires.Unix(), q.ExpiresAt.Unix())
}

func TestGetRatesRetriesServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(ratesResponse{})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 2)
	quotes, err := client.GetRates(context.Background(), testRateQuery())
	require.NoError(t, err)
	assert.Empty(t, quotes)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetRatesUnavailableAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 1)
	_, err := client.GetRates(context.Background(), testRateQuery())
	require.ErrorIs(t, err, swap.ErrUpstreamUnavailable)
}

func TestCreateTradeNeverRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 3)
	_, err := client.CreateTrade(context.Background(), model.Quote{Token: "tok-1"}, "dest", "")
	require.ErrorIs(t, err, swap.ErrUpstreamUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCreateTradeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req tradeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tok-1", req.QuoteToken)
		assert.Equal(t, "dest-addr", req.Address)

		_ = json.NewEncoder(w).Encode(tradeResponse{
			TradeID:        "up-1",
			Status:         "new",
			DepositAddress: "dep-addr",
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 0)
	ack, err := client.CreateTrade(context.Background(), model.Quote{
		Token:     "tok-1",
		FromAsset: "btc",
		ToAsset:   "xmr",
		Amount:    decimal.RequireFromString("0.1"),
		Provider:  "alpha",
	}, "dest-addr", "ref-addr")
	require.NoError(t, err)
	assert.Equal(t, "up-1", ack.UpstreamTradeID)
	assert.Equal(t, "dep-addr", ack.DepositAddress)
	assert.Equal(t, "new", ack.Status)
}

func TestCreateTradeRejectionCarriesReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(errorResponse{Message: "amount below provider minimum"})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 0)
	_, err := client.CreateTrade(context.Background(), model.Quote{Token: "tok-1"}, "dest", "")
	require.ErrorIs(t, err, swap.ErrUpstreamRejected)
	assert.Contains(t, err.Error(), "amount below provider minimum")
}

func TestCreateTradeMissingDepositAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(tradeResponse{TradeID: "up-1", Status: "new"})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 0)
	_, err := client.CreateTrade(context.Background(), model.Quote{Token: "tok-1"}, "dest", "")
	require.ErrorIs(t, err, swap.ErrUpstreamUnavailable)
}

func TestGetTradeStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/trades/up-1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(tradeResponse{TradeID: "up-1", Status: "sending"})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 0)
	status, err := client.GetTradeStatus(context.Background(), "up-1")
	require.NoError(t, err)
	assert.Equal(t, "sending", status)
}

func TestValidateAddressVerdicts(t *testing.T) {
	valid := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(validateResponse{Valid: &valid, Reason: "bad checksum"})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 0)
	verdict, err := client.ValidateAddress(context.Background(), "xyz", "xmr", "mainnet")
	require.NoError(t, err)
	assert.False(t, verdict.Valid)
	assert.Equal(t, "bad checksum", verdict.Reason)
}

func TestValidateAddressMissingVerdictIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"reason": "shrug"})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 0)
	_, err := client.ValidateAddress(context.Background(), "xyz", "xmr", "mainnet")
	require.ErrorIs(t, err, swap.ErrUpstreamUnavailable)
}

func TestListCurrencies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]wireCurrency{
			{Ticker: "BTC", Name: "Bitcoin", Network: "Mainnet", Minimum: 0.0001, Maximum: 10},
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 0)
	currencies, err := client.ListCurrencies(context.Background())
	require.NoError(t, err)
	require.Len(t, currencies, 1)
	assert.Equal(t, "btc", currencies[0].Symbol)
	assert.True(t, currencies[0].MinAmount.Equal(decimal.NewFromFloat(0.0001)))
}

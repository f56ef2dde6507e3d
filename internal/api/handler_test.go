package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coinhaven/swapd/internal/swap"
	"github.com/coinhaven/swapd/pkg/model"
)

// --- Mocks ---

type mockService struct {
	getRatesFn        func(ctx context.Context, q model.RateQuery) ([]model.Quote, error)
	createTradeFn     func(ctx context.Context, token, destAddr, refundAddr, owner string) (*model.Trade, error)
	getStatusFn       func(ctx context.Context, tradeID string) (*model.Trade, error)
	validateAddressFn func(ctx context.Context, address, asset, network string) (model.AddressVerdict, error)
}

func (m *mockService) GetRates(ctx context.Context, q model.RateQuery) ([]model.Quote, error) {
	if m.getRatesFn != nil {
		return m.getRatesFn(ctx, q)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockService) CreateTrade(ctx context.Context, token, destAddr, refundAddr, owner string) (*model.Trade, error) {
	if m.createTradeFn != nil {
		return m.createTradeFn(ctx, token, destAddr, refundAddr, owner)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockService) GetStatus(ctx context.Context, tradeID string) (*model.Trade, error) {
	if m.getStatusFn != nil {
		return m.getStatusFn(ctx, tradeID)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockService) ValidateAddress(ctx context.Context, address, asset, network string) (model.AddressVerdict, error) {
	if m.validateAddressFn != nil {
		return m.validateAddressFn(ctx, address, asset, network)
	}
	return model.AddressVerdict{}, fmt.Errorf("not implemented")
}

type mockCatalog struct {
	currencies []model.Currency
	providers  []model.Provider
	err        error
}

func (m *mockCatalog) Currencies(ctx context.Context) ([]model.Currency, error) {
	return m.currencies, m.err
}

func (m *mockCatalog) Providers(ctx context.Context) ([]model.Provider, error) {
	return m.providers, m.err
}

// --- Helpers ---

func newTestApp(svc SwapService, cat CatalogService) *fiber.App {
	app := fiber.New()
	h := NewHandler(zap.NewNop(), svc, cat)
	RegisterRoutes(app, h, nil, nil, nil, nil)
	return app
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

// --- Rates ---

func TestGetRatesHandler(t *testing.T) {
	svc := &mockService{
		getRatesFn: func(ctx context.Context, q model.RateQuery) ([]model.Quote, error) {
			assert.Equal(t, "btc", q.FromAsset)
			return []model.Quote{
				{Token: "tok-1", Provider: "alpha",
					QuotedOutputAmount: decimal.RequireFromString("61.2")},
			}, nil
		},
	}
	app := newTestApp(svc, nil)

	req, _ := http.NewRequest(http.MethodGet, "/swap/rates?from=btc&to=xmr&amount=0.1&network_from=mainnet&network_to=mainnet", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Quotes []model.Quote `json:"quotes"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.Quotes, 1)
	assert.Equal(t, "tok-1", body.Quotes[0].Token)
}

func TestGetRatesHandlerMissingParams(t *testing.T) {
	app := newTestApp(&mockService{}, nil)

	for _, uri := range []string{
		"/swap/rates",
		"/swap/rates?from=btc&amount=1",
		"/swap/rates?from=btc&to=xmr",
		"/swap/rates?from=btc&to=xmr&amount=abc",
		"/swap/rates?from=btc&to=xmr&amount=-1",
	} {
		req, _ := http.NewRequest(http.MethodGet, uri, nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, uri)
	}
}

func TestGetRatesHandlerNoRoute(t *testing.T) {
	svc := &mockService{
		getRatesFn: func(ctx context.Context, q model.RateQuery) ([]model.Quote, error) {
			return nil, fmt.Errorf("%w: btc/x to doge/y", swap.ErrNoRoute)
		},
	}
	app := newTestApp(svc, nil)

	req, _ := http.NewRequest(http.MethodGet, "/swap/rates?from=btc&to=doge&amount=1", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	var body errorBody
	decodeBody(t, resp, &body)
	assert.Equal(t, "no_route", body.Kind)
}

// --- Create ---

func TestCreateTradeHandler(t *testing.T) {
	svc := &mockService{
		createTradeFn: func(ctx context.Context, token, destAddr, refundAddr, owner string) (*model.Trade, error) {
			assert.Equal(t, "tok-1", token)
			assert.Equal(t, "user-42", owner)
			return &model.Trade{
				TradeID:        "trade-1",
				DepositAddress: "dep-addr",
				Status:         model.StatusCreated,
				CreatedAt:      time.Now().UTC(),
			}, nil
		},
	}
	app := newTestApp(svc, nil)

	body := `{"quote_token":"tok-1","destination_address":"dest-addr","refund_address":"ref-addr"}`
	req, _ := http.NewRequest(http.MethodPost, "/swap/create", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "user-42")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var trade model.Trade
	decodeBody(t, resp, &trade)
	assert.Equal(t, "trade-1", trade.TradeID)
	assert.Equal(t, model.StatusCreated, trade.Status)
}

func TestCreateTradeHandlerValidation(t *testing.T) {
	app := newTestApp(&mockService{}, nil)

	for name, body := range map[string]string{
		"missing token":       `{"destination_address":"dest"}`,
		"missing destination": `{"quote_token":"tok-1"}`,
		"malformed json":      `{`,
	} {
		req, _ := http.NewRequest(http.MethodPost, "/swap/create", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, name)
	}
}

func TestCreateTradeHandlerErrorKinds(t *testing.T) {
	cases := []struct {
		err      error
		wantCode int
		wantKind string
	}{
		{swap.ErrQuoteNotFound, fiber.StatusNotFound, "quote_not_found"},
		{swap.ErrQuoteExpired, fiber.StatusGone, "quote_expired"},
		{swap.ErrQuoteAlreadyUsed, fiber.StatusConflict, "quote_already_used"},
		{swap.ErrInvalidAddress, fiber.StatusBadRequest, "invalid_address"},
		{swap.ErrValidationUnavailable, fiber.StatusServiceUnavailable, "validation_unavailable"},
		{swap.ErrUpstreamRejected, fiber.StatusUnprocessableEntity, "upstream_rejected"},
		{swap.ErrUpstreamUnavailable, fiber.StatusBadGateway, "upstream_unavailable"},
		{fmt.Errorf("boom"), fiber.StatusInternalServerError, "internal"},
	}

	for _, tc := range cases {
		svc := &mockService{
			createTradeFn: func(ctx context.Context, token, destAddr, refundAddr, owner string) (*model.Trade, error) {
				return nil, tc.err
			},
		}
		app := newTestApp(svc, nil)

		body := `{"quote_token":"tok-1","destination_address":"dest"}`
		req, _ := http.NewRequest(http.MethodPost, "/swap/create", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, tc.wantCode, resp.StatusCode, tc.wantKind)

		var eb errorBody
		decodeBody(t, resp, &eb)
		assert.Equal(t, tc.wantKind, eb.Kind)
	}
}

func TestCreateTradeHandlerInternalErrorRedacted(t *testing.T) {
	svc := &mockService{
		createTradeFn: func(ctx context.Context, token, destAddr, refundAddr, owner string) (*model.Trade, error) {
			return nil, fmt.Errorf("pq: password authentication failed")
		},
	}
	app := newTestApp(svc, nil)

	body := `{"quote_token":"tok-1","destination_address":"dest"}`
	req, _ := http.NewRequest(http.MethodPost, "/swap/create", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	var eb errorBody
	decodeBody(t, resp, &eb)
	assert.Equal(t, "internal error", eb.Error)
}

// --- Status ---

func TestGetStatusHandler(t *testing.T) {
	svc := &mockService{
		getStatusFn: func(ctx context.Context, tradeID string) (*model.Trade, error) {
			assert.Equal(t, "trade-1", tradeID)
			return &model.Trade{TradeID: tradeID, Status: model.StatusConfirming}, nil
		},
	}
	app := newTestApp(svc, nil)

	req, _ := http.NewRequest(http.MethodGet, "/swap/trade-1", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var trade model.Trade
	decodeBody(t, resp, &trade)
	assert.Equal(t, model.StatusConfirming, trade.Status)
}

func TestGetStatusHandlerNotFound(t *testing.T) {
	svc := &mockService{
		getStatusFn: func(ctx context.Context, tradeID string) (*model.Trade, error) {
			return nil, swap.ErrTradeNotFound
		},
	}
	app := newTestApp(svc, nil)

	req, _ := http.NewRequest(http.MethodGet, "/swap/nope", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

// --- Validate ---

func TestValidateAddressHandler(t *testing.T) {
	svc := &mockService{
		validateAddressFn: func(ctx context.Context, address, asset, network string) (model.AddressVerdict, error) {
			return model.AddressVerdict{Valid: false, Reason: "bad checksum"}, nil
		},
	}
	app := newTestApp(svc, nil)

	body := `{"address":"xyz","asset":"xmr","network":"mainnet"}`
	req, _ := http.NewRequest(http.MethodPost, "/swap/validate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var verdict model.AddressVerdict
	decodeBody(t, resp, &verdict)
	assert.False(t, verdict.Valid)
	assert.Equal(t, "bad checksum", verdict.Reason)
}

func TestValidateAddressHandlerUnavailable(t *testing.T) {
	svc := &mockService{
		validateAddressFn: func(ctx context.Context, address, asset, network string) (model.AddressVerdict, error) {
			return model.AddressVerdict{}, swap.ErrValidationUnavailable
		},
	}
	app := newTestApp(svc, nil)

	body := `{"address":"xyz","asset":"xmr","network":"mainnet"}`
	req, _ := http.NewRequest(http.MethodPost, "/swap/validate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

// --- Catalog ---

func TestCurrenciesHandler(t *testing.T) {
	cat := &mockCatalog{currencies: []model.Currency{{Symbol: "btc", Network: "mainnet"}}}
	app := newTestApp(&mockService{}, cat)

	req, _ := http.NewRequest(http.MethodGet, "/swap/currencies", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Currencies []model.Currency `json:"currencies"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.Currencies, 1)
	assert.Equal(t, "btc", body.Currencies[0].Symbol)
}

func TestProvidersHandler(t *testing.T) {
	cat := &mockCatalog{providers: []model.Provider{{ProviderID: "alpha", Name: "Alpha", IsActive: true}}}
	app := newTestApp(&mockService{}, cat)

	req, _ := http.NewRequest(http.MethodGet, "/swap/providers", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/coinhaven/swapd/internal/httpclient"
	"github.com/coinhaven/swapd/internal/metrics"
	"github.com/coinhaven/swapd/internal/rate"
	"github.com/coinhaven/swapd/internal/swap"
	"github.com/coinhaven/swapd/pkg/model"
)

// apiError carries the aggregator's 4xx reason through the executor.
type apiError struct {
	status int
	reason string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("aggregator returned %d: %s", e.status, e.reason)
}

// Client wraps HTTP communication with the aggregator. Read-only operations
// (rates, status, validation, catalog) retry on transport failure with
// backoff; trade creation is issued exactly once.
type Client struct {
	logger   *zap.Logger
	resolver *CredentialsResolver
	exec     *httpclient.Executor
	timeout  time.Duration
}

// NewClient constructs an aggregator client. retryMax bounds retries for the
// read-only operations.
func NewClient(logger *zap.Logger, rateMgr *rate.Manager, resolver *CredentialsResolver, timeout time.Duration, retryMax int) *Client {
	httpClient := &http.Client{Timeout: timeout}
	exec := httpclient.New(logger, rateMgr, httpClient, retryMax, "aggregator", func(status int, body []byte) error {
		var errResp errorResponse
		_ = json.Unmarshal(body, &errResp)

		reason := errResp.Message
		if reason == "" {
			reason = errResp.Error
		}
		if reason == "" {
			reason = string(body)
		}
		logger.Warn("aggregator.client_error",
			zap.Int("status", status),
			zap.String("reason", reason))
		return &apiError{status: status, reason: reason}
	})
	return &Client{
		logger:   logger,
		resolver: resolver,
		exec:     exec,
		timeout:  timeout,
	}
}

// GetRates fetches provider quotes for the pair. Transport and protocol
// failures map to ErrUpstreamUnavailable; an empty quote list is returned
// as-is (the engine decides NoRoute).
func (c *Client) GetRates(ctx context.Context, q model.RateQuery) ([]model.Quote, error) {
	path := fmt.Sprintf("/api/rates?from=%s&network_from=%s&to=%s&network_to=%s&amount=%s",
		q.FromAsset, q.FromNetwork, q.ToAsset, q.ToNetwork, q.Amount.String())

	var resp ratesResponse
	if err := c.getJSON(ctx, path, "rates", &resp); err != nil {
		return nil, unavailable(err)
	}

	quotes := make([]model.Quote, 0, len(resp.Quotes))
	for _, wq := range resp.Quotes {
		quote, err := quoteFromWire(wq, q)
		if err != nil {
			c.logger.Warn("aggregator.quote_decode_failed",
				zap.String("provider", wq.Provider),
				zap.Error(err))
			continue
		}
		quotes = append(quotes, quote)
	}
	return quotes, nil
}

// CreateTrade commits a quote upstream. The call is never retried: on an
// ambiguous failure the caller must reconcile through the local idempotency
// guard rather than re-issue the create.
func (c *Client) CreateTrade(ctx context.Context, quote model.Quote, destAddr, refundAddr string) (*model.TradeAck, error) {
	req := tradeRequest{
		QuoteToken:    quote.Token,
		From:          quote.FromAsset,
		NetworkFrom:   quote.FromNetwork,
		To:            quote.ToAsset,
		NetworkTo:     quote.ToNetwork,
		Amount:        quote.Amount.String(),
		Provider:      quote.Provider,
		Address:       destAddr,
		RefundAddress: refundAddr,
	}

	var resp tradeResponse
	if err := c.postJSON(ctx, "/api/trades", "create_trade", req, &resp, false); err != nil {
		var ae *apiError
		if errors.As(err, &ae) {
			return nil, fmt.Errorf("%w: %s", swap.ErrUpstreamRejected, ae.reason)
		}
		return nil, unavailable(err)
	}
	if resp.TradeID == "" || resp.DepositAddress == "" {
		return nil, fmt.Errorf("%w: create response missing trade id or deposit address", swap.ErrUpstreamUnavailable)
	}

	return &model.TradeAck{
		UpstreamTradeID: resp.TradeID,
		DepositAddress:  resp.DepositAddress,
		Status:          resp.Status,
	}, nil
}

// GetTradeStatus returns the raw upstream status string for a trade.
func (c *Client) GetTradeStatus(ctx context.Context, upstreamID string) (string, error) {
	var resp tradeResponse
	if err := c.getJSON(ctx, "/api/trades/"+upstreamID, "trade_status", &resp); err != nil {
		return "", unavailable(err)
	}
	return resp.Status, nil
}

// ValidateAddress asks the aggregator whether an address is well-formed for
// the asset/network. A missing verdict in the response is an error, never a
// pass.
func (c *Client) ValidateAddress(ctx context.Context, address, asset, network string) (*model.AddressVerdict, error) {
	req := validateRequest{Address: address, Asset: asset, Network: network}

	var resp validateResponse
	if err := c.postJSON(ctx, "/api/validate-address", "validate_address", req, &resp, true); err != nil {
		return nil, unavailable(err)
	}
	if resp.Valid == nil {
		return nil, fmt.Errorf("%w: malformed validation response", swap.ErrUpstreamUnavailable)
	}
	return &model.AddressVerdict{Valid: *resp.Valid, Reason: resp.Reason}, nil
}

// ListCurrencies fetches the supported currency catalog.
func (c *Client) ListCurrencies(ctx context.Context) ([]model.Currency, error) {
	var resp []wireCurrency
	if err := c.getJSON(ctx, "/api/currencies", "currencies", &resp); err != nil {
		return nil, unavailable(err)
	}
	out := make([]model.Currency, 0, len(resp))
	for _, wc := range resp {
		out = append(out, currencyFromWire(wc))
	}
	return out, nil
}

// ListProviders fetches the liquidity provider catalog.
func (c *Client) ListProviders(ctx context.Context) ([]model.Provider, error) {
	var resp []wireProvider
	if err := c.getJSON(ctx, "/api/providers", "providers", &resp); err != nil {
		return nil, unavailable(err)
	}
	out := make([]model.Provider, 0, len(resp))
	for _, wp := range resp {
		out = append(out, providerFromWire(wp))
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path, op string, out any) error {
	creds, err := c.resolver.Resolve(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, creds.BaseURL+path, nil)
	if err != nil {
		return err
	}
	setHeaders(req, creds.APIKey)

	start := time.Now()
	err = c.exec.DoJSON(ctx, req, "aggregator:"+op, out)
	observe(op, start, err)
	return err
}

func (c *Client) postJSON(ctx context.Context, path, op string, body, out any, retry bool) error {
	creds, err := c.resolver.Resolve(ctx)
	if err != nil {
		return err
	}

	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	setHeaders(req, creds.APIKey)

	start := time.Now()
	if retry {
		err = c.exec.DoJSON(ctx, req, "aggregator:"+op, out)
	} else {
		err = c.exec.DoJSONOnce(ctx, req, "aggregator:"+op, out)
	}
	observe(op, start, err)
	return err
}

func setHeaders(req *http.Request, apiKey string) {
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

func observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.AggregatorRequestsTotal.WithLabelValues(op, result).Inc()
	metrics.ObserveDuration(metrics.AggregatorRequestDuration, start, op)
}

// unavailable wraps transport/protocol failures into the engine's taxonomy,
// preserving already-classified errors.
func unavailable(err error) error {
	if errors.Is(err, swap.ErrUpstreamUnavailable) || errors.Is(err, swap.ErrUpstreamRejected) {
		return err
	}
	return fmt.Errorf("%w: %v", swap.ErrUpstreamUnavailable, err)
}

package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/coinhaven/swapd/internal/rate"
)

// Backoff returns the retry sleep duration for the given attempt number.
func Backoff(attempt int) time.Duration {
	switch attempt {
	case 0:
		return 100 * time.Millisecond
	case 1:
		return 250 * time.Millisecond
	default:
		return 500 * time.Millisecond
	}
}

// Executor handles rate-limited, retrying HTTP execution with JSON decoding.
// Retries apply only to transport failures and 5xx responses; 4xx responses
// are handed to the errorHandler exactly once. Non-idempotent calls must be
// issued with retryMax=0 (see DoJSONOnce).
type Executor struct {
	logger       *zap.Logger
	rateMgr      *rate.Manager
	http         *http.Client
	retryMax     int
	tag          string
	errorHandler func(status int, body []byte) error
}

// New creates an Executor. errorHandler is called on 4xx failure responses
// to produce an upstream-specific error. If nil, a default error is returned.
func New(
	logger *zap.Logger,
	rateMgr *rate.Manager,
	httpClient *http.Client,
	retryMax int,
	tag string,
	errorHandler func(status int, body []byte) error,
) *Executor {
	return &Executor{
		logger:       logger,
		rateMgr:      rateMgr,
		http:         httpClient,
		retryMax:     retryMax,
		tag:          tag,
		errorHandler: errorHandler,
	}
}

// DoJSON executes req with rate limiting and bounded retries, then
// JSON-decodes the response into out. rateLimitKey scopes the rate limiter
// per endpoint.
func (e *Executor) DoJSON(ctx context.Context, req *http.Request, rateLimitKey string, out any) error {
	return e.do(ctx, req, rateLimitKey, e.retryMax, out)
}

// DoJSONOnce executes req with rate limiting but no retries. Used for
// non-idempotent calls where a blind retry could duplicate upstream state.
func (e *Executor) DoJSONOnce(ctx context.Context, req *http.Request, rateLimitKey string, out any) error {
	return e.do(ctx, req, rateLimitKey, 0, out)
}

func (e *Executor) do(ctx context.Context, req *http.Request, rateLimitKey string, retryMax int, out any) error {
	if e.rateMgr != nil {
		if err := e.rateMgr.Wait(ctx, rateLimitKey); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= retryMax; attempt++ {
		attemptReq := req
		if attempt > 0 {
			attemptReq = req.Clone(ctx)
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return fmt.Errorf("rewind request body: %w", err)
				}
				attemptReq.Body = body
			}
		}

		start := time.Now()
		resp, err := e.http.Do(attemptReq)
		if err != nil {
			lastErr = err
			e.logger.Warn(e.tag+".http_failed",
				zap.String("url", req.URL.String()),
				zap.Error(err),
				zap.Int("attempt", attempt))
			if attempt < retryMax {
				time.Sleep(Backoff(attempt))
			}
			continue
		}

		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		elapsed := time.Since(start)

		if resp.StatusCode >= 500 {
			e.logger.Warn(e.tag+".server_error",
				zap.Int("status", resp.StatusCode),
				zap.String("url", req.URL.String()),
				zap.Duration("latency", elapsed))
			lastErr = fmt.Errorf("%s server error: %d", e.tag, resp.StatusCode)
			if attempt < retryMax {
				time.Sleep(Backoff(attempt))
			}
			continue
		}

		if resp.StatusCode >= 400 {
			if e.errorHandler != nil {
				return e.errorHandler(resp.StatusCode, body)
			}
			return fmt.Errorf("%s returned %d", e.tag, resp.StatusCode)
		}

		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				e.logger.Warn(e.tag+".decode_failed",
					zap.Error(err),
					zap.String("url", req.URL.String()),
					zap.String("body", string(body)))
				return fmt.Errorf("decode failed: %w", err)
			}
		}

		e.logger.Debug(e.tag+".http_success",
			zap.String("url", req.URL.String()),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", elapsed))

		return nil
	}

	return fmt.Errorf("%s request failed after %d attempts: %w", e.tag, retryMax+1, lastErr)
}

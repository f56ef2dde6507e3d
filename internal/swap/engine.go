package swap

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coinhaven/swapd/internal/metrics"
	"github.com/coinhaven/swapd/pkg/model"
)

// Upstream is the aggregator contract the engine depends on. All four calls
// may be slow and may fail; none is assumed idempotent beyond what the
// method comments state.
type Upstream interface {
	// GetRates returns provider quotes for the pair (possibly empty).
	GetRates(ctx context.Context, q model.RateQuery) ([]model.Quote, error)
	// CreateTrade commits a quote upstream. Never retried blindly.
	CreateTrade(ctx context.Context, quote model.Quote, destAddr, refundAddr string) (*model.TradeAck, error)
	// GetTradeStatus returns the raw upstream status vocabulary.
	GetTradeStatus(ctx context.Context, upstreamID string) (string, error)
	AddressChecker
}

// QuoteCache is the short-lived quote store. Consume is linearizable:
// exactly one call per token succeeds.
type QuoteCache interface {
	Put(ctx context.Context, q model.Quote) error
	Peek(ctx context.Context, token string) (*model.Quote, error)
	Consume(ctx context.Context, token string) (*model.Quote, error)
}

// TradeStore is the durable trade record store. UpdateStatus applies the
// monotonic transition rule; Insert maps upstream-id collisions to
// ErrDuplicateUpstreamID.
type TradeStore interface {
	Insert(ctx context.Context, t *model.Trade) error
	Get(ctx context.Context, tradeID string) (*model.Trade, error)
	GetByUpstreamID(ctx context.Context, upstreamID string) (*model.Trade, error)
	UpdateStatus(ctx context.Context, tradeID string, newStatus model.Status, checkedAt time.Time) (*model.Trade, error)
	TouchChecked(ctx context.Context, tradeID string, checkedAt time.Time) error
	ListNonTerminal(ctx context.Context, checkedBefore time.Time, limit int) ([]string, error)
}

// EventPublisher emits lifecycle events. Publish failures must not fail the
// user-facing operation; implementations log and count instead.
type EventPublisher interface {
	PublishTradeStatusChanged(ctx context.Context, evt model.TradeStatusChanged)
}

// ExpiryPolicy decides how the EXPIRED branch is detected.
type ExpiryPolicy string

const (
	// ExpiryUpstream trusts the aggregator to report expired deposits.
	ExpiryUpstream ExpiryPolicy = "upstream"
	// ExpiryLocal additionally infers expiry when a trade still awaiting
	// its deposit outlives the configured deposit window.
	ExpiryLocal ExpiryPolicy = "local"
)

// Options tune the engine's reconciliation behavior.
type Options struct {
	// RefreshThreshold is how stale a non-terminal trade may be before a
	// read triggers a synchronous upstream poll.
	RefreshThreshold time.Duration
	// PersistAttempts bounds local persistence retries (create and refresh).
	PersistAttempts int
	// ExpiryPolicy selects upstream-reported vs locally-inferred deposit
	// expiry; DepositWindow only applies under ExpiryLocal.
	ExpiryPolicy  ExpiryPolicy
	DepositWindow time.Duration
}

func (o *Options) withDefaults() {
	if o.RefreshThreshold <= 0 {
		o.RefreshThreshold = 30 * time.Second
	}
	if o.PersistAttempts <= 0 {
		o.PersistAttempts = 3
	}
	if o.ExpiryPolicy == "" {
		o.ExpiryPolicy = ExpiryUpstream
	}
	if o.DepositWindow <= 0 {
		o.DepositWindow = 60 * time.Minute
	}
}

// Engine is the trade lifecycle orchestrator. It is stateless between calls:
// all shared mutable state lives in the quote cache and trade store, both of
// which expose atomic primitives. Per-trade serialization is provided by the
// keyed mutex.
type Engine struct {
	logger    *zap.Logger
	upstream  Upstream
	quotes    QuoteCache
	trades    TradeStore
	validator *Validator
	publisher EventPublisher
	locks     *keyedMutex
	opts      Options
	now       func() time.Time
}

// NewEngine wires the lifecycle engine. publisher may be nil (events are
// then skipped).
func NewEngine(
	logger *zap.Logger,
	upstream Upstream,
	quotes QuoteCache,
	trades TradeStore,
	validator *Validator,
	publisher EventPublisher,
	opts Options,
) *Engine {
	opts.withDefaults()
	return &Engine{
		logger:    logger,
		upstream:  upstream,
		quotes:    quotes,
		trades:    trades,
		validator: validator,
		publisher: publisher,
		locks:     newKeyedMutex(),
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GetRates queries the aggregator for quotes on the pair, caches each quote
// by its token, and returns them best-deal-first: descending by quoted
// output amount, ties broken by provider name for determinism. Zero quotes
// is ErrNoRoute; transport failure is ErrUpstreamUnavailable. Neither is
// silently retried into a different result.
func (e *Engine) GetRates(ctx context.Context, query model.RateQuery) ([]model.Quote, error) {
	q := query.Normalized()

	quotes, err := e.upstream.GetRates(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(quotes) == 0 {
		return nil, fmt.Errorf("%w: %s/%s to %s/%s", ErrNoRoute, q.FromAsset, q.FromNetwork, q.ToAsset, q.ToNetwork)
	}

	sort.Slice(quotes, func(i, j int) bool {
		cmp := quotes[i].QuotedOutputAmount.Cmp(quotes[j].QuotedOutputAmount)
		if cmp != 0 {
			return cmp > 0
		}
		return quotes[i].Provider < quotes[j].Provider
	})

	for _, quote := range quotes {
		if err := e.quotes.Put(ctx, quote); err != nil {
			e.logger.Error("swap.get_rates.cache_put_failed",
				zap.String("token", quote.Token),
				zap.Error(err))
			metrics.IncError("engine", "quote_cache_put")
			return nil, fmt.Errorf("cache quote: %w", err)
		}
	}

	return quotes, nil
}

// CreateTrade binds a cached quote to a new durable trade record, exactly
// once per token. Ordering is deliberate: the address verdict and the quote
// consumption must both succeed before the irreversible upstream call, so a
// rejected request never leaves an orphan upstream trade. A persistence
// failure after the upstream call is retried on the same data; the unique
// upstream_trade_id index makes the retry idempotent.
func (e *Engine) CreateTrade(ctx context.Context, token, destAddr, refundAddr, owner string) (*model.Trade, error) {
	if owner == "" {
		owner = model.OwnerAnonymous
	}

	// Peek first: validation needs the quote's target asset/network, and a
	// failed validation must leave the quote usable.
	quote, err := e.quotes.Peek(ctx, token)
	if err != nil {
		return nil, err
	}

	verdict, err := e.validator.Validate(ctx, destAddr, quote.ToAsset, quote.ToNetwork)
	if err != nil {
		return nil, err
	}
	if !verdict.Valid {
		reason := verdict.Reason
		if reason == "" {
			reason = "address rejected by validator"
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, reason)
	}

	// Exactly-once consumption; concurrent submitters of the same token
	// lose here with ErrQuoteAlreadyUsed before anything irreversible.
	quote, err = e.quotes.Consume(ctx, token)
	if err != nil {
		return nil, err
	}

	ack, err := e.upstream.CreateTrade(ctx, *quote, destAddr, refundAddr)
	if err != nil {
		e.logger.Error("swap.create_trade.upstream_failed",
			zap.String("token", token),
			zap.String("provider", quote.Provider),
			zap.Error(err))
		return nil, err
	}

	now := e.now()
	trade := &model.Trade{
		TradeID:            uuid.NewString(),
		UpstreamTradeID:    ack.UpstreamTradeID,
		Owner:              owner,
		DepositAddress:     ack.DepositAddress,
		RefundAddress:      refundAddr,
		DestinationAddress: destAddr,
		FromAsset:          quote.FromAsset,
		FromNetwork:        quote.FromNetwork,
		ToAsset:            quote.ToAsset,
		ToNetwork:          quote.ToNetwork,
		Amount:             quote.Amount,
		QuotedRate:         quote.QuotedRate,
		QuotedOutputAmount: quote.QuotedOutputAmount,
		Provider:           quote.Provider,
		Status:             model.StatusCreated,
		CreatedAt:          now,
		LastCheckedAt:      now,
	}

	persisted, err := e.persistNewTrade(ctx, trade)
	if err != nil {
		// The upstream trade exists but could not be recorded locally even
		// after retries. Surface loudly; the sweeper cannot find it, so
		// this log line is the recovery breadcrumb.
		e.logger.Error("swap.create_trade.persist_exhausted",
			zap.String("upstream_trade_id", ack.UpstreamTradeID),
			zap.Error(err))
		metrics.IncError("engine", "persist_exhausted")
		return nil, fmt.Errorf("persist trade for upstream id %s: %w", ack.UpstreamTradeID, err)
	}

	ownerKind := "authenticated"
	if persisted.Owner == model.OwnerAnonymous {
		ownerKind = model.OwnerAnonymous
	}
	metrics.TradesCreatedTotal.WithLabelValues(ownerKind).Inc()

	e.logger.Info("swap.trade_created",
		zap.String("trade_id", persisted.TradeID),
		zap.String("upstream_trade_id", persisted.UpstreamTradeID),
		zap.String("provider", persisted.Provider),
		zap.String("pair", persisted.FromAsset+"/"+persisted.ToAsset))

	e.publish(ctx, model.TradeStatusChanged{
		TradeID:         persisted.TradeID,
		UpstreamTradeID: persisted.UpstreamTradeID,
		Provider:        persisted.Provider,
		From:            "",
		To:              persisted.Status,
		At:              persisted.CreatedAt,
	})

	return persisted, nil
}

// persistNewTrade inserts with bounded retries. A duplicate upstream id
// means a prior attempt already landed; the existing row wins.
func (e *Engine) persistNewTrade(ctx context.Context, trade *model.Trade) (*model.Trade, error) {
	var lastErr error
	for attempt := 0; attempt < e.opts.PersistAttempts; attempt++ {
		err := e.trades.Insert(ctx, trade)
		if err == nil {
			return trade, nil
		}
		if errors.Is(err, ErrDuplicateUpstreamID) {
			existing, getErr := e.trades.GetByUpstreamID(ctx, trade.UpstreamTradeID)
			if getErr != nil {
				lastErr = getErr
				continue
			}
			return existing, nil
		}
		lastErr = err
		e.logger.Warn("swap.create_trade.persist_retry",
			zap.String("upstream_trade_id", trade.UpstreamTradeID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-time.After(persistBackoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// GetStatus returns the current view of a trade, re-polling the aggregator
// first when the stored status is non-terminal and older than the refresh
// threshold. Terminal states are trusted as final and never re-polled.
func (e *Engine) GetStatus(ctx context.Context, tradeID string) (*model.Trade, error) {
	trade, err := e.trades.Get(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if !e.needsRefresh(trade) {
		return trade, nil
	}

	unlock := e.locks.Lock(tradeID)
	defer unlock()

	// Re-read under the lock: a concurrent refresh may already have run.
	trade, err = e.trades.Get(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if !e.needsRefresh(trade) {
		return trade, nil
	}

	return e.refreshLocked(ctx, trade)
}

func (e *Engine) needsRefresh(t *model.Trade) bool {
	if t.Status.Terminal() {
		return false
	}
	return e.now().Sub(t.LastCheckedAt) >= e.opts.RefreshThreshold
}

// refreshLocked reconciles one trade against upstream. Caller must hold the
// trade's lock.
func (e *Engine) refreshLocked(ctx context.Context, trade *model.Trade) (*model.Trade, error) {
	raw, err := e.upstream.GetTradeStatus(ctx, trade.UpstreamTradeID)
	if err != nil {
		return nil, err
	}
	now := e.now()

	next, known := model.FromUpstream(raw)
	if !known {
		// Vocabulary drift: keep the last known good state, advance the
		// checked timestamp so we do not hammer upstream.
		e.logger.Warn("swap.refresh.unknown_upstream_status",
			zap.String("trade_id", trade.TradeID),
			zap.String("upstream_status", raw))
		metrics.IncError("engine", "unknown_upstream_status")
		if err := e.trades.TouchChecked(ctx, trade.TradeID, now); err != nil {
			e.logger.Warn("swap.refresh.touch_failed",
				zap.String("trade_id", trade.TradeID),
				zap.Error(err))
		}
		trade.LastCheckedAt = now
		return trade, nil
	}

	if e.opts.ExpiryPolicy == ExpiryLocal {
		next = e.applyLocalExpiry(trade, next, now)
	}

	prev := trade.Status
	updated, err := e.persistStatus(ctx, trade, next, now)
	if err != nil {
		// Storage hiccup: the stale last-known state beats an error here.
		e.logger.Error("swap.refresh.persist_exhausted",
			zap.String("trade_id", trade.TradeID),
			zap.Error(err))
		metrics.IncError("engine", "refresh_persist_exhausted")
		stale := *trade
		stale.Stale = true
		return &stale, nil
	}

	if updated.Status != prev {
		metrics.TradeTransitionsTotal.WithLabelValues(string(updated.Status)).Inc()
		e.logger.Info("swap.trade_status_changed",
			zap.String("trade_id", updated.TradeID),
			zap.String("from", string(prev)),
			zap.String("to", string(updated.Status)))
		e.publish(ctx, model.TradeStatusChanged{
			TradeID:         updated.TradeID,
			UpstreamTradeID: updated.UpstreamTradeID,
			Provider:        updated.Provider,
			From:            prev,
			To:              updated.Status,
			At:              now,
		})
	}
	return updated, nil
}

// applyLocalExpiry infers the EXPIRED branch when the deposit window has
// elapsed and upstream still reports a pre-deposit state.
func (e *Engine) applyLocalExpiry(trade *model.Trade, next model.Status, now time.Time) model.Status {
	preDeposit := next == model.StatusCreated || next == model.StatusWaitingDeposit ||
		(next == trade.Status && (trade.Status == model.StatusCreated || trade.Status == model.StatusWaitingDeposit))
	if preDeposit && now.Sub(trade.CreatedAt) > e.opts.DepositWindow {
		return model.StatusExpired
	}
	return next
}

func (e *Engine) persistStatus(ctx context.Context, trade *model.Trade, next model.Status, now time.Time) (*model.Trade, error) {
	var lastErr error
	for attempt := 0; attempt < e.opts.PersistAttempts; attempt++ {
		updated, err := e.trades.UpdateStatus(ctx, trade.TradeID, next, now)
		if err == nil {
			return updated, nil
		}
		lastErr = err
		select {
		case <-time.After(persistBackoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// RefreshStale re-polls every non-terminal trade whose last check is older
// than the refresh threshold. The background sweeper and the read path both
// funnel through refreshLocked, so monotonicity holds regardless of caller.
func (e *Engine) RefreshStale(ctx context.Context, limit int) (int, error) {
	cutoff := e.now().Add(-e.opts.RefreshThreshold)
	ids, err := e.trades.ListNonTerminal(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		if _, err := e.GetStatus(ctx, id); err != nil {
			e.logger.Warn("swap.sweep.refresh_failed",
				zap.String("trade_id", id),
				zap.Error(err))
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

// ValidateAddress exposes the standalone validation guard.
func (e *Engine) ValidateAddress(ctx context.Context, address, asset, network string) (model.AddressVerdict, error) {
	return e.validator.Validate(ctx, address, asset, network)
}

func (e *Engine) publish(ctx context.Context, evt model.TradeStatusChanged) {
	if e.publisher == nil {
		return
	}
	e.publisher.PublishTradeStatusChanged(ctx, evt)
}

func persistBackoff(attempt int) time.Duration {
	switch attempt {
	case 0:
		return 50 * time.Millisecond
	case 1:
		return 150 * time.Millisecond
	default:
		return 400 * time.Millisecond
	}
}
